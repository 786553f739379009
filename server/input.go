package server

import (
	"snakearena/game"
	"snakearena/protocol"
)

// Input 客户端输入（意图），由房间记录，在下一次 Tick 中生效
type Input struct {
	PlayerID PlayerID
	Command  game.Direction
}

// parseInput 从 MOVE 信封解析方向；非法方向返回 false
func parseInput(codec protocol.Codec, pid PlayerID, env protocol.Envelope) (Input, bool) {
	dir, err := game.ParseDirection(env.Text(codec))
	if err != nil {
		return Input{}, false
	}
	return Input{PlayerID: pid, Command: dir}, true
}
