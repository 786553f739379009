package server

// PlayerID 表示玩家唯一标识（player_N，由注册表分配）
type PlayerID string

// LobbyID 大厅房间的保留 ID
const LobbyID = "lobby"

// Player 已认证的玩家；roomID 由 Registry 在玩家目录锁下维护
type Player struct {
	ID       PlayerID
	Username string
	Conn     *ClientConn // 网络连接的发送端（写协程）

	roomID string
}
