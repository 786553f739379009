package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"snakearena/game"
	"snakearena/protocol"
)

var testCodec = protocol.MsgpackCodec{}

// testGameConfig 8x8 且不放初始食物，单人向右最多五步撞墙
func testGameConfig() game.Config {
	cfg := game.DefaultConfig()
	cfg.Width, cfg.Height = 8, 8
	cfg.InitialFood = 0
	return cfg
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Game.Width, cfg.Game.Height = 8, 8
	cfg.Game.InitialFood = 0
	cfg.Log.File = ""
	return cfg
}

// testConn 没有底层连接也不启动写协程，测试直接从队列取帧
func testConn(queue int) *ClientConn {
	return NewClientConn(nil, testCodec, queue, 0, nil)
}

func testPlayer(id, name string) *Player {
	return &Player{ID: PlayerID(id), Username: name, Conn: testConn(256)}
}

func drain(t *testing.T, c *ClientConn) []protocol.Envelope {
	t.Helper()
	var out []protocol.Envelope
	for {
		select {
		case frame := <-c.send:
			body, consumed, err := protocol.ParseFrame(frame)
			require.NoError(t, err)
			require.Equal(t, len(frame), consumed)
			env, err := testCodec.UnmarshalEnvelope(body)
			require.NoError(t, err)
			out = append(out, env)
		default:
			return out
		}
	}
}

func typesOf(envs []protocol.Envelope) []protocol.MessageType {
	out := make([]protocol.MessageType, len(envs))
	for i, env := range envs {
		out[i] = env.Type
	}
	return out
}

// lastOf 最后一条指定类型的消息
func lastOf(t *testing.T, envs []protocol.Envelope, typ protocol.MessageType) protocol.Envelope {
	t.Helper()
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Type == typ {
			return envs[i]
		}
	}
	require.Failf(t, "message not found", "no %s in %v", typ, typesOf(envs))
	return protocol.Envelope{}
}

func bind[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, env.Bind(testCodec, &v))
	return v
}
