package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Version 当前信封格式版本
const Version = 1

// ServerSender 服务端发出消息时的 From 字段
const ServerSender = "SERVER"

var ErrMalformed = errors.New("protocol: malformed envelope")

// MessageType 消息类型标签（封闭集合）
type MessageType string

const (
	TypeAuth         MessageType = "auth"
	TypeMove         MessageType = "move"
	TypeChat         MessageType = "chat"
	TypeCreateRoom   MessageType = "create_room"
	TypeJoinRoom     MessageType = "join_room"
	TypeLeaveRoom    MessageType = "leave_room"
	TypeStartGame    MessageType = "start_game"
	TypeRestartGame  MessageType = "restart_game"
	TypeRoomList     MessageType = "room_list"
	TypeRoomJoined   MessageType = "room_joined"
	TypePlayerJoined MessageType = "player_joined"
	TypePlayerLeft   MessageType = "player_left"
	TypeGameStarted  MessageType = "game_started"
	TypeGameState    MessageType = "game_state"
	TypeGameOver     MessageType = "game_over"
	TypeDisconnect   MessageType = "disconnect"
)

var knownTypes = map[MessageType]struct{}{
	TypeAuth: {}, TypeMove: {}, TypeChat: {}, TypeCreateRoom: {}, TypeJoinRoom: {},
	TypeLeaveRoom: {}, TypeStartGame: {}, TypeRestartGame: {}, TypeRoomList: {},
	TypeRoomJoined: {}, TypePlayerJoined: {}, TypePlayerLeft: {}, TypeGameStarted: {},
	TypeGameState: {}, TypeGameOver: {}, TypeDisconnect: {},
}

func (t MessageType) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Envelope 线上传输的消息信封。
// Data 是已经用同一编解码器编码好的载荷，原样嵌入信封，整条记录自描述。
type Envelope struct {
	Version   int
	Type      MessageType
	From      string
	Data      []byte
	Timestamp int64 // Unix 毫秒
}

// NewEnvelope 编码载荷并构造信封；payload 为 nil 时 Data 为空
func NewEnvelope(c Codec, t MessageType, from string, payload any) (Envelope, error) {
	env := Envelope{
		Version:   Version,
		Type:      t,
		From:      from,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload == nil {
		return env, nil
	}
	data, err := c.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	env.Data = data
	return env, nil
}

// Bind 将载荷解码到 v
func (e Envelope) Bind(c Codec, v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrMalformed, e.Type)
	}
	if err := c.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, e.Type, err)
	}
	return nil
}

// Text 读取字符串载荷，缺省时返回空串
func (e Envelope) Text(c Codec) string {
	if len(e.Data) == 0 {
		return ""
	}
	var s string
	if err := c.Unmarshal(e.Data, &s); err != nil {
		return ""
	}
	return s
}

func (e Envelope) validate() error {
	if e.Version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrMalformed, e.Version)
	}
	if e.Type == "" {
		return fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return nil
}

// Encode 编码信封并加上长度前缀
func Encode(c Codec, env Envelope) ([]byte, error) {
	body, err := c.MarshalEnvelope(env)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(body)
}
