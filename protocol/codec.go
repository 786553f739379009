package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec 信封与载荷的编码方案
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	MarshalEnvelope(env Envelope) ([]byte, error)
	UnmarshalEnvelope(data []byte) (Envelope, error)
}

// CodecByName 按名称选择编码：msgpack（默认）或 json
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "msgpack":
		return MsgpackCodec{}, nil
	case "json":
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// MsgpackCodec 以 map 形式编码记录，跨语言可解
type MsgpackCodec struct{}

type msgpackEnvelope struct {
	Version   int                `msgpack:"v"`
	Type      string             `msgpack:"type"`
	From      string             `msgpack:"from"`
	Data      msgpack.RawMessage `msgpack:"data,omitempty"`
	Timestamp int64              `msgpack:"ts"`
}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

func (MsgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

func (MsgpackCodec) MarshalEnvelope(env Envelope) ([]byte, error) {
	return msgpack.Marshal(&msgpackEnvelope{
		Version:   env.Version,
		Type:      string(env.Type),
		From:      env.From,
		Data:      env.Data,
		Timestamp: env.Timestamp,
	})
}

func (MsgpackCodec) UnmarshalEnvelope(data []byte) (Envelope, error) {
	var w msgpackEnvelope
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	env := Envelope{
		Version:   w.Version,
		Type:      MessageType(w.Type),
		From:      w.From,
		Data:      []byte(w.Data),
		Timestamp: w.Timestamp,
	}
	if len(env.Data) == 0 {
		env.Data = nil
	}
	return env, env.validate()
}

// JSONCodec 便于抓包调试的文本编码
type JSONCodec struct{}

type jsonEnvelope struct {
	Version   int             `json:"v"`
	Type      string          `json:"type"`
	From      string          `json:"from"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"ts"`
}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (JSONCodec) MarshalEnvelope(env Envelope) ([]byte, error) {
	return json.Marshal(&jsonEnvelope{
		Version:   env.Version,
		Type:      string(env.Type),
		From:      env.From,
		Data:      env.Data,
		Timestamp: env.Timestamp,
	})
}

func (JSONCodec) UnmarshalEnvelope(data []byte) (Envelope, error) {
	var w jsonEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	env := Envelope{
		Version:   w.Version,
		Type:      MessageType(w.Type),
		From:      w.From,
		Data:      []byte(w.Data),
		Timestamp: w.Timestamp,
	}
	if len(env.Data) == 0 {
		env.Data = nil
	}
	return env, env.validate()
}
