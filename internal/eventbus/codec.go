package eventbus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// Envelope is the wire shape of an event outside the process:
// {"event_name": ..., "data": ...}.
type Envelope struct {
	EventName string    `json:"event_name"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEnvelope(event Event) Envelope {
	return Envelope{
		EventName: eventName(event),
		Data:      event,
		Timestamp: time.Now().UTC(),
	}
}

type typedEnvelope[T any] struct {
	EventName string    `json:"event_name"`
	Data      T         `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// MsgpackCodec encodes with msgpack but honours json struct tags, so event
// types need a single set of tags.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// UnmarshalEvent decodes an envelope produced by NATSBridge into its typed
// payload.
func UnmarshalEvent[T any](codec Codec, data []byte) (T, bool) {
	var env typedEnvelope[T]
	if err := codec.Unmarshal(data, &env); err != nil {
		logrus.WithField("codec", codec.Name()).Errorf("Failed to unmarshal event: %v", err)
		return env.Data, false
	}
	return env.Data, true
}
