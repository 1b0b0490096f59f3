package domain

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeMessage wraps a message in the kind-tagged envelope shared by every transport.
func EncodeMessage(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	return json.Marshal(envelope{Kind: msg.Kind(), Payload: payload})
}

// DecodeMessage parses an envelope produced by EncodeMessage.
func DecodeMessage(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var msg Message
	var err error
	switch env.Kind {
	case KindJoin:
		var m Join
		err = unmarshalPayload(env.Payload, &m)
		msg = m
	case KindAnswer:
		var m Answer
		err = unmarshalPayload(env.Payload, &m)
		msg = m
	case KindHeartbeat:
		var m Heartbeat
		err = unmarshalPayload(env.Payload, &m)
		msg = m
	case KindSnapshot:
		var m Snapshot
		err = unmarshalPayload(env.Payload, &m)
		msg = m
	case KindDisconnect:
		msg = Disconnect{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
	}
	return msg, nil
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
