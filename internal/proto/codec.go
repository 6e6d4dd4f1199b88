package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeErrorKind classifies why a payload was rejected.
type DecodeErrorKind string

const (
	// DecodeMalformed marks payloads that are not valid JSON or lack the
	// required envelope fields.
	DecodeMalformed DecodeErrorKind = "malformed"
	// DecodeUnrecognized marks syntactically valid messages with a type this
	// build does not know. Sessions drop them and stay up.
	DecodeUnrecognized DecodeErrorKind = "unrecognized"
	// DecodeIncomplete marks known types missing a required payload field.
	DecodeIncomplete DecodeErrorKind = "incomplete"
)

// DecodeError reports a rejected payload. Decode never panics; every failure
// path surfaces as one of these.
type DecodeError struct {
	Kind DecodeErrorKind
	Type MessageType
	Err  error
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case DecodeUnrecognized:
		return fmt.Sprintf("unrecognized message type %q", e.Type)
	case DecodeIncomplete:
		return fmt.Sprintf("message type %q missing required fields: %v", e.Type, e.Err)
	default:
		return fmt.Sprintf("malformed payload: %v", e.Err)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode renders a message for the wire.
func Encode(msg Message) ([]byte, error) {
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %q: %w", msg.Type, err)
	}
	return data, nil
}

// EncodeBatch coalesces several messages into one frame.
func EncodeBatch(msgs []Message) ([]byte, error) {
	for i := range msgs {
		if msgs[i].Ver == 0 {
			msgs[i].Ver = Version
		}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return data, nil
}

// Decode parses a single message. Unknown types yield a DecodeError with
// kind DecodeUnrecognized so sessions can skip them without closing.
func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, &DecodeError{Kind: DecodeMalformed, Err: err}
	}
	if err := validate(&msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// DecodeBatch accepts either one message object or a JSON array of them,
// since the transport may coalesce logical messages into one delivery.
// A malformed element poisons the whole frame; callers treat that as one
// decode failure against their budget.
func DecodeBatch(payload []byte) ([]Message, error) {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, &DecodeError{Kind: DecodeMalformed, Err: fmt.Errorf("empty payload")}
	}
	if trimmed[0] != '[' {
		msg, err := Decode(payload)
		if err != nil {
			return nil, err
		}
		return []Message{msg}, nil
	}
	var msgs []Message
	if err := json.Unmarshal(payload, &msgs); err != nil {
		return nil, &DecodeError{Kind: DecodeMalformed, Err: err}
	}
	for i := range msgs {
		if err := validate(&msgs[i]); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

func validate(msg *Message) error {
	if msg.Type == "" {
		return &DecodeError{Kind: DecodeMalformed, Err: fmt.Errorf("missing type field")}
	}
	if !knownTypes[msg.Type] {
		return &DecodeError{Kind: DecodeUnrecognized, Type: msg.Type}
	}
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return &DecodeError{Kind: DecodeMalformed, Err: fmt.Errorf("unsupported protocol version %d", msg.Ver)}
	}

	missing := func(field string) error {
		return &DecodeError{Kind: DecodeIncomplete, Type: msg.Type, Err: fmt.Errorf("missing %s", field)}
	}

	switch msg.Type {
	case TypeConnectResponse:
		if msg.Success == nil {
			return missing("success")
		}
	case TypeEntityCreate, TypeEntityDelete:
		if msg.EntityID == "" {
			return missing("entity_id")
		}
	case TypeComponentUpdate:
		if msg.EntityID == "" {
			return missing("entity_id")
		}
		if len(msg.Components) == 0 {
			return missing("components")
		}
	case TypeInput:
		if msg.InputData == nil {
			return missing("input_data")
		}
	case TypeTimeSync, TypePing:
		if msg.ClientTime == nil {
			return missing("client_time")
		}
	case TypePong:
		if msg.ClientTime == nil {
			return missing("client_time")
		}
		if msg.ServerTime == nil {
			return missing("server_time")
		}
	case TypeError:
		if msg.Code == nil {
			return missing("code")
		}
	case TypeKeyframeRequest:
		if msg.KeyframeSeq == nil {
			return missing("keyframe_seq")
		}
	}
	return nil
}
