package proto

import (
	"errors"
	"testing"

	"github.com/eda3/ecs-wasm-game3/internal/world"
)

func TestEncodeDecodeInput(t *testing.T) {
	msg := NewMessage(TypeInput, 5, 12345)
	msg.InputData = &InputData{
		Movement: [2]float64{1, 0},
		Actions:  map[string]bool{"fire": true},
	}

	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Type != TypeInput || decoded.Sequence != 5 || decoded.Timestamp != 12345 {
		t.Fatalf("unexpected envelope: %+v", decoded)
	}
	if decoded.InputData == nil {
		t.Fatalf("expected input payload")
	}
	if decoded.InputData.Movement != [2]float64{1, 0} {
		t.Fatalf("unexpected movement: %+v", decoded.InputData.Movement)
	}
	if !decoded.InputData.Actions["fire"] {
		t.Fatalf("unexpected actions: %+v", decoded.InputData.Actions)
	}
}

func TestDecodeComponentUpdate(t *testing.T) {
	payload := []byte(`{
		"type": "ComponentUpdate",
		"sequence": 9,
		"timestamp": 1000,
		"entity_id": "e-1",
		"ack": 5,
		"components": {
			"Position": {"type": "Position", "x": 3, "y": 4},
			"Health": {"type": "Health", "current": 90, "max": 100}
		}
	}`)

	msg, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.EntityID != "e-1" {
		t.Fatalf("unexpected entity id %q", msg.EntityID)
	}
	if msg.Ack == nil || *msg.Ack != 5 {
		t.Fatalf("unexpected ack: %+v", msg.Ack)
	}
	pos, ok := msg.Components[world.ComponentPosition]
	if !ok || pos.Position == nil || pos.Position.X != 3 || pos.Position.Y != 4 {
		t.Fatalf("unexpected position component: %+v", pos)
	}
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`{"type": "Input", "sequence":`))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if decodeErr.Kind != DecodeMalformed {
		t.Fatalf("expected malformed kind, got %q", decodeErr.Kind)
	}
}

func TestDecodeUnrecognizedType(t *testing.T) {
	_, err := Decode([]byte(`{"type": "Teleport", "sequence": 1, "timestamp": 2}`))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if decodeErr.Kind != DecodeUnrecognized {
		t.Fatalf("expected unrecognized kind, got %q", decodeErr.Kind)
	}
	if decodeErr.Type != "Teleport" {
		t.Fatalf("expected offending type to be reported, got %q", decodeErr.Type)
	}
}

func TestDecodeMissingRequiredFields(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"entity create without id", `{"type":"EntityCreate","sequence":1,"timestamp":1}`},
		{"component update without components", `{"type":"ComponentUpdate","sequence":1,"timestamp":1,"entity_id":"e"}`},
		{"input without payload", `{"type":"Input","sequence":1,"timestamp":1}`},
		{"ping without client time", `{"type":"Ping","sequence":1,"timestamp":1}`},
		{"pong without server time", `{"type":"Pong","sequence":1,"timestamp":1,"client_time":5}`},
		{"error without code", `{"type":"Error","sequence":1,"timestamp":1,"message":"x"}`},
		{"keyframe request without seq", `{"type":"KeyframeRequest","sequence":1,"timestamp":1}`},
		{"connect response without success", `{"type":"ConnectResponse","sequence":1,"timestamp":1,"player_id":"p"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.payload))
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("expected DecodeError, got %v", err)
			}
			if decodeErr.Kind != DecodeIncomplete {
				t.Fatalf("expected incomplete kind, got %q", decodeErr.Kind)
			}
		})
	}
}

func TestDecodeVersionMismatch(t *testing.T) {
	_, err := Decode([]byte(`{"ver": 99, "type": "Ping", "sequence": 1, "timestamp": 1, "client_time": 5}`))
	if err == nil {
		t.Fatalf("expected version mismatch error")
	}
}

func TestDecodeBatchSingleAndArray(t *testing.T) {
	single := []byte(`{"type":"Ping","sequence":1,"timestamp":1,"client_time":5}`)
	msgs, err := DecodeBatch(single)
	if err != nil {
		t.Fatalf("decode single failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Type != TypePing {
		t.Fatalf("unexpected single decode: %+v", msgs)
	}

	batch := []byte(`[
		{"type":"EntityCreate","sequence":2,"timestamp":1,"entity_id":"e-1"},
		{"type":"ComponentUpdate","sequence":3,"timestamp":1,"entity_id":"e-1",
		 "components":{"Position":{"type":"Position","x":1,"y":2}}}
	]`)
	msgs, err = DecodeBatch(batch)
	if err != nil {
		t.Fatalf("decode batch failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Type != TypeEntityCreate || msgs[1].Type != TypeComponentUpdate {
		t.Fatalf("unexpected batch order: %+v", msgs)
	}
}

func TestDecodeBatchEmptyPayload(t *testing.T) {
	if _, err := DecodeBatch([]byte("  ")); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestEncodeBatchRoundTrip(t *testing.T) {
	ping := NewMessage(TypePing, 1, 10)
	ping.ClientTime = I64Ptr(10)
	del := NewMessage(TypeEntityDelete, 2, 11)
	del.EntityID = "e-9"

	data, err := EncodeBatch([]Message{ping, del})
	if err != nil {
		t.Fatalf("encode batch failed: %v", err)
	}
	msgs, err := DecodeBatch(data)
	if err != nil {
		t.Fatalf("decode batch failed: %v", err)
	}
	if len(msgs) != 2 || msgs[1].EntityID != "e-9" {
		t.Fatalf("unexpected round trip: %+v", msgs)
	}
}

func TestSchemaHashStable(t *testing.T) {
	first, err := SchemaHash()
	if err != nil {
		t.Fatalf("schema hash failed: %v", err)
	}
	if first == "" {
		t.Fatalf("expected non-empty hash")
	}
	second, err := SchemaHash()
	if err != nil {
		t.Fatalf("schema hash failed: %v", err)
	}
	if first != second {
		t.Fatalf("hash changed between calls: %q vs %q", first, second)
	}
}
