package proto

import (
	"github.com/eda3/ecs-wasm-game3/internal/world"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1
)

// MessageType enumerates the wire message variants.
type MessageType string

const (
	TypeConnect         MessageType = "Connect"
	TypeConnectResponse MessageType = "ConnectResponse"
	TypeDisconnect      MessageType = "Disconnect"
	TypeEntityCreate    MessageType = "EntityCreate"
	TypeEntityDelete    MessageType = "EntityDelete"
	TypeComponentUpdate MessageType = "ComponentUpdate"
	TypeInput           MessageType = "Input"
	TypeTimeSync        MessageType = "TimeSync"
	TypePing            MessageType = "Ping"
	TypePong            MessageType = "Pong"
	TypeError           MessageType = "Error"

	// Resync extension: a client that lost the delta chain asks for a full
	// snapshot by sequence instead of tearing the session down.
	TypeKeyframeRequest MessageType = "KeyframeRequest"
	TypeKeyframe        MessageType = "Keyframe"
)

// knownTypes gates decoding; anything else is an unrecognized-type error.
var knownTypes = map[MessageType]bool{
	TypeConnect:         true,
	TypeConnectResponse: true,
	TypeDisconnect:      true,
	TypeEntityCreate:    true,
	TypeEntityDelete:    true,
	TypeComponentUpdate: true,
	TypeInput:           true,
	TypeTimeSync:        true,
	TypePing:            true,
	TypePong:            true,
	TypeError:           true,
	TypeKeyframeRequest: true,
	TypeKeyframe:        true,
}

// InputData carries one frame of player intent.
type InputData struct {
	Movement [2]float64      `json:"movement"`
	Actions  map[string]bool `json:"actions,omitempty"`
}

// Error codes carried by Error messages.
const (
	ErrorCodeUnknownEntity  uint32 = 1
	ErrorCodeNotOwner       uint32 = 2
	ErrorCodeInvalidInput   uint32 = 3
	ErrorCodeBadToken       uint32 = 4
	ErrorCodeQueueLimit     uint32 = 5
	ErrorCodeProtocol       uint32 = 6
	ErrorCodeUnknownMessage uint32 = 7
)

// Message is the wire envelope. Every message carries type, sequence, and
// timestamp; the remaining fields are populated per type and omitted
// otherwise. Sequence numbers are per direction per connection.
type Message struct {
	Ver       int         `json:"ver,omitempty"`
	Type      MessageType `json:"type"`
	Sequence  uint32      `json:"sequence"`
	Timestamp int64       `json:"timestamp"`

	// Connect / ConnectResponse / Disconnect.
	PlayerID   string `json:"player_id,omitempty"`
	Success    *bool  `json:"success,omitempty"`
	Token      string `json:"token,omitempty"`
	SchemaHash string `json:"schema_hash,omitempty"`
	Reason     string `json:"reason,omitempty"`

	// Entity lifecycle and component deltas.
	EntityID   world.EntityID     `json:"entity_id,omitempty"`
	Components world.ComponentSet `json:"components,omitempty"`

	// Ack is the highest input sequence the server has applied for the
	// receiving connection; clients anchor reconciliation on it.
	Ack *uint32 `json:"ack,omitempty"`

	// Input.
	InputData *InputData `json:"input_data,omitempty"`

	// TimeSync / Ping / Pong (unix milliseconds).
	ClientTime *int64 `json:"client_time,omitempty"`
	ServerTime *int64 `json:"server_time,omitempty"`

	// Error.
	Code    *uint32 `json:"code,omitempty"`
	Message string  `json:"message,omitempty"`

	// Keyframe / KeyframeRequest.
	KeyframeSeq *uint64                               `json:"keyframe_seq,omitempty"`
	Entities    map[world.EntityID]world.ComponentSet `json:"entities,omitempty"`
}

// NewMessage stamps the envelope fields shared by every variant.
func NewMessage(msgType MessageType, sequence uint32, timestamp int64) Message {
	return Message{Ver: Version, Type: msgType, Sequence: sequence, Timestamp: timestamp}
}

// BoolPtr, U32Ptr, and I64Ptr build optional wire fields.
func BoolPtr(v bool) *bool { return &v }

// U32Ptr returns a pointer to v.
func U32Ptr(v uint32) *uint32 { return &v }

// U64Ptr returns a pointer to v.
func U64Ptr(v uint64) *uint64 { return &v }

// I64Ptr returns a pointer to v.
func I64Ptr(v int64) *int64 { return &v }
