package hub

import (
	"bytes"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/eda3/ecs-wasm-game3/internal/netquality"
	"github.com/eda3/ecs-wasm-game3/internal/proto"
	"github.com/eda3/ecs-wasm-game3/internal/replication"
	"github.com/eda3/ecs-wasm-game3/internal/session"
	"github.com/eda3/ecs-wasm-game3/internal/telemetry"
)

// Conn is the transport surface the hub writes to. *websocket.Conn satisfies
// it; tests substitute an in-memory fake.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// remote bundles everything the hub tracks for one connection: the protocol
// session, the replication view, and the write side of the transport. The
// write mutex serializes the tick loop against keepalive writes.
type remote struct {
	sess    *session.Session
	view    *replication.View
	metrics telemetry.Metrics

	writeMu sync.Mutex
	conn    Conn
}

func newRemote(sess *session.Session, view *replication.View, conn Conn, metrics telemetry.Metrics) *remote {
	return &remote{sess: sess, view: view, conn: conn, metrics: metrics}
}

// recordBytes tracks outbound bandwidth in total and per message type, so
// the counters show which part of the protocol dominates the wire.
func (r *remote) recordBytes(kind proto.MessageType, n int) {
	if r.metrics == nil {
		return
	}
	r.metrics.Add(bytesSentMetricKey, uint64(n))
	r.metrics.Add(bytesSentMetricKey+":"+string(kind), uint64(n))
}

// send stamps, encodes, and writes one message. A sequence-space fault or a
// transport error reports false; the caller drops the connection.
func (r *remote) send(msg proto.Message, timestamp int64) bool {
	if r == nil || r.conn == nil {
		return false
	}
	seq, err := r.sess.NextSequence()
	if err != nil {
		return false
	}
	msg.Sequence = seq
	msg.Timestamp = timestamp
	data, err := proto.Encode(msg)
	if err != nil {
		return false
	}
	r.recordBytes(msg.Type, len(data))
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.conn.WriteMessage(websocket.TextMessage, data) == nil
}

// sendBatch writes several messages as one coalesced payload. The frame is
// assembled from the individually encoded messages so each one's bytes can
// be attributed to its type.
func (r *remote) sendBatch(msgs []proto.Message, timestamp int64) bool {
	if r == nil || r.conn == nil {
		return false
	}
	if len(msgs) == 0 {
		return true
	}
	encoded := make([][]byte, len(msgs))
	for i := range msgs {
		seq, err := r.sess.NextSequence()
		if err != nil {
			return false
		}
		msgs[i].Sequence = seq
		msgs[i].Timestamp = timestamp
		data, err := proto.Encode(msgs[i])
		if err != nil {
			return false
		}
		encoded[i] = data
		r.recordBytes(msgs[i].Type, len(data))
	}
	size := len(msgs) + 1
	for _, data := range encoded {
		size += len(data)
	}
	frame := make([]byte, 0, size)
	frame = append(frame, '[')
	frame = append(frame, bytes.Join(encoded, []byte{','})...)
	frame = append(frame, ']')
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.conn.WriteMessage(websocket.TextMessage, frame) == nil
}

func (r *remote) close() {
	if r == nil || r.conn == nil {
		return
	}
	r.conn.Close()
}

func (r *remote) monitor() *netquality.Monitor {
	if r == nil {
		return nil
	}
	return r.sess.Monitor()
}
