package prediction

import (
	"sync"

	"github.com/eda3/ecs-wasm-game3/internal/proto"
)

const (
	inputBufferOccupancyMetricKey = "prediction_input_buffer_occupancy"
	inputBufferOverflowMetricKey  = "prediction_input_buffer_overflow_total"

	// DefaultCapacity bounds the replay window. At 60 inputs per second this
	// covers two seconds of unacknowledged input.
	DefaultCapacity = 120
)

// PendingInput is a locally applied input retained until the server
// acknowledges its sequence.
type PendingInput struct {
	Sequence uint32
	Input    proto.InputData
}

// InputBuffer stores unacknowledged inputs in a fixed-size ring. It is safe
// for concurrent producers and a single consumer.
type InputBuffer struct {
	mu      sync.Mutex
	data    []PendingInput
	head    int
	tail    int
	count   int
	metrics telemetryMetrics
}

type telemetryMetrics interface {
	Add(string, uint64)
	Store(string, uint64)
}

// NewInputBuffer constructs a ring buffer with the provided capacity.
func NewInputBuffer(capacity int, metrics telemetryMetrics) *InputBuffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &InputBuffer{
		data:    make([]PendingInput, capacity),
		metrics: metrics,
	}
}

// Capacity reports the maximum number of inputs the buffer can hold.
func (b *InputBuffer) Capacity() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Push retains an input for replay, returning false if the buffer is full.
func (b *InputBuffer) Push(in PendingInput) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == len(b.data) {
		if b.metrics != nil {
			b.metrics.Add(inputBufferOverflowMetricKey, 1)
		}
		return false
	}
	b.data[b.tail] = in
	b.tail = (b.tail + 1) % len(b.data)
	b.count++
	b.storeOccupancyLocked()
	return true
}

// AckThrough drops all inputs with sequence at or below ack and reports how
// many were discarded. Sequences are pushed in increasing order, so the
// retained entries form a contiguous unacknowledged suffix.
func (b *InputBuffer) AckThrough(ack uint32) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := 0
	for b.count > 0 && b.data[b.head].Sequence <= ack {
		b.head = (b.head + 1) % len(b.data)
		b.count--
		dropped++
	}
	if b.count == 0 {
		b.head = 0
		b.tail = 0
	}
	b.storeOccupancyLocked()
	return dropped
}

// Pending returns the unacknowledged inputs in sequence order without
// clearing them.
func (b *InputBuffer) Pending() []PendingInput {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return nil
	}
	inputs := make([]PendingInput, b.count)
	for i := 0; i < b.count; i++ {
		idx := (b.head + i) % len(b.data)
		inputs[i] = b.data[idx]
	}
	return inputs
}

// Len reports the number of retained inputs.
func (b *InputBuffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Clear discards all retained inputs, e.g. on disconnect.
func (b *InputBuffer) Clear() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.tail = 0
	b.count = 0
	b.storeOccupancyLocked()
}

func (b *InputBuffer) storeOccupancyLocked() {
	if b.metrics == nil {
		return
	}
	b.metrics.Store(inputBufferOccupancyMetricKey, uint64(b.count))
}
