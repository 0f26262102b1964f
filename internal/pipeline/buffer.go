// Package pipeline implements the batch aggregation core: the shared ingest
// buffer and the coordinator that flushes it exactly once per threshold
// crossing.
package pipeline

import (
	"sync"

	"github.com/roadsense/roadsense/internal/domain/telemetry"
)

// Buffer is the FIFO queue shared by both ingress paths. All operations are
// safe for concurrent use.
type Buffer struct {
	mu   sync.Mutex
	data []telemetry.ProcessedAgentData
}

// NewBuffer creates a Buffer with the given initial capacity hint.
func NewBuffer(capacityHint int) *Buffer {
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &Buffer{data: make([]telemetry.ProcessedAgentData, 0, capacityHint)}
}

// Append adds a record to the tail.
func (b *Buffer) Append(rec telemetry.ProcessedAgentData) {
	b.mu.Lock()
	b.data = append(b.data, rec)
	b.mu.Unlock()
}

// Len returns the current number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// DrainBatch atomically removes and returns the n oldest records. When fewer
// than n records are buffered it removes nothing and returns nil. The
// length check and removal happen inside one critical section; splitting them
// would let two racing flushers drain overlapping batches.
func (b *Buffer) DrainBatch(n int) []telemetry.ProcessedAgentData {
	if n <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) < n {
		return nil
	}
	out := make([]telemetry.ProcessedAgentData, n)
	copy(out, b.data[:n])
	b.data = append(b.data[:0], b.data[n:]...)
	return out
}

// Clear drops all buffered records and returns how many were dropped.
func (b *Buffer) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.data)
	b.data = b.data[:0]
	return n
}
