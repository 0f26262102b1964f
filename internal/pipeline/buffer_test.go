package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/roadsense/roadsense/internal/domain/telemetry"
)

func record(userID int64, y float64) telemetry.ProcessedAgentData {
	return telemetry.ProcessedAgentData{
		RoadState: telemetry.ClassifyRoadState(y),
		AgentData: telemetry.AgentData{
			UserID:        userID,
			Accelerometer: telemetry.Accelerometer{X: 0.1, Y: y, Z: 9.8},
			GPS:           telemetry.GPS{Latitude: 50.45, Longitude: 30.52},
			Timestamp:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestBuffer_AppendAndLen(t *testing.T) {
	t.Parallel()

	buf := NewBuffer(4)
	if buf.Len() != 0 {
		t.Fatalf("Len() on empty buffer = %d; want 0", buf.Len())
	}

	buf.Append(record(1, 0))
	buf.Append(record(2, 0))
	if buf.Len() != 2 {
		t.Errorf("Len() = %d; want 2", buf.Len())
	}
}

func TestBuffer_DrainBatch_FIFO(t *testing.T) {
	t.Parallel()

	buf := NewBuffer(4)
	for i := int64(1); i <= 3; i++ {
		buf.Append(record(i, 0))
	}

	batch := buf.DrainBatch(2)
	if len(batch) != 2 {
		t.Fatalf("DrainBatch(2) returned %d records; want 2", len(batch))
	}
	if batch[0].AgentData.UserID != 1 || batch[1].AgentData.UserID != 2 {
		t.Errorf("drained user ids = [%d %d]; want [1 2]",
			batch[0].AgentData.UserID, batch[1].AgentData.UserID)
	}
	if buf.Len() != 1 {
		t.Errorf("Len() after drain = %d; want 1", buf.Len())
	}
}

func TestBuffer_DrainBatch_Insufficient_LeavesBufferUnchanged(t *testing.T) {
	t.Parallel()

	buf := NewBuffer(4)
	buf.Append(record(1, 0))

	if batch := buf.DrainBatch(2); batch != nil {
		t.Errorf("DrainBatch(2) with 1 buffered = %v; want nil", batch)
	}
	if buf.Len() != 1 {
		t.Errorf("Len() after failed drain = %d; want 1", buf.Len())
	}
}

func TestBuffer_DrainBatch_NonPositive(t *testing.T) {
	t.Parallel()

	buf := NewBuffer(4)
	buf.Append(record(1, 0))

	if batch := buf.DrainBatch(0); batch != nil {
		t.Errorf("DrainBatch(0) = %v; want nil", batch)
	}
	if batch := buf.DrainBatch(-1); batch != nil {
		t.Errorf("DrainBatch(-1) = %v; want nil", batch)
	}
}

func TestBuffer_Clear(t *testing.T) {
	t.Parallel()

	buf := NewBuffer(4)
	buf.Append(record(1, 0))
	buf.Append(record(2, 0))

	if dropped := buf.Clear(); dropped != 2 {
		t.Errorf("Clear() = %d; want 2", dropped)
	}
	if buf.Len() != 0 {
		t.Errorf("Len() after Clear = %d; want 0", buf.Len())
	}
}

func TestBuffer_ConcurrentAppends(t *testing.T) {
	t.Parallel()

	const goroutines = 8
	const perGoroutine = 100

	buf := NewBuffer(goroutines * perGoroutine)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				buf.Append(record(1, 0))
			}
		}()
	}
	wg.Wait()

	if buf.Len() != goroutines*perGoroutine {
		t.Errorf("Len() = %d; want %d", buf.Len(), goroutines*perGoroutine)
	}
}

func TestBuffer_ConcurrentDrains_NoOverlap(t *testing.T) {
	t.Parallel()

	const total = 100
	buf := NewBuffer(total)
	for i := int64(0); i < total; i++ {
		buf.Append(record(i, 0))
	}

	var mu sync.Mutex
	seen := make(map[int64]int)
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch := buf.DrainBatch(10)
				if batch == nil {
					return
				}
				mu.Lock()
				for _, rec := range batch {
					seen[rec.AgentData.UserID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("drained %d distinct records; want %d", len(seen), total)
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("record %d drained %d times; want exactly once", id, count)
		}
	}
}
