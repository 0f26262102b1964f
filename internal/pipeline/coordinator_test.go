package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/roadsense/roadsense/internal/domain/telemetry"
	"github.com/roadsense/roadsense/internal/infra/metrics"
)

type fakeSink struct {
	mu      sync.Mutex
	batches [][]telemetry.ProcessedAgentData
	ctxErrs []error
	err     error
}

func (f *fakeSink) InsertBatch(ctx context.Context, batch []telemetry.ProcessedAgentData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeSink) flushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]telemetry.ProcessedAgentData
	err     error
}

func (f *fakePublisher) PublishBatch(_ context.Context, batch []telemetry.ProcessedAgentData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakePublisher) flushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type broadcastCall struct {
	userID  int64
	records []telemetry.ProcessedAgentData
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (f *fakeBroadcaster) Broadcast(userID int64, records []telemetry.ProcessedAgentData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, broadcastCall{userID: userID, records: records})
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestCoordinator(batchSize int, sink Sink, pub Publisher, bcast Broadcaster) *Coordinator {
	return NewCoordinator(
		Config{BatchSize: batchSize, FlushTimeout: time.Second},
		sink, pub, bcast,
		quietLogger(),
		metrics.New(prometheus.NewRegistry()),
	)
}

func TestCoordinator_FlushesOncePerThresholdCrossing(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	pub := &fakePublisher{}
	bcast := &fakeBroadcaster{}
	coord := newTestCoordinator(3, sink, pub, bcast)

	const batches = 4
	for i := int64(0); i < 3*batches; i++ {
		coord.Submit(context.Background(), record(i, 0))
	}

	if got := sink.flushCount(); got != batches {
		t.Errorf("sink received %d batches; want %d", got, batches)
	}
	if got := pub.flushCount(); got != batches {
		t.Errorf("publisher received %d batches; want %d", got, batches)
	}
	if coord.BufferedLen() != 0 {
		t.Errorf("buffer length after %d full batches = %d; want 0", batches, coord.BufferedLen())
	}

	// Batches preserve append order with no reordering across batches.
	want := int64(0)
	for _, batch := range sink.batches {
		if len(batch) != 3 {
			t.Fatalf("batch size = %d; want 3", len(batch))
		}
		for _, rec := range batch {
			if rec.AgentData.UserID != want {
				t.Fatalf("record out of order: got user %d; want %d", rec.AgentData.UserID, want)
			}
			want++
		}
	}
}

func TestCoordinator_BelowThreshold_NoFlush(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	coord := newTestCoordinator(3, sink, &fakePublisher{}, &fakeBroadcaster{})

	coord.Submit(context.Background(), record(1, 0))
	coord.Submit(context.Background(), record(1, 0))

	if got := sink.flushCount(); got != 0 {
		t.Errorf("sink received %d batches below threshold; want 0", got)
	}
	if coord.BufferedLen() != 2 {
		t.Errorf("buffer length = %d; want 2", coord.BufferedLen())
	}
}

func TestCoordinator_BroadcastGroupsByUser(t *testing.T) {
	t.Parallel()

	bcast := &fakeBroadcaster{}
	coord := newTestCoordinator(3, &fakeSink{}, &fakePublisher{}, bcast)

	// A, B from user 1; C from user 2.
	coord.Submit(context.Background(), record(1, -0.1))
	coord.Submit(context.Background(), record(1, -0.2))
	coord.Submit(context.Background(), record(2, -0.9))

	if len(bcast.calls) != 2 {
		t.Fatalf("broadcast calls = %d; want 2", len(bcast.calls))
	}
	first, second := bcast.calls[0], bcast.calls[1]
	if first.userID != 1 || len(first.records) != 2 {
		t.Errorf("first broadcast = user %d with %d records; want user 1 with 2", first.userID, len(first.records))
	}
	if second.userID != 2 || len(second.records) != 1 {
		t.Errorf("second broadcast = user %d with %d records; want user 2 with 1", second.userID, len(second.records))
	}
	if second.records[0].RoadState != telemetry.RoadStateBad {
		t.Errorf("user 2 record road state = %q; want %q", second.records[0].RoadState, telemetry.RoadStateBad)
	}
}

func TestCoordinator_SinkFailure_StillPublishesAndRecovers(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{err: errors.New("database is down")}
	pub := &fakePublisher{}
	bcast := &fakeBroadcaster{}
	coord := newTestCoordinator(2, sink, pub, bcast)

	coord.Submit(context.Background(), record(1, 0))
	coord.Submit(context.Background(), record(1, 0))

	// Persistence failed but publish and broadcast still happened.
	if got := pub.flushCount(); got != 1 {
		t.Errorf("publisher batches after sink failure = %d; want 1", got)
	}
	if len(bcast.calls) != 1 {
		t.Errorf("broadcast calls after sink failure = %d; want 1", len(bcast.calls))
	}

	// The guard was released: the next crossing flushes again.
	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()

	coord.Submit(context.Background(), record(1, 0))
	coord.Submit(context.Background(), record(1, 0))

	if got := sink.flushCount(); got != 1 {
		t.Errorf("sink batches after recovery = %d; want 1", got)
	}
}

func TestCoordinator_PublishFailure_DoesNotAffectPersistence(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	pub := &fakePublisher{err: errors.New("broker unreachable")}
	coord := newTestCoordinator(2, sink, pub, &fakeBroadcaster{})

	coord.Submit(context.Background(), record(1, 0))
	coord.Submit(context.Background(), record(1, 0))

	if got := sink.flushCount(); got != 1 {
		t.Errorf("sink batches = %d; want 1 despite publish failure", got)
	}
}

// A batch holds records from every ingress path, so the caller whose submit
// happens to trigger the flush must not be able to cancel it. A client that
// disconnects right after completing a batch would otherwise abort persistence
// for everyone.
func TestCoordinator_FlushOutlivesCallerCancellation(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	pub := &fakePublisher{}
	coord := newTestCoordinator(2, sink, pub, &fakeBroadcaster{})

	coord.Submit(context.Background(), record(1, 0))

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	coord.Submit(canceled, record(2, 0))

	if got := sink.flushCount(); got != 1 {
		t.Fatalf("sink batches = %d; want 1", got)
	}
	sink.mu.Lock()
	ctxErr := sink.ctxErrs[0]
	sink.mu.Unlock()
	if ctxErr != nil {
		t.Errorf("sink saw context error %v; want a live context", ctxErr)
	}
	if got := pub.flushCount(); got != 1 {
		t.Errorf("publisher batches = %d; want 1", got)
	}
}

// Two ingress paths racing over a single threshold crossing must produce
// exactly one flush. Repeated to shake out interleavings.
func TestCoordinator_ConcurrentIngress_SingleFlush(t *testing.T) {
	t.Parallel()

	for round := 0; round < 200; round++ {
		sink := &fakeSink{}
		coord := newTestCoordinator(2, sink, &fakePublisher{}, &fakeBroadcaster{})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			coord.Submit(context.Background(), record(1, 0))
		}()
		go func() {
			defer wg.Done()
			coord.Submit(context.Background(), record(2, 0))
		}()
		wg.Wait()

		if got := sink.flushCount(); got != 1 {
			t.Fatalf("round %d: flush count = %d; want exactly 1", round, got)
		}
		if coord.BufferedLen() != 0 {
			t.Fatalf("round %d: buffer length = %d; want 0", round, coord.BufferedLen())
		}
	}
}

func TestCoordinator_DropPending(t *testing.T) {
	t.Parallel()

	coord := newTestCoordinator(5, &fakeSink{}, &fakePublisher{}, &fakeBroadcaster{})
	coord.Submit(context.Background(), record(1, 0))
	coord.Submit(context.Background(), record(1, 0))

	if dropped := coord.DropPending(); dropped != 2 {
		t.Errorf("DropPending() = %d; want 2", dropped)
	}
	if coord.BufferedLen() != 0 {
		t.Errorf("buffer length after drop = %d; want 0", coord.BufferedLen())
	}
}
