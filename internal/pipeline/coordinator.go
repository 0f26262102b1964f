package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roadsense/roadsense/internal/domain/telemetry"
	"github.com/roadsense/roadsense/internal/infra/metrics"
)

// Sink persists a drained batch durably.
type Sink interface {
	InsertBatch(ctx context.Context, batch []telemetry.ProcessedAgentData) error
}

// Publisher republishes a drained batch on the message bus.
type Publisher interface {
	PublishBatch(ctx context.Context, batch []telemetry.ProcessedAgentData) error
}

// Broadcaster delivers freshly flushed records to live subscribers of one
// producer.
type Broadcaster interface {
	Broadcast(userID int64, records []telemetry.ProcessedAgentData)
}

// Config holds the coordinator's tunables.
type Config struct {
	// BatchSize is the flush threshold; batches contain exactly this many
	// records.
	BatchSize int
	// FlushTimeout bounds the sink and publish calls of one flush so a
	// stalled collaborator cannot hold the flush guard indefinitely.
	FlushTimeout time.Duration
}

// Coordinator owns the ingest buffer and the flush decision. Both ingress
// paths call Submit; the flush guard guarantees that exactly one of them runs
// the flush sequence per threshold crossing.
type Coordinator struct {
	cfg     Config
	buf     *Buffer
	sink    Sink
	pub     Publisher
	bcast   Broadcaster
	log     *logrus.Logger
	metrics *metrics.Pipeline

	// flushing is the flush guard. Set via CompareAndSwap by the ingress
	// path that wins a racing threshold crossing; cleared unconditionally
	// when the attempt finishes, success or not.
	flushing atomic.Bool
}

// NewCoordinator wires the coordinator to its collaborators.
func NewCoordinator(cfg Config, sink Sink, pub Publisher, bcast Broadcaster, log *logrus.Logger, m *metrics.Pipeline) *Coordinator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}
	return &Coordinator{
		cfg:     cfg,
		buf:     NewBuffer(cfg.BatchSize * 2),
		sink:    sink,
		pub:     pub,
		bcast:   bcast,
		log:     log,
		metrics: m,
	}
}

// Submit appends one validated record and flushes if the batch threshold has
// been crossed. Flush failures are logged and counted here, never returned:
// the record itself is safely buffered or drained either way.
func (c *Coordinator) Submit(ctx context.Context, rec telemetry.ProcessedAgentData) {
	c.buf.Append(rec)
	c.metrics.RecordsBuffered.Set(float64(c.buf.Len()))
	c.maybeFlush(ctx)
}

// BufferedLen reports the current ingest buffer length.
func (c *Coordinator) BufferedLen() int {
	return c.buf.Len()
}

// DropPending discards all buffered records, returning the count. Used on
// shutdown for records that never reached a full batch.
func (c *Coordinator) DropPending() int {
	n := c.buf.Clear()
	c.metrics.RecordsBuffered.Set(0)
	return n
}

// maybeFlush runs the threshold check and, if this caller wins the guard,
// one full flush cycle. The losing path returns immediately; its record stays
// buffered for the next crossing.
func (c *Coordinator) maybeFlush(ctx context.Context) {
	if c.buf.Len() < c.cfg.BatchSize {
		return
	}
	if !c.flushing.CompareAndSwap(false, true) {
		return
	}
	defer c.flushing.Store(false)

	batch := c.buf.DrainBatch(c.cfg.BatchSize)
	if batch == nil {
		// A concurrent flush already consumed the crossing. Benign.
		return
	}
	c.flush(ctx, batch)
	c.metrics.RecordsBuffered.Set(float64(c.buf.Len()))
}

// flush persists, publishes and broadcasts one drained batch. Sink and
// publish failures are independent: a failed persist still publishes and
// broadcasts so downstream consumers are notified, matching the at-most-once
// persistence policy. The batch holds records from every ingress path, so the
// flush context is detached from the submitting caller; only the flush
// timeout bounds it.
func (c *Coordinator) flush(ctx context.Context, batch []telemetry.ProcessedAgentData) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FlushTimeout)
	defer cancel()

	start := time.Now()
	if err := c.sink.InsertBatch(fctx, batch); err != nil {
		c.metrics.FlushErrors.WithLabelValues(metrics.StageSink).Inc()
		c.log.WithError(&SinkError{Err: err}).WithField("batch_size", len(batch)).
			Error("batch persist failed")
	} else {
		c.metrics.SinkLatency.Observe(time.Since(start).Seconds())
	}

	if err := c.pub.PublishBatch(fctx, batch); err != nil {
		c.metrics.FlushErrors.WithLabelValues(metrics.StagePublish).Inc()
		c.log.WithError(&PublishError{Err: err}).WithField("batch_size", len(batch)).
			Error("batch publish failed")
	}

	for _, userID := range userOrder(batch) {
		c.bcast.Broadcast(userID, recordsForUser(batch, userID))
	}

	c.metrics.BatchesFlushed.Inc()
}

// userOrder returns the distinct user ids of a batch in first-appearance
// order.
func userOrder(batch []telemetry.ProcessedAgentData) []int64 {
	seen := make(map[int64]struct{}, len(batch))
	order := make([]int64, 0, len(batch))
	for _, rec := range batch {
		id := rec.AgentData.UserID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		order = append(order, id)
	}
	return order
}

func recordsForUser(batch []telemetry.ProcessedAgentData, userID int64) []telemetry.ProcessedAgentData {
	var out []telemetry.ProcessedAgentData
	for _, rec := range batch {
		if rec.AgentData.UserID == userID {
			out = append(out, rec)
		}
	}
	return out
}
