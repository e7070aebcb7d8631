package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ghostethereum/ghostethereum/internal/domain/event"
	"github.com/ghostethereum/ghostethereum/internal/metrics"
)

// DefaultQuietPeriod is how long the queue waits after the last arrival
// before flushing the pending batch. Log deliveries cluster per block, so a
// short quiet window coalesces each block's events into one batch.
const DefaultQuietPeriod = time.Second

// BatchHandler processes one flushed batch. Batches are handed over
// strictly one at a time: the next flush is not delivered until the handler
// returns.
type BatchHandler interface {
	Apply(ctx context.Context, batch []event.ChainEvent)
}

// IngestQueue accumulates chain events and releases them in debounced
// batches. Every Enqueue restarts the quiet timer, so a burst of events is
// flushed as a single batch once arrivals pause.
type IngestQueue struct {
	handler BatchHandler
	quiet   time.Duration
	logger  *slog.Logger
	health  *Health

	mu      sync.Mutex
	pending []event.ChainEvent
	timer   *time.Timer

	batches chan []event.ChainEvent
	stopped chan struct{}
}

type QueueOption func(*IngestQueue)

// WithQuietPeriod overrides the debounce window.
func WithQuietPeriod(d time.Duration) QueueOption {
	return func(q *IngestQueue) {
		if d > 0 {
			q.quiet = d
		}
	}
}

// WithHealth attaches a health tracker that observes batch outcomes.
func WithHealth(h *Health) QueueOption {
	return func(q *IngestQueue) {
		q.health = h
	}
}

func NewIngestQueue(handler BatchHandler, logger *slog.Logger, opts ...QueueOption) *IngestQueue {
	q := &IngestQueue{
		handler: handler,
		quiet:   DefaultQuietPeriod,
		logger:  logger.With("component", "ingest_queue"),
		batches: make(chan []event.ChainEvent),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds an event to the pending batch and restarts the quiet timer.
// Safe for concurrent use; the subscription goroutine calls this directly.
func (q *IngestQueue) Enqueue(ev event.ChainEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, ev)
	metrics.QueuePendingDepth.Set(float64(len(q.pending)))

	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(q.quiet, q.flush)
}

// flush hands the pending batch to the Run loop. It blocks while a previous
// batch is still being processed, which is what serializes batches: events
// arriving meanwhile keep accumulating for the next flush.
func (q *IngestQueue) flush() {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.timer = nil
	metrics.QueuePendingDepth.Set(0)
	q.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	select {
	case q.batches <- batch:
	case <-q.stopped:
		q.logger.Warn("dropping batch on shutdown", "events", len(batch))
	}
}

// Run processes flushed batches until the context is cancelled. Any batch
// still pending at shutdown is flushed synchronously before returning.
func (q *IngestQueue) Run(ctx context.Context) error {
	defer close(q.stopped)

	tracer := otel.Tracer("pipeline")

	for {
		select {
		case <-ctx.Done():
			q.drain(ctx, tracer)
			return ctx.Err()
		case batch := <-q.batches:
			q.process(ctx, tracer, batch)
		}
	}
}

func (q *IngestQueue) process(ctx context.Context, tracer trace.Tracer, batch []event.ChainEvent) {
	spanCtx, span := tracer.Start(ctx, "pipeline.batch")
	span.SetAttributes(attribute.Int("batch.size", len(batch)))
	defer span.End()

	start := time.Now()
	metrics.QueueFlushesTotal.Inc()
	metrics.QueueBatchSize.Observe(float64(len(batch)))

	q.handler.Apply(spanCtx, batch)

	elapsed := time.Since(start)
	if q.health != nil {
		q.health.RecordBatch(elapsed)
	}
	q.logger.Debug("processed batch",
		"events", len(batch),
		"elapsed", elapsed.String())
}

// drain flushes whatever is pending at shutdown so a quiet-period timer
// that never fired does not lose events. Idempotent writes make replaying
// them on restart harmless, but finishing them now keeps restarts cheap.
func (q *IngestQueue) drain(ctx context.Context, tracer trace.Tracer) {
	q.mu.Lock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	q.logger.Info("flushing pending events on shutdown", "events", len(batch))
	q.process(context.WithoutCancel(ctx), tracer, batch)
}
