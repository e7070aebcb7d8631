package pipeline

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostethereum/ghostethereum/internal/domain/event"
)

type recordingHandler struct {
	mu      sync.Mutex
	batches [][]event.ChainEvent
	block   chan struct{}
}

func (h *recordingHandler) Apply(_ context.Context, batch []event.ChainEvent) {
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, batch)
}

func (h *recordingHandler) snapshot() [][]event.ChainEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]event.ChainEvent, len(h.batches))
	copy(out, h.batches)
	return out
}

func testEvent(id string, height int64) event.ChainEvent {
	return event.ChainEvent{
		Kind:        event.KindSettlementSuccess,
		BlockHeight: height,
		TxHash:      "0xabc",
		LogicalID:   id,
		Payload: event.Settlement{
			OwnerAddress:      "0x1",
			SubscriberAddress: "0x2",
			TokenAddress:      "0x3",
			Value:             big.NewInt(100),
		},
	}
}

func newTestQueue(h BatchHandler, opts ...QueueOption) *IngestQueue {
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	return NewIngestQueue(h, logger, opts...)
}

func TestQueueCoalescesBurstIntoOneBatch(t *testing.T) {
	handler := &recordingHandler{}
	q := newTestQueue(handler, WithQuietPeriod(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()

	for i := 0; i < 5; i++ {
		q.Enqueue(testEvent("0x01", int64(100+i)))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return len(handler.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	batches := handler.snapshot()
	assert.Len(t, batches[0], 5)

	cancel()
	<-done
}

func TestQueueTimerResetsOnArrival(t *testing.T) {
	handler := &recordingHandler{}
	q := newTestQueue(handler, WithQuietPeriod(80*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = q.Run(ctx) }()
	defer cancel()

	// Keep arrivals inside the quiet window; no flush should happen yet.
	for i := 0; i < 4; i++ {
		q.Enqueue(testEvent("0x01", int64(i)))
		time.Sleep(30 * time.Millisecond)
	}
	assert.Empty(t, handler.snapshot())

	require.Eventually(t, func() bool {
		return len(handler.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, handler.snapshot()[0], 4)
}

func TestQueueSeparateBurstsYieldSeparateBatches(t *testing.T) {
	handler := &recordingHandler{}
	q := newTestQueue(handler, WithQuietPeriod(30*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = q.Run(ctx) }()
	defer cancel()

	q.Enqueue(testEvent("0x01", 1))
	require.Eventually(t, func() bool {
		return len(handler.snapshot()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	q.Enqueue(testEvent("0x02", 2))
	require.Eventually(t, func() bool {
		return len(handler.snapshot()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	batches := handler.snapshot()
	assert.Equal(t, "0x01", batches[0][0].LogicalID)
	assert.Equal(t, "0x02", batches[1][0].LogicalID)
}

func TestQueueEventsDuringProcessingGoToNextBatch(t *testing.T) {
	handler := &recordingHandler{block: make(chan struct{})}
	q := newTestQueue(handler, WithQuietPeriod(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = q.Run(ctx) }()
	defer cancel()

	q.Enqueue(testEvent("0x01", 1))
	time.Sleep(60 * time.Millisecond)

	// The first batch is stuck in Apply; these must land in a later batch.
	q.Enqueue(testEvent("0x02", 2))
	q.Enqueue(testEvent("0x03", 3))

	handler.block <- struct{}{} // release first batch
	handler.block <- struct{}{} // release second batch

	require.Eventually(t, func() bool {
		return len(handler.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	batches := handler.snapshot()
	assert.Len(t, batches[0], 1)
	assert.Len(t, batches[1], 2)
}

func TestQueueDrainsPendingOnShutdown(t *testing.T) {
	handler := &recordingHandler{}
	q := newTestQueue(handler, WithQuietPeriod(10*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()

	q.Enqueue(testEvent("0x01", 1))
	q.Enqueue(testEvent("0x02", 2))

	cancel()
	<-done

	batches := handler.snapshot()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
}

func TestQueueHealthObservesBatches(t *testing.T) {
	handler := &recordingHandler{}
	h := NewHealth("0xcontract")
	q := newTestQueue(handler, WithQuietPeriod(20*time.Millisecond), WithHealth(h))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = q.Run(ctx) }()
	defer cancel()

	q.Enqueue(testEvent("0x01", 1))

	require.Eventually(t, func() bool {
		return h.Snapshot().Status == string(StatusHealthy)
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotNil(t, h.Snapshot().LastBatchAt)
}
