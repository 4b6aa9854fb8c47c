package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kakoi/internal/model"
	"github.com/ashita-ai/kakoi/internal/telemetry"
)

// maxBufferCapacity is the hard upper limit on buffered decisions to
// prevent OOM. Beyond it, entries are dropped and counted rather than
// blocking the caller: on this path audit is explicitly best-effort.
const maxBufferCapacity = 100_000

// Buffer accumulates access decisions in memory and flushes them in
// batches when either the size threshold or the flush interval is
// reached. List endpoints use it to record per-owner decisions without a
// synchronous insert per row.
type Buffer struct {
	store         DecisionStore
	logger        *slog.Logger
	maxSize       int
	flushInterval time.Duration

	mu      sync.Mutex
	entries []model.AccessDecision

	dropped atomic.Int64

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
	drainCtx   context.Context
}

// NewBuffer creates a decision buffer.
func NewBuffer(store DecisionStore, logger *slog.Logger, maxSize int, flushInterval time.Duration) *Buffer {
	if maxSize <= 0 {
		maxSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Buffer{
		store:         store,
		logger:        logger,
		maxSize:       maxSize,
		flushInterval: flushInterval,
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Start begins the background flush loop and registers metrics. Call
// Drain to stop.
func (b *Buffer) Start(ctx context.Context) {
	b.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancelLoop = cancel
	go b.flushLoop(loopCtx)
}

// Enqueue adds decisions to the buffer. It never blocks and never fails
// the caller: at capacity, entries are dropped and the drop counter
// alarms instead.
func (b *Buffer) Enqueue(entries ...model.AccessDecision) {
	b.mu.Lock()
	room := maxBufferCapacity - len(b.entries)
	if room < len(entries) {
		b.dropped.Add(int64(len(entries) - max(room, 0)))
		if room <= 0 {
			b.mu.Unlock()
			b.logger.Error("audit: buffer at capacity, dropping decisions",
				"dropped_total", b.dropped.Load())
			return
		}
		entries = entries[:room]
	}
	b.entries = append(b.entries, entries...)
	full := len(b.entries) >= b.maxSize
	b.mu.Unlock()

	if full {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of buffered decisions.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Dropped returns the total decisions dropped at capacity.
func (b *Buffer) Dropped() int64 {
	return b.dropped.Load()
}

// Drain flushes remaining decisions and stops the loop. The final flush
// respects ctx's deadline.
func (b *Buffer) Drain(ctx context.Context) {
	b.drainCtx = ctx
	if b.cancelLoop != nil {
		b.cancelLoop()
	}
	<-b.done
}

func (b *Buffer) flushLoop(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx := b.drainCtx
			if flushCtx == nil {
				var cancel context.CancelFunc
				flushCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
			}
			b.flush(flushCtx)
			return
		case <-ticker.C:
			b.flush(ctx)
		case <-b.flushCh:
			b.flush(ctx)
		}
	}
}

func (b *Buffer) flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.entries) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.entries
	b.entries = nil
	b.mu.Unlock()

	if err := b.store.InsertAccessDecisions(ctx, batch); err != nil {
		// Put the batch back once; if the buffer filled in the meantime
		// the overflow is dropped and counted.
		b.logger.Error("audit: flush failed, requeueing batch", "error", err, "batch", len(batch))
		b.Enqueue(batch...)
	}
}

func (b *Buffer) registerMetrics() {
	meter := telemetry.Meter("kakoi/audit")

	_, _ = meter.Int64ObservableGauge("kakoi.audit.buffer_depth",
		metric.WithDescription("Access decisions waiting in the write buffer"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(b.Len()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableCounter("kakoi.audit.buffer_dropped",
		metric.WithDescription("Access decisions dropped because the buffer was at capacity"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.dropped.Load())
			return nil
		}),
	)
}
