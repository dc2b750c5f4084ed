package skills

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"
)

// FlushResult describes one flush attempt.
type FlushResult struct {
	Entities int
	Deltas   int
	Amount   int64
	Duration time.Duration
	Err      error
}

// FlushObserver is told about every flush, including empty ones.
type FlushObserver interface {
	ObserveFlush(result FlushResult)
}

// Flusher periodically drains a PendingBuffer into one batched Store write.
// A failed write puts the drained deltas back so the next cycle retries them.
type Flusher struct {
	store    Store
	buffer   *PendingBuffer
	clock    quartz.Clock
	interval time.Duration
	logger   *zap.Logger
	observer FlushObserver

	flushLock sync.Mutex // one flush at a time
}

// NewFlusher wires a Flusher. A non-positive interval selects DefaultFlushInterval.
func NewFlusher(store Store, buffer *PendingBuffer, clock quartz.Clock, interval time.Duration, logger *zap.Logger, observer FlushObserver) *Flusher {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flusher{
		store:    store,
		buffer:   buffer,
		clock:    clock,
		interval: interval,
		logger:   logger,
		observer: observer,
	}
}

// Interval returns the periodic flush interval.
func (flusher *Flusher) Interval() time.Duration {
	return flusher.interval
}

// Run flushes on every tick until ctx is done. A flush in progress when ctx is
// cancelled runs to completion.
func (flusher *Flusher) Run(ctx context.Context) {
	ticker := flusher.clock.NewTicker(flusher.interval, flushTickerTag)
	defer ticker.Stop()
	defer flusher.logger.Debug("flusher loop exited")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = flusher.Flush(context.WithoutCancel(ctx))
		}
	}
}

// Flush drains the buffer and writes it in a single ApplyDeltas call.
func (flusher *Flusher) Flush(ctx context.Context) (FlushResult, error) {
	flusher.flushLock.Lock()
	defer flusher.flushLock.Unlock()

	start := flusher.clock.Now()
	deltas := flusher.buffer.DrainAll()
	result := summarizeDeltas(deltas)
	if len(deltas) == 0 {
		flusher.logger.Debug("nothing to flush")
		flusher.observe(result)
		return result, nil
	}

	err := flusher.store.ApplyDeltas(ctx, deltas)
	result.Duration = flusher.clock.Since(start)
	if err != nil {
		flusher.buffer.Restore(deltas)
		result.Err = err
		flusher.logger.Error("flush failed; deltas re-queued",
			zap.Int("entities", result.Entities),
			zap.Int("deltas", result.Deltas),
			zap.Error(err),
		)
		flusher.observe(result)
		return result, err
	}
	flusher.logger.Info("flushed pending experience",
		zap.Int("entities", result.Entities),
		zap.Int("deltas", result.Deltas),
		zap.Int64("amount", result.Amount),
		zap.Duration("duration", result.Duration),
	)
	flusher.observe(result)
	return result, nil
}

// WhileIdle runs fn with no flush in progress. A drained batch is either fully
// written or restored to the buffer before fn starts.
func (flusher *Flusher) WhileIdle(fn func() error) error {
	flusher.flushLock.Lock()
	defer flusher.flushLock.Unlock()
	return fn()
}

func (flusher *Flusher) observe(result FlushResult) {
	if flusher.observer != nil {
		flusher.observer.ObserveFlush(result)
	}
}

func summarizeDeltas(deltas []Delta) FlushResult {
	result := FlushResult{Deltas: len(deltas)}
	var previous EntityID
	for index, delta := range deltas {
		if index == 0 || delta.EntityID != previous {
			result.Entities++
			previous = delta.EntityID
		}
		result.Amount += delta.Amount
	}
	return result
}
