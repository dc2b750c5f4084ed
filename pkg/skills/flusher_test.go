package skills

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
)

func TestFlusherWritesOneBatch(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	buffer := NewPendingBuffer()
	observer := &recordingObserver{}
	alpha := mustEntityID(test, entityAlphaValue)
	beta := mustEntityID(test, entityBetaValue)
	buffer.Merge(alpha, Mining, 25)
	buffer.Merge(alpha, Fishing, 5)
	buffer.Merge(beta, Mining, 1)

	flusher := NewFlusher(store, buffer, quartz.NewMock(test), time.Minute, nil, observer)
	result, err := flusher.Flush(context.Background())
	if err != nil {
		test.Fatalf("flush: %v", err)
	}
	if result.Entities != 2 || result.Deltas != 3 || result.Amount != 31 {
		test.Fatalf("unexpected result %+v", result)
	}
	if store.applyCalls() != 1 {
		test.Fatalf("expected one batched write, got %d", store.applyCalls())
	}
	if store.appliedTotal(alpha, Mining) != 25 {
		test.Fatalf("expected 25 mining for alpha, got %d", store.appliedTotal(alpha, Mining))
	}
	if buffer.Len() != 0 {
		test.Fatalf("expected empty buffer after flush")
	}
}

func TestFlusherSkipsEmptyBuffer(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	observer := &recordingObserver{}
	flusher := NewFlusher(store, NewPendingBuffer(), quartz.NewMock(test), 0, nil, observer)
	if flusher.Interval() != DefaultFlushInterval {
		test.Fatalf("expected default interval, got %s", flusher.Interval())
	}
	if _, err := flusher.Flush(context.Background()); err != nil {
		test.Fatalf("flush: %v", err)
	}
	if store.applyCalls() != 0 {
		test.Fatalf("expected no store call for an empty buffer")
	}
	if len(observer.results) != 1 {
		test.Fatalf("expected the empty flush to be observed")
	}
}

func TestFlusherRequeuesOnFailure(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.applyErrors = []error{errStoreFailure}
	buffer := NewPendingBuffer()
	alpha := mustEntityID(test, entityAlphaValue)
	buffer.Merge(alpha, Cooking, 12)
	flusher := NewFlusher(store, buffer, quartz.NewMock(test), time.Minute, nil, nil)

	result, err := flusher.Flush(context.Background())
	if !errors.Is(err, errStoreFailure) || !errors.Is(result.Err, errStoreFailure) {
		test.Fatalf("expected store failure, got %v", err)
	}
	buffer.Merge(alpha, Cooking, 3)
	if pending := buffer.Pending(alpha, Cooking); pending != 15 {
		test.Fatalf("expected 15 pending after re-queue, got %d", pending)
	}

	if _, err := flusher.Flush(context.Background()); err != nil {
		test.Fatalf("second flush: %v", err)
	}
	if total := store.appliedTotal(alpha, Cooking); total != 15 {
		test.Fatalf("expected 15 persisted once, got %d", total)
	}
}

type signalingObserver struct {
	results chan FlushResult
}

func (observer signalingObserver) ObserveFlush(result FlushResult) {
	observer.results <- result
}

func TestFlusherRunFlushesOnTick(test *testing.T) {
	test.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clock := quartz.NewMock(test)
	tickerTrap := clock.Trap().NewTicker(flushTickerTag)
	defer tickerTrap.Close()

	store := newStubStore()
	buffer := NewPendingBuffer()
	observer := signalingObserver{results: make(chan FlushResult, 4)}
	alpha := mustEntityID(test, entityAlphaValue)
	flusher := NewFlusher(store, buffer, clock, 30*time.Second, nil, observer)

	loopContext, stopLoop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		flusher.Run(loopContext)
	}()
	tickerCall := tickerTrap.MustWait(ctx)
	tickerCall.MustRelease(ctx)
	if tickerCall.Duration != 30*time.Second {
		test.Fatalf("expected 30s ticker, got %s", tickerCall.Duration)
	}

	buffer.Merge(alpha, Archery, 9)
	clock.Advance(tickerCall.Duration).MustWait(ctx)
	select {
	case result := <-observer.results:
		if result.Amount != 9 {
			test.Fatalf("expected 9 flushed, got %+v", result)
		}
	case <-ctx.Done():
		test.Fatalf("timed out waiting for tick flush")
	}

	stopLoop()
	<-done
	if store.appliedTotal(alpha, Archery) != 9 {
		test.Fatalf("expected persisted amount 9")
	}
}
