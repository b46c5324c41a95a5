package importer

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPublisherTerminalEventEvictsOldest(t *testing.T) {
	pub := NewPublisher()
	sub := pub.Subscribe(2)
	defer sub.Close()

	pub.Publish(ProgressEvent{JobID: "j", Status: StatusProcessing, ProcessedRows: 1})
	pub.Publish(ProgressEvent{JobID: "j", Status: StatusProcessing, ProcessedRows: 2})
	pub.Publish(ProgressEvent{JobID: "j", Status: StatusProcessing, ProcessedRows: 3})
	pub.Publish(ProgressEvent{JobID: "j", Status: StatusCompleted, ProcessedRows: 3, Progress: 100})

	if pub.Dropped() != 1 {
		t.Fatalf("expected one dropped progress event, got %d", pub.Dropped())
	}
	var last ProgressEvent
	for i := 0; i < 2; i++ {
		last = <-sub.Events()
	}
	if last.Status != StatusCompleted || last.Progress != 100 {
		t.Fatalf("last event must be the final state, got %+v", last)
	}
}

func TestSubscriptionClose(t *testing.T) {
	pub := NewPublisher()
	sub := pub.Subscribe(0)
	if pub.Subscribers() != 1 {
		t.Fatalf("expected one subscriber")
	}
	sub.Close()
	sub.Close()
	if pub.Subscribers() != 0 {
		t.Fatalf("expected no subscribers after close")
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatalf("expected closed channel")
	}
	pub.Publish(ProgressEvent{JobID: "j", Status: StatusCompleted})
}

func TestLimiter(t *testing.T) {
	l := NewLimiter(1, 20*time.Millisecond)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := l.Acquire(ctx); !errors.Is(err, ErrTooManyImports) {
		t.Fatalf("expected ErrTooManyImports, got %v", err)
	}
	l.Release()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if l.Active() != 1 || l.Capacity() != 1 {
		t.Fatalf("unexpected limiter state active=%d cap=%d", l.Active(), l.Capacity())
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := l.Acquire(cancelled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
