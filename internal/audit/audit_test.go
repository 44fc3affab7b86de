package audit

import (
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewEvent_StampsIDAndTime(t *testing.T) {
	ev1 := NewEvent(EventAdd, 1, "host.example", nil)
	ev2 := NewEvent(EventAdd, 1, "host.example", nil)

	if ev1.ID == ev2.ID {
		t.Error("expected distinct IDs for distinct events")
	}
	if ev1.Time.IsZero() {
		t.Error("expected non-zero timestamp")
	}
	if ev1.Type != EventAdd || ev1.HostID != 1 || ev1.HostName != "host.example" {
		t.Errorf("unexpected event fields: %+v", ev1)
	}
}

func TestWriter_NilPool_EnqueueIsNoop(t *testing.T) {
	w := NewWriter(nil, discardLogger())
	w.Enqueue(NewEvent(EventAdd, 1, "host.example", nil))

	select {
	case <-w.queue:
		t.Fatal("expected no event queued when pool is nil")
	default:
	}

	// Start/Stop must also be safe no-ops without a pool.
	w.Start()
	w.Stop()
}

func TestWriter_Drain_RespectsBatchSize(t *testing.T) {
	w := &Writer{
		batch: 2,
		queue: make(chan Event, 10),
	}
	for i := 0; i < 5; i++ {
		w.queue <- NewEvent(EventAdd, uint64(i), "host.example", nil)
	}

	drained := w.drain()
	if len(drained) != 2 {
		t.Fatalf("drain() returned %d events, want 2", len(drained))
	}
	if len(w.queue) != 3 {
		t.Fatalf("queue has %d remaining, want 3", len(w.queue))
	}
}

func TestWriter_Drain_EmptyQueue(t *testing.T) {
	w := &Writer{batch: 10, queue: make(chan Event, 10)}
	if drained := w.drain(); len(drained) != 0 {
		t.Fatalf("expected no events, got %d", len(drained))
	}
}
