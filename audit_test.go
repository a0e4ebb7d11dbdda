package authgate

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

// countingSink records every delivered event.
type countingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *countingSink) Emit(_ context.Context, event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *countingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	sink := &countingSink{}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 64, DropIfFull: true}, sink)

	const n = 30
	for i := 0; i < n; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: EventLoginSuccess})
	}
	d.Close()

	if got := sink.len(); got != n {
		t.Fatalf("delivered %d events, want %d", got, n)
	}
	if d.Dropped() != 0 {
		t.Fatalf("dropped %d events, want 0", d.Dropped())
	}
}

func TestDispatcherShedsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := &blockingSink{release: block}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// First event occupies the worker, second fills the buffer, the rest
	// must be shed without blocking the caller.
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: EventLoginFailure})
	}

	deadline := time.After(time.Second)
	for d.Dropped() == 0 {
		select {
		case <-deadline:
			t.Fatal("no events were shed")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	close(block)
	d.Close()
}

type blockingSink struct {
	release chan struct{}
	once    sync.Once
}

func (s *blockingSink) Emit(context.Context, AuditEvent) {
	s.once.Do(func() { <-s.release })
}

func TestDisabledDispatcherIsNoOp(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, &countingSink{})
	if d != nil {
		t.Fatal("disabled config must yield a nil dispatcher")
	}

	// Nil receivers are safe on every entry point.
	d.Emit(context.Background(), AuditEvent{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reported drops")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now(),
		EventType: EventRefreshReuse,
		UserID:    "u-1",
		Error:     "reuse detected",
	})

	line := strings.TrimSpace(buf.String())
	var decoded AuditEvent
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if decoded.EventType != EventRefreshReuse || decoded.UserID != "u-1" {
		t.Fatalf("unexpected event: %+v", decoded)
	}
}
