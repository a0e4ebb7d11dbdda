package authgate

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Audit event types emitted by the engine. Security-relevant failures
// (reuse detection) always carry Success=false and an Error string.
const (
	EventRegister        = "register"
	EventLoginSuccess    = "login_success"
	EventLoginFailure    = "login_failure"
	EventLoginThrottled  = "login_rate_limited"
	EventRefreshSuccess  = "refresh_success"
	EventRefreshReuse    = "refresh_reuse_detected"
	EventLogout          = "logout"
	EventLogoutAll       = "logout_all"
	EventPasswordChanged = "password_changed"
)

// AuditEvent is the record handed to the configured [AuditSink]. Events never
// contain passwords, password hashes, or refresh secrets.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	FamilyID  string            `json:"family_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives events from the asynchronous dispatcher. Emit must be
// safe for concurrent use; the dispatcher serializes calls but tests may not.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards all events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink buffers events on a channel for the host to drain.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line to the underlying writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event AuditEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	payload = append(payload, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.writer.Write(payload)
}
