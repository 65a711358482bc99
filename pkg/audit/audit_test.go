package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/paddleraise/authcore/pkg/contextkeys"
	"github.com/paddleraise/authcore/pkg/observability"
)

// recordingLogger captures events for assertions
type recordingLogger struct {
	mu     sync.Mutex
	events []*Event
	err    error
}

func (r *recordingLogger) Log(ctx context.Context, event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingLogger) Close() error { return nil }

func TestNewEventDefaults(t *testing.T) {
	ctx := contextkeys.WithRequestID(context.Background(), "req-1")

	ev := NewEvent(ctx, EventTypeLogin, EventStatusSuccess)
	if ev.ID == "" {
		t.Error("event has no ID")
	}
	if ev.IPAddress != "unknown" {
		t.Errorf("IPAddress = %q, want unknown sentinel", ev.IPAddress)
	}
	if ev.RequestID != "req-1" {
		t.Errorf("RequestID = %q", ev.RequestID)
	}
	if ev.OccurredAt.IsZero() {
		t.Error("OccurredAt is zero")
	}
}

func TestFromContextDefaultsToNop(t *testing.T) {
	logger := FromContext(context.Background())
	if err := logger.Log(context.Background(), &Event{}); err != nil {
		t.Errorf("nop Log() error = %v", err)
	}
}

func TestFromContextRoundTrip(t *testing.T) {
	rec := &recordingLogger{}
	ctx := WithLogger(context.Background(), rec)

	ev := NewEvent(ctx, EventTypeLogout, EventStatusSuccess)
	if err := FromContext(ctx).Log(ctx, ev); err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if len(rec.events) != 1 || rec.events[0].EventType != EventTypeLogout {
		t.Errorf("events = %+v", rec.events)
	}
}

func TestMultiLoggerDeliversToAllDespiteFailure(t *testing.T) {
	failing := &recordingLogger{err: errors.New("sink down")}
	ok := &recordingLogger{}
	multi := NewMultiLogger(failing, ok)

	ev := &Event{ID: "a-1", EventType: EventTypeLogin, Status: EventStatusSuccess, IPAddress: "unknown", OccurredAt: time.Now()}
	err := multi.Log(context.Background(), ev)
	if err == nil {
		t.Error("Log() = nil, want joined error")
	}
	if len(failing.events) != 1 || len(ok.events) != 1 {
		t.Errorf("delivery counts = %d/%d, want 1/1", len(failing.events), len(ok.events))
	}
}

func TestSlogLoggerEmitsStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLogger(observability.NewLogger(observability.InfoLevel, &buf))

	ev := &Event{
		ID:         "a-1",
		EventType:  EventTypeLoginFailed,
		Status:     EventStatusFailure,
		UserID:     "u-1",
		IPAddress:  "203.0.113.7",
		OccurredAt: time.Now(),
	}
	if err := l.Log(context.Background(), ev); err != nil {
		t.Fatalf("Log() error = %v", err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["event_type"] != "auth.login_failed" || entry["ip_address"] != "203.0.113.7" {
		t.Errorf("entry = %v", entry)
	}
}
