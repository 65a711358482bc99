package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/paddleraise/authcore/pkg/store"
)

func TestListSessionsOrderIsDeterministic(t *testing.T) {
	m := New()
	ctx := context.Background()
	issued := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	// identical IssuedAt must not make the order flap between calls
	for _, id := range []string{"s-c", "s-a", "s-b"} {
		if err := m.CreateSession(ctx, &store.Session{
			ID:        id,
			UserID:    "u-1",
			IssuedAt:  issued,
			ExpiresAt: issued.Add(time.Hour),
		}); err != nil {
			t.Fatalf("CreateSession(%s) error = %v", id, err)
		}
	}
	if err := m.CreateSession(ctx, &store.Session{
		ID:        "s-newest",
		UserID:    "u-1",
		IssuedAt:  issued.Add(time.Minute),
		ExpiresAt: issued.Add(time.Hour),
	}); err != nil {
		t.Fatalf("CreateSession(s-newest) error = %v", err)
	}

	want := []string{"s-newest", "s-a", "s-b", "s-c"}
	for i := 0; i < 5; i++ {
		sessions, err := m.ListSessions(ctx, "u-1")
		if err != nil {
			t.Fatalf("ListSessions() error = %v", err)
		}
		if len(sessions) != len(want) {
			t.Fatalf("ListSessions() = %d sessions, want %d", len(sessions), len(want))
		}
		for j, s := range sessions {
			if s.ID != want[j] {
				t.Fatalf("ListSessions()[%d] = %s, want %s", j, s.ID, want[j])
			}
		}
	}
}
