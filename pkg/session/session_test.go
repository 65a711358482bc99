package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"

	"github.com/paddleraise/authcore/pkg/audit"
	"github.com/paddleraise/authcore/pkg/cache"
	"github.com/paddleraise/authcore/pkg/observability"
	"github.com/paddleraise/authcore/pkg/store"
	"github.com/paddleraise/authcore/pkg/store/storetest"
	"github.com/paddleraise/authcore/pkg/token"
)

type fixture struct {
	mgr   *Manager
	st    *storetest.MemStore
	mr    *miniredis.Miniredis
	clock *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	c := cache.NewClient(rdb, time.Second, logger, nil)
	clock := clockwork.NewFakeClock()

	tokens, err := token.NewService(token.Config{
		Secret:          []byte(strings.Repeat("k", 32)),
		Issuer:          "authcore-test",
		AccessLifetime:  15 * time.Minute,
		RefreshLifetime: 7 * 24 * time.Hour,
		ClockSkew:       30 * time.Second,
	}, clock)
	if err != nil {
		t.Fatalf("token.NewService() error = %v", err)
	}

	st := storetest.New()
	mgr := NewManager(st, c, tokens, clock, logger, nil, nil)
	return &fixture{mgr: mgr, st: st, mr: mr, clock: clock}
}

func (f *fixture) principal(t *testing.T, id string) *store.Principal {
	t.Helper()
	p := &store.Principal{
		ID:            id,
		Email:         id + "@example.org",
		PasswordHash:  "hash",
		Role:          store.RoleDonor,
		IsActive:      true,
		EmailVerified: true,
	}
	if err := f.st.CreatePrincipal(context.Background(), p); err != nil {
		t.Fatalf("CreatePrincipal() error = %v", err)
	}
	return p
}

func TestCreateIssuesTokensAndRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.principal(t, "u-1")

	pair, sess, err := f.mgr.Create(ctx, p, Metadata{IPAddress: "203.0.113.7"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("empty token pair")
	}
	if pair.ExpiresIn != 900 {
		t.Errorf("ExpiresIn = %d, want 900", pair.ExpiresIn)
	}

	durable, err := f.st.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("durable session missing: %v", err)
	}
	if durable.IPAddress != "203.0.113.7" {
		t.Errorf("IPAddress = %q", durable.IPAddress)
	}

	claims, err := f.mgr.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if claims.SessionID != sess.ID {
		t.Errorf("sid = %q, want %q", claims.SessionID, sess.ID)
	}
}

func TestRefreshRotatesAndBlocksReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.principal(t, "u-1")

	pair, _, err := f.mgr.Create(ctx, p, Metadata{IPAddress: "203.0.113.7"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	newPair, err := f.mgr.Refresh(ctx, pair.RefreshToken, Metadata{IPAddress: "203.0.113.7"})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if newPair.RefreshToken == pair.RefreshToken {
		t.Error("refresh token not rotated")
	}

	// replaying the consumed token fails as revoked, not as unknown
	if _, err := f.mgr.Refresh(ctx, pair.RefreshToken, Metadata{}); !errors.Is(err, ErrSessionRevoked) {
		t.Errorf("replay error = %v, want ErrSessionRevoked", err)
	}

	// the rotated-out access token is dead, the new one lives
	if _, err := f.mgr.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Errorf("old access token error = %v, want ErrSessionRevoked", err)
	}
	if _, err := f.mgr.Authenticate(ctx, newPair.AccessToken); err != nil {
		t.Errorf("new access token error = %v", err)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.principal(t, "u-1")

	pair, _, err := f.mgr.Create(ctx, p, Metadata{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.mgr.Refresh(ctx, pair.RefreshToken, Metadata{})
		}(i)
	}
	wg.Wait()

	var wins, revoked int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSessionRevoked):
			revoked++
		default:
			t.Errorf("unexpected result: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}
	if revoked != callers-1 {
		t.Errorf("revoked = %d, want %d", revoked, callers-1)
	}
}

func TestExpiredRefreshRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.principal(t, "u-1")

	pair, _, err := f.mgr.Create(ctx, p, Metadata{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	f.clock.Advance(7*24*time.Hour + time.Hour)

	if _, err := f.mgr.Refresh(ctx, pair.RefreshToken, Metadata{}); !errors.Is(err, token.ErrTokenExpired) {
		t.Errorf("expired refresh error = %v, want ErrTokenExpired", err)
	}
}

func TestRevokeIsIdempotentAndPropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.principal(t, "u-1")

	pair, sess, err := f.mgr.Create(ctx, p, Metadata{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := f.mgr.Revoke(ctx, p.ID, sess.ID, ReasonLogout); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if err := f.mgr.Revoke(ctx, p.ID, sess.ID, ReasonLogout); err != nil {
		t.Errorf("second Revoke() error = %v, want idempotent success", err)
	}

	// the live access token dies with the session
	if _, err := f.mgr.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Errorf("Authenticate(revoked) error = %v, want ErrSessionRevoked", err)
	}
	// and so does the refresh token
	if _, err := f.mgr.Refresh(ctx, pair.RefreshToken, Metadata{}); !errors.Is(err, ErrSessionRevoked) {
		t.Errorf("Refresh(revoked) error = %v, want ErrSessionRevoked", err)
	}
}

func TestRevokeMissingSession(t *testing.T) {
	f := newFixture(t)

	err := f.mgr.Revoke(context.Background(), "u-1", "no-such-session", ReasonLogout)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Revoke(missing) error = %v, want ErrSessionNotFound", err)
	}
}

func TestRevokeAllForUserKeepsException(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.principal(t, "u-1")

	keep, keepSess, err := f.mgr.Create(ctx, p, Metadata{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	other, _, err := f.mgr.Create(ctx, p, Metadata{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ids, err := f.mgr.RevokeAllForUser(ctx, p.ID, keepSess.ID, ReasonPasswordChange)
	if err != nil {
		t.Fatalf("RevokeAllForUser() error = %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("revoked = %v, want 1 session", ids)
	}

	if _, err := f.mgr.Authenticate(ctx, keep.AccessToken); err != nil {
		t.Errorf("kept session's access token rejected: %v", err)
	}
	if _, err := f.mgr.Authenticate(ctx, other.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Errorf("revoked session's access token error = %v, want ErrSessionRevoked", err)
	}
}

func TestAuthenticateFailsClosedOnCacheOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.principal(t, "u-1")

	pair, _, err := f.mgr.Create(ctx, p, Metadata{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	f.mr.Close()

	if _, err := f.mgr.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrCacheUnavailable) {
		t.Errorf("Authenticate(outage) error = %v, want ErrCacheUnavailable", err)
	}
}

func TestRefreshForDeactivatedUserRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.principal(t, "u-1")

	pair, _, err := f.mgr.Create(ctx, p, Metadata{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	inactive := false
	if err := f.st.UpdatePrincipal(ctx, p.ID, store.PrincipalPatch{IsActive: &inactive}); err != nil {
		t.Fatalf("UpdatePrincipal() error = %v", err)
	}

	if _, err := f.mgr.Refresh(ctx, pair.RefreshToken, Metadata{}); !errors.Is(err, ErrSessionRevoked) {
		t.Errorf("Refresh(deactivated) error = %v, want ErrSessionRevoked", err)
	}
}

type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (r *recordingAudit) Log(ctx context.Context, ev *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingAudit) Close() error { return nil }

func TestJanitorSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.principal(t, "u-1")

	_, sess, err := f.mgr.Create(ctx, p, Metadata{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	f.clock.Advance(8 * 24 * time.Hour)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	audits := &recordingAudit{}
	j := NewJanitor(f.st, f.clock, logger, audits)
	j.Sweep(ctx)

	swept, err := f.st.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if swept.RevokedAt == nil {
		t.Error("expired session not revoked by sweep")
	}

	if len(audits.events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(audits.events))
	}
	ev := audits.events[0]
	if ev.EventType != audit.EventTypeSessionExpired {
		t.Errorf("event type = %q, want %q", ev.EventType, audit.EventTypeSessionExpired)
	}
	if !strings.Contains(ev.Detail, ReasonExpired) {
		t.Errorf("event detail = %q, want it to carry %q", ev.Detail, ReasonExpired)
	}

	// a sweep with nothing to expire stays silent
	j.Sweep(ctx)
	if len(audits.events) != 1 {
		t.Errorf("audit events after idle sweep = %d, want 1", len(audits.events))
	}
}
