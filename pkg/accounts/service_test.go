package accounts

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
	"golang.org/x/crypto/bcrypt"

	"github.com/paddleraise/authcore/pkg/audit"
	"github.com/paddleraise/authcore/pkg/cache"
	"github.com/paddleraise/authcore/pkg/observability"
	"github.com/paddleraise/authcore/pkg/password"
	"github.com/paddleraise/authcore/pkg/permission"
	"github.com/paddleraise/authcore/pkg/session"
	"github.com/paddleraise/authcore/pkg/store"
	"github.com/paddleraise/authcore/pkg/store/storetest"
	"github.com/paddleraise/authcore/pkg/token"
)

type sentMail struct {
	to       string
	template string
	vars     map[string]string
}

// captureSender records outbound mail so tests can pull tokens out of it
type captureSender struct {
	mu    sync.Mutex
	sends []sentMail
}

func (c *captureSender) Send(ctx context.Context, to, templateID string, vars map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, sentMail{to: to, template: templateID, vars: vars})
	return nil
}

func (c *captureSender) lastToken(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sends) == 0 {
		t.Fatal("no mail sent")
	}
	tok := c.sends[len(c.sends)-1].vars["token"]
	if tok == "" {
		t.Fatal("mail carried no token")
	}
	return tok
}

type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (r *recordingAudit) Log(ctx context.Context, ev *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *ev
	r.events = append(r.events, &cp)
	return nil
}

func (r *recordingAudit) Close() error { return nil }

func (r *recordingAudit) has(typ audit.EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.EventType == typ {
			return true
		}
	}
	return false
}

type fixture struct {
	svc    *Service
	st     *storetest.MemStore
	mr     *miniredis.Miniredis
	clock  *clockwork.FakeClock
	sender *captureSender
	audits *recordingAudit
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
	mgr := session.NewManager(st, c, tokens, clock, logger, nil, nil)
	resolver, err := permission.NewResolver(c, logger, nil)
	if err != nil {
		t.Fatalf("permission.NewResolver() error = %v", err)
	}
	sender := &captureSender{}
	audits := &recordingAudit{}

	svc := NewService(Config{}, st, c, mgr, resolver, password.NewHasher(bcrypt.MinCost), sender, audits, logger, nil, clock)
	return &fixture{svc: svc, st: st, mr: mr, clock: clock, sender: sender, audits: audits}
}

// register + verify + return the activated principal's credentials
func (f *fixture) activatedUser(t *testing.T, addr, pwd string) *store.Principal {
	t.Helper()
	ctx := context.Background()
	p, err := f.svc.Register(ctx, addr, pwd, session.Metadata{})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := f.svc.VerifyEmail(ctx, f.sender.lastToken(t), session.Metadata{}); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}
	return p
}

func TestRegisterVerifyLoginFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Register(ctx, "  Donor@Example.ORG ", "hunter2abc", session.Metadata{IPAddress: "203.0.113.7"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if p.Email != "donor@example.org" {
		t.Errorf("email not normalized: %q", p.Email)
	}
	if p.IsActive || p.EmailVerified {
		t.Error("fresh account must start inactive and unverified")
	}
	if p.Role != store.RoleDonor {
		t.Errorf("role = %q, want donor", p.Role)
	}

	// unverified accounts cannot log in, even with the right password
	if _, _, err := f.svc.Login(ctx, "donor@example.org", "hunter2abc", session.Metadata{}); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("Login(unverified) error = %v, want ErrEmailNotVerified", err)
	}

	if err := f.svc.VerifyEmail(ctx, f.sender.lastToken(t), session.Metadata{}); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}

	pair, logged, err := f.svc.Login(ctx, "Donor@example.org", "hunter2abc", session.Metadata{IPAddress: "203.0.113.7"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("empty token pair")
	}
	if logged.LastLoginAt == nil {
		t.Error("LastLoginAt not stamped")
	}

	for _, typ := range []audit.EventType{audit.EventTypeRegister, audit.EventTypeEmailVerified, audit.EventTypeLogin} {
		if !f.audits.has(typ) {
			t.Errorf("missing audit event %s", typ)
		}
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "donor@example.org", "hunter2abc", session.Metadata{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	// same address in a different case is still taken
	if _, err := f.svc.Register(ctx, "DONOR@example.org", "hunter2abc", session.Metadata{}); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("duplicate Register() error = %v, want ErrEmailTaken", err)
	}
}

func TestRegisterWeakPassword(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Register(context.Background(), "donor@example.org", "lettersonly", session.Metadata{}); !errors.Is(err, password.ErrPasswordNoDigit) {
		t.Errorf("Register(weak) error = %v, want ErrPasswordNoDigit", err)
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activatedUser(t, "donor@example.org", "hunter2abc")

	_, _, unknownErr := f.svc.Login(ctx, "nobody@example.org", "hunter2abc", session.Metadata{})
	_, _, wrongErr := f.svc.Login(ctx, "donor@example.org", "wrongpass1", session.Metadata{})

	if !errors.Is(unknownErr, ErrInvalidCredentials) || !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Errorf("unknown = %v, wrong = %v, want ErrInvalidCredentials for both", unknownErr, wrongErr)
	}
	if !f.audits.has(audit.EventTypeLoginFailed) {
		t.Error("missing auth.login_failed audit event")
	}
}

func TestVerifyTokenSingleUseAndExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "a@example.org", "hunter2abc", session.Metadata{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	tok := f.sender.lastToken(t)

	if err := f.svc.VerifyEmail(ctx, tok, session.Metadata{}); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}
	// the token burned on first use
	if err := f.svc.VerifyEmail(ctx, tok, session.Metadata{}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("second VerifyEmail() error = %v, want ErrInvalidToken", err)
	}

	if _, err := f.svc.Register(ctx, "b@example.org", "hunter2abc", session.Metadata{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	expired := f.sender.lastToken(t)
	f.mr.FastForward(25 * time.Hour)

	if err := f.svc.VerifyEmail(ctx, expired, session.Metadata{}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("VerifyEmail(expired) error = %v, want ErrInvalidToken", err)
	}
}

func TestChangePasswordKeepsCurrentSessionOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activatedUser(t, "donor@example.org", "hunter2abc")

	current, _, err := f.svc.Login(ctx, p.Email, "hunter2abc", session.Metadata{})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	other, _, err := f.svc.Login(ctx, p.Email, "hunter2abc", session.Metadata{})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	claims, err := f.svc.sessions.Authenticate(ctx, current.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	if err := f.svc.ChangePassword(ctx, p.ID, claims.SessionID, "wrongpass1", "newpass9xyz", session.Metadata{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("ChangePassword(wrong old) error = %v, want ErrInvalidCredentials", err)
	}
	if err := f.svc.ChangePassword(ctx, p.ID, claims.SessionID, "hunter2abc", "newpass9xyz", session.Metadata{}); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}

	if _, err := f.svc.sessions.Authenticate(ctx, current.AccessToken); err != nil {
		t.Errorf("current session rejected after password change: %v", err)
	}
	if _, err := f.svc.sessions.Authenticate(ctx, other.AccessToken); !errors.Is(err, session.ErrSessionRevoked) {
		t.Errorf("other session error = %v, want ErrSessionRevoked", err)
	}

	if _, _, err := f.svc.Login(ctx, p.Email, "hunter2abc", session.Metadata{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old password still logs in: %v", err)
	}
	if _, _, err := f.svc.Login(ctx, p.Email, "newpass9xyz", session.Metadata{}); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activatedUser(t, "donor@example.org", "hunter2abc")

	pair, _, err := f.svc.Login(ctx, p.Email, "hunter2abc", session.Metadata{})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	// requests for unknown addresses succeed identically and send nothing
	before := len(f.sender.sends)
	if err := f.svc.RequestPasswordReset(ctx, "nobody@example.org", session.Metadata{}); err != nil {
		t.Fatalf("RequestPasswordReset(unknown) error = %v", err)
	}
	if len(f.sender.sends) != before {
		t.Error("mail sent for unknown address")
	}

	if err := f.svc.RequestPasswordReset(ctx, p.Email, session.Metadata{}); err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	tok := f.sender.lastToken(t)

	if err := f.svc.ConfirmPasswordReset(ctx, tok, "newpass9xyz", session.Metadata{}); err != nil {
		t.Fatalf("ConfirmPasswordReset() error = %v", err)
	}

	// every pre-reset session is dead
	if _, err := f.svc.sessions.Authenticate(ctx, pair.AccessToken); !errors.Is(err, session.ErrSessionRevoked) {
		t.Errorf("pre-reset session error = %v, want ErrSessionRevoked", err)
	}
	if _, _, err := f.svc.Login(ctx, p.Email, "newpass9xyz", session.Metadata{}); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
}

func TestConfirmResetBurnsTokenBeforeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activatedUser(t, "donor@example.org", "hunter2abc")

	if err := f.svc.RequestPasswordReset(ctx, p.Email, session.Metadata{}); err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	tok := f.sender.lastToken(t)

	if err := f.svc.ConfirmPasswordReset(ctx, tok, "short", session.Metadata{}); !errors.Is(err, password.ErrPasswordTooShort) {
		t.Fatalf("ConfirmPasswordReset(weak) error = %v, want ErrPasswordTooShort", err)
	}
	// the failed attempt consumed the token
	if err := f.svc.ConfirmPasswordReset(ctx, tok, "newpass9xyz", session.Metadata{}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("reused token error = %v, want ErrInvalidToken", err)
	}
}

func TestAssignRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activatedUser(t, "donor@example.org", "hunter2abc")

	if err := f.svc.AssignRole(ctx, "admin-1", p.ID, store.Role("emperor"), nil, session.Metadata{}); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("AssignRole(bogus) error = %v, want ErrUnknownRole", err)
	}

	tenant := "npo-42"
	if err := f.svc.AssignRole(ctx, "admin-1", p.ID, store.RoleEventCoordinator, &tenant, session.Metadata{}); err != nil {
		t.Fatalf("AssignRole() error = %v", err)
	}

	got, err := f.svc.GetPrincipal(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPrincipal() error = %v", err)
	}
	if got.Role != store.RoleEventCoordinator {
		t.Errorf("role = %q, want event_coordinator", got.Role)
	}
	if got.TenantID == nil || *got.TenantID != tenant {
		t.Errorf("tenant = %v, want %q", got.TenantID, tenant)
	}
	if !f.audits.has(audit.EventTypeRoleChange) {
		t.Error("missing account.role_change audit event")
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activatedUser(t, "donor@example.org", "hunter2abc")

	pair, _, err := f.svc.Login(ctx, p.Email, "hunter2abc", session.Metadata{})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	claims, err := f.svc.sessions.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	if err := f.svc.Logout(ctx, p.ID, claims.SessionID, session.Metadata{}); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if err := f.svc.Logout(ctx, p.ID, claims.SessionID, session.Metadata{}); err != nil {
		t.Errorf("second Logout() error = %v, want success", err)
	}
	if _, err := f.svc.sessions.Authenticate(ctx, pair.AccessToken); !errors.Is(err, session.ErrSessionRevoked) {
		t.Errorf("post-logout Authenticate() error = %v, want ErrSessionRevoked", err)
	}
}

func TestDeactivateAndReactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activatedUser(t, "donor@example.org", "hunter2abc")

	pair, _, err := f.svc.Login(ctx, p.Email, "hunter2abc", session.Metadata{})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if err := f.svc.Deactivate(ctx, "admin-1", p.ID, session.Metadata{}); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if _, err := f.svc.sessions.Authenticate(ctx, pair.AccessToken); !errors.Is(err, session.ErrSessionRevoked) {
		t.Errorf("deactivated session error = %v, want ErrSessionRevoked", err)
	}
	if _, _, err := f.svc.Login(ctx, p.Email, "hunter2abc", session.Metadata{}); !errors.Is(err, ErrAccountDeactivated) {
		t.Errorf("Login(deactivated) error = %v, want ErrAccountDeactivated", err)
	}

	if err := f.svc.Reactivate(ctx, "admin-1", p.ID, session.Metadata{}); err != nil {
		t.Fatalf("Reactivate() error = %v", err)
	}
	if _, _, err := f.svc.Login(ctx, p.Email, "hunter2abc", session.Metadata{}); err != nil {
		t.Errorf("Login(reactivated) error = %v", err)
	}
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activatedUser(t, "donor@example.org", "hunter2abc")

	for i := 0; i < 3; i++ {
		if _, _, err := f.svc.Login(ctx, p.Email, "hunter2abc", session.Metadata{}); err != nil {
			t.Fatalf("Login() error = %v", err)
		}
	}

	sessions, err := f.svc.ListSessions(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 3 {
		t.Errorf("sessions = %d, want 3", len(sessions))
	}
}
