package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func testService(t *testing.T, clock clockwork.Clock) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Secret:          []byte(strings.Repeat("k", 32)),
		Issuer:          "authcore-test",
		AccessLifetime:  15 * time.Minute,
		RefreshLifetime: 7 * 24 * time.Hour,
		ClockSkew:       30 * time.Second,
	}, clock)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func TestNewServiceRejectsShortSecret(t *testing.T) {
	_, err := NewService(Config{Secret: []byte("short")}, nil)
	if err == nil {
		t.Error("NewService() = nil, want error for short secret")
	}
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc := testService(t, clock)

	signed, jti, err := svc.IssueAccess("user-1", "tenant_admin", "tenant-1", "sess-1")
	if err != nil {
		t.Fatalf("IssueAccess() error = %v", err)
	}
	if jti == "" {
		t.Fatal("IssueAccess() returned empty jti")
	}

	claims, err := svc.Verify(signed, TypeAccess)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("Subject = %q", claims.Subject)
	}
	if claims.Role != "tenant_admin" {
		t.Errorf("Role = %q", claims.Role)
	}
	if claims.TenantID != "tenant-1" {
		t.Errorf("TenantID = %q", claims.TenantID)
	}
	if claims.SessionID != "sess-1" {
		t.Errorf("SessionID = %q", claims.SessionID)
	}
	if claims.ID != jti {
		t.Errorf("jti = %q, want %q", claims.ID, jti)
	}
	if claims.TokenType != TypeAccess {
		t.Errorf("TokenType = %q", claims.TokenType)
	}
}

func TestRefreshJTIEqualsSessionID(t *testing.T) {
	svc := testService(t, clockwork.NewFakeClock())

	signed, jti, err := svc.IssueRefresh("user-1", "donor", "", "sess-42")
	if err != nil {
		t.Fatalf("IssueRefresh() error = %v", err)
	}
	if jti != "sess-42" {
		t.Errorf("refresh jti = %q, want session ID", jti)
	}

	claims, err := svc.Verify(signed, TypeRefresh)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.ID != "sess-42" || claims.SessionID != "sess-42" {
		t.Errorf("claims jti/sid = %q/%q", claims.ID, claims.SessionID)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc := testService(t, clock)

	signed, _, err := svc.IssueAccess("user-1", "donor", "", "sess-1")
	if err != nil {
		t.Fatalf("IssueAccess() error = %v", err)
	}

	clock.Advance(15*time.Minute + time.Minute)

	_, err = svc.Verify(signed, TypeAccess)
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Verify() error = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyWithinClockSkew(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc := testService(t, clock)

	signed, _, err := svc.IssueAccess("user-1", "donor", "", "sess-1")
	if err != nil {
		t.Fatalf("IssueAccess() error = %v", err)
	}

	// expired by less than the 30s leeway still verifies
	clock.Advance(15*time.Minute + 10*time.Second)
	if _, err := svc.Verify(signed, TypeAccess); err != nil {
		t.Errorf("Verify() within skew error = %v", err)
	}

	// beyond the leeway fails
	clock.Advance(time.Minute)
	if _, err := svc.Verify(signed, TypeAccess); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Verify() beyond skew error = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyWrongType(t *testing.T) {
	svc := testService(t, clockwork.NewFakeClock())

	signed, _, err := svc.IssueRefresh("user-1", "donor", "", "sess-1")
	if err != nil {
		t.Fatalf("IssueRefresh() error = %v", err)
	}

	if _, err := svc.Verify(signed, TypeAccess); !errors.Is(err, ErrWrongTokenType) {
		t.Errorf("Verify(refresh as access) error = %v, want ErrWrongTokenType", err)
	}
}

func TestVerifyMalformedToken(t *testing.T) {
	svc := testService(t, clockwork.NewFakeClock())

	for _, tok := range []string{"", "garbage", "a.b.c"} {
		if _, err := svc.Verify(tok, TypeAccess); !errors.Is(err, ErrTokenMalformed) {
			t.Errorf("Verify(%q) error = %v, want ErrTokenMalformed", tok, err)
		}
	}
}

func TestVerifyTamperedSignature(t *testing.T) {
	svc := testService(t, clockwork.NewFakeClock())

	other, err := NewService(Config{
		Secret:          []byte(strings.Repeat("x", 32)),
		Issuer:          "authcore-test",
		AccessLifetime:  15 * time.Minute,
		RefreshLifetime: 7 * 24 * time.Hour,
	}, clockwork.NewFakeClock())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	signed, _, err := other.IssueAccess("user-1", "donor", "", "sess-1")
	if err != nil {
		t.Fatalf("IssueAccess() error = %v", err)
	}

	if _, err := svc.Verify(signed, TypeAccess); !errors.Is(err, ErrTokenMalformed) {
		t.Errorf("Verify(foreign signature) error = %v, want ErrTokenMalformed", err)
	}
}
