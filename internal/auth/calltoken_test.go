package auth

import (
	"errors"
	"testing"
	"time"

	"whatsapp-calling/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(t *testing.T, now time.Time) *CallTokenIssuer {
	t.Helper()
	i, err := NewCallTokenIssuer(config.CallTokenConfig{Secret: "call-secret"})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	i.now = func() time.Time { return now }
	return i
}

func TestCallToken_IssueCarriesClaims(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	i := newTestIssuer(t, now)

	tok, err := i.Issue("sess-1", "agent@example.com", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := i.Verify(tok, "agent@example.com")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.SessionID != "sess-1" || claims.User != "agent@example.com" || claims.Subject != "agent@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Issuer != "whatsapp-calling" {
		t.Fatalf("expected default issuer, got %q", claims.Issuer)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != time.Hour {
		t.Fatalf("expected 60m default ttl, got %s", got)
	}
	if claims.ID == "" {
		t.Fatalf("expected jti")
	}
}

func TestCallToken_StableSecretAcrossIssuers(t *testing.T) {
	now := time.Now()
	a := newTestIssuer(t, now)
	b := newTestIssuer(t, now)

	tok, err := a.Issue("s", "u", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Verify(tok, "u"); err != nil {
		t.Fatalf("expected another instance to verify, got %v", err)
	}
}

func TestCallToken_Expired(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	i := newTestIssuer(t, now)
	tok, _ := i.Issue("s", "u", time.Minute)

	i.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := i.Verify(tok, "u"); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestCallToken_UserMismatch(t *testing.T) {
	i := newTestIssuer(t, time.Now())
	tok, _ := i.Issue("s", "alice", 0)
	if _, err := i.Verify(tok, "bob"); !errors.Is(err, ErrUserMismatch) {
		t.Fatalf("expected ErrUserMismatch, got %v", err)
	}
}

func TestCallToken_Malformed(t *testing.T) {
	i := newTestIssuer(t, time.Now())

	if _, err := i.Verify("not-a-jwt", "u"); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("expected ErrMalformedToken, got %v", err)
	}

	// Right secret, wrong issuer tag.
	other, _ := NewCallTokenIssuer(config.CallTokenConfig{Secret: "call-secret", Issuer: "someone-else"})
	tok, _ := other.Issue("s", "u", 0)
	if _, err := i.Verify(tok, "u"); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("expected ErrMalformedToken for issuer, got %v", err)
	}

	// Wrong signing method.
	none := jwt.NewWithClaims(jwt.SigningMethodNone, CallClaims{SessionID: "s", User: "u"})
	raw, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := i.Verify(raw, "u"); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("expected ErrMalformedToken for alg none, got %v", err)
	}
}

func TestNewCallTokenIssuer_RequiresSecret(t *testing.T) {
	if _, err := NewCallTokenIssuer(config.CallTokenConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}
