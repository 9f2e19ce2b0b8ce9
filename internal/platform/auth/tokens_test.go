package auth

import (
	"errors"
	"testing"
	"time"
)

func testClock() func() time.Time {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return base }
}

func newTestIssuer(t *testing.T, clock func() time.Time) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		Secret:     "test-token-secret",
		GuestTTL:   30 * 24 * time.Hour,
		SessionTTL: 7 * 24 * time.Hour,
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return issuer
}

func TestTokenIssuerRoundTripsGuest(t *testing.T) {
	issuer := newTestIssuer(t, testClock())

	token, expires, err := issuer.IssueGuest("acc_guest")
	if err != nil {
		t.Fatalf("issue guest: %v", err)
	}
	if want := testClock()().Add(30 * 24 * time.Hour); !expires.Equal(want) {
		t.Fatalf("unexpected expiry %v", expires)
	}

	identity, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.AccountID != "acc_guest" {
		t.Fatalf("unexpected account %q", identity.AccountID)
	}
	if !identity.IsGuest() {
		t.Fatal("expected guest identity")
	}
}

func TestTokenIssuerRoundTripsSession(t *testing.T) {
	issuer := newTestIssuer(t, testClock())

	token, _, err := issuer.IssueSession("acc_reg", "shopper@example.com", []string{RoleAdmin})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	identity, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.IsGuest() {
		t.Fatal("expected registered identity")
	}
	if identity.Email != "shopper@example.com" {
		t.Fatalf("unexpected email %q", identity.Email)
	}
	if !identity.HasRole("ADMIN") {
		t.Fatal("expected role match to be case-insensitive")
	}
}

func TestTokenIssuerRejectsExpiredToken(t *testing.T) {
	now := testClock()()
	issuer := newTestIssuer(t, func() time.Time { return now })

	token, _, err := issuer.IssueSession("acc_reg", "", nil)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	now = now.Add(8 * 24 * time.Hour)
	if _, err := issuer.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestTokenIssuerRejectsForeignSignature(t *testing.T) {
	issuer := newTestIssuer(t, testClock())
	other, err := NewTokenIssuer(TokenIssuerConfig{
		Secret:     "a-different-secret",
		GuestTTL:   time.Hour,
		SessionTTL: time.Hour,
		Clock:      testClock(),
	})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	token, _, err := other.IssueGuest("acc_guest")
	if err != nil {
		t.Fatalf("issue guest: %v", err)
	}
	if _, err := issuer.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestTokenIssuerRejectsGarbage(t *testing.T) {
	issuer := newTestIssuer(t, testClock())
	for _, token := range []string{"", "not.a.jwt", "   "} {
		if _, err := issuer.Verify(token); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("expected ErrTokenInvalid for %q, got %v", token, err)
		}
	}
}
