package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// KindGuest marks tokens minted for anonymous shoppers.
	KindGuest = "guest"
	// KindSession marks tokens minted after register or login.
	KindSession = "session"
)

var (
	// ErrTokenExpired signals that the presented token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the presented token failed verification.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// sessionClaims is the JWT payload carried by guest and session cookies.
type sessionClaims struct {
	Kind        string   `json:"kind"`
	AccountKind string   `json:"accountKind,omitempty"`
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies the HS256 tokens behind session cookies and
// admin bearer credentials.
type TokenIssuer struct {
	secret     []byte
	guestTTL   time.Duration
	sessionTTL time.Duration
	now        func() time.Time
}

// TokenIssuerConfig configures a TokenIssuer.
type TokenIssuerConfig struct {
	Secret     string
	GuestTTL   time.Duration
	SessionTTL time.Duration
	Clock      func() time.Time
}

// NewTokenIssuer validates the config and builds an issuer.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: token secret is required")
	}
	if cfg.GuestTTL <= 0 || cfg.SessionTTL <= 0 {
		return nil, errors.New("auth: token ttls must be positive")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		secret:     []byte(secret),
		guestTTL:   cfg.GuestTTL,
		sessionTTL: cfg.SessionTTL,
		now:        func() time.Time { return clock().UTC() },
	}, nil
}

// IssueGuest mints a long-lived token for an anonymous account.
func (t *TokenIssuer) IssueGuest(accountID string) (string, time.Time, error) {
	return t.issue(accountID, KindGuest, "guest", "", nil, t.guestTTL)
}

// IssueSession mints a token for a registered account.
func (t *TokenIssuer) IssueSession(accountID, email string, roles []string) (string, time.Time, error) {
	return t.issue(accountID, KindSession, "registered", email, roles, t.sessionTTL)
}

func (t *TokenIssuer) issue(accountID, kind, accountKind, email string, roles []string, ttl time.Duration) (string, time.Time, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", time.Time{}, errors.New("auth: account id is required")
	}

	now := t.now()
	expires := now.Add(ttl)
	claims := sessionClaims{
		Kind:        kind,
		AccountKind: accountKind,
		Email:       email,
		Roles:       roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses a token and returns the identity it asserts.
func (t *TokenIssuer) Verify(token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}

	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %q", tok.Method.Alg())
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}

	kind := claims.AccountKind
	if kind == "" && claims.Kind == KindGuest {
		kind = "guest"
	}

	return &Identity{
		AccountID: claims.Subject,
		Kind:      kind,
		Email:     claims.Email,
		Roles:     claims.Roles,
	}, nil
}
