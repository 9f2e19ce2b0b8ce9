package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// SessionCookieName is the cookie carrying the signed guest or session token.
const SessionCookieName = "sl_session"

// GuestCreator lazily provisions an anonymous account the first time an
// unauthenticated request needs one.
type GuestCreator interface {
	CreateGuest(ctx context.Context) (string, error)
}

// GuestCreatorFunc adapts a function to the GuestCreator interface.
type GuestCreatorFunc func(ctx context.Context) (string, error)

// CreateGuest implements GuestCreator.
func (f GuestCreatorFunc) CreateGuest(ctx context.Context) (string, error) {
	return f(ctx)
}

// SessionResolver turns cookies and bearer tokens into a request identity,
// minting a guest account when the request carries no usable credential.
type SessionResolver struct {
	issuer *TokenIssuer
	guests GuestCreator

	cookieName   string
	cookieDomain string
	cookieSecure bool

	logger Logger
}

// SessionResolverOption customises the resolver.
type SessionResolverOption func(*SessionResolver)

// WithSessionCookie overrides the cookie name and attributes.
func WithSessionCookie(name, domain string, secure bool) SessionResolverOption {
	return func(r *SessionResolver) {
		if strings.TrimSpace(name) != "" {
			r.cookieName = name
		}
		r.cookieDomain = domain
		r.cookieSecure = secure
	}
}

// WithSessionLogger overrides the resolver logger.
func WithSessionLogger(logger Logger) SessionResolverOption {
	return func(r *SessionResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewSessionResolver builds the resolver middleware factory.
func NewSessionResolver(issuer *TokenIssuer, guests GuestCreator, opts ...SessionResolverOption) *SessionResolver {
	r := &SessionResolver{
		issuer:       issuer,
		guests:       guests,
		cookieName:   SessionCookieName,
		cookieSecure: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// ResolveAccount attaches an identity to every request. Requests without a
// valid token get a freshly minted guest account and cookie; an expired or
// garbled token is treated the same as no token at all.
func (s *SessionResolver) ResolveAccount() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity := s.identityFromRequest(r); identity != nil {
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
				return
			}

			if s.guests == nil {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "no session credential presented")
				return
			}

			accountID, err := s.guests.CreateGuest(r.Context())
			if err != nil {
				if s.logger != nil {
					s.logger.Printf("auth: guest provisioning failed: %v", err)
				}
				respondAuthError(w, http.StatusServiceUnavailable, "session_unavailable", "unable to establish a session")
				return
			}

			token, expires, err := s.issuer.IssueGuest(accountID)
			if err != nil {
				if s.logger != nil {
					s.logger.Printf("auth: guest token issue failed: %v", err)
				}
				respondAuthError(w, http.StatusServiceUnavailable, "session_unavailable", "unable to establish a session")
				return
			}

			s.SetSessionCookie(w, token, expires)

			identity := &Identity{AccountID: accountID, Kind: "guest"}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireRegistered rejects guests; used for account-bound surfaces like
// order history.
func (s *SessionResolver) RequireRegistered() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "no session credential presented")
				return
			}
			if identity.IsGuest() {
				respondAuthError(w, http.StatusUnauthorized, "registration_required", "a registered account is required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole verifies the bearer token and ensures one of the allowed roles;
// it never falls back to guest provisioning.
func (s *SessionResolver) RequireRole(allowedRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}

			identity, err := s.issuer.Verify(token)
			if err != nil {
				respondVerificationError(w, err)
				return
			}

			if len(allowedRoles) > 0 && !identity.HasAnyRole(allowedRoles...) {
				respondAuthError(w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// SetSessionCookie writes the session cookie with the resolver's attributes.
func (s *SessionResolver) SetSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		Domain:   s.cookieDomain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func (s *SessionResolver) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		Domain:   s.cookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// IdentityFromRequest resolves the identity a request carries without minting
// a guest; handlers that only need the current principal when one exists use
// this instead of the middleware.
func (s *SessionResolver) IdentityFromRequest(r *http.Request) (*Identity, bool) {
	identity := s.identityFromRequest(r)
	return identity, identity != nil
}

func (s *SessionResolver) identityFromRequest(r *http.Request) *Identity {
	if token, ok := extractBearerToken(r.Header.Get("Authorization")); ok {
		if identity, err := s.issuer.Verify(token); err == nil {
			return identity
		}
		return nil
	}

	cookie, err := r.Cookie(s.cookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	identity, err := s.issuer.Verify(cookie.Value)
	if err != nil {
		return nil
	}
	return identity
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}

	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   code,
		"message": message,
		"status":  status,
	})
}

func respondVerificationError(w http.ResponseWriter, err error) {
	switch err {
	case ErrTokenExpired:
		respondAuthError(w, http.StatusUnauthorized, "token_expired", "session token expired")
	default:
		respondAuthError(w, http.StatusUnauthorized, "invalid_token", "session token invalid")
	}
}
