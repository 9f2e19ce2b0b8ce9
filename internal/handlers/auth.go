package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/souqline/api/internal/platform/auth"
	"github.com/souqline/api/internal/platform/httpx"
	"github.com/souqline/api/internal/services"
)

// AuthHandlers exposes register, login, and session endpoints. The /auth group
// is mounted without the session resolver so that a missing cookie never mints
// a guest here; the current guest identity, when one exists, is read directly
// off the request instead.
type AuthHandlers struct {
	identities services.IdentityService
	issuer     *auth.TokenIssuer
	sessions   *auth.SessionResolver
	limiter    rateLimiter
}

const maxAuthBodySize = 8 * 1024

// AuthHandlersOption customises the auth handlers.
type AuthHandlersOption func(*AuthHandlers)

// WithCredentialRateLimit throttles register and login attempts per client IP,
// slowing down credential stuffing.
func WithCredentialRateLimit(limit int, window time.Duration, clock func() time.Time) AuthHandlersOption {
	return func(h *AuthHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, clock)
	}
}

// NewAuthHandlers constructs handlers over the identity service.
func NewAuthHandlers(identities services.IdentityService, issuer *auth.TokenIssuer, sessions *auth.SessionResolver, opts ...AuthHandlersOption) *AuthHandlers {
	h := &AuthHandlers{
		identities: identities,
		issuer:     issuer,
		sessions:   sessions,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /auth endpoints onto the provided router.
func (h *AuthHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/register", h.register)
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
	r.Get("/me", h.me)
}

func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.identities == nil || h.issuer == nil || h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("identity_service_unavailable", "identity service is unavailable", http.StatusServiceUnavailable))
		return
	}

	if !h.allowAttempt(ctx, w, r) {
		return
	}
	req, ok := h.parseCredentials(w, r)
	if !ok {
		return
	}

	account, err := h.identities.Register(ctx, services.RegisterCommand{
		Email:          req.Email,
		Password:       req.Password,
		GuestAccountID: h.guestAccountID(r),
	})
	if err != nil {
		h.writeIdentityError(ctx, w, err)
		return
	}

	if !h.establishSession(ctx, w, account) {
		return
	}
	writeJSONResponse(w, http.StatusCreated, accountResponse{Account: buildAccountPayload(account)})
}

func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.identities == nil || h.issuer == nil || h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("identity_service_unavailable", "identity service is unavailable", http.StatusServiceUnavailable))
		return
	}

	if !h.allowAttempt(ctx, w, r) {
		return
	}
	req, ok := h.parseCredentials(w, r)
	if !ok {
		return
	}

	account, err := h.identities.Login(ctx, services.LoginCommand{
		Email:          req.Email,
		Password:       req.Password,
		GuestAccountID: h.guestAccountID(r),
	})
	if err != nil {
		h.writeIdentityError(ctx, w, err)
		return
	}

	if !h.establishSession(ctx, w, account) {
		return
	}
	writeJSONResponse(w, http.StatusOK, accountResponse{Account: buildAccountPayload(account)})
}

func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	if h.sessions != nil {
		h.sessions.ClearSessionCookie(w)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.identities == nil || h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("identity_service_unavailable", "identity service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := h.sessions.IdentityFromRequest(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "no session credential presented", http.StatusUnauthorized))
		return
	}

	account, err := h.identities.GetAccount(ctx, identity.AccountID)
	if err != nil {
		h.writeIdentityError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, accountResponse{Account: buildAccountPayload(account)})
}

// allowAttempt applies the credential rate limit, keyed by client IP. The
// RealIP middleware has already rewritten RemoteAddr when the request came
// through a proxy.
func (h *AuthHandlers) allowAttempt(ctx context.Context, w http.ResponseWriter, r *http.Request) bool {
	if h.limiter == nil {
		return true
	}
	key := r.RemoteAddr
	if host, _, err := net.SplitHostPort(key); err == nil {
		key = host
	}
	if !h.limiter.Allow(key) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many attempts; slow down", http.StatusTooManyRequests))
		return false
	}
	return true
}

// guestAccountID reads the guest account carried by the request, if any. A
// registered session yields no guest id; the services treat an empty value as
// "no guest to convert or merge".
func (h *AuthHandlers) guestAccountID(r *http.Request) string {
	identity, ok := h.sessions.IdentityFromRequest(r)
	if !ok || !identity.IsGuest() {
		return ""
	}
	return identity.AccountID
}

func (h *AuthHandlers) establishSession(ctx context.Context, w http.ResponseWriter, account services.Account) bool {
	token, expires, err := h.issuer.IssueSession(account.ID, account.Email, nil)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("session_unavailable", "unable to establish a session", http.StatusServiceUnavailable))
		return false
	}
	h.sessions.SetSessionCookie(w, token, expires)
	return true
}

func (h *AuthHandlers) parseCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxAuthBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return credentialsRequest{}, false
	}

	var req credentialsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return credentialsRequest{}, false
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "email and password are required", http.StatusBadRequest))
		return credentialsRequest{}, false
	}
	return req, true
}

func (h *AuthHandlers) writeIdentityError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrIdentityInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrIdentityEmailTaken):
		httpx.WriteError(ctx, w, httpx.NewError("email_taken", "email is already registered", http.StatusConflict))
	case errors.Is(err, services.ErrIdentityBadCredentials):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_credentials", "email or password is incorrect", http.StatusUnauthorized))
	case errors.Is(err, services.ErrIdentityNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("account_not_found", "account not found", http.StatusNotFound))
	case errors.Is(err, services.ErrIdentityUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("identity_service_unavailable", "identity service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("identity_error", "identity operation failed", http.StatusInternalServerError))
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type accountResponse struct {
	Account accountPayload `json:"account"`
}

type accountPayload struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func buildAccountPayload(account services.Account) accountPayload {
	return accountPayload{
		ID:        account.ID,
		Kind:      string(account.Kind),
		Email:     account.Email,
		CreatedAt: formatTime(account.CreatedAt),
		UpdatedAt: formatTime(account.UpdatedAt),
	}
}
