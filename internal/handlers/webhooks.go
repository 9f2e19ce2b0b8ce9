package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/payments"
	"github.com/souqline/api/internal/platform/httpx"
	"github.com/souqline/api/internal/services"
)

// PaymentGatewayVerifier authenticates inbound gateway notifications. The
// payments manager satisfies it.
type PaymentGatewayVerifier interface {
	VerifyCallback(provider string, body []byte, signature string) (payments.CallbackOutcome, error)
	VerifyRedirect(provider string, query url.Values) (payments.CallbackOutcome, error)
}

// WebhookHandlers receives gateway payment notifications. Every inbound
// payload is verified cryptographically before any field is trusted; a failed
// check produces a generic rejection that never explains which check failed.
type WebhookHandlers struct {
	gateway    PaymentGatewayVerifier
	orders     services.OrderService
	successURL string
	failureURL string
	now        func() time.Time
	logger     *zap.Logger
}

// WebhookHandlersConfig wires the dependencies for webhook processing.
type WebhookHandlersConfig struct {
	Gateway    PaymentGatewayVerifier
	Orders     services.OrderService
	SuccessURL string
	FailureURL string
	Clock      func() time.Time
	Logger     *zap.Logger
}

const maxWebhookBodySize = 64 * 1024

// NewWebhookHandlers constructs handlers over the payments manager and order service.
func NewWebhookHandlers(cfg WebhookHandlersConfig) *WebhookHandlers {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandlers{
		gateway:    cfg.Gateway,
		orders:     cfg.Orders,
		successURL: strings.TrimSpace(cfg.SuccessURL),
		failureURL: strings.TrimSpace(cfg.FailureURL),
		now:        func() time.Time { return clock().UTC() },
		logger:     logger,
	}
}

// Routes wires the /webhooks endpoints onto the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.callback)
	r.Get("/payments/{provider}/redirect", h.redirect)
}

// callback is the server-to-server notification. Paymob appends the
// transaction HMAC to the callback URL as the "hmac" query parameter; Stripe
// signs the raw body and carries the signature in the Stripe-Signature header.
func (h *WebhookHandlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.gateway == nil || h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing is unavailable", http.StatusServiceUnavailable))
		return
	}

	provider := strings.TrimSpace(chi.URLParam(r, "provider"))
	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		h.rejectCallback(w, provider, err)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		signature = r.URL.Query().Get("hmac")
	}
	outcome, err := h.gateway.VerifyCallback(provider, body, signature)
	if err != nil {
		h.rejectCallback(w, provider, err)
		return
	}

	result, err := h.orders.ApplyPaymentOutcome(ctx, h.paymentOutcome(outcome))
	if err != nil {
		writeOrderServiceError(ctx, w, err)
		return
	}

	h.logger.Info("payment callback settled",
		zap.String("provider", outcome.Provider),
		zap.String("orderNumber", result.Order.OrderNumber),
		zap.Bool("success", outcome.Success),
		zap.Bool("alreadyApplied", result.AlreadyApplied),
	)
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// redirect is the browser-facing variant of the same notification, with the
// signed transaction fields flattened into the query string. Settlement is
// idempotent, so racing the server callback is harmless.
func (h *WebhookHandlers) redirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.gateway == nil || h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing is unavailable", http.StatusServiceUnavailable))
		return
	}

	provider := strings.TrimSpace(chi.URLParam(r, "provider"))
	outcome, err := h.gateway.VerifyRedirect(provider, r.URL.Query())
	if err != nil {
		h.logger.Warn("payment redirect rejected", zap.String("provider", provider), zap.Error(err))
		h.redirectTo(w, r, h.failureURL, "")
		return
	}

	orderNumber := ""
	result, err := h.orders.ApplyPaymentOutcome(ctx, h.paymentOutcome(outcome))
	if err != nil {
		h.logger.Warn("payment redirect settlement failed", zap.String("provider", provider), zap.Error(err))
	} else {
		orderNumber = result.Order.OrderNumber
	}

	if outcome.Success {
		h.redirectTo(w, r, h.successURL, orderNumber)
		return
	}
	h.redirectTo(w, r, h.failureURL, orderNumber)
}

func (h *WebhookHandlers) paymentOutcome(outcome payments.CallbackOutcome) domain.PaymentOutcome {
	return domain.PaymentOutcome{
		Provider:        outcome.Provider,
		ProviderTxnRef:  outcome.TransactionID,
		ProviderOrderID: outcome.ProviderOrderID,
		Success:         outcome.Success,
		Amount:          outcome.AmountCents,
		Currency:        outcome.Currency,
		FailureReason:   outcome.FailureReason,
		ReceivedAt:      h.now(),
	}
}

// rejectCallback answers every unverifiable callback identically. The reason
// stays in the logs; echoing it would hand an attacker an oracle.
func (h *WebhookHandlers) rejectCallback(w http.ResponseWriter, provider string, err error) {
	h.logger.Warn("payment callback rejected", zap.String("provider", provider), zap.Error(err))

	status := http.StatusBadRequest
	if errors.Is(err, payments.ErrUnsupportedProvider) {
		status = http.StatusNotFound
	}
	writeJSONResponse(w, status, map[string]string{"status": "rejected"})
}

func (h *WebhookHandlers) redirectTo(w http.ResponseWriter, r *http.Request, target string, orderNumber string) {
	if target == "" {
		writeJSONResponse(w, http.StatusBadRequest, map[string]string{"status": "rejected"})
		return
	}
	if orderNumber != "" {
		separator := "?"
		if strings.Contains(target, "?") {
			separator = "&"
		}
		target = target + separator + "order=" + url.QueryEscape(orderNumber)
	}
	http.Redirect(w, r, target, http.StatusFound)
}
