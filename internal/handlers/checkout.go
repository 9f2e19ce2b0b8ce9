package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/souqline/api/internal/platform/auth"
	"github.com/souqline/api/internal/platform/httpx"
	"github.com/souqline/api/internal/services"
)

// CheckoutHandlers exposes the checkout initiation endpoint. The route group
// carries the session resolver plus the idempotency middleware, so a retried
// POST with the same Idempotency-Key replays the stored response instead of
// placing a second order.
type CheckoutHandlers struct {
	checkout services.CheckoutService
}

const maxCheckoutBodySize = 16 * 1024

// NewCheckoutHandlers constructs handlers over the checkout service.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout}
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.initiate)
}

func (h *CheckoutHandlers) initiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.AccountID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req initiateCheckoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	result, err := h.checkout.Initiate(ctx, services.InitiateCheckoutCommand{
		AccountID:     identity.AccountID,
		Email:         strings.TrimSpace(req.Email),
		Name:          strings.TrimSpace(req.Name),
		Phone:         strings.TrimSpace(req.Phone),
		Shipping:      req.Shipping.toDomain(),
		PromoCode:     strings.TrimSpace(req.PromoCode),
		Provider:      strings.TrimSpace(req.Provider),
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
		WalletNumber:  strings.TrimSpace(req.WalletNumber),
	})
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutResponse{
		Order:        buildCheckoutOrderPayload(result.Order),
		SessionID:    result.SessionID,
		PaymentToken: result.PaymentToken,
		RedirectURL:  result.RedirectURL,
	})
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var outOfStock *services.OutOfStockError
	if errors.As(err, &outOfStock) {
		items := make([]any, 0, len(outOfStock.Items))
		for _, item := range outOfStock.Items {
			items = append(items, item)
		}
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", "some items are no longer available in the requested quantity", http.StatusConflict).
			WithDetails(map[string]any{"items": items}))
		return
	}

	switch {
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "cart is empty", http.StatusBadRequest))
	case errors.Is(err, services.ErrPromotionNotFound),
		errors.Is(err, services.ErrPromotionExpired),
		errors.Is(err, services.ErrPromotionNotStarted),
		errors.Is(err, services.ErrPromotionExhausted),
		errors.Is(err, services.ErrPromotionBelowMinimum):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_promo_code", "promo code cannot be applied", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutGatewayFailed):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_failed", "payment gateway did not accept the order; retry checkout", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "checkout failed", http.StatusInternalServerError))
	}
}

type initiateCheckoutRequest struct {
	Email         string                 `json:"email"`
	Name          string                 `json:"name"`
	Phone         string                 `json:"phone"`
	Shipping      shippingAddressPayload `json:"shipping"`
	PromoCode     string                 `json:"promo_code"`
	Provider      string                 `json:"provider"`
	PaymentMethod string                 `json:"payment_method"`
	WalletNumber  string                 `json:"wallet_number"`
}

type shippingAddressPayload struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

func (p shippingAddressPayload) toDomain() services.ShippingAddress {
	return services.ShippingAddress{
		Recipient:  strings.TrimSpace(p.Recipient),
		Line1:      strings.TrimSpace(p.Line1),
		Line2:      strings.TrimSpace(p.Line2),
		City:       strings.TrimSpace(p.City),
		PostalCode: strings.TrimSpace(p.PostalCode),
		Country:    strings.TrimSpace(p.Country),
		Phone:      strings.TrimSpace(p.Phone),
	}
}

func buildShippingPayload(addr services.ShippingAddress) shippingAddressPayload {
	return shippingAddressPayload{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

type checkoutResponse struct {
	Order        checkoutOrderPayload `json:"order"`
	SessionID    string               `json:"session_id"`
	PaymentToken string               `json:"payment_token,omitempty"`
	RedirectURL  string               `json:"redirect_url,omitempty"`
}

type checkoutOrderPayload struct {
	ID            string             `json:"id"`
	OrderNumber   string             `json:"order_number"`
	Status        string             `json:"status"`
	Totals        orderTotalsPayload `json:"totals"`
	TrackingToken string             `json:"tracking_token"`
	CreatedAt     string             `json:"created_at,omitempty"`
}

func buildCheckoutOrderPayload(order services.Order) checkoutOrderPayload {
	return checkoutOrderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		Totals:        buildOrderTotalsPayload(order.Totals),
		TrackingToken: order.TrackingToken,
		CreatedAt:     formatTime(order.CreatedAt),
	}
}
