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

// PromotionHandlers exposes the advisory promo validation endpoint. The check
// runs against the caller's current cart subtotal; nothing is reserved and the
// authoritative use count only moves during settlement.
type PromotionHandlers struct {
	promotions services.PromotionService
	carts      services.CartService
}

const maxPromotionBodySize = 4 * 1024

// NewPromotionHandlers constructs handlers over the promotion and cart services.
func NewPromotionHandlers(promotions services.PromotionService, carts services.CartService) *PromotionHandlers {
	return &PromotionHandlers{
		promotions: promotions,
		carts:      carts,
	}
}

// Routes wires the /promotions endpoints onto the provided router.
func (h *PromotionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/apply", h.apply)
}

func (h *PromotionHandlers) apply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil || h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotion_service_unavailable", "promotion service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.AccountID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxPromotionBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "code is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.GetCart(ctx, identity.AccountID)
	if err != nil {
		h.writePromotionError(ctx, w, err)
		return
	}

	result, err := h.promotions.Validate(ctx, services.ValidatePromotionCommand{
		Code:     req.Code,
		Subtotal: cart.Subtotal,
	})
	if err != nil && result.Code == "" {
		h.writePromotionError(ctx, w, err)
		return
	}

	// A populated result with Valid=false is a normal business answer, not an
	// HTTP failure; the client renders the message next to the code field.
	writeJSONResponse(w, http.StatusOK, promotionValidationPayload{
		Valid:          result.Valid,
		Code:           result.Code,
		DiscountAmount: result.DiscountAmount,
		Message:        result.Message,
	})
}

func (h *PromotionHandlers) writePromotionError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPromotionInvalidInput), errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPromotionUnavailable), errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_service_unavailable", "promotion service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("promotion_error", "promotion validation failed", http.StatusInternalServerError))
	}
}

type promotionValidationPayload struct {
	Valid          bool   `json:"valid"`
	Code           string `json:"code"`
	DiscountAmount int64  `json:"discount_amount"`
	Message        string `json:"message"`
}
