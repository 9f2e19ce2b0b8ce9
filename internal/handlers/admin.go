package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/platform/auth"
	"github.com/souqline/api/internal/platform/httpx"
	"github.com/souqline/api/internal/services"
)

// AdminHandlers exposes the staff surface: order status transitions and promo
// code management. The route group is guarded by RequireRole, so every request
// carries a verified staff or admin bearer identity.
type AdminHandlers struct {
	orders     services.OrderService
	promotions services.PromotionService
}

const maxAdminBodySize = 16 * 1024

// NewAdminHandlers constructs handlers over the order and promotion services.
func NewAdminHandlers(orders services.OrderService, promotions services.PromotionService) *AdminHandlers {
	return &AdminHandlers{
		orders:     orders,
		promotions: promotions,
	}
}

// Routes wires the /admin endpoints onto the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Patch("/orders/{orderID}/status", h.updateOrderStatus)
	r.Post("/promotions", h.createPromotion)
	r.Get("/promotions/{code}", h.getPromotion)
}

func (h *AdminHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	status := strings.ToUpper(strings.TrimSpace(req.Status))
	if status == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID: orderID,
		Status:  services.OrderStatus(status),
		Note:    strings.TrimSpace(req.Note),
		Actor:   adminActor(ctx),
	})
	if err != nil {
		writeOrderServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) createPromotion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotion_service_unavailable", "promotion service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createPromotionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	cmd := services.CreatePromotionCommand{
		Code:              strings.TrimSpace(req.Code),
		Type:              domain.DiscountType(strings.ToLower(strings.TrimSpace(req.Type))),
		Value:             req.Value,
		MinCartValue:      req.MinCartValue,
		MaxDiscountAmount: req.MaxDiscountAmount,
		MaxUses:           req.MaxUses,
		Actor:             adminActor(ctx),
	}
	if parsed, ok, errMsg := parseOptionalTime(req.StartsAt); errMsg != "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", errMsg, http.StatusBadRequest))
		return
	} else if ok {
		cmd.StartsAt = &parsed
	}
	if parsed, ok, errMsg := parseOptionalTime(req.ExpiresAt); errMsg != "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", errMsg, http.StatusBadRequest))
		return
	} else if ok {
		cmd.ExpiresAt = &parsed
	}

	promo, err := h.promotions.Create(ctx, cmd)
	if err != nil {
		h.writePromotionAdminError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, promotionResponse{Promotion: buildPromotionPayload(promo)})
}

func (h *AdminHandlers) getPromotion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotion_service_unavailable", "promotion service is unavailable", http.StatusServiceUnavailable))
		return
	}

	promo, err := h.promotions.Get(ctx, chi.URLParam(r, "code"))
	if err != nil {
		h.writePromotionAdminError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, promotionResponse{Promotion: buildPromotionPayload(promo)})
}

func (h *AdminHandlers) writePromotionAdminError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPromotionExists):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_exists", "promo code already exists", http.StatusConflict))
	case errors.Is(err, services.ErrPromotionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_not_found", "promo code not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPromotionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPromotionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_service_unavailable", "promotion service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("promotion_error", "promotion operation failed", http.StatusInternalServerError))
	}
}

// adminActor labels history entries and audit logs with the staff identity
// carried by the bearer token.
func adminActor(ctx context.Context) string {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		return "staff:unknown"
	}
	if identity.Email != "" {
		return "staff:" + identity.Email
	}
	return "staff:" + identity.AccountID
}

func parseOptionalTime(raw string) (time.Time, bool, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false, ""
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, "timestamps must be RFC3339"
	}
	return parsed.UTC(), true, ""
}

type createPromotionRequest struct {
	Code              string `json:"code"`
	Type              string `json:"type"`
	Value             int64  `json:"value"`
	MinCartValue      int64  `json:"min_cart_value"`
	MaxDiscountAmount int64  `json:"max_discount_amount"`
	MaxUses           int64  `json:"max_uses"`
	StartsAt          string `json:"starts_at"`
	ExpiresAt         string `json:"expires_at"`
}

type promotionResponse struct {
	Promotion promotionPayload `json:"promotion"`
}

type promotionPayload struct {
	Code              string `json:"code"`
	Type              string `json:"type"`
	Value             int64  `json:"value"`
	MinCartValue      int64  `json:"min_cart_value,omitempty"`
	MaxDiscountAmount int64  `json:"max_discount_amount,omitempty"`
	MaxUses           int64  `json:"max_uses,omitempty"`
	UseCount          int64  `json:"use_count"`
	StartsAt          string `json:"starts_at,omitempty"`
	ExpiresAt         string `json:"expires_at,omitempty"`
	CreatedAt         string `json:"created_at,omitempty"`
	UpdatedAt         string `json:"updated_at,omitempty"`
}

func buildPromotionPayload(promo services.PromoCode) promotionPayload {
	return promotionPayload{
		Code:              promo.Code,
		Type:              string(promo.Type),
		Value:             promo.Value,
		MinCartValue:      promo.MinCartValue,
		MaxDiscountAmount: promo.MaxDiscountAmount,
		MaxUses:           promo.MaxUses,
		UseCount:          promo.UseCount,
		StartsAt:          formatTimePointer(promo.StartsAt),
		ExpiresAt:         formatTimePointer(promo.ExpiresAt),
		CreatedAt:         formatTime(promo.CreatedAt),
		UpdatedAt:         formatTime(promo.UpdatedAt),
	}
}
