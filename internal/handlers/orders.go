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
	"github.com/souqline/api/internal/platform/pagination"
	"github.com/souqline/api/internal/services"
)

// OrderHandlers exposes account-scoped order reads and pre-fulfilment
// cancellation. Every lookup is filtered by the caller's account id; an order
// belonging to someone else is indistinguishable from a missing one.
type OrderHandlers struct {
	orders services.OrderService
}

const (
	maxOrderBodySize     = 8 * 1024
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// NewOrderHandlers constructs handlers over the order service.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.list)
	r.Get("/{orderID}", h.get)
	r.Post("/{orderID}/cancel", h.cancel)
}

func (h *OrderHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	filter := services.OrderListFilter{AccountID: identity.AccountID}
	size, err := pagination.ParsePageSize(r.URL.Query().Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be between 1 and 100", http.StatusBadRequest))
		return
	}
	filter.Pagination.PageSize = size
	filter.Pagination.PageToken = strings.TrimSpace(r.URL.Query().Get("page_token"))
	for _, status := range strings.Split(r.URL.Query().Get("status"), ",") {
		status = strings.ToUpper(strings.TrimSpace(status))
		if status != "" {
			filter.Status = append(filter.Status, services.OrderStatus(status))
		}
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Orders:        items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	order, err := h.orders.GetOrder(ctx, orderID, identity.AccountID)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))

	var reason string
	if r.ContentLength != 0 {
		body, err := readLimitedBody(r, maxOrderBodySize)
		if err != nil && !errors.Is(err, errEmptyBody) {
			writeBodyError(ctx, w, err)
			return
		}
		if err == nil {
			var req struct {
				Reason string `json:"reason"`
			}
			if err := json.Unmarshal(body, &req); err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
				return
			}
			reason = strings.TrimSpace(req.Reason)
		}
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID:   orderID,
		AccountID: identity.AccountID,
		Reason:    reason,
		Actor:     "customer:" + identity.AccountID,
	})
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.AccountID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func (h *OrderHandlers) writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	writeOrderServiceError(ctx, w, err)
}

func writeOrderServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderIllegalTransition):
		httpx.WriteError(ctx, w, httpx.NewError("illegal_transition", "order status does not allow this operation", http.StatusConflict))
	case errors.Is(err, services.ErrOrderStockConflict):
		httpx.WriteError(ctx, w, httpx.NewError("stock_conflict", "stock no longer covers the order", http.StatusConflict))
	case errors.Is(err, services.ErrOrderIntegrity):
		httpx.WriteError(ctx, w, httpx.NewError("order_integrity", "order state is inconsistent", http.StatusInternalServerError))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "order operation failed", http.StatusInternalServerError))
	}
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID            string                 `json:"id"`
	OrderNumber   string                 `json:"order_number"`
	Status        string                 `json:"status"`
	Items         []orderLineItemPayload `json:"items"`
	Totals        orderTotalsPayload     `json:"totals"`
	PromoCode     string                 `json:"promo_code,omitempty"`
	Shipping      shippingAddressPayload `json:"shipping"`
	History       []statusChangePayload  `json:"history"`
	TrackingToken string                 `json:"tracking_token,omitempty"`
	CreatedAt     string                 `json:"created_at,omitempty"`
	UpdatedAt     string                 `json:"updated_at,omitempty"`
	PaidAt        string                 `json:"paid_at,omitempty"`
	ShippedAt     string                 `json:"shipped_at,omitempty"`
	DeliveredAt   string                 `json:"delivered_at,omitempty"`
	CancelledAt   string                 `json:"cancelled_at,omitempty"`
}

type orderLineItemPayload struct {
	VariantID string `json:"variant_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int64  `json:"quantity"`
	Total     int64  `json:"total"`
}

type orderTotalsPayload struct {
	Subtotal int64  `json:"subtotal"`
	Discount int64  `json:"discount"`
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
}

type statusChangePayload struct {
	Status    string `json:"status"`
	Note      string `json:"note,omitempty"`
	Actor     string `json:"actor,omitempty"`
	ChangedAt string `json:"changed_at,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	return orderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		Items:         buildOrderItems(order.Items),
		Totals:        buildOrderTotalsPayload(order.Totals),
		PromoCode:     order.PromoCode,
		Shipping:      buildShippingPayload(order.Shipping),
		History:       buildStatusHistory(order.History),
		TrackingToken: order.TrackingToken,
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
		PaidAt:        formatTimePointer(order.PaidAt),
		ShippedAt:     formatTimePointer(order.ShippedAt),
		DeliveredAt:   formatTimePointer(order.DeliveredAt),
		CancelledAt:   formatTimePointer(order.CancelledAt),
	}
}

func buildOrderItems(items []services.OrderLineItem) []orderLineItemPayload {
	payload := make([]orderLineItemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, orderLineItemPayload{
			VariantID: item.VariantID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Total:     item.Total,
		})
	}
	return payload
}

func buildOrderTotalsPayload(totals services.OrderTotals) orderTotalsPayload {
	return orderTotalsPayload{
		Subtotal: totals.Subtotal,
		Discount: totals.Discount,
		Total:    totals.Total,
		Currency: totals.Currency,
	}
}

func buildStatusHistory(history []services.StatusChange) []statusChangePayload {
	payload := make([]statusChangePayload, 0, len(history))
	for _, change := range history {
		payload = append(payload, statusChangePayload{
			Status:    string(change.Status),
			Note:      change.Note,
			Actor:     change.Actor,
			ChangedAt: formatTime(change.ChangedAt),
		})
	}
	return payload
}
