package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/souqline/api/internal/platform/httpx"
	"github.com/souqline/api/internal/services"
)

// PublicHandlers exposes the unauthenticated order tracking endpoint. The
// tracking token is the only credential; the projection carries no account,
// address, or payment details.
type PublicHandlers struct {
	orders services.OrderService
}

// NewPublicHandlers constructs handlers over the order service.
func NewPublicHandlers(orders services.OrderService) *PublicHandlers {
	return &PublicHandlers{orders: orders}
}

// Routes wires the /public endpoints onto the provided router.
func (h *PublicHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders/{trackingToken}", h.trackOrder)
}

func (h *PublicHandlers) trackOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	token := strings.TrimSpace(chi.URLParam(r, "trackingToken"))
	tracking, err := h.orders.TrackByToken(ctx, token)
	if err != nil {
		writeOrderServiceError(ctx, w, err)
		return
	}

	history := make([]publicStatusChangePayload, 0, len(tracking.History))
	for _, change := range tracking.History {
		history = append(history, publicStatusChangePayload{
			Status:    string(change.Status),
			Note:      change.Note,
			ChangedAt: formatTime(change.ChangedAt),
		})
	}

	writeJSONResponse(w, http.StatusOK, orderTrackingPayload{
		OrderNumber: tracking.OrderNumber,
		Status:      string(tracking.Status),
		Items:       buildOrderItems(tracking.Items),
		Totals:      buildOrderTotalsPayload(tracking.Totals),
		History:     history,
		CreatedAt:   formatTime(tracking.CreatedAt),
	})
}

type orderTrackingPayload struct {
	OrderNumber string                     `json:"order_number"`
	Status      string                     `json:"status"`
	Items       []orderLineItemPayload     `json:"items"`
	Totals      orderTotalsPayload         `json:"totals"`
	History     []publicStatusChangePayload `json:"history"`
	CreatedAt   string                     `json:"created_at,omitempty"`
}

// publicStatusChangePayload mirrors statusChangePayload minus the actor; staff
// identities never leave the admin surface.
type publicStatusChangePayload struct {
	Status    string `json:"status"`
	Note      string `json:"note,omitempty"`
	ChangedAt string `json:"changed_at,omitempty"`
}
