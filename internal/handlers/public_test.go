package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/services"
)

func TestPublicHandlersTrackOrder(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	service := &stubOrderService{
		trackFunc: func(ctx context.Context, token string) (services.OrderTracking, error) {
			if token != "a1b2c3" {
				t.Fatalf("unexpected token %q", token)
			}
			return services.OrderTracking{
				OrderNumber: "SQ-2026-000042",
				Status:      domain.OrderStatusShipped,
				Items: []services.OrderLineItem{
					{VariantID: "v1", Name: "Blue mug", UnitPrice: 500, Quantity: 2, Total: 1000},
				},
				Totals: services.OrderTotals{Subtotal: 1000, Total: 1000, Currency: "EGP"},
				History: []services.StatusChange{
					{Status: domain.OrderStatusPending, Actor: "system", ChangedAt: created},
					{Status: domain.OrderStatusPaid, Actor: "gateway:paymob", ChangedAt: created.Add(time.Minute)},
					{Status: domain.OrderStatusShipped, Actor: "staff:ops@example.com", ChangedAt: created.Add(time.Hour)},
				},
				CreatedAt: created,
			}, nil
		},
	}

	handler := NewPublicHandlers(service)
	router := chi.NewRouter()
	router.Route("/public", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/public/orders/a1b2c3", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp orderTrackingPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.OrderNumber != "SQ-2026-000042" || resp.Status != "SHIPPED" {
		t.Fatalf("unexpected payload %#v", resp)
	}
	if len(resp.History) != 3 {
		t.Fatalf("expected full history, got %d entries", len(resp.History))
	}

	// The token-scoped projection must not leak who moved the order.
	if strings.Contains(rr.Body.String(), "actor") || strings.Contains(rr.Body.String(), "staff:ops@example.com") {
		t.Fatalf("public tracking payload leaks actors: %s", rr.Body.String())
	}
}

func TestPublicHandlersTrackOrderUnknownToken(t *testing.T) {
	service := &stubOrderService{
		trackFunc: func(context.Context, string) (services.OrderTracking, error) {
			return services.OrderTracking{}, services.ErrOrderNotFound
		},
	}

	handler := NewPublicHandlers(service)
	router := chi.NewRouter()
	router.Route("/public", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/public/orders/ffffffff", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
