package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/platform/auth"
	"github.com/souqline/api/internal/services"
)

func staffIdentity() *auth.Identity {
	return &auth.Identity{
		AccountID: "acc_staff_1",
		Kind:      "registered",
		Email:     "ops@example.com",
		Roles:     []string{auth.RoleStaff},
	}
}

func TestAdminHandlersUpdateOrderStatus(t *testing.T) {
	orders := &stubOrderService{
		updateStatusFunc: func(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
			if cmd.OrderID != "ord_1" || cmd.Status != domain.OrderStatusShipped {
				t.Fatalf("unexpected command %#v", cmd)
			}
			if cmd.Note != "left warehouse" {
				t.Fatalf("unexpected note %q", cmd.Note)
			}
			if cmd.Actor != "staff:ops@example.com" {
				t.Fatalf("unexpected actor %q", cmd.Actor)
			}
			order := sampleOrder()
			order.Status = domain.OrderStatusShipped
			return order, nil
		},
	}

	handler := NewAdminHandlers(orders, &stubPromotionService{})
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	req := withIdentity(
		httptest.NewRequest(http.MethodPatch, "/admin/orders/ord_1/status", jsonBody(`{"status":"shipped","note":"left warehouse"}`)),
		staffIdentity(),
	)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order.Status != "SHIPPED" {
		t.Fatalf("expected SHIPPED, got %q", resp.Order.Status)
	}
}

func TestAdminHandlersUpdateOrderStatusIllegal(t *testing.T) {
	orders := &stubOrderService{
		updateStatusFunc: func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderIllegalTransition
		},
	}

	handler := NewAdminHandlers(orders, &stubPromotionService{})
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	req := withIdentity(
		httptest.NewRequest(http.MethodPatch, "/admin/orders/ord_1/status", jsonBody(`{"status":"DELIVERED"}`)),
		staffIdentity(),
	)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminHandlersUpdateOrderStatusMissingStatus(t *testing.T) {
	handler := NewAdminHandlers(&stubOrderService{}, &stubPromotionService{})
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	req := withIdentity(
		httptest.NewRequest(http.MethodPatch, "/admin/orders/ord_1/status", jsonBody(`{"note":"no status"}`)),
		staffIdentity(),
	)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminHandlersCreatePromotion(t *testing.T) {
	starts := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	promotions := &stubPromotionService{
		createFunc: func(ctx context.Context, cmd services.CreatePromotionCommand) (services.PromoCode, error) {
			if cmd.Code != "SPRING20" || cmd.Type != domain.DiscountTypePercentage || cmd.Value != 20 {
				t.Fatalf("unexpected command %#v", cmd)
			}
			if cmd.StartsAt == nil || !cmd.StartsAt.Equal(starts) {
				t.Fatalf("unexpected starts_at %#v", cmd.StartsAt)
			}
			if cmd.Actor != "staff:ops@example.com" {
				t.Fatalf("unexpected actor %q", cmd.Actor)
			}
			return services.PromoCode{
				Code:     "SPRING20",
				Type:     domain.DiscountTypePercentage,
				Value:    20,
				MaxUses:  100,
				StartsAt: &starts,
			}, nil
		},
	}

	handler := NewAdminHandlers(&stubOrderService{}, promotions)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	body := `{"code":"SPRING20","type":"PERCENTAGE","value":20,"max_uses":100,"starts_at":"2026-04-01T00:00:00Z"}`
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/admin/promotions", jsonBody(body)), staffIdentity())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp promotionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Promotion.Code != "SPRING20" || resp.Promotion.MaxUses != 100 {
		t.Fatalf("unexpected payload %#v", resp.Promotion)
	}
}

func TestAdminHandlersCreatePromotionConflict(t *testing.T) {
	promotions := &stubPromotionService{
		createFunc: func(context.Context, services.CreatePromotionCommand) (services.PromoCode, error) {
			return services.PromoCode{}, services.ErrPromotionExists
		},
	}

	handler := NewAdminHandlers(&stubOrderService{}, promotions)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	req := withIdentity(
		httptest.NewRequest(http.MethodPost, "/admin/promotions", jsonBody(`{"code":"SPRING20","type":"percentage","value":20}`)),
		staffIdentity(),
	)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminHandlersCreatePromotionBadTimestamp(t *testing.T) {
	handler := NewAdminHandlers(&stubOrderService{}, &stubPromotionService{})
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	req := withIdentity(
		httptest.NewRequest(http.MethodPost, "/admin/promotions", jsonBody(`{"code":"X","type":"fixed","value":5,"expires_at":"tomorrow"}`)),
		staffIdentity(),
	)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminHandlersGetPromotionNotFound(t *testing.T) {
	promotions := &stubPromotionService{
		getFunc: func(context.Context, string) (services.PromoCode, error) {
			return services.PromoCode{}, services.ErrPromotionNotFound
		},
	}

	handler := NewAdminHandlers(&stubOrderService{}, promotions)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/admin/promotions/NOPE", nil), staffIdentity())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
