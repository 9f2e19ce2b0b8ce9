package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/platform/auth"
	"github.com/souqline/api/internal/services"
)

const checkoutRequestBody = `{
	"email": "shopper@example.com",
	"name": "Sara Adel",
	"phone": "+201001234567",
	"shipping": {
		"recipient": "Sara Adel",
		"line1": "12 Tahrir St",
		"city": "Cairo",
		"country": "EG"
	},
	"promo_code": "SAVE10",
	"provider": "paymob",
	"payment_method": "card"
}`

func TestCheckoutHandlersInitiateSuccess(t *testing.T) {
	service := &stubCheckoutService{
		initiateFunc: func(ctx context.Context, cmd services.InitiateCheckoutCommand) (services.CheckoutResult, error) {
			if cmd.AccountID != "acc_1" {
				t.Fatalf("unexpected account id %q", cmd.AccountID)
			}
			if cmd.Email != "shopper@example.com" || cmd.PromoCode != "SAVE10" {
				t.Fatalf("unexpected command %#v", cmd)
			}
			if cmd.Shipping.City != "Cairo" || cmd.Shipping.Country != "EG" {
				t.Fatalf("unexpected shipping %#v", cmd.Shipping)
			}
			return services.CheckoutResult{
				Order: services.Order{
					ID:            "ord_1",
					OrderNumber:   "SQ-2026-000042",
					Status:        domain.OrderStatusPending,
					Totals:        services.OrderTotals{Subtotal: 1000, Discount: 100, Total: 900, Currency: "EGP"},
					TrackingToken: "deadbeef",
				},
				SessionID:    "cs_1",
				PaymentToken: "tok_1",
				RedirectURL:  "https://pay.example.com/tok_1",
			}, nil
		},
	}

	handler := NewCheckoutHandlers(service)
	req := withIdentity(
		httptest.NewRequest(http.MethodPost, "/checkout", jsonBody(checkoutRequestBody)),
		&auth.Identity{AccountID: "acc_1", Kind: "guest"},
	)
	rr := httptest.NewRecorder()
	handler.initiate(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp checkoutResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order.OrderNumber != "SQ-2026-000042" || resp.Order.Status != "PENDING" {
		t.Fatalf("unexpected order payload %#v", resp.Order)
	}
	if resp.Order.TrackingToken != "deadbeef" {
		t.Fatalf("expected tracking token, got %q", resp.Order.TrackingToken)
	}
	if resp.RedirectURL != "https://pay.example.com/tok_1" || resp.PaymentToken != "tok_1" {
		t.Fatalf("unexpected payment handoff %#v", resp)
	}
	if resp.Order.Totals.Total != 900 {
		t.Fatalf("expected total 900, got %d", resp.Order.Totals.Total)
	}
}

func TestCheckoutHandlersInitiateOutOfStock(t *testing.T) {
	service := &stubCheckoutService{
		initiateFunc: func(context.Context, services.InitiateCheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{}, &services.OutOfStockError{Items: []string{"Blue mug", "Red mug"}}
		},
	}

	handler := NewCheckoutHandlers(service)
	req := withIdentity(
		httptest.NewRequest(http.MethodPost, "/checkout", jsonBody(checkoutRequestBody)),
		&auth.Identity{AccountID: "acc_1", Kind: "guest"},
	)
	rr := httptest.NewRecorder()
	handler.initiate(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	var resp struct {
		Error string   `json:"error"`
		Items []string `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != "out_of_stock" {
		t.Fatalf("expected out_of_stock code, got %q (%s)", resp.Error, rr.Body.String())
	}
	if len(resp.Items) != 2 || resp.Items[0] != "Blue mug" {
		t.Fatalf("expected offending item names in details, got %s", rr.Body.String())
	}
}

func TestCheckoutHandlersInitiateEmptyCart(t *testing.T) {
	service := &stubCheckoutService{
		initiateFunc: func(context.Context, services.InitiateCheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{}, services.ErrCheckoutEmptyCart
		},
	}

	handler := NewCheckoutHandlers(service)
	req := withIdentity(
		httptest.NewRequest(http.MethodPost, "/checkout", jsonBody(checkoutRequestBody)),
		&auth.Identity{AccountID: "acc_1", Kind: "guest"},
	)
	rr := httptest.NewRecorder()
	handler.initiate(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "empty_cart") {
		t.Fatalf("expected empty_cart code, got %s", rr.Body.String())
	}
}

func TestCheckoutHandlersInitiateGatewayFailed(t *testing.T) {
	service := &stubCheckoutService{
		initiateFunc: func(context.Context, services.InitiateCheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{}, services.ErrCheckoutGatewayFailed
		},
	}

	handler := NewCheckoutHandlers(service)
	req := withIdentity(
		httptest.NewRequest(http.MethodPost, "/checkout", jsonBody(checkoutRequestBody)),
		&auth.Identity{AccountID: "acc_1", Kind: "guest"},
	)
	rr := httptest.NewRecorder()
	handler.initiate(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}
}

func TestCheckoutHandlersInitiateInvalidPromo(t *testing.T) {
	service := &stubCheckoutService{
		initiateFunc: func(context.Context, services.InitiateCheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{}, services.ErrPromotionNotFound
		},
	}

	handler := NewCheckoutHandlers(service)
	req := withIdentity(
		httptest.NewRequest(http.MethodPost, "/checkout", jsonBody(checkoutRequestBody)),
		&auth.Identity{AccountID: "acc_1", Kind: "guest"},
	)
	rr := httptest.NewRecorder()
	handler.initiate(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid_promo_code") {
		t.Fatalf("expected invalid_promo_code, got %s", rr.Body.String())
	}
}

func TestCheckoutHandlersInitiateUnauthenticated(t *testing.T) {
	handler := NewCheckoutHandlers(&stubCheckoutService{})
	req := httptest.NewRequest(http.MethodPost, "/checkout", jsonBody(checkoutRequestBody))
	rr := httptest.NewRecorder()
	handler.initiate(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
