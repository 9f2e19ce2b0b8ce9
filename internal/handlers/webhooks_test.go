package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/payments"
	"github.com/souqline/api/internal/services"
)

var webhookNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newWebhookRouter(gateway PaymentGatewayVerifier, orders services.OrderService) http.Handler {
	handler := NewWebhookHandlers(WebhookHandlersConfig{
		Gateway:    gateway,
		Orders:     orders,
		SuccessURL: "https://shop.example.com/checkout/success",
		FailureURL: "https://shop.example.com/checkout/failed",
		Clock:      func() time.Time { return webhookNow },
	})
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)
	return router
}

func TestWebhookHandlersCallbackSettlesOrder(t *testing.T) {
	gateway := &stubGatewayVerifier{
		verifyCallbackFunc: func(provider string, body []byte, signature string) (payments.CallbackOutcome, error) {
			if provider != "paymob" {
				t.Fatalf("unexpected provider %q", provider)
			}
			if signature != "cafef00d" {
				t.Fatalf("unexpected signature %q", signature)
			}
			return payments.CallbackOutcome{
				Provider:        "paymob",
				ProviderOrderID: "1001",
				TransactionID:   "txn_77",
				Success:         true,
				AmountCents:     900,
				Currency:        "EGP",
			}, nil
		},
	}

	var applied services.PaymentOutcome
	orders := &stubOrderService{
		applyOutcomeFunc: func(ctx context.Context, outcome services.PaymentOutcome) (services.SettlementOutcome, error) {
			applied = outcome
			order := sampleOrder()
			return services.SettlementOutcome{Order: order}, nil
		},
	}

	router := newWebhookRouter(gateway, orders)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/paymob?hmac=cafef00d", jsonBody(`{"obj":{"id":77}}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if applied.Provider != "paymob" || applied.ProviderTxnRef != "txn_77" || applied.ProviderOrderID != "1001" {
		t.Fatalf("unexpected outcome %#v", applied)
	}
	if !applied.Success || applied.Amount != 900 || !applied.ReceivedAt.Equal(webhookNow) {
		t.Fatalf("unexpected outcome %#v", applied)
	}
}

func TestWebhookHandlersCallbackStripeSignatureHeader(t *testing.T) {
	gateway := &stubGatewayVerifier{
		verifyCallbackFunc: func(provider string, body []byte, signature string) (payments.CallbackOutcome, error) {
			if provider != "stripe" {
				t.Fatalf("unexpected provider %q", provider)
			}
			if signature != "t=1709294400,v1=deadbeef" {
				t.Fatalf("expected header signature to reach the verifier, got %q", signature)
			}
			return payments.CallbackOutcome{
				Provider:        "stripe",
				ProviderOrderID: "pi_42",
				TransactionID:   "pi_42",
				Success:         true,
			}, nil
		},
	}
	orders := &stubOrderService{
		applyOutcomeFunc: func(context.Context, services.PaymentOutcome) (services.SettlementOutcome, error) {
			return services.SettlementOutcome{Order: sampleOrder()}, nil
		},
	}

	router := newWebhookRouter(gateway, orders)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", jsonBody(`{"type":"payment_intent.succeeded"}`))
	req.Header.Set("Stripe-Signature", "t=1709294400,v1=deadbeef")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebhookHandlersCallbackRejectsBadSignature(t *testing.T) {
	gateway := &stubGatewayVerifier{
		verifyCallbackFunc: func(string, []byte, string) (payments.CallbackOutcome, error) {
			return payments.CallbackOutcome{}, payments.ErrInvalidSignature
		},
	}
	orders := &stubOrderService{
		applyOutcomeFunc: func(context.Context, services.PaymentOutcome) (services.SettlementOutcome, error) {
			t.Fatal("settlement must not run for an unverified callback")
			return services.SettlementOutcome{}, nil
		},
	}

	router := newWebhookRouter(gateway, orders)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/paymob?hmac=wrong", jsonBody(`{"obj":{}}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	// The rejection must not explain which check failed.
	body := rr.Body.String()
	if strings.Contains(body, "signature") || strings.Contains(body, "hmac") {
		t.Fatalf("rejection leaks verification detail: %s", body)
	}
}

func TestWebhookHandlersCallbackUnknownProvider(t *testing.T) {
	gateway := &stubGatewayVerifier{
		verifyCallbackFunc: func(string, []byte, string) (payments.CallbackOutcome, error) {
			return payments.CallbackOutcome{}, payments.ErrUnsupportedProvider
		},
	}

	router := newWebhookRouter(gateway, &stubOrderService{})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/nope?hmac=x", jsonBody(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestWebhookHandlersCallbackSettlementUnavailable(t *testing.T) {
	gateway := &stubGatewayVerifier{
		verifyCallbackFunc: func(string, []byte, string) (payments.CallbackOutcome, error) {
			return payments.CallbackOutcome{Provider: "paymob", ProviderOrderID: "1001", Success: true}, nil
		},
	}
	orders := &stubOrderService{
		applyOutcomeFunc: func(context.Context, services.PaymentOutcome) (services.SettlementOutcome, error) {
			return services.SettlementOutcome{}, services.ErrOrderUnavailable
		},
	}

	router := newWebhookRouter(gateway, orders)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/paymob?hmac=ok", jsonBody(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	// 503 tells the gateway to retry the notification.
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestWebhookHandlersRedirectSuccess(t *testing.T) {
	gateway := &stubGatewayVerifier{
		verifyRedirectFunc: func(provider string, query url.Values) (payments.CallbackOutcome, error) {
			if query.Get("success") != "true" {
				t.Fatalf("expected query to be passed through, got %v", query)
			}
			return payments.CallbackOutcome{Provider: "paymob", ProviderOrderID: "1001", TransactionID: "txn_77", Success: true}, nil
		},
	}
	orders := &stubOrderService{
		applyOutcomeFunc: func(context.Context, services.PaymentOutcome) (services.SettlementOutcome, error) {
			return services.SettlementOutcome{Order: sampleOrder(), AlreadyApplied: true}, nil
		},
	}

	router := newWebhookRouter(gateway, orders)
	req := httptest.NewRequest(http.MethodGet, "/webhooks/payments/paymob/redirect?success=true&hmac=cafe", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", rr.Code)
	}
	location := rr.Header().Get("Location")
	if !strings.HasPrefix(location, "https://shop.example.com/checkout/success") {
		t.Fatalf("expected success redirect, got %q", location)
	}
	if !strings.Contains(location, "order=SQ-2026-000042") {
		t.Fatalf("expected order number in redirect, got %q", location)
	}
}

func TestWebhookHandlersRedirectFailedPayment(t *testing.T) {
	gateway := &stubGatewayVerifier{
		verifyRedirectFunc: func(string, url.Values) (payments.CallbackOutcome, error) {
			return payments.CallbackOutcome{Provider: "paymob", ProviderOrderID: "1001", Success: false, FailureReason: "declined"}, nil
		},
	}
	orders := &stubOrderService{
		applyOutcomeFunc: func(context.Context, services.PaymentOutcome) (services.SettlementOutcome, error) {
			order := sampleOrder()
			order.Status = domain.OrderStatusPaymentFailed
			return services.SettlementOutcome{Order: order}, nil
		},
	}

	router := newWebhookRouter(gateway, orders)
	req := httptest.NewRequest(http.MethodGet, "/webhooks/payments/paymob/redirect?success=false&hmac=cafe", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", rr.Code)
	}
	if !strings.HasPrefix(rr.Header().Get("Location"), "https://shop.example.com/checkout/failed") {
		t.Fatalf("expected failure redirect, got %q", rr.Header().Get("Location"))
	}
}

func TestWebhookHandlersRedirectBadSignature(t *testing.T) {
	gateway := &stubGatewayVerifier{
		verifyRedirectFunc: func(string, url.Values) (payments.CallbackOutcome, error) {
			return payments.CallbackOutcome{}, payments.ErrInvalidSignature
		},
	}
	orders := &stubOrderService{
		applyOutcomeFunc: func(context.Context, services.PaymentOutcome) (services.SettlementOutcome, error) {
			t.Fatal("settlement must not run for an unverified redirect")
			return services.SettlementOutcome{}, nil
		},
	}

	router := newWebhookRouter(gateway, orders)
	req := httptest.NewRequest(http.MethodGet, "/webhooks/payments/paymob/redirect?hmac=wrong", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", rr.Code)
	}
	location := rr.Header().Get("Location")
	if location != "https://shop.example.com/checkout/failed" {
		t.Fatalf("expected bare failure redirect, got %q", location)
	}
}
