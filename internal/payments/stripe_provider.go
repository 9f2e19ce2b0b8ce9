package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Intents       stripePaymentIntentAPI
}

// StripeProvider implements the Provider interface for card payments.
// Orders map onto Payment Intents: the provider-side order id is the intent id
// and the payment key is the intent client secret, confirmed client-side.
type StripeProvider struct {
	intents       stripePaymentIntentAPI
	webhookSecret string
	clock         func() time.Time
	logger        StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Intents == nil {
		return nil, errors.New("stripe: api key is required")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}

	intents := cfg.Intents
	if intents == nil {
		sc := client.New(apiKey, cfg.Backends)
		intents = sc.PaymentIntents
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		intents:       intents,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// RegisterOrder creates a Payment Intent mirroring the frozen order snapshot.
func (p *StripeProvider) RegisterOrder(ctx context.Context, req RegisterOrderRequest) (OrderRegistration, error) {
	if p == nil {
		return OrderRegistration{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		Metadata: map[string]string{
			"merchant_order_id": req.MerchantOrderID,
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	intent, err := p.intents.New(params)
	if err != nil {
		return OrderRegistration{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent":   intent.ID,
		"merchantOrderId": req.MerchantOrderID,
	})

	return OrderRegistration{
		ProviderOrderID: intent.ID,
		CreatedAt:       time.Unix(intent.Created, 0).UTC(),
	}, nil
}

// RequestPaymentKey returns the client secret for the intent so the client can
// confirm the payment.
func (p *StripeProvider) RequestPaymentKey(ctx context.Context, req PaymentKeyRequest) (PaymentKey, error) {
	if p == nil {
		return PaymentKey{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := p.intents.Get(req.ProviderOrderID, params)
	if err != nil {
		return PaymentKey{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	if intent.ClientSecret == "" {
		return PaymentKey{}, errors.New("stripe: payment intent has no client secret")
	}

	return PaymentKey{
		Token:     intent.ClientSecret,
		ExpiresAt: p.clock().Add(time.Hour),
	}, nil
}

// BuildRedirectURL returns the empty string: card payments confirm in the
// client with the payment key rather than through a hosted redirect.
func (p *StripeProvider) BuildRedirectURL(string) string { return "" }

// InitiateWalletPayment is unsupported for card payments.
func (p *StripeProvider) InitiateWalletPayment(context.Context, WalletPaymentRequest) (WalletPayment, error) {
	return WalletPayment{}, ErrWalletUnsupported
}

// VerifyCallback authenticates a webhook delivery against the endpoint signing
// secret and normalises payment_intent events into an outcome.
func (p *StripeProvider) VerifyCallback(body []byte, signatureHeader string) (CallbackOutcome, error) {
	if p == nil {
		return CallbackOutcome{}, errors.New("stripe: provider is nil")
	}

	event, err := webhook.ConstructEvent(body, signatureHeader, p.webhookSecret)
	if err != nil {
		return CallbackOutcome{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return CallbackOutcome{}, fmt.Errorf("stripe: decode event payload: %w", err)
	}

	outcome := CallbackOutcome{
		ProviderOrderID: intent.ID,
		AmountCents:     intent.Amount,
		Currency:        strings.ToUpper(string(intent.Currency)),
	}
	if intent.LatestCharge != nil {
		outcome.TransactionID = intent.LatestCharge.ID
	}
	if outcome.TransactionID == "" {
		outcome.TransactionID = intent.ID
	}

	switch event.Type {
	case "payment_intent.succeeded":
		outcome.Success = true
	case "payment_intent.payment_failed", "payment_intent.canceled":
		outcome.Success = false
		if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
			outcome.FailureReason = intent.LastPaymentError.Msg
		} else {
			outcome.FailureReason = failureReasonOrDefault("")
		}
	default:
		return CallbackOutcome{}, fmt.Errorf("stripe: unhandled event type %q", event.Type)
	}

	return outcome, nil
}

// VerifyRedirect is unsupported: webhook deliveries are the only authenticated
// notification channel for this provider.
func (p *StripeProvider) VerifyRedirect(url.Values) (CallbackOutcome, error) {
	return CallbackOutcome{}, fmt.Errorf("%w: redirect verification not available for stripe", ErrInvalidSignature)
}

var _ Provider = (*StripeProvider)(nil)
