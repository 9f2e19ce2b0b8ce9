package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Sentinel errors shared by all gateway adapters.
var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrWalletUnsupported is returned by providers without a mobile wallet flow.
	ErrWalletUnsupported = errors.New("payments: wallet payments not supported by provider")
	// ErrInvalidSignature is returned when a callback fails signature verification.
	ErrInvalidSignature = errors.New("payments: invalid callback signature")
)

// RegisterOrderRequest carries the frozen order snapshot to the gateway.
type RegisterOrderRequest struct {
	MerchantOrderID string
	AmountCents     int64
	Currency        string
	Items           []OrderItem
	IdempotencyKey  string
}

// OrderItem describes one purchased line for gateway-side display.
type OrderItem struct {
	Name        string
	AmountCents int64
	Quantity    int64
}

// OrderRegistration is the gateway-side handle for a registered order.
type OrderRegistration struct {
	ProviderOrderID string
	CreatedAt       time.Time
}

// PaymentKeyRequest asks the gateway for a client-side payment token.
type PaymentKeyRequest struct {
	ProviderOrderID string
	AmountCents     int64
	Currency        string
	BillingEmail    string
	BillingName     string
	BillingPhone    string
}

// PaymentKey is the short-lived token a client presents to the hosted payment page.
type PaymentKey struct {
	Token     string
	ExpiresAt time.Time
}

// WalletPaymentRequest initiates a mobile wallet payment for a registered order.
type WalletPaymentRequest struct {
	PaymentToken string
	WalletNumber string
}

// WalletPayment carries the wallet handoff returned by the gateway.
type WalletPayment struct {
	RedirectURL string
	Pending     bool
}

// CallbackOutcome is the normalised, verified result of a gateway notification.
type CallbackOutcome struct {
	Provider        string
	ProviderOrderID string
	TransactionID   string
	Success         bool
	AmountCents     int64
	Currency        string
	FailureReason   string
}

// Provider defines the contract every payment gateway adapter implements.
// VerifyCallback and VerifyRedirect authenticate inbound data cryptographically
// and must never trust unverified fields.
type Provider interface {
	RegisterOrder(ctx context.Context, req RegisterOrderRequest) (OrderRegistration, error)
	RequestPaymentKey(ctx context.Context, req PaymentKeyRequest) (PaymentKey, error)
	BuildRedirectURL(paymentToken string) string
	InitiateWalletPayment(ctx context.Context, req WalletPaymentRequest) (WalletPayment, error)
	VerifyCallback(body []byte, header string) (CallbackOutcome, error)
	VerifyRedirect(query url.Values) (CallbackOutcome, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when callers express no preference.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.TrimSpace(strings.ToLower(provider))
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap[ProviderPaymob]; ok {
		m.defaultProvider = ProviderPaymob
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Provider names registered with the manager.
const (
	ProviderPaymob = "paymob"
	ProviderStripe = "stripe"
)

// Resolve returns the adapter for the named provider, falling back to the
// default when name is empty.
func (m *Manager) Resolve(name string) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	key := strings.TrimSpace(strings.ToLower(name))
	if key == "" {
		key = m.defaultProvider
	}
	if key == "" && len(m.providers) == 1 {
		for k, p := range m.providers {
			return k, p, nil
		}
	}
	if p, ok := m.providers[key]; ok {
		return key, p, nil
	}
	return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
}

// RegisterOrder delegates to the resolved provider.
func (m *Manager) RegisterOrder(ctx context.Context, provider string, req RegisterOrderRequest) (string, OrderRegistration, error) {
	key, p, err := m.Resolve(provider)
	if err != nil {
		return "", OrderRegistration{}, err
	}
	reg, err := p.RegisterOrder(ctx, req)
	if err != nil {
		return key, OrderRegistration{}, err
	}
	return key, reg, nil
}

// RequestPaymentKey delegates to the resolved provider.
func (m *Manager) RequestPaymentKey(ctx context.Context, provider string, req PaymentKeyRequest) (PaymentKey, error) {
	_, p, err := m.Resolve(provider)
	if err != nil {
		return PaymentKey{}, err
	}
	return p.RequestPaymentKey(ctx, req)
}

// BuildRedirectURL delegates to the resolved provider.
func (m *Manager) BuildRedirectURL(provider string, paymentToken string) (string, error) {
	_, p, err := m.Resolve(provider)
	if err != nil {
		return "", err
	}
	return p.BuildRedirectURL(paymentToken), nil
}

// InitiateWalletPayment delegates to the resolved provider.
func (m *Manager) InitiateWalletPayment(ctx context.Context, provider string, req WalletPaymentRequest) (WalletPayment, error) {
	_, p, err := m.Resolve(provider)
	if err != nil {
		return WalletPayment{}, err
	}
	return p.InitiateWalletPayment(ctx, req)
}

// VerifyCallback delegates to the resolved provider and stamps the outcome
// with the resolved provider key.
func (m *Manager) VerifyCallback(provider string, body []byte, header string) (CallbackOutcome, error) {
	key, p, err := m.Resolve(provider)
	if err != nil {
		return CallbackOutcome{}, err
	}
	outcome, err := p.VerifyCallback(body, header)
	if err != nil {
		return CallbackOutcome{}, err
	}
	outcome.Provider = key
	return outcome, nil
}

// VerifyRedirect delegates to the resolved provider and stamps the outcome
// with the resolved provider key.
func (m *Manager) VerifyRedirect(provider string, query url.Values) (CallbackOutcome, error) {
	key, p, err := m.Resolve(provider)
	if err != nil {
		return CallbackOutcome{}, err
	}
	outcome, err := p.VerifyRedirect(query)
	if err != nil {
		return CallbackOutcome{}, err
	}
	outcome.Provider = key
	return outcome, nil
}
