package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// PaymobLogger defines the logging contract for Paymob provider operations.
type PaymobLogger func(ctx context.Context, event string, fields map[string]any)

// paymobHTTPClient abstracts the HTTP transport for testing.
type paymobHTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// PaymobProviderConfig configures the PaymobProvider.
type PaymobProviderConfig struct {
	BaseURL             string
	APIKey              string
	HMACSecret          string
	IntegrationID       string
	WalletIntegrationID string
	IframeID            string
	AuthTTL             time.Duration
	RequestTimeout      time.Duration
	HTTPClient          paymobHTTPClient
	Logger              PaymobLogger
	Clock               func() time.Time
}

// PaymobProvider implements the Provider interface against the Paymob Accept API.
// Auth tokens are memoized and refreshed lazily once they age past AuthTTL.
type PaymobProvider struct {
	baseURL             string
	apiKey              string
	hmacSecret          []byte
	integrationID       string
	walletIntegrationID string
	iframeID            string
	authTTL             time.Duration
	client              paymobHTTPClient
	breaker             *gobreaker.CircuitBreaker
	logger              PaymobLogger
	clock               func() time.Time

	mu          sync.Mutex
	authToken   string
	authExpires time.Time
}

// NewPaymobProvider constructs a Paymob Provider using the given configuration.
func NewPaymobProvider(cfg PaymobProviderConfig) (*PaymobProvider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("paymob: base url is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("paymob: api key is required")
	}
	if strings.TrimSpace(cfg.HMACSecret) == "" {
		return nil, errors.New("paymob: hmac secret is required")
	}
	if strings.TrimSpace(cfg.IntegrationID) == "" {
		return nil, errors.New("paymob: integration id is required")
	}

	authTTL := cfg.AuthTTL
	if authTTL <= 0 {
		authTTL = 50 * time.Minute
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "paymob",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
	})

	return &PaymobProvider{
		baseURL:             baseURL,
		apiKey:              strings.TrimSpace(cfg.APIKey),
		hmacSecret:          []byte(strings.TrimSpace(cfg.HMACSecret)),
		integrationID:       strings.TrimSpace(cfg.IntegrationID),
		walletIntegrationID: strings.TrimSpace(cfg.WalletIntegrationID),
		iframeID:            strings.TrimSpace(cfg.IframeID),
		authTTL:             authTTL,
		client:              client,
		breaker:             breaker,
		logger:              logger,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// authenticate returns a valid auth token, requesting a fresh one from the
// gateway when the memoized token is missing or expired.
func (p *PaymobProvider) authenticate(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	if p.authToken != "" && now.Before(p.authExpires) {
		return p.authToken, nil
	}

	var resp struct {
		Token string `json:"token"`
	}
	err := p.postJSON(ctx, "/auth/tokens", map[string]any{
		"api_key": p.apiKey,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("paymob: authenticate: %w", err)
	}
	if strings.TrimSpace(resp.Token) == "" {
		return "", errors.New("paymob: authenticate: empty token in response")
	}

	p.authToken = resp.Token
	p.authExpires = now.Add(p.authTTL)
	p.logger(ctx, "payments.paymob.authenticated", map[string]any{
		"expiresAt": p.authExpires,
	})
	return p.authToken, nil
}

// RegisterOrder mirrors the frozen order snapshot on the gateway side.
func (p *PaymobProvider) RegisterOrder(ctx context.Context, req RegisterOrderRequest) (OrderRegistration, error) {
	if p == nil {
		return OrderRegistration{}, errors.New("paymob: provider is nil")
	}
	token, err := p.authenticate(ctx)
	if err != nil {
		return OrderRegistration{}, err
	}

	items := make([]map[string]any, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, map[string]any{
			"name":         item.Name,
			"amount_cents": item.AmountCents,
			"quantity":     item.Quantity,
		})
	}

	var resp struct {
		ID        json.Number `json:"id"`
		CreatedAt string      `json:"created_at"`
	}
	err = p.postJSON(ctx, "/ecommerce/orders", map[string]any{
		"auth_token":        token,
		"delivery_needed":   false,
		"amount_cents":      req.AmountCents,
		"currency":          req.Currency,
		"merchant_order_id": req.MerchantOrderID,
		"items":             items,
	}, &resp)
	if err != nil {
		return OrderRegistration{}, fmt.Errorf("paymob: register order: %w", err)
	}
	if resp.ID.String() == "" {
		return OrderRegistration{}, errors.New("paymob: register order: missing order id in response")
	}

	createdAt := p.clock()
	if parsed, perr := time.Parse(time.RFC3339, resp.CreatedAt); perr == nil {
		createdAt = parsed.UTC()
	}

	p.logger(ctx, "payments.paymob.order.registered", map[string]any{
		"providerOrderId": resp.ID.String(),
		"merchantOrderId": req.MerchantOrderID,
	})

	return OrderRegistration{
		ProviderOrderID: resp.ID.String(),
		CreatedAt:       createdAt,
	}, nil
}

// RequestPaymentKey obtains a client-side payment token for a registered order.
func (p *PaymobProvider) RequestPaymentKey(ctx context.Context, req PaymentKeyRequest) (PaymentKey, error) {
	if p == nil {
		return PaymentKey{}, errors.New("paymob: provider is nil")
	}
	token, err := p.authenticate(ctx)
	if err != nil {
		return PaymentKey{}, err
	}

	const keyLifetime = 3600

	var resp struct {
		Token string `json:"token"`
	}
	err = p.postJSON(ctx, "/acceptance/payment_keys", map[string]any{
		"auth_token":     token,
		"amount_cents":   req.AmountCents,
		"currency":       req.Currency,
		"order_id":       req.ProviderOrderID,
		"integration_id": p.integrationID,
		"expiration":     keyLifetime,
		"billing_data":   paymobBillingData(req),
	}, &resp)
	if err != nil {
		return PaymentKey{}, fmt.Errorf("paymob: request payment key: %w", err)
	}
	if strings.TrimSpace(resp.Token) == "" {
		return PaymentKey{}, errors.New("paymob: request payment key: empty token in response")
	}

	return PaymentKey{
		Token:     resp.Token,
		ExpiresAt: p.clock().Add(keyLifetime * time.Second),
	}, nil
}

// BuildRedirectURL assembles the hosted payment page URL for the token.
func (p *PaymobProvider) BuildRedirectURL(paymentToken string) string {
	if p == nil || p.iframeID == "" {
		return ""
	}
	return fmt.Sprintf("%s/acceptance/iframes/%s?payment_token=%s", p.baseURL, p.iframeID, url.QueryEscape(paymentToken))
}

// InitiateWalletPayment starts a mobile wallet payment against the wallet integration.
func (p *PaymobProvider) InitiateWalletPayment(ctx context.Context, req WalletPaymentRequest) (WalletPayment, error) {
	if p == nil {
		return WalletPayment{}, errors.New("paymob: provider is nil")
	}
	if p.walletIntegrationID == "" {
		return WalletPayment{}, ErrWalletUnsupported
	}
	if strings.TrimSpace(req.WalletNumber) == "" {
		return WalletPayment{}, errors.New("paymob: wallet number is required")
	}

	var resp struct {
		RedirectURL          string `json:"redirect_url"`
		IframeRedirectionURL string `json:"iframe_redirection_url"`
		Pending              bool   `json:"pending"`
	}
	err := p.postJSON(ctx, "/acceptance/payments/pay", map[string]any{
		"payment_token": req.PaymentToken,
		"source": map[string]any{
			"identifier": req.WalletNumber,
			"subtype":    "WALLET",
		},
	}, &resp)
	if err != nil {
		return WalletPayment{}, fmt.Errorf("paymob: initiate wallet payment: %w", err)
	}

	redirect := resp.RedirectURL
	if redirect == "" {
		redirect = resp.IframeRedirectionURL
	}
	return WalletPayment{
		RedirectURL: redirect,
		Pending:     resp.Pending,
	}, nil
}

// paymobSignedFields is the exact concatenation order the gateway signs.
// Field names use dotted paths into the transaction object; absent fields
// contribute the empty string and booleans serialise as "true"/"false".
var paymobSignedFields = []string{
	"amount_cents",
	"created_at",
	"currency",
	"error_occured",
	"has_parent_transaction",
	"id",
	"integration_id",
	"is_3d_secure",
	"is_auth",
	"is_capture",
	"is_refunded",
	"is_standalone_payment",
	"is_voided",
	"order.id",
	"owner",
	"pending",
	"source_data.pan",
	"source_data.sub_type",
	"source_data.type",
	"success",
}

// VerifyCallback authenticates a server-to-server transaction notification.
// The signature argument is the hex HMAC the gateway appended to the callback URL.
func (p *PaymobProvider) VerifyCallback(body []byte, signature string) (CallbackOutcome, error) {
	if p == nil {
		return CallbackOutcome{}, errors.New("paymob: provider is nil")
	}

	var payload struct {
		Type string         `json:"type"`
		Obj  map[string]any `json:"obj"`
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		return CallbackOutcome{}, fmt.Errorf("paymob: decode callback: %w", err)
	}
	if payload.Obj == nil {
		return CallbackOutcome{}, errors.New("paymob: callback payload missing transaction object")
	}

	var concat strings.Builder
	for _, field := range paymobSignedFields {
		concat.WriteString(paymobFieldString(payload.Obj, field))
	}
	if !p.verifySignature(concat.String(), signature) {
		return CallbackOutcome{}, ErrInvalidSignature
	}

	return p.outcomeFromTransaction(payload.Obj), nil
}

// VerifyRedirect authenticates the browser redirect variant, where the signed
// transaction fields arrive flattened as query parameters.
func (p *PaymobProvider) VerifyRedirect(query url.Values) (CallbackOutcome, error) {
	if p == nil {
		return CallbackOutcome{}, errors.New("paymob: provider is nil")
	}

	var concat strings.Builder
	for _, field := range paymobSignedFields {
		// The redirect flattens "order.id" to "order"; source_data keys keep
		// their dotted form.
		key := field
		if key == "order.id" {
			key = "order"
		}
		concat.WriteString(query.Get(key))
	}
	if !p.verifySignature(concat.String(), query.Get("hmac")) {
		return CallbackOutcome{}, ErrInvalidSignature
	}

	success := query.Get("success") == "true"
	outcome := CallbackOutcome{
		ProviderOrderID: query.Get("order"),
		TransactionID:   query.Get("id"),
		Success:         success,
		Currency:        query.Get("currency"),
	}
	if cents, err := json.Number(query.Get("amount_cents")).Int64(); err == nil {
		outcome.AmountCents = cents
	}
	if !success {
		outcome.FailureReason = failureReasonOrDefault(query.Get("data.message"))
	}
	return outcome, nil
}

func (p *PaymobProvider) verifySignature(signed string, provided string) bool {
	provided = strings.ToLower(strings.TrimSpace(provided))
	if provided == "" {
		return false
	}
	mac := hmac.New(sha512.New, p.hmacSecret)
	mac.Write([]byte(signed))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(provided))
}

func (p *PaymobProvider) outcomeFromTransaction(obj map[string]any) CallbackOutcome {
	success := paymobFieldString(obj, "success") == "true"
	outcome := CallbackOutcome{
		ProviderOrderID: paymobFieldString(obj, "order.id"),
		TransactionID:   paymobFieldString(obj, "id"),
		Success:         success,
		Currency:        paymobFieldString(obj, "currency"),
	}
	if cents, err := json.Number(paymobFieldString(obj, "amount_cents")).Int64(); err == nil {
		outcome.AmountCents = cents
	}
	if !success {
		outcome.FailureReason = failureReasonOrDefault(paymobFieldString(obj, "data.message"))
	}
	return outcome
}

func failureReasonOrDefault(message string) string {
	if strings.TrimSpace(message) != "" {
		return message
	}
	return "payment declined by gateway"
}

// paymobFieldString resolves a dotted path inside the transaction object and
// renders the value the way the gateway does when signing.
func paymobFieldString(obj map[string]any, path string) string {
	var current any = obj
	for _, part := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = node[part]
		if !ok {
			return ""
		}
	}
	switch v := current.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case json.Number:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func paymobBillingData(req PaymentKeyRequest) map[string]any {
	// The gateway rejects empty billing fields; "NA" is its documented filler.
	orNA := func(value string) string {
		if strings.TrimSpace(value) == "" {
			return "NA"
		}
		return value
	}
	first, last := splitName(req.BillingName)
	return map[string]any{
		"email":           orNA(req.BillingEmail),
		"first_name":      orNA(first),
		"last_name":       orNA(last),
		"phone_number":    orNA(req.BillingPhone),
		"apartment":       "NA",
		"floor":           "NA",
		"street":          "NA",
		"building":        "NA",
		"shipping_method": "NA",
		"postal_code":     "NA",
		"city":            "NA",
		"country":         "NA",
		"state":           "NA",
	}
}

func splitName(full string) (string, string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}
	parts := strings.SplitN(full, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// postJSON executes a JSON POST through the circuit breaker and decodes the
// response into out.
func (p *PaymobProvider) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	result, err := p.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
		}
		return data, nil
	})
	if err != nil {
		return err
	}

	data, _ := result.([]byte)
	if out == nil || len(data) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ Provider = (*PaymobProvider)(nil)
