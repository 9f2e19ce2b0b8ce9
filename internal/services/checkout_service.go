package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/payments"
	"github.com/souqline/api/internal/platform/textutil"
	"github.com/souqline/api/internal/repositories"
)

var (
	errCheckoutCartsRequired      = errors.New("checkout service: carts repository is required")
	errCheckoutVariantsRequired   = errors.New("checkout service: variants repository is required")
	errCheckoutOrdersRequired     = errors.New("checkout service: orders repository is required")
	errCheckoutSessionsRequired   = errors.New("checkout service: sessions repository is required")
	errCheckoutCountersRequired   = errors.New("checkout service: counters repository is required")
	errCheckoutPromotionsRequired = errors.New("checkout service: promotion service is required")
	errCheckoutGatewayRequired    = errors.New("checkout service: payment gateway is required")
	errCheckoutClockRequired      = errors.New("checkout service: clock is required")
)

// ErrCheckoutInvalidInput indicates the caller supplied invalid input.
var ErrCheckoutInvalidInput = fmt.Errorf("checkout service: %w", ErrValidation)

// ErrCheckoutEmptyCart indicates the cart has no purchasable lines.
var ErrCheckoutEmptyCart = fmt.Errorf("checkout service: cart is empty: %w", ErrValidation)

// ErrCheckoutUnavailable indicates a storage dependency cannot fulfil the request.
var ErrCheckoutUnavailable = fmt.Errorf("checkout service: %w", ErrUpstream)

// ErrCheckoutGatewayFailed indicates the payment gateway rejected or timed out
// during registration. The order stays PENDING so the attempt can be retried.
var ErrCheckoutGatewayFailed = fmt.Errorf("checkout service: payment gateway failure: %w", ErrUpstream)

// OutOfStockError names the variants whose stock no longer covers the cart.
type OutOfStockError struct {
	Items []string
}

// Error implements the error interface.
func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("checkout service: insufficient stock for %s", strings.Join(e.Items, ", "))
}

// Unwrap exposes the conflict category.
func (e *OutOfStockError) Unwrap() error { return ErrConflict }

// orderNumberCounter seeds the per-year sequence behind order numbers.
const orderNumberCounterPrefix = "order-numbers-"

// trackingTokenBytes sizes the public tracking token; 32 random bytes keep it
// unguessable.
const trackingTokenBytes = 32

// PaymentGateway is the slice of the payments manager checkout depends on.
type PaymentGateway interface {
	RegisterOrder(ctx context.Context, provider string, req payments.RegisterOrderRequest) (string, payments.OrderRegistration, error)
	RequestPaymentKey(ctx context.Context, provider string, req payments.PaymentKeyRequest) (payments.PaymentKey, error)
	BuildRedirectURL(provider string, paymentToken string) (string, error)
	InitiateWalletPayment(ctx context.Context, provider string, req payments.WalletPaymentRequest) (payments.WalletPayment, error)
}

// CheckoutServiceDeps wires the repositories and gateway for checkout orchestration.
type CheckoutServiceDeps struct {
	Carts           repositories.CartRepository
	Variants        repositories.VariantRepository
	Orders          repositories.OrderRepository
	Sessions        repositories.CheckoutSessionRepository
	Counters        repositories.CounterRepository
	Promotions      PromotionService
	Gateway         PaymentGateway
	Events          EventPublisher
	Clock           func() time.Time
	IDGenerator     func() string
	TokenGenerator  func() (string, error)
	Logger          func(context.Context, string, map[string]any)
	DefaultCurrency string
}

type checkoutService struct {
	carts      repositories.CartRepository
	variants   repositories.VariantRepository
	orders     repositories.OrderRepository
	sessions   repositories.CheckoutSessionRepository
	counters   repositories.CounterRepository
	promotions PromotionService
	gateway    PaymentGateway
	events     EventPublisher
	now        func() time.Time
	newID      func() string
	newToken   func() (string, error)
	logger     func(context.Context, string, map[string]any)
	currency   string
}

// NewCheckoutService constructs a CheckoutService enforcing dependency validation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errCheckoutCartsRequired
	}
	if deps.Variants == nil {
		return nil, errCheckoutVariantsRequired
	}
	if deps.Orders == nil {
		return nil, errCheckoutOrdersRequired
	}
	if deps.Sessions == nil {
		return nil, errCheckoutSessionsRequired
	}
	if deps.Counters == nil {
		return nil, errCheckoutCountersRequired
	}
	if deps.Promotions == nil {
		return nil, errCheckoutPromotionsRequired
	}
	if deps.Gateway == nil {
		return nil, errCheckoutGatewayRequired
	}
	if deps.Clock == nil {
		return nil, errCheckoutClockRequired
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	tokenGen := deps.TokenGenerator
	if tokenGen == nil {
		tokenGen = func() (string, error) {
			buf := make([]byte, trackingTokenBytes)
			if _, err := rand.Read(buf); err != nil {
				return "", err
			}
			return hex.EncodeToString(buf), nil
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = "EGP"
	}

	return &checkoutService{
		carts:      deps.Carts,
		variants:   deps.Variants,
		orders:     deps.Orders,
		sessions:   deps.Sessions,
		counters:   deps.Counters,
		promotions: deps.Promotions,
		gateway:    deps.Gateway,
		events:     deps.Events,
		now:        func() time.Time { return deps.Clock().UTC() },
		newID:      idGen,
		newToken:   tokenGen,
		logger:     logger,
		currency:   currency,
	}, nil
}

// Initiate freezes the cart into a PENDING order and registers it with the
// payment gateway. Prices and the discount are snapshotted here; later catalog
// or promotion changes never alter the order.
func (s *checkoutService) Initiate(ctx context.Context, cmd InitiateCheckoutCommand) (CheckoutResult, error) {
	accountID := strings.TrimSpace(cmd.AccountID)
	if accountID == "" {
		return CheckoutResult{}, ErrCheckoutInvalidInput
	}
	method := strings.ToLower(strings.TrimSpace(cmd.PaymentMethod))
	if method == "" {
		method = PaymentMethodCard
	}
	if method != PaymentMethodCard && method != PaymentMethodWallet {
		return CheckoutResult{}, ErrCheckoutInvalidInput
	}
	if method == PaymentMethodWallet && strings.TrimSpace(cmd.WalletNumber) == "" {
		return CheckoutResult{}, ErrCheckoutInvalidInput
	}

	cart, err := s.carts.Get(ctx, accountID)
	if err != nil {
		return CheckoutResult{}, s.translateRepoError(err)
	}
	if cart.IsEmpty() {
		return CheckoutResult{}, ErrCheckoutEmptyCart
	}

	lines, totals, err := s.freezeCart(ctx, cart)
	if err != nil {
		return CheckoutResult{}, err
	}

	promoCode := textutil.CanonicalCode(cmd.PromoCode)
	discount := int64(0)
	if promoCode != "" {
		validation, err := s.promotions.Validate(ctx, ValidatePromotionCommand{
			Code:     promoCode,
			Subtotal: totals.Subtotal,
		})
		if err != nil {
			return CheckoutResult{}, err
		}
		discount = validation.DiscountAmount
	}
	totals.Discount = discount
	totals.Total = totals.Subtotal - discount
	if totals.Total < 0 {
		totals.Total = 0
	}

	now := s.now()
	number, err := s.nextOrderNumber(ctx, now)
	if err != nil {
		return CheckoutResult{}, err
	}
	token, err := s.newToken()
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("checkout service: generate tracking token: %w", err)
	}

	order := domain.Order{
		ID:            "ord_" + s.newID(),
		OrderNumber:   number,
		AccountID:     accountID,
		Status:        domain.OrderStatusPending,
		Items:         lines,
		PromoCode:     promoCode,
		Totals:        totals,
		Shipping:      cmd.Shipping,
		TrackingToken: token,
		History: []domain.StatusChange{{
			Status:    domain.OrderStatusPending,
			Note:      "order placed",
			Actor:     accountID,
			ChangedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return CheckoutResult{}, s.translateRepoError(err)
	}

	s.logger(ctx, "checkout.order.created", map[string]any{
		"orderId":   order.ID,
		"number":    order.OrderNumber,
		"accountId": accountID,
		"total":     totals.Total,
	})

	result, err := s.registerWithGateway(ctx, cmd, order, now)
	if err != nil {
		// The order stays PENDING; a retry can register it again.
		s.logger(ctx, "checkout.gateway.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return CheckoutResult{}, ErrCheckoutGatewayFailed
	}

	// The cart survives initiation; it is cleared only when the payment
	// settles, so an abandoned or failed payment leaves the cart intact.
	s.publish(ctx, domain.OrderEvent{
		Type:        "order.created",
		OrderID:     result.Order.ID,
		OrderNumber: result.Order.OrderNumber,
		AccountID:   accountID,
		Status:      result.Order.Status,
		OccurredAt:  now,
	})

	return result, nil
}

// freezeCart revalidates every cart line against the live catalog and builds
// the immutable order snapshot.
func (s *checkoutService) freezeCart(ctx context.Context, cart domain.Cart) ([]domain.OrderLineItem, domain.OrderTotals, error) {
	ids := make([]string, 0, len(cart.Items))
	for id := range cart.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	variants, err := s.variants.FindByIDs(ctx, ids)
	if err != nil {
		return nil, domain.OrderTotals{}, s.translateRepoError(err)
	}

	var short []string
	lines := make([]domain.OrderLineItem, 0, len(ids))
	totals := domain.OrderTotals{Currency: s.currency}

	for _, id := range ids {
		qty := cart.Items[id]
		variant, ok := variants[id]
		if !ok || !variant.Active || variant.Stock < qty {
			name := id
			if ok && variant.Name != "" {
				name = variant.Name
			}
			short = append(short, name)
			continue
		}
		line := domain.OrderLineItem{
			VariantID: id,
			Name:      variant.Name,
			UnitPrice: variant.UnitPrice,
			Quantity:  qty,
			Total:     variant.UnitPrice * qty,
		}
		if variant.Currency != "" {
			totals.Currency = variant.Currency
		}
		totals.Subtotal += line.Total
		lines = append(lines, line)
	}

	if len(short) > 0 {
		return nil, domain.OrderTotals{}, &OutOfStockError{Items: short}
	}
	return lines, totals, nil
}

// registerWithGateway runs the provider handshake and persists the session.
func (s *checkoutService) registerWithGateway(ctx context.Context, cmd InitiateCheckoutCommand, order domain.Order, now time.Time) (CheckoutResult, error) {
	items := make([]payments.OrderItem, 0, len(order.Items))
	for _, line := range order.Items {
		items = append(items, payments.OrderItem{
			Name:        line.Name,
			AmountCents: line.UnitPrice,
			Quantity:    line.Quantity,
		})
	}

	providerKey, registration, err := s.gateway.RegisterOrder(ctx, cmd.Provider, payments.RegisterOrderRequest{
		MerchantOrderID: order.OrderNumber,
		AmountCents:     order.Totals.Total,
		Currency:        order.Totals.Currency,
		Items:           items,
		IdempotencyKey:  order.ID,
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	key, err := s.gateway.RequestPaymentKey(ctx, providerKey, payments.PaymentKeyRequest{
		ProviderOrderID: registration.ProviderOrderID,
		AmountCents:     order.Totals.Total,
		Currency:        order.Totals.Currency,
		BillingEmail:    cmd.Email,
		BillingName:     cmd.Name,
		BillingPhone:    cmd.Phone,
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	redirectURL, err := s.gateway.BuildRedirectURL(providerKey, key.Token)
	if err != nil {
		return CheckoutResult{}, err
	}

	method := strings.ToLower(strings.TrimSpace(cmd.PaymentMethod))
	if method == PaymentMethodWallet {
		wallet, err := s.gateway.InitiateWalletPayment(ctx, providerKey, payments.WalletPaymentRequest{
			PaymentToken: key.Token,
			WalletNumber: cmd.WalletNumber,
		})
		if err != nil {
			return CheckoutResult{}, err
		}
		if wallet.RedirectURL != "" {
			redirectURL = wallet.RedirectURL
		}
	}

	updated, err := s.orders.SetProviderRegistration(ctx, order.ID, repositories.ProviderRegistration{
		Provider:        providerKey,
		ProviderOrderID: registration.ProviderOrderID,
		Now:             now,
	})
	if err != nil {
		return CheckoutResult{}, s.translateRepoError(err)
	}

	session := domain.CheckoutSession{
		ID:              "cs_" + s.newID(),
		AccountID:       order.AccountID,
		OrderID:         order.ID,
		Items:           order.Items,
		PromoCode:       order.PromoCode,
		DiscountAmount:  order.Totals.Discount,
		Totals:          order.Totals,
		Provider:        providerKey,
		ProviderOrderID: registration.ProviderOrderID,
		PaymentToken:    key.Token,
		Status:          domain.CheckoutSessionOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.sessions.Insert(ctx, session); err != nil {
		return CheckoutResult{}, s.translateRepoError(err)
	}

	return CheckoutResult{
		Order:        updated,
		SessionID:    session.ID,
		PaymentToken: key.Token,
		RedirectURL:  redirectURL,
	}, nil
}

func (s *checkoutService) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	year := now.Year()
	seq, err := s.counters.Next(ctx, fmt.Sprintf("%s%d", orderNumberCounterPrefix, year), 1)
	if err != nil {
		return "", s.translateRepoError(err)
	}
	return fmt.Sprintf("SQ-%d-%06d", year, seq), nil
}

func (s *checkoutService) publish(ctx context.Context, event domain.OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"orderId": event.OrderID,
			"type":    event.Type,
			"error":   err.Error(),
		})
	}
}

func (s *checkoutService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("checkout service: %w", ErrNotFound)
		case repoErr.IsConflict():
			return fmt.Errorf("checkout service: %w", ErrConflict)
		}
	}
	return ErrCheckoutUnavailable
}
