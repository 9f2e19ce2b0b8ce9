package services

import (
	"context"
	"time"

	domain "github.com/souqline/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination      = domain.Pagination
	SortOrder       = domain.SortOrder
	Account         = domain.Account
	Cart            = domain.Cart
	Variant         = domain.Variant
	PromoCode       = domain.PromoCode
	CheckoutSession = domain.CheckoutSession
	Order           = domain.Order
	OrderStatus     = domain.OrderStatus
	OrderLineItem   = domain.OrderLineItem
	OrderTotals     = domain.OrderTotals
	ShippingAddress = domain.ShippingAddress
	StatusChange    = domain.StatusChange
	PaymentOutcome  = domain.PaymentOutcome
	OrderEvent      = domain.OrderEvent
)

// IdentityService manages guest and registered accounts, including the guest
// to registered conversion at signup and the cart merge at login.
type IdentityService interface {
	CreateGuest(ctx context.Context) (Account, error)
	GetAccount(ctx context.Context, accountID string) (Account, error)
	Register(ctx context.Context, cmd RegisterCommand) (Account, error)
	Login(ctx context.Context, cmd LoginCommand) (Account, error)
}

// RegisterCommand creates a registered account, converting or merging the
// caller's guest account when one is present.
type RegisterCommand struct {
	Email          string
	Password       string
	GuestAccountID string
}

// LoginCommand authenticates a registered account. When the caller carries a
// guest identity its cart folds into the registered cart additively.
type LoginCommand struct {
	Email          string
	Password       string
	GuestAccountID string
}

// CartService manages per-account cart state against the live catalog.
type CartService interface {
	GetCart(ctx context.Context, accountID string) (CartView, error)
	AddItem(ctx context.Context, cmd CartItemCommand) (CartView, error)
	UpdateItem(ctx context.Context, cmd CartItemCommand) (CartView, error)
	ClearCart(ctx context.Context, accountID string) error
}

// CartItemCommand mutates one variant line in the cart. For UpdateItem a
// non-positive quantity removes the line.
type CartItemCommand struct {
	AccountID string
	VariantID string
	Quantity  int64
}

// CartView is the cart hydrated against current catalog data.
type CartView struct {
	AccountID string
	Lines     []CartLine
	Subtotal  int64
	Currency  string
	UpdatedAt time.Time
}

// CartLine is a cart entry joined with its variant.
type CartLine struct {
	VariantID string
	Name      string
	UnitPrice int64
	Quantity  int64
	LineTotal int64
	Available bool
}

// PromotionService validates promo codes against cart subtotals. Validation is
// advisory; the authoritative use-count increment happens inside order
// settlement.
type PromotionService interface {
	Validate(ctx context.Context, cmd ValidatePromotionCommand) (PromotionValidation, error)
	Create(ctx context.Context, cmd CreatePromotionCommand) (PromoCode, error)
	Get(ctx context.Context, code string) (PromoCode, error)
}

// ValidatePromotionCommand checks one code against a subtotal.
type ValidatePromotionCommand struct {
	Code     string
	Subtotal int64
}

// PromotionValidation reports the outcome of an advisory validation.
type PromotionValidation struct {
	Valid          bool
	Code           string
	DiscountAmount int64
	Message        string
}

// CreatePromotionCommand defines a new promo code.
type CreatePromotionCommand struct {
	Code              string
	Type              domain.DiscountType
	Value             int64
	MinCartValue      int64
	MaxDiscountAmount int64
	MaxUses           int64
	StartsAt          *time.Time
	ExpiresAt         *time.Time
	Actor             string
}

// CheckoutService freezes the cart into a payable order and hands it to the
// payment gateway.
type CheckoutService interface {
	Initiate(ctx context.Context, cmd InitiateCheckoutCommand) (CheckoutResult, error)
}

// InitiateCheckoutCommand carries everything needed to place an order.
type InitiateCheckoutCommand struct {
	AccountID     string
	Email         string
	Name          string
	Phone         string
	Shipping      ShippingAddress
	PromoCode     string
	Provider      string
	PaymentMethod string
	WalletNumber  string
}

// Payment methods accepted at checkout.
const (
	PaymentMethodCard   = "card"
	PaymentMethodWallet = "wallet"
)

// CheckoutResult returns the pending order and the client-side payment handoff.
type CheckoutResult struct {
	Order        Order
	SessionID    string
	PaymentToken string
	RedirectURL  string
}

// OrderService owns the order lifecycle: settlement of verified payment
// outcomes, administrative transitions, and reads.
type OrderService interface {
	ApplyPaymentOutcome(ctx context.Context, outcome PaymentOutcome) (SettlementOutcome, error)
	GetOrder(ctx context.Context, orderID string, accountID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TrackByToken(ctx context.Context, token string) (OrderTracking, error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// SettlementOutcome reports what applying a payment outcome did.
type SettlementOutcome struct {
	Order          Order
	AlreadyApplied bool
	PromoSkipped   bool
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	AccountID  string
	Status     []OrderStatus
	Pagination Pagination
}

// OrderTracking is the public, token-scoped projection of an order. It omits
// account, billing, and payment details.
type OrderTracking struct {
	OrderNumber string
	Status      OrderStatus
	Items       []OrderLineItem
	Totals      OrderTotals
	History     []StatusChange
	CreatedAt   time.Time
}

// UpdateOrderStatusCommand is an administrative transition request.
type UpdateOrderStatusCommand struct {
	OrderID string
	Status  OrderStatus
	Note    string
	Actor   string
}

// CancelOrderCommand cancels an order before fulfilment.
type CancelOrderCommand struct {
	OrderID   string
	AccountID string
	Reason    string
	Actor     string
}

// CatalogService maintains the variant projection checkout prices against.
type CatalogService interface {
	GetVariant(ctx context.Context, variantID string) (Variant, error)
	UpsertVariant(ctx context.Context, cmd UpsertVariantCommand) (Variant, error)
}

// UpsertVariantCommand creates or replaces a catalog variant.
type UpsertVariantCommand struct {
	VariantID string
	Name      string
	UnitPrice int64
	Currency  string
	Stock     int64
	Active    bool
}

// EventPublisher emits order lifecycle events for downstream consumers.
// Publishing is best effort and never blocks the transactional path.
type EventPublisher interface {
	Publish(ctx context.Context, event OrderEvent) error
}
