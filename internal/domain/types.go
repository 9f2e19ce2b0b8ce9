package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// AccountKind distinguishes anonymous cookie-bound identities from registered ones.
type AccountKind string

const (
	// AccountKindGuest marks an account created lazily for an unauthenticated visitor.
	AccountKindGuest AccountKind = "guest"
	// AccountKindRegistered marks an account with verified email credentials.
	AccountKindRegistered AccountKind = "registered"
)

// Account is the single identity record shared by guests and registered users.
// Cart, order, and promotion logic is written once against the account id
// regardless of kind.
type Account struct {
	ID            string
	Kind          AccountKind
	Email         string
	PasswordHash  string
	MergeSourceID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsGuest reports whether the account is an anonymous guest identity.
func (a Account) IsGuest() bool {
	return a.Kind == AccountKindGuest
}

// Cart maps variant ids to quantities for one account. The cart carries no
// identity of its own; it is keyed by the account that owns it.
type Cart struct {
	AccountID string
	Items     map[string]int64
	UpdatedAt time.Time
	ExpiresAt *time.Time
}

// IsEmpty reports whether the cart holds no items.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Variant is the catalog read model the checkout engine consumes: enough to
// price, name, and stock-check a line item. The engine never writes it outside
// of settlement stock decrements.
type Variant struct {
	ID        string
	Name      string
	UnitPrice int64
	Currency  string
	Stock     int64
	Active    bool
	UpdatedAt time.Time
}

// DiscountType tags the two supported promo discount shapes.
type DiscountType string

const (
	// DiscountTypePercentage discounts a percentage of the cart subtotal.
	DiscountTypePercentage DiscountType = "percentage"
	// DiscountTypeFixed discounts a fixed amount, capped at the subtotal.
	DiscountTypeFixed DiscountType = "fixed"
)

// PromoCode is a finite-use discount code with an optional validity window.
type PromoCode struct {
	Code              string
	Type              DiscountType
	Value             int64
	MinCartValue      int64
	MaxDiscountAmount int64
	MaxUses           int64
	UseCount          int64
	StartsAt          *time.Time
	ExpiresAt         *time.Time
	Deleted           bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ComputeDiscount returns the discount amount for the given subtotal in minor
// units. Percentage codes take subtotal*value/100; fixed codes take
// min(value, subtotal). The result is clamped to MaxDiscountAmount when set.
func (p PromoCode) ComputeDiscount(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	var discount int64
	switch p.Type {
	case DiscountTypePercentage:
		discount = subtotal * p.Value / 100
	case DiscountTypeFixed:
		discount = p.Value
		if discount > subtotal {
			discount = subtotal
		}
	}
	if p.MaxDiscountAmount > 0 && discount > p.MaxDiscountAmount {
		discount = p.MaxDiscountAmount
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

// CheckoutSessionStatus tracks the lifetime of a checkout session record.
type CheckoutSessionStatus string

const (
	// CheckoutSessionOpen indicates the session awaits a payment outcome.
	CheckoutSessionOpen CheckoutSessionStatus = "open"
	// CheckoutSessionSettled indicates the linked order reached a settled state.
	CheckoutSessionSettled CheckoutSessionStatus = "settled"
	// CheckoutSessionAbandoned indicates the session expired without payment.
	CheckoutSessionAbandoned CheckoutSessionStatus = "abandoned"
)

// CheckoutSession binds an account, a frozen item snapshot, and the provider
// transaction reference issued at checkout initialization. The snapshot is
// copied at creation and never re-derived from the cart or catalog.
type CheckoutSession struct {
	ID              string
	AccountID       string
	OrderID         string
	Items           []OrderLineItem
	PromoCode       string
	DiscountAmount  int64
	Totals          OrderTotals
	Provider        string
	ProviderOrderID string
	PaymentToken    string
	Status          CheckoutSessionStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderStatus enumerates the order state machine states.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment settlement.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusPaid indicates payment settled successfully.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered indicates the order reached the customer. Terminal.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled indicates the order was cancelled before shipment. Terminal.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusPaymentFailed indicates the provider reported a failed payment.
	OrderStatusPaymentFailed OrderStatus = "PAYMENT_FAILED"
)

// SettledOrLater reports whether the status is PAID or any state reachable
// only after payment settled. Used by the idempotent settlement path.
func (s OrderStatus) SettledOrLater() bool {
	switch s {
	case OrderStatusPaid, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// OrderLineItem is a frozen snapshot of one purchased variant. Name and unit
// price are copied at checkout initialization and never recomputed.
type OrderLineItem struct {
	VariantID string
	Name      string
	UnitPrice int64
	Quantity  int64
	Total     int64
}

// OrderTotals summarizes the priced order in minor units.
type OrderTotals struct {
	Subtotal int64
	Discount int64
	Total    int64
	Currency string
}

// ShippingAddress is the address snapshot captured at checkout.
type ShippingAddress struct {
	Recipient  string
	Line1      string
	Line2      string
	City       string
	PostalCode string
	Country    string
	Phone      string
}

// StatusChange is one append-only entry in an order's status history.
type StatusChange struct {
	Status    OrderStatus
	Note      string
	Actor     string
	ChangedAt time.Time
}

// Order is the durable purchase record. It is created once in PENDING at
// checkout initialization and mutated only through the order lifecycle
// manager; it is never deleted.
type Order struct {
	ID              string
	OrderNumber     string
	AccountID       string
	Items           []OrderLineItem
	Totals          OrderTotals
	PromoCode       string
	Shipping        ShippingAddress
	Status          OrderStatus
	History         []StatusChange
	Provider        string
	ProviderOrderID string
	ProviderTxnRef  string
	TrackingToken   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PaidAt          *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
}

// PaymentOutcome is the normalized result extracted from a verified provider
// callback.
type PaymentOutcome struct {
	Provider        string
	ProviderTxnRef  string
	ProviderOrderID string
	Success         bool
	Amount          int64
	Currency        string
	FailureReason   string
	ReceivedAt      time.Time
}

// OrderEvent is published after a lifecycle change for downstream consumers.
type OrderEvent struct {
	Type        string
	OrderID     string
	OrderNumber string
	AccountID   string
	Status      OrderStatus
	OccurredAt  time.Time
	Metadata    map[string]string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
