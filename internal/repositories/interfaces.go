package repositories

import (
	"context"
	"time"

	domain "github.com/souqline/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Accounts() AccountRepository
	Carts() CartRepository
	Variants() VariantRepository
	Promotions() PromotionRepository
	Orders() OrderRepository
	CheckoutSessions() CheckoutSessionRepository
	Counters() CounterRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AccountRepository stores guest and registered account records.
type AccountRepository interface {
	Insert(ctx context.Context, account domain.Account) error
	Update(ctx context.Context, account domain.Account) error
	Delete(ctx context.Context, accountID string) error
	FindByID(ctx context.Context, accountID string) (domain.Account, error)
	FindByEmail(ctx context.Context, email string) (domain.Account, error)
}

// CartRepository owns the account → {variant → quantity} mapping. Item
// mutations must be atomic per variant key so concurrent requests for the
// same account never lose updates.
type CartRepository interface {
	Get(ctx context.Context, accountID string) (domain.Cart, error)
	// AddItem atomically increments the quantity for one variant key.
	AddItem(ctx context.Context, accountID string, variantID string, qty int64, now time.Time, expiresAt *time.Time) error
	// SetItem overwrites the quantity for one variant key; qty <= 0 deletes the key.
	SetItem(ctx context.Context, accountID string, variantID string, qty int64, now time.Time) error
	Clear(ctx context.Context, accountID string, now time.Time) error
	// Merge folds every source entry into the destination cart additively and
	// clears the source, all inside one transaction. An empty source is a no-op.
	Merge(ctx context.Context, sourceAccountID string, destAccountID string, now time.Time) error
}

// VariantRepository reads the catalog projection the checkout engine prices
// against. Stock decrements happen inside the order settlement transaction,
// not through this interface.
type VariantRepository interface {
	FindByID(ctx context.Context, variantID string) (domain.Variant, error)
	FindByIDs(ctx context.Context, variantIDs []string) (map[string]domain.Variant, error)
	Upsert(ctx context.Context, variant domain.Variant) error
}

// PromotionRepository maintains promo code definitions and their use counters.
type PromotionRepository interface {
	Insert(ctx context.Context, promo domain.PromoCode) error
	Update(ctx context.Context, promo domain.PromoCode) error
	FindByCode(ctx context.Context, code string) (domain.PromoCode, error)
}

// OrderRepository persists order records and runs the transactional mutations
// the lifecycle manager relies on.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByTrackingToken(ctx context.Context, token string) (domain.Order, error)
	FindByProviderRef(ctx context.Context, provider string, providerTxnRef string) (domain.Order, error)
	HasOrders(ctx context.Context, accountID string) (bool, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// SetProviderRegistration records the gateway-side transaction reference
	// issued at checkout initialization while leaving the order PENDING.
	SetProviderRegistration(ctx context.Context, orderID string, reg ProviderRegistration) (domain.Order, error)
	// ApplyTransition checks the requested transition against the current
	// status and appends the history entry in one transaction.
	ApplyTransition(ctx context.Context, cmd TransitionCommand) (domain.Order, error)
	// Settle applies a payment outcome as a single atomic unit: status
	// transition, per-line stock decrement, and promo use-count increment all
	// succeed or none do. A repeat delivery for an already settled order
	// returns AlreadyApplied without side effects.
	Settle(ctx context.Context, cmd SettlementCommand) (SettlementResult, error)
}

// ProviderRegistration captures the gateway references persisted after
// checkout step six.
type ProviderRegistration struct {
	Provider        string
	ProviderOrderID string
	ProviderTxnRef  string
	Now             time.Time
}

// TransitionCommand describes an administrative or lifecycle status change.
type TransitionCommand struct {
	OrderID string
	From    []domain.OrderStatus
	To      domain.OrderStatus
	Note    string
	Actor   string
	Now     time.Time
}

// SettlementCommand carries a verified payment outcome into the settlement
// transaction.
type SettlementCommand struct {
	Provider        string
	ProviderOrderID string
	ProviderTxnRef  string
	Success         bool
	FailureReason   string
	Actor           string
	Now             time.Time
}

// SettlementResult reports what the settlement transaction did.
type SettlementResult struct {
	Order domain.Order
	// AlreadyApplied is set when the order had settled before this call; the
	// repeat delivery is a successful no-op.
	AlreadyApplied bool
	// PromoSkipped is set when the promo use limit was exhausted between
	// validation and settlement; the order still settles at its frozen total.
	PromoSkipped bool
}

// CheckoutSessionRepository stores the ephemeral order ↔ provider binding.
type CheckoutSessionRepository interface {
	Insert(ctx context.Context, session domain.CheckoutSession) error
	Update(ctx context.Context, session domain.CheckoutSession) error
	FindByID(ctx context.Context, sessionID string) (domain.CheckoutSession, error)
	FindByOrderID(ctx context.Context, orderID string) (domain.CheckoutSession, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	AccountID  string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
