package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/souqline/api/internal/platform/firestore"
	"github.com/souqline/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider

	accounts   *AccountRepository
	carts      *CartRepository
	variants   *VariantRepository
	promotions *PromotionRepository
	orders     *OrderRepository
	sessions   *CheckoutSessionRepository
	counters   *CounterRepository
}

// NewRegistry constructs every repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	accounts, err := NewAccountRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	variants, err := NewVariantRepository(provider)
	if err != nil {
		return nil, err
	}
	promotions, err := NewPromotionRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	sessions, err := NewCheckoutSessionRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:   provider,
		accounts:   accounts,
		carts:      carts,
		variants:   variants,
		promotions: promotions,
		orders:     orders,
		sessions:   sessions,
		counters:   counters,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Accounts returns the account repository.
func (r *Registry) Accounts() repositories.AccountRepository { return r.accounts }

// Carts returns the cart repository.
func (r *Registry) Carts() repositories.CartRepository { return r.carts }

// Variants returns the variant repository.
func (r *Registry) Variants() repositories.VariantRepository { return r.variants }

// Promotions returns the promotion repository.
func (r *Registry) Promotions() repositories.PromotionRepository { return r.promotions }

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// CheckoutSessions returns the checkout session repository.
func (r *Registry) CheckoutSessions() repositories.CheckoutSessionRepository { return r.sessions }

// Counters returns the counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// RunInTx runs the callback as one unit. Cross-document atomicity lives in the
// dedicated repository methods (Settle, Merge, ApplyTransition); this
// hook exists so services can group sequential repository calls and tests can
// observe the boundary.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

var _ repositories.Registry = (*Registry)(nil)
