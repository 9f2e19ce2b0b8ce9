package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: cart repository is required")
	errCartVariantsRequired   = errors.New("cart service: variant finder is required")
	errCartAccountsRequired   = errors.New("cart service: accounts repository is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = fmt.Errorf("cart service: %w", ErrValidation)

// ErrCartUnavailable indicates the cart store cannot fulfil the request.
var ErrCartUnavailable = fmt.Errorf("cart service: %w", ErrUpstream)

// ErrCartVariantNotFound indicates the referenced variant does not exist.
var ErrCartVariantNotFound = fmt.Errorf("cart service: variant %w", ErrNotFound)

// ErrCartVariantInactive indicates the variant is not currently purchasable.
var ErrCartVariantInactive = fmt.Errorf("cart service: variant inactive: %w", ErrValidation)

const maxLineQuantity = 999

// VariantFinder reads catalog variants; a caching layer may sit in front of
// the repository.
type VariantFinder interface {
	FindByID(ctx context.Context, variantID string) (domain.Variant, error)
	FindByIDs(ctx context.Context, variantIDs []string) (map[string]domain.Variant, error)
}

// CartServiceDeps wires the repositories and ambient dependencies for cart operations.
type CartServiceDeps struct {
	Carts           repositories.CartRepository
	Variants        VariantFinder
	Accounts        repositories.AccountRepository
	Clock           func() time.Time
	Logger          func(context.Context, string, map[string]any)
	GuestCartTTL    time.Duration
	DefaultCurrency string
}

type cartService struct {
	carts        repositories.CartRepository
	variants     VariantFinder
	accounts     repositories.AccountRepository
	now          func() time.Time
	logger       func(context.Context, string, map[string]any)
	guestCartTTL time.Duration
	currency     string
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Variants == nil {
		return nil, errCartVariantsRequired
	}
	if deps.Accounts == nil {
		return nil, errCartAccountsRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = "EGP"
	}

	ttl := deps.GuestCartTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		carts:        deps.Carts,
		variants:     deps.Variants,
		accounts:     deps.Accounts,
		now:          func() time.Time { return deps.Clock().UTC() },
		logger:       logger,
		guestCartTTL: ttl,
		currency:     currency,
	}, nil
}

// GetCart loads the cart and hydrates it against current catalog data.
func (s *cartService) GetCart(ctx context.Context, accountID string) (CartView, error) {
	id := strings.TrimSpace(accountID)
	if id == "" {
		return CartView{}, ErrCartInvalidInput
	}

	cart, err := s.carts.Get(ctx, id)
	if err != nil {
		return CartView{}, s.translateRepoError(err)
	}
	return s.hydrate(ctx, cart)
}

// AddItem atomically increments one variant line after revalidating the variant.
func (s *cartService) AddItem(ctx context.Context, cmd CartItemCommand) (CartView, error) {
	accountID := strings.TrimSpace(cmd.AccountID)
	variantID := strings.TrimSpace(cmd.VariantID)
	if accountID == "" || variantID == "" {
		return CartView{}, ErrCartInvalidInput
	}
	if cmd.Quantity <= 0 || cmd.Quantity > maxLineQuantity {
		return CartView{}, ErrCartInvalidInput
	}

	if err := s.checkVariant(ctx, variantID); err != nil {
		return CartView{}, err
	}

	now := s.now()
	expiresAt, err := s.guestExpiry(ctx, accountID, now)
	if err != nil {
		return CartView{}, err
	}

	if err := s.carts.AddItem(ctx, accountID, variantID, cmd.Quantity, now, expiresAt); err != nil {
		return CartView{}, s.translateRepoError(err)
	}

	s.logger(ctx, "cart.item.added", map[string]any{
		"accountId": accountID,
		"variantId": variantID,
		"quantity":  cmd.Quantity,
	})
	return s.GetCart(ctx, accountID)
}

// UpdateItem overwrites one variant line; a non-positive quantity removes it.
func (s *cartService) UpdateItem(ctx context.Context, cmd CartItemCommand) (CartView, error) {
	accountID := strings.TrimSpace(cmd.AccountID)
	variantID := strings.TrimSpace(cmd.VariantID)
	if accountID == "" || variantID == "" {
		return CartView{}, ErrCartInvalidInput
	}
	if cmd.Quantity > maxLineQuantity {
		return CartView{}, ErrCartInvalidInput
	}

	if cmd.Quantity > 0 {
		if err := s.checkVariant(ctx, variantID); err != nil {
			return CartView{}, err
		}
	}

	if err := s.carts.SetItem(ctx, accountID, variantID, cmd.Quantity, s.now()); err != nil {
		return CartView{}, s.translateRepoError(err)
	}

	s.logger(ctx, "cart.item.updated", map[string]any{
		"accountId": accountID,
		"variantId": variantID,
		"quantity":  cmd.Quantity,
	})
	return s.GetCart(ctx, accountID)
}

// ClearCart removes every line from the cart.
func (s *cartService) ClearCart(ctx context.Context, accountID string) error {
	id := strings.TrimSpace(accountID)
	if id == "" {
		return ErrCartInvalidInput
	}
	if err := s.carts.Clear(ctx, id, s.now()); err != nil {
		return s.translateRepoError(err)
	}
	s.logger(ctx, "cart.cleared", map[string]any{
		"accountId": id,
	})
	return nil
}

func (s *cartService) checkVariant(ctx context.Context, variantID string) error {
	variant, err := s.variants.FindByID(ctx, variantID)
	if err != nil {
		if isRepoNotFound(err) {
			return ErrCartVariantNotFound
		}
		return s.translateRepoError(err)
	}
	if !variant.Active {
		return ErrCartVariantInactive
	}
	return nil
}

// guestExpiry returns the retention deadline for guest carts; registered carts
// never expire.
func (s *cartService) guestExpiry(ctx context.Context, accountID string, now time.Time) (*time.Time, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if isRepoNotFound(err) {
			return nil, ErrCartInvalidInput
		}
		return nil, s.translateRepoError(err)
	}
	if !account.IsGuest() {
		return nil, nil
	}
	deadline := now.Add(s.guestCartTTL)
	return &deadline, nil
}

func (s *cartService) hydrate(ctx context.Context, cart domain.Cart) (CartView, error) {
	view := CartView{
		AccountID: cart.AccountID,
		Lines:     []CartLine{},
		Currency:  s.currency,
		UpdatedAt: cart.UpdatedAt,
	}
	if len(cart.Items) == 0 {
		return view, nil
	}

	ids := make([]string, 0, len(cart.Items))
	for id := range cart.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	variants, err := s.variants.FindByIDs(ctx, ids)
	if err != nil {
		return CartView{}, s.translateRepoError(err)
	}

	for _, id := range ids {
		qty := cart.Items[id]
		line := CartLine{
			VariantID: id,
			Quantity:  qty,
		}
		if variant, ok := variants[id]; ok {
			line.Name = variant.Name
			line.UnitPrice = variant.UnitPrice
			line.LineTotal = variant.UnitPrice * qty
			line.Available = variant.Active && variant.Stock >= qty
			if variant.Currency != "" {
				view.Currency = variant.Currency
			}
			view.Subtotal += line.LineTotal
		}
		view.Lines = append(view.Lines, line)
	}
	return view, nil
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartVariantNotFound
		case repoErr.IsConflict():
			return fmt.Errorf("cart service: %w", ErrConflict)
		}
	}
	return ErrCartUnavailable
}
