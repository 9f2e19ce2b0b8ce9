package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/souqline/api/internal/domain"
)

func newCartService(t *testing.T, carts *stubCartRepo, variants *stubVariantRepo, accounts *stubAccountRepo) CartService {
	t.Helper()
	svc, err := NewCartService(CartServiceDeps{
		Carts:           carts,
		Variants:        variants,
		Accounts:        accounts,
		Clock:           fixedNow,
		GuestCartTTL:    30 * 24 * time.Hour,
		DefaultCurrency: "EGP",
	})
	if err != nil {
		t.Fatalf("new cart service: %v", err)
	}
	return svc
}

func activeVariant(id string, price int64, stock int64) domain.Variant {
	return domain.Variant{
		ID:        id,
		Name:      "Variant " + id,
		UnitPrice: price,
		Currency:  "EGP",
		Stock:     stock,
		Active:    true,
	}
}

func TestAddItemPassesGuestExpiry(t *testing.T) {
	var gotExpiry *time.Time
	carts := &stubCartRepo{
		addItemFn: func(ctx context.Context, accountID, variantID string, qty int64, now time.Time, expiresAt *time.Time) error {
			gotExpiry = expiresAt
			return nil
		},
	}
	variants := &stubVariantRepo{
		findByIDFn: func(ctx context.Context, variantID string) (domain.Variant, error) {
			return activeVariant(variantID, 500, 10), nil
		},
		findByIDsFn: func(ctx context.Context, variantIDs []string) (map[string]domain.Variant, error) {
			return map[string]domain.Variant{}, nil
		},
	}
	accounts := &stubAccountRepo{
		findByIDFn: func(ctx context.Context, accountID string) (domain.Account, error) {
			return domain.Account{ID: accountID, Kind: domain.AccountKindGuest}, nil
		},
	}
	svc := newCartService(t, carts, variants, accounts)

	if _, err := svc.AddItem(context.Background(), CartItemCommand{AccountID: "acc_1", VariantID: "v1", Quantity: 2}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if gotExpiry == nil {
		t.Fatal("expected guest cart expiry to be set")
	}
	want := fixedNow().Add(30 * 24 * time.Hour)
	if !gotExpiry.Equal(want) {
		t.Fatalf("unexpected expiry %v", gotExpiry)
	}
}

func TestAddItemRegisteredCartNeverExpires(t *testing.T) {
	var gotExpiry *time.Time
	carts := &stubCartRepo{
		addItemFn: func(ctx context.Context, accountID, variantID string, qty int64, now time.Time, expiresAt *time.Time) error {
			gotExpiry = expiresAt
			return nil
		},
	}
	variants := &stubVariantRepo{
		findByIDFn: func(ctx context.Context, variantID string) (domain.Variant, error) {
			return activeVariant(variantID, 500, 10), nil
		},
	}
	accounts := &stubAccountRepo{
		findByIDFn: func(ctx context.Context, accountID string) (domain.Account, error) {
			return domain.Account{ID: accountID, Kind: domain.AccountKindRegistered}, nil
		},
	}
	svc := newCartService(t, carts, variants, accounts)

	if _, err := svc.AddItem(context.Background(), CartItemCommand{AccountID: "acc_1", VariantID: "v1", Quantity: 1}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if gotExpiry != nil {
		t.Fatalf("expected no expiry for registered cart, got %v", gotExpiry)
	}
}

func TestAddItemRejectsUnknownOrInactiveVariant(t *testing.T) {
	accounts := &stubAccountRepo{
		findByIDFn: func(ctx context.Context, accountID string) (domain.Account, error) {
			return domain.Account{ID: accountID, Kind: domain.AccountKindGuest}, nil
		},
	}

	t.Run("unknown", func(t *testing.T) {
		variants := &stubVariantRepo{
			findByIDFn: func(ctx context.Context, variantID string) (domain.Variant, error) {
				return domain.Variant{}, errRepoNotFound
			},
		}
		svc := newCartService(t, &stubCartRepo{}, variants, accounts)
		_, err := svc.AddItem(context.Background(), CartItemCommand{AccountID: "acc_1", VariantID: "v1", Quantity: 1})
		if !errors.Is(err, ErrCartVariantNotFound) {
			t.Fatalf("expected ErrCartVariantNotFound, got %v", err)
		}
	})

	t.Run("inactive", func(t *testing.T) {
		variants := &stubVariantRepo{
			findByIDFn: func(ctx context.Context, variantID string) (domain.Variant, error) {
				v := activeVariant(variantID, 500, 10)
				v.Active = false
				return v, nil
			},
		}
		svc := newCartService(t, &stubCartRepo{}, variants, accounts)
		_, err := svc.AddItem(context.Background(), CartItemCommand{AccountID: "acc_1", VariantID: "v1", Quantity: 1})
		if !errors.Is(err, ErrCartVariantInactive) {
			t.Fatalf("expected ErrCartVariantInactive, got %v", err)
		}
	})
}

func TestAddItemValidatesQuantity(t *testing.T) {
	svc := newCartService(t, &stubCartRepo{}, &stubVariantRepo{}, &stubAccountRepo{})

	for _, qty := range []int64{0, -1, maxLineQuantity + 1} {
		if _, err := svc.AddItem(context.Background(), CartItemCommand{AccountID: "acc_1", VariantID: "v1", Quantity: qty}); !errors.Is(err, ErrCartInvalidInput) {
			t.Fatalf("expected ErrCartInvalidInput for qty %d, got %v", qty, err)
		}
	}
}

func TestUpdateItemZeroQuantityRemovesLine(t *testing.T) {
	var setQty int64 = -99
	variantChecked := false
	carts := &stubCartRepo{
		setItemFn: func(ctx context.Context, accountID, variantID string, qty int64, now time.Time) error {
			setQty = qty
			return nil
		},
	}
	variants := &stubVariantRepo{
		findByIDFn: func(ctx context.Context, variantID string) (domain.Variant, error) {
			variantChecked = true
			return activeVariant(variantID, 500, 10), nil
		},
		findByIDsFn: func(ctx context.Context, variantIDs []string) (map[string]domain.Variant, error) {
			return map[string]domain.Variant{}, nil
		},
	}
	svc := newCartService(t, carts, variants, &stubAccountRepo{})

	if _, err := svc.UpdateItem(context.Background(), CartItemCommand{AccountID: "acc_1", VariantID: "v1", Quantity: 0}); err != nil {
		t.Fatalf("update item: %v", err)
	}
	if setQty != 0 {
		t.Fatalf("expected removal with qty 0, got %d", setQty)
	}
	// Removals must work even for variants no longer in the catalog.
	if variantChecked {
		t.Fatal("expected no variant lookup for a removal")
	}
}

func TestGetCartHydratesLinesAndSubtotal(t *testing.T) {
	carts := &stubCartRepo{
		getFn: func(ctx context.Context, accountID string) (domain.Cart, error) {
			return domain.Cart{
				AccountID: accountID,
				Items:     map[string]int64{"v1": 2, "v2": 1, "gone": 3},
				UpdatedAt: fixedNow(),
			}, nil
		},
	}
	variants := &stubVariantRepo{
		findByIDsFn: func(ctx context.Context, variantIDs []string) (map[string]domain.Variant, error) {
			return map[string]domain.Variant{
				"v1": activeVariant("v1", 500, 10),
				"v2": activeVariant("v2", 300, 0),
			}, nil
		},
	}
	svc := newCartService(t, carts, variants, &stubAccountRepo{})

	view, err := svc.GetCart(context.Background(), "acc_1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(view.Lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(view.Lines))
	}
	if view.Subtotal != 1300 {
		t.Fatalf("expected subtotal 1300, got %d", view.Subtotal)
	}

	byID := map[string]CartLine{}
	for _, line := range view.Lines {
		byID[line.VariantID] = line
	}
	if !byID["v1"].Available {
		t.Fatal("expected v1 available")
	}
	if byID["v2"].Available {
		t.Fatal("expected v2 unavailable with zero stock")
	}
	if byID["gone"].Available || byID["gone"].UnitPrice != 0 {
		t.Fatal("expected missing variant line flagged unavailable at zero price")
	}
}

func TestClearCartRequiresAccount(t *testing.T) {
	svc := newCartService(t, &stubCartRepo{}, &stubVariantRepo{}, &stubAccountRepo{})
	if err := svc.ClearCart(context.Background(), "  "); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}
