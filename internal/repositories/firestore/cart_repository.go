package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/souqline/api/internal/domain"
	pfirestore "github.com/souqline/api/internal/platform/firestore"
	"github.com/souqline/api/internal/repositories"
)

const (
	cartCollection = "carts"
)

type cartDocument struct {
	Items     map[string]int64 `firestore:"items"`
	CreatedAt time.Time        `firestore:"createdAt"`
	UpdatedAt time.Time        `firestore:"updatedAt"`
	ExpiresAt *time.Time       `firestore:"expiresAt,omitempty"`
}

// CartRepository persists one cart document per account. Item quantities live
// in a map keyed by variant id so single-key mutations can ride Firestore
// field transforms instead of read-modify-write.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Get loads the cart for the given account id. A missing document is an
// empty cart, not an error.
func (r *CartRepository) Get(ctx context.Context, accountID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(accountID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: account id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Cart{AccountID: id, Items: map[string]int64{}}, nil
		}
		return domain.Cart{}, err
	}

	items := make(map[string]int64, len(doc.Data.Items))
	for variantID, qty := range doc.Data.Items {
		if qty > 0 {
			items[variantID] = qty
		}
	}

	updatedAt := doc.Data.UpdatedAt
	if !doc.UpdateTime.IsZero() {
		updatedAt = doc.UpdateTime
	}

	return domain.Cart{
		AccountID: id,
		Items:     items,
		UpdatedAt: updatedAt,
		ExpiresAt: doc.Data.ExpiresAt,
	}, nil
}

// AddItem atomically increments the quantity for a single variant key. The
// increment is a server-side field transform, so concurrent adds for the same
// account never lose updates.
func (r *CartRepository) AddItem(ctx context.Context, accountID string, variantID string, qty int64, now time.Time, expiresAt *time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(accountID)
	vid := strings.TrimSpace(variantID)
	if id == "" || vid == "" {
		return errors.New("cart repository: account id and variant id are required")
	}
	if qty <= 0 {
		return fmt.Errorf("cart repository: quantity must be positive, got %d", qty)
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}

	updates := []firestore.Update{
		{FieldPath: firestore.FieldPath{"items", vid}, Value: firestore.Increment(qty)},
		{Path: "updatedAt", Value: now.UTC()},
	}
	if expiresAt != nil {
		updates = append(updates, firestore.Update{Path: "expiresAt", Value: expiresAt.UTC()})
	}

	_, err = ref.Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		// First write for this account; create under a transaction so a
		// concurrent first add is not overwritten.
		if txErr := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			snapshot, err := tx.Get(ref)
			if status.Code(err) == codes.NotFound {
				return tx.Create(ref, cartDocument{
					Items:     map[string]int64{vid: qty},
					CreatedAt: now.UTC(),
					UpdatedAt: now.UTC(),
					ExpiresAt: expiresAt,
				})
			}
			if err != nil {
				return err
			}
			var existing cartDocument
			if err := snapshot.DataTo(&existing); err != nil {
				return fmt.Errorf("firestore carts decode %s: %w", id, err)
			}
			if existing.Items == nil {
				existing.Items = map[string]int64{}
			}
			existing.Items[vid] += qty
			existing.UpdatedAt = now.UTC()
			if expiresAt != nil {
				existing.ExpiresAt = expiresAt
			}
			return tx.Set(ref, existing)
		}); txErr != nil {
			return pfirestore.WrapError("carts.add", txErr)
		}
		return nil
	}
	if err != nil {
		return pfirestore.WrapError("carts.add", err)
	}
	return nil
}

// SetItem overwrites the quantity for one variant key. A non-positive
// quantity deletes the key.
func (r *CartRepository) SetItem(ctx context.Context, accountID string, variantID string, qty int64, now time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(accountID)
	vid := strings.TrimSpace(variantID)
	if id == "" || vid == "" {
		return errors.New("cart repository: account id and variant id are required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}

	value := any(qty)
	if qty <= 0 {
		value = firestore.Delete
	}

	_, err = ref.Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{"items", vid}, Value: value},
		{Path: "updatedAt", Value: now.UTC()},
	})
	if status.Code(err) == codes.NotFound {
		// Nothing to remove; only a positive quantity needs the document.
		if qty <= 0 {
			return nil
		}
		return r.AddItem(ctx, id, vid, qty, now, nil)
	}
	if err != nil {
		return pfirestore.WrapError("carts.set", err)
	}
	return nil
}

// Clear drops every item from the account's cart.
func (r *CartRepository) Clear(ctx context.Context, accountID string, now time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(accountID)
	if id == "" {
		return errors.New("cart repository: account id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}

	_, err = ref.Update(ctx, []firestore.Update{
		{Path: "items", Value: map[string]int64{}},
		{Path: "updatedAt", Value: now.UTC()},
	})
	if status.Code(err) == codes.NotFound {
		return nil
	}
	if err != nil {
		return pfirestore.WrapError("carts.clear", err)
	}
	return nil
}

// Merge folds every source entry into the destination cart additively and
// clears the source, all in a single transaction. Interrupted merges retry or
// roll back wholesale; partial application is impossible.
func (r *CartRepository) Merge(ctx context.Context, sourceAccountID string, destAccountID string, now time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	src := strings.TrimSpace(sourceAccountID)
	dst := strings.TrimSpace(destAccountID)
	if src == "" || dst == "" {
		return errors.New("cart repository: source and destination account ids are required")
	}
	if src == dst {
		return nil
	}

	srcRef, err := r.base.DocumentRef(ctx, src)
	if err != nil {
		return err
	}
	dstRef, err := r.base.DocumentRef(ctx, dst)
	if err != nil {
		return err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		srcSnap, err := tx.Get(srcRef)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}

		var srcDoc cartDocument
		if err := srcSnap.DataTo(&srcDoc); err != nil {
			return fmt.Errorf("firestore carts decode %s: %w", src, err)
		}
		if len(srcDoc.Items) == 0 {
			return nil
		}

		dstDoc := cartDocument{Items: map[string]int64{}, CreatedAt: now.UTC()}
		dstSnap, err := tx.Get(dstRef)
		switch status.Code(err) {
		case codes.NotFound:
			// destination starts empty
		case codes.OK:
			if err := dstSnap.DataTo(&dstDoc); err != nil {
				return fmt.Errorf("firestore carts decode %s: %w", dst, err)
			}
			if dstDoc.Items == nil {
				dstDoc.Items = map[string]int64{}
			}
		default:
			return err
		}

		for variantID, qty := range srcDoc.Items {
			if qty > 0 {
				dstDoc.Items[variantID] += qty
			}
		}
		dstDoc.UpdatedAt = now.UTC()
		dstDoc.ExpiresAt = nil

		if err := tx.Set(dstRef, dstDoc); err != nil {
			return err
		}
		return tx.Set(srcRef, cartDocument{
			Items:     map[string]int64{},
			CreatedAt: srcDoc.CreatedAt,
			UpdatedAt: now.UTC(),
		})
	})
	if err != nil {
		return pfirestore.WrapError("carts.merge", err)
	}
	return nil
}

var _ repositories.CartRepository = (*CartRepository)(nil)
