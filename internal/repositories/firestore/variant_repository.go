package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/souqline/api/internal/domain"
	pfirestore "github.com/souqline/api/internal/platform/firestore"
	"github.com/souqline/api/internal/repositories"
)

const variantCollection = "variants"

type variantDocument struct {
	Name      string    `firestore:"name"`
	UnitPrice int64     `firestore:"unitPrice"`
	Currency  string    `firestore:"currency"`
	Stock     int64     `firestore:"stock"`
	Active    bool      `firestore:"active"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// VariantRepository reads the catalog projection the checkout engine prices
// against. Settlement decrements stock through the order repository's
// transaction, never through this type.
type VariantRepository struct {
	base *pfirestore.BaseRepository[variantDocument]
}

// NewVariantRepository constructs a Firestore-backed variant repository.
func NewVariantRepository(provider *pfirestore.Provider) (*VariantRepository, error) {
	if provider == nil {
		return nil, errors.New("variant repository requires firestore provider")
	}
	return &VariantRepository{
		base: pfirestore.NewBaseRepository[variantDocument](provider, variantCollection, nil, nil),
	}, nil
}

// FindByID loads a single variant.
func (r *VariantRepository) FindByID(ctx context.Context, variantID string) (domain.Variant, error) {
	if r == nil || r.base == nil {
		return domain.Variant{}, errors.New("variant repository not initialised")
	}
	id := strings.TrimSpace(variantID)
	if id == "" {
		return domain.Variant{}, errors.New("variant repository: variant id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Variant{}, err
	}
	return decodeVariant(doc.ID, doc.Data), nil
}

// FindByIDs loads the given variants. Missing ids are simply absent from the
// returned map; the caller decides whether absence is an error.
func (r *VariantRepository) FindByIDs(ctx context.Context, variantIDs []string) (map[string]domain.Variant, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("variant repository not initialised")
	}

	out := make(map[string]domain.Variant, len(variantIDs))
	for _, raw := range variantIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		doc, err := r.base.Get(ctx, id)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				continue
			}
			return nil, err
		}
		out[id] = decodeVariant(doc.ID, doc.Data)
	}
	return out, nil
}

// Upsert writes a variant document. Used by admin tooling and seeds.
func (r *VariantRepository) Upsert(ctx context.Context, variant domain.Variant) error {
	if r == nil || r.base == nil {
		return errors.New("variant repository not initialised")
	}
	id := strings.TrimSpace(variant.ID)
	if id == "" {
		return errors.New("variant repository: variant id is required")
	}
	_, err := r.base.Set(ctx, id, variantDocument{
		Name:      strings.TrimSpace(variant.Name),
		UnitPrice: variant.UnitPrice,
		Currency:  strings.ToUpper(strings.TrimSpace(variant.Currency)),
		Stock:     variant.Stock,
		Active:    variant.Active,
		UpdatedAt: variant.UpdatedAt.UTC(),
	})
	return err
}

func decodeVariant(id string, doc variantDocument) domain.Variant {
	return domain.Variant{
		ID:        id,
		Name:      doc.Name,
		UnitPrice: doc.UnitPrice,
		Currency:  doc.Currency,
		Stock:     doc.Stock,
		Active:    doc.Active,
		UpdatedAt: doc.UpdatedAt,
	}
}

var _ repositories.VariantRepository = (*VariantRepository)(nil)
