package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/souqline/api/internal/domain"
	pfirestore "github.com/souqline/api/internal/platform/firestore"
	"github.com/souqline/api/internal/repositories"
)

const promotionCollection = "promotions"

type promotionDocument struct {
	Type              string     `firestore:"type"`
	Value             int64      `firestore:"value"`
	MinCartValue      int64      `firestore:"minCartValue,omitempty"`
	MaxDiscountAmount int64      `firestore:"maxDiscountAmount,omitempty"`
	MaxUses           int64      `firestore:"maxUses,omitempty"`
	UseCount          int64      `firestore:"useCount"`
	StartsAt          *time.Time `firestore:"startsAt,omitempty"`
	ExpiresAt         *time.Time `firestore:"expiresAt,omitempty"`
	Deleted           bool       `firestore:"deleted,omitempty"`
	CreatedAt         time.Time  `firestore:"createdAt"`
	UpdatedAt         time.Time  `firestore:"updatedAt"`
}

// PromotionRepository stores promo codes keyed by their uppercase code so
// lookups stay case-insensitive and uniqueness is enforced by the document id.
type PromotionRepository struct {
	base     *pfirestore.BaseRepository[promotionDocument]
	provider *pfirestore.Provider
}

// NewPromotionRepository constructs a Firestore-backed promotion repository.
func NewPromotionRepository(provider *pfirestore.Provider) (*PromotionRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion repository requires firestore provider")
	}
	return &PromotionRepository{
		base:     pfirestore.NewBaseRepository[promotionDocument](provider, promotionCollection, nil, nil),
		provider: provider,
	}, nil
}

// Insert creates the promo document; it fails when the code already exists.
func (r *PromotionRepository) Insert(ctx context.Context, promo domain.PromoCode) error {
	if r == nil || r.base == nil {
		return errors.New("promotion repository not initialised")
	}
	code := normalizePromoCode(promo.Code)
	if code == "" {
		return repositories.NewPromotionError(repositories.PromotionErrorInvalidInput, "promo code is required", nil)
	}
	ref, err := r.base.DocumentRef(ctx, code)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodePromotion(promo)); err != nil {
		return pfirestore.WrapError("promotions.insert", err)
	}
	return nil
}

// Update overwrites the promo document.
func (r *PromotionRepository) Update(ctx context.Context, promo domain.PromoCode) error {
	if r == nil || r.base == nil {
		return errors.New("promotion repository not initialised")
	}
	code := normalizePromoCode(promo.Code)
	if code == "" {
		return repositories.NewPromotionError(repositories.PromotionErrorInvalidInput, "promo code is required", nil)
	}
	_, err := r.base.Set(ctx, code, encodePromotion(promo))
	return err
}

// FindByCode loads the promo document. Soft-deleted codes surface as not
// found so callers treat them like absent codes.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (domain.PromoCode, error) {
	if r == nil || r.base == nil {
		return domain.PromoCode{}, errors.New("promotion repository not initialised")
	}
	normalized := normalizePromoCode(code)
	if normalized == "" {
		return domain.PromoCode{}, repositories.NewPromotionError(repositories.PromotionErrorInvalidInput, "promo code is required", nil)
	}
	doc, err := r.base.Get(ctx, normalized)
	if err != nil {
		return domain.PromoCode{}, err
	}
	if doc.Data.Deleted {
		return domain.PromoCode{}, pfirestore.WrapError("promotions.findByCode", status.Errorf(codes.NotFound, "promotion %s not found", normalized))
	}
	return decodePromotion(doc.ID, doc.Data), nil
}

func normalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func encodePromotion(promo domain.PromoCode) promotionDocument {
	return promotionDocument{
		Type:              string(promo.Type),
		Value:             promo.Value,
		MinCartValue:      promo.MinCartValue,
		MaxDiscountAmount: promo.MaxDiscountAmount,
		MaxUses:           promo.MaxUses,
		UseCount:          promo.UseCount,
		StartsAt:          promo.StartsAt,
		ExpiresAt:         promo.ExpiresAt,
		Deleted:           promo.Deleted,
		CreatedAt:         promo.CreatedAt.UTC(),
		UpdatedAt:         promo.UpdatedAt.UTC(),
	}
}

func decodePromotion(code string, doc promotionDocument) domain.PromoCode {
	return domain.PromoCode{
		Code:              code,
		Type:              domain.DiscountType(doc.Type),
		Value:             doc.Value,
		MinCartValue:      doc.MinCartValue,
		MaxDiscountAmount: doc.MaxDiscountAmount,
		MaxUses:           doc.MaxUses,
		UseCount:          doc.UseCount,
		StartsAt:          doc.StartsAt,
		ExpiresAt:         doc.ExpiresAt,
		Deleted:           doc.Deleted,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}
}

var _ repositories.PromotionRepository = (*PromotionRepository)(nil)
