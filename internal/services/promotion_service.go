package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/platform/textutil"
	"github.com/souqline/api/internal/repositories"
)

var (
	errPromotionRepositoryRequired = errors.New("promotion service: repository is required")
	errPromotionClockRequired      = errors.New("promotion service: clock is required")
)

// ErrPromotionInvalidInput indicates the caller supplied invalid input.
var ErrPromotionInvalidInput = fmt.Errorf("promotion service: %w", ErrValidation)

// ErrPromotionUnavailable indicates the promotion store cannot fulfil the request.
var ErrPromotionUnavailable = fmt.Errorf("promotion service: %w", ErrUpstream)

// ErrPromotionNotFound indicates the code does not exist.
var ErrPromotionNotFound = fmt.Errorf("promotion service: code %w", ErrNotFound)

// ErrPromotionExpired indicates the code's validity window has passed.
var ErrPromotionExpired = fmt.Errorf("promotion service: code expired: %w", ErrValidation)

// ErrPromotionNotStarted indicates the code's validity window has not opened yet.
var ErrPromotionNotStarted = fmt.Errorf("promotion service: code not active yet: %w", ErrValidation)

// ErrPromotionExhausted indicates the code reached its usage limit.
var ErrPromotionExhausted = fmt.Errorf("promotion service: usage limit reached: %w", ErrConflict)

// ErrPromotionBelowMinimum indicates the cart subtotal is under the code's minimum.
var ErrPromotionBelowMinimum = fmt.Errorf("promotion service: cart below minimum: %w", ErrValidation)

// ErrPromotionExists indicates the code is already defined.
var ErrPromotionExists = fmt.Errorf("promotion service: code already exists: %w", ErrConflict)

// PromotionServiceDeps wires the repository and ambient dependencies for promotion operations.
type PromotionServiceDeps struct {
	Repository repositories.PromotionRepository
	Clock      func() time.Time
	Logger     func(context.Context, string, map[string]any)
}

type promotionService struct {
	repo   repositories.PromotionRepository
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewPromotionService constructs a PromotionService enforcing dependency validation.
func NewPromotionService(deps PromotionServiceDeps) (PromotionService, error) {
	if deps.Repository == nil {
		return nil, errPromotionRepositoryRequired
	}
	if deps.Clock == nil {
		return nil, errPromotionClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &promotionService{
		repo:   deps.Repository,
		now:    func() time.Time { return deps.Clock().UTC() },
		logger: logger,
	}, nil
}

// Validate runs the check sequence in a fixed order so the caller always sees
// the most fundamental failure first: unknown code, then validity window, then
// usage limit, then cart minimum. Validation never consumes a use; the
// authoritative increment happens during order settlement.
func (s *promotionService) Validate(ctx context.Context, cmd ValidatePromotionCommand) (PromotionValidation, error) {
	code := textutil.CanonicalCode(cmd.Code)
	if code == "" || cmd.Subtotal < 0 {
		return PromotionValidation{}, ErrPromotionInvalidInput
	}

	promo, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if isRepoNotFound(err) {
			return invalidPromotion(code, "promo code not found"), ErrPromotionNotFound
		}
		return PromotionValidation{}, s.translateRepoError(err)
	}

	now := s.now()
	if promo.ExpiresAt != nil && !now.Before(*promo.ExpiresAt) {
		return invalidPromotion(code, "promo code has expired"), ErrPromotionExpired
	}
	if promo.StartsAt != nil && now.Before(*promo.StartsAt) {
		return invalidPromotion(code, "promo code is not active yet"), ErrPromotionNotStarted
	}
	if promo.MaxUses > 0 && promo.UseCount >= promo.MaxUses {
		return invalidPromotion(code, "promo code usage limit reached"), ErrPromotionExhausted
	}
	if promo.MinCartValue > 0 && cmd.Subtotal < promo.MinCartValue {
		return invalidPromotion(code, "cart total is below the promo code minimum"), ErrPromotionBelowMinimum
	}

	discount := promo.ComputeDiscount(cmd.Subtotal)
	return PromotionValidation{
		Valid:          true,
		Code:           code,
		DiscountAmount: discount,
		Message:        "promo code applied",
	}, nil
}

// Create defines a new promo code.
func (s *promotionService) Create(ctx context.Context, cmd CreatePromotionCommand) (PromoCode, error) {
	code := textutil.CanonicalCode(cmd.Code)
	if code == "" {
		return PromoCode{}, ErrPromotionInvalidInput
	}
	switch cmd.Type {
	case domain.DiscountTypePercentage:
		if cmd.Value <= 0 || cmd.Value > 100 {
			return PromoCode{}, ErrPromotionInvalidInput
		}
	case domain.DiscountTypeFixed:
		if cmd.Value <= 0 {
			return PromoCode{}, ErrPromotionInvalidInput
		}
	default:
		return PromoCode{}, ErrPromotionInvalidInput
	}
	if cmd.MinCartValue < 0 || cmd.MaxDiscountAmount < 0 || cmd.MaxUses < 0 {
		return PromoCode{}, ErrPromotionInvalidInput
	}
	if cmd.StartsAt != nil && cmd.ExpiresAt != nil && !cmd.StartsAt.Before(*cmd.ExpiresAt) {
		return PromoCode{}, ErrPromotionInvalidInput
	}

	now := s.now()
	promo := domain.PromoCode{
		Code:              code,
		Type:              cmd.Type,
		Value:             cmd.Value,
		MinCartValue:      cmd.MinCartValue,
		MaxDiscountAmount: cmd.MaxDiscountAmount,
		MaxUses:           cmd.MaxUses,
		StartsAt:          cmd.StartsAt,
		ExpiresAt:         cmd.ExpiresAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Insert(ctx, promo); err != nil {
		if isRepoConflict(err) {
			return PromoCode{}, ErrPromotionExists
		}
		return PromoCode{}, s.translateRepoError(err)
	}

	s.logger(ctx, "promotion.created", map[string]any{
		"code":  code,
		"type":  string(cmd.Type),
		"actor": cmd.Actor,
	})
	return promo, nil
}

// Get loads a promo code definition.
func (s *promotionService) Get(ctx context.Context, code string) (PromoCode, error) {
	normalised := textutil.CanonicalCode(code)
	if normalised == "" {
		return PromoCode{}, ErrPromotionInvalidInput
	}
	promo, err := s.repo.FindByCode(ctx, normalised)
	if err != nil {
		if isRepoNotFound(err) {
			return PromoCode{}, ErrPromotionNotFound
		}
		return PromoCode{}, s.translateRepoError(err)
	}
	return promo, nil
}

func invalidPromotion(code string, message string) PromotionValidation {
	return PromotionValidation{
		Valid:   false,
		Code:    code,
		Message: message,
	}
}

func (s *promotionService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrPromotionNotFound
		case repoErr.IsConflict():
			return ErrPromotionExhausted
		}
	}
	return ErrPromotionUnavailable
}
