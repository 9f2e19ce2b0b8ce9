package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/repositories"
)

var (
	errCatalogRepositoryRequired = errors.New("catalog service: variants repository is required")
	errCatalogClockRequired      = errors.New("catalog service: clock is required")
)

// ErrCatalogInvalidInput indicates the caller supplied invalid input.
var ErrCatalogInvalidInput = fmt.Errorf("catalog service: %w", ErrValidation)

// ErrCatalogNotFound indicates the variant does not exist.
var ErrCatalogNotFound = fmt.Errorf("catalog service: variant %w", ErrNotFound)

// ErrCatalogUnavailable indicates the catalog store cannot fulfil the request.
var ErrCatalogUnavailable = fmt.Errorf("catalog service: %w", ErrUpstream)

// VariantCacheInvalidator drops cached variant projections after writes.
type VariantCacheInvalidator interface {
	Invalidate(ctx context.Context, variantID string) error
}

// CatalogServiceDeps wires the repository, optional read cache, and ambient dependencies.
type CatalogServiceDeps struct {
	Variants repositories.VariantRepository
	Reader   VariantFinder
	Cache    VariantCacheInvalidator
	Clock    func() time.Time
	Logger   func(context.Context, string, map[string]any)
}

type catalogService struct {
	variants repositories.VariantRepository
	reader   VariantFinder
	cache    VariantCacheInvalidator
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewCatalogService constructs a CatalogService enforcing dependency validation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Variants == nil {
		return nil, errCatalogRepositoryRequired
	}
	if deps.Clock == nil {
		return nil, errCatalogClockRequired
	}

	reader := deps.Reader
	if reader == nil {
		reader = deps.Variants
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &catalogService{
		variants: deps.Variants,
		reader:   reader,
		cache:    deps.Cache,
		now:      func() time.Time { return deps.Clock().UTC() },
		logger:   logger,
	}, nil
}

// GetVariant loads one variant, served from the read cache when configured.
func (s *catalogService) GetVariant(ctx context.Context, variantID string) (Variant, error) {
	id := strings.TrimSpace(variantID)
	if id == "" {
		return Variant{}, ErrCatalogInvalidInput
	}
	variant, err := s.reader.FindByID(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return Variant{}, ErrCatalogNotFound
		}
		return Variant{}, ErrCatalogUnavailable
	}
	return variant, nil
}

// UpsertVariant creates or replaces a variant and drops any cached copy.
func (s *catalogService) UpsertVariant(ctx context.Context, cmd UpsertVariantCommand) (Variant, error) {
	id := strings.TrimSpace(cmd.VariantID)
	name := strings.TrimSpace(cmd.Name)
	if id == "" || name == "" {
		return Variant{}, ErrCatalogInvalidInput
	}
	if cmd.UnitPrice < 0 || cmd.Stock < 0 {
		return Variant{}, ErrCatalogInvalidInput
	}
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		return Variant{}, ErrCatalogInvalidInput
	}

	variant := domain.Variant{
		ID:        id,
		Name:      name,
		UnitPrice: cmd.UnitPrice,
		Currency:  currency,
		Stock:     cmd.Stock,
		Active:    cmd.Active,
		UpdatedAt: s.now(),
	}
	if err := s.variants.Upsert(ctx, variant); err != nil {
		return Variant{}, ErrCatalogUnavailable
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			s.logger(ctx, "catalog.cache_invalidate_failed", map[string]any{
				"variantId": id,
				"error":     err.Error(),
			})
		}
	}

	s.logger(ctx, "catalog.variant.upserted", map[string]any{
		"variantId": id,
		"stock":     cmd.Stock,
		"active":    cmd.Active,
	})
	return variant, nil
}
