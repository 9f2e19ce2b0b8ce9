package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/souqline/api/internal/platform/httpx"
	"github.com/souqline/api/internal/services"
)

// InternalCatalogHandlers exposes the catalog sync surface consumed by the
// upstream catalog system. The route group is guarded by the HMAC validator;
// no interactive credential ever reaches these endpoints.
type InternalCatalogHandlers struct {
	catalog services.CatalogService
}

const maxInternalBodySize = 32 * 1024

// NewInternalCatalogHandlers constructs handlers over the catalog service.
func NewInternalCatalogHandlers(catalog services.CatalogService) *InternalCatalogHandlers {
	return &InternalCatalogHandlers{catalog: catalog}
}

// Routes wires the /internal endpoints onto the provided router.
func (h *InternalCatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Put("/variants/{variantID}", h.upsertVariant)
	r.Get("/variants/{variantID}", h.getVariant)
}

func (h *InternalCatalogHandlers) upsertVariant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	variantID := strings.TrimSpace(chi.URLParam(r, "variantID"))
	body, err := readLimitedBody(r, maxInternalBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req struct {
		Name      string `json:"name"`
		UnitPrice int64  `json:"unit_price"`
		Currency  string `json:"currency"`
		Stock     int64  `json:"stock"`
		Active    bool   `json:"active"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	variant, err := h.catalog.UpsertVariant(ctx, services.UpsertVariantCommand{
		VariantID: variantID,
		Name:      strings.TrimSpace(req.Name),
		UnitPrice: req.UnitPrice,
		Currency:  strings.TrimSpace(req.Currency),
		Stock:     req.Stock,
		Active:    req.Active,
	})
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, variantResponse{Variant: buildVariantPayload(variant)})
}

func (h *InternalCatalogHandlers) getVariant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	variant, err := h.catalog.GetVariant(ctx, chi.URLParam(r, "variantID"))
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, variantResponse{Variant: buildVariantPayload(variant)})
}

func (h *InternalCatalogHandlers) writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("variant_not_found", "variant not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "catalog operation failed", http.StatusInternalServerError))
	}
}

type variantResponse struct {
	Variant variantPayload `json:"variant"`
}

type variantPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Currency  string `json:"currency"`
	Stock     int64  `json:"stock"`
	Active    bool   `json:"active"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func buildVariantPayload(variant services.Variant) variantPayload {
	return variantPayload{
		ID:        variant.ID,
		Name:      variant.Name,
		UnitPrice: variant.UnitPrice,
		Currency:  variant.Currency,
		Stock:     variant.Stock,
		Active:    variant.Active,
		UpdatedAt: formatTime(variant.UpdatedAt),
	}
}
