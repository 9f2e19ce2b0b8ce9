package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/souqline/api/internal/domain"
	pfirestore "github.com/souqline/api/internal/platform/firestore"
	"github.com/souqline/api/internal/repositories"
)

const checkoutSessionCollection = "checkoutSessions"

type checkoutSessionDocument struct {
	AccountID       string                  `firestore:"accountId"`
	OrderID         string                  `firestore:"orderId"`
	Items           []orderLineItemDocument `firestore:"items"`
	PromoCode       string                  `firestore:"promoCode,omitempty"`
	DiscountAmount  int64                   `firestore:"discountAmount,omitempty"`
	Totals          orderTotalsDocument     `firestore:"totals"`
	Provider        string                  `firestore:"provider,omitempty"`
	ProviderOrderID string                  `firestore:"providerOrderId,omitempty"`
	PaymentToken    string                  `firestore:"paymentToken,omitempty"`
	Status          string                  `firestore:"status"`
	CreatedAt       time.Time               `firestore:"createdAt"`
	UpdatedAt       time.Time               `firestore:"updatedAt"`
}

// CheckoutSessionRepository stores the ephemeral binding between an order and
// its provider-side transaction.
type CheckoutSessionRepository struct {
	base *pfirestore.BaseRepository[checkoutSessionDocument]
}

// NewCheckoutSessionRepository constructs a Firestore-backed session repository.
func NewCheckoutSessionRepository(provider *pfirestore.Provider) (*CheckoutSessionRepository, error) {
	if provider == nil {
		return nil, errors.New("checkout session repository requires firestore provider")
	}
	return &CheckoutSessionRepository{
		base: pfirestore.NewBaseRepository[checkoutSessionDocument](provider, checkoutSessionCollection, nil, nil),
	}, nil
}

// Insert creates the session document; it fails on id collision.
func (r *CheckoutSessionRepository) Insert(ctx context.Context, session domain.CheckoutSession) error {
	if r == nil || r.base == nil {
		return errors.New("checkout session repository not initialised")
	}
	id := strings.TrimSpace(session.ID)
	if id == "" {
		return errors.New("checkout session repository: session id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeCheckoutSession(session)); err != nil {
		return pfirestore.WrapError("checkoutSessions.insert", err)
	}
	return nil
}

// Update overwrites the session document.
func (r *CheckoutSessionRepository) Update(ctx context.Context, session domain.CheckoutSession) error {
	if r == nil || r.base == nil {
		return errors.New("checkout session repository not initialised")
	}
	id := strings.TrimSpace(session.ID)
	if id == "" {
		return errors.New("checkout session repository: session id is required")
	}
	_, err := r.base.Set(ctx, id, encodeCheckoutSession(session))
	return err
}

// FindByID loads the session by identifier.
func (r *CheckoutSessionRepository) FindByID(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	if r == nil || r.base == nil {
		return domain.CheckoutSession{}, errors.New("checkout session repository not initialised")
	}
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return domain.CheckoutSession{}, errors.New("checkout session repository: session id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	return decodeCheckoutSession(doc.ID, doc.Data), nil
}

// FindByOrderID locates the session bound to the given order.
func (r *CheckoutSessionRepository) FindByOrderID(ctx context.Context, orderID string) (domain.CheckoutSession, error) {
	if r == nil || r.base == nil {
		return domain.CheckoutSession{}, errors.New("checkout session repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.CheckoutSession{}, errors.New("checkout session repository: order id is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", id).Limit(1)
	})
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if len(docs) == 0 {
		return domain.CheckoutSession{}, pfirestore.WrapError("checkoutSessions.findByOrderId", status.Errorf(codes.NotFound, "checkout session for order %s not found", id))
	}
	return decodeCheckoutSession(docs[0].ID, docs[0].Data), nil
}

func encodeCheckoutSession(session domain.CheckoutSession) checkoutSessionDocument {
	items := make([]orderLineItemDocument, 0, len(session.Items))
	for _, item := range session.Items {
		items = append(items, orderLineItemDocument{
			VariantID: item.VariantID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Total:     item.Total,
		})
	}
	return checkoutSessionDocument{
		AccountID:      session.AccountID,
		OrderID:        session.OrderID,
		Items:          items,
		PromoCode:      session.PromoCode,
		DiscountAmount: session.DiscountAmount,
		Totals: orderTotalsDocument{
			Subtotal: session.Totals.Subtotal,
			Discount: session.Totals.Discount,
			Total:    session.Totals.Total,
			Currency: session.Totals.Currency,
		},
		Provider:        session.Provider,
		ProviderOrderID: session.ProviderOrderID,
		PaymentToken:    session.PaymentToken,
		Status:          string(session.Status),
		CreatedAt:       session.CreatedAt.UTC(),
		UpdatedAt:       session.UpdatedAt.UTC(),
	}
}

func decodeCheckoutSession(id string, doc checkoutSessionDocument) domain.CheckoutSession {
	items := make([]domain.OrderLineItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderLineItem{
			VariantID: item.VariantID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Total:     item.Total,
		})
	}
	return domain.CheckoutSession{
		ID:             id,
		AccountID:      doc.AccountID,
		OrderID:        doc.OrderID,
		Items:          items,
		PromoCode:      doc.PromoCode,
		DiscountAmount: doc.DiscountAmount,
		Totals: domain.OrderTotals{
			Subtotal: doc.Totals.Subtotal,
			Discount: doc.Totals.Discount,
			Total:    doc.Totals.Total,
			Currency: doc.Totals.Currency,
		},
		Provider:        doc.Provider,
		ProviderOrderID: doc.ProviderOrderID,
		PaymentToken:    doc.PaymentToken,
		Status:          domain.CheckoutSessionStatus(doc.Status),
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
}

var _ repositories.CheckoutSessionRepository = (*CheckoutSessionRepository)(nil)
