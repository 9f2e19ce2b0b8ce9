package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/souqline/api/internal/domain"
	pfirestore "github.com/souqline/api/internal/platform/firestore"
	"github.com/souqline/api/internal/platform/pagination"
	"github.com/souqline/api/internal/repositories"
)

const orderCollection = "orders"

type orderLineItemDocument struct {
	VariantID string `firestore:"variantId"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int64  `firestore:"quantity"`
	Total     int64  `firestore:"total"`
}

type orderTotalsDocument struct {
	Subtotal int64  `firestore:"subtotal"`
	Discount int64  `firestore:"discount"`
	Total    int64  `firestore:"total"`
	Currency string `firestore:"currency"`
}

type shippingAddressDocument struct {
	Recipient  string `firestore:"recipient"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

type statusChangeDocument struct {
	Status    string    `firestore:"status"`
	Note      string    `firestore:"note,omitempty"`
	Actor     string    `firestore:"actor,omitempty"`
	ChangedAt time.Time `firestore:"changedAt"`
}

type orderDocument struct {
	OrderNumber     string                  `firestore:"orderNumber"`
	AccountID       string                  `firestore:"accountId"`
	Items           []orderLineItemDocument `firestore:"items"`
	Totals          orderTotalsDocument     `firestore:"totals"`
	PromoCode       string                  `firestore:"promoCode,omitempty"`
	Shipping        shippingAddressDocument `firestore:"shipping"`
	Status          string                  `firestore:"status"`
	History         []statusChangeDocument  `firestore:"history"`
	Provider        string                  `firestore:"provider,omitempty"`
	ProviderOrderID string                  `firestore:"providerOrderId,omitempty"`
	ProviderTxnRef  string                  `firestore:"providerTxnRef,omitempty"`
	TrackingToken   string                  `firestore:"trackingToken"`
	CreatedAt       time.Time               `firestore:"createdAt"`
	UpdatedAt       time.Time               `firestore:"updatedAt"`
	PaidAt          *time.Time              `firestore:"paidAt,omitempty"`
	ShippedAt       *time.Time              `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time              `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time              `firestore:"cancelledAt,omitempty"`
}

// OrderRepository persists order records and runs the transactional mutations
// the lifecycle manager depends on: guarded status transitions and the
// settlement unit that moves status, stock, and promo counters together.
type OrderRepository struct {
	base       *pfirestore.BaseRepository[orderDocument]
	variants   *pfirestore.BaseRepository[variantDocument]
	promotions *pfirestore.BaseRepository[promotionDocument]
	provider   *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base:       pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil),
		variants:   pfirestore.NewBaseRepository[variantDocument](provider, variantCollection, nil, nil),
		promotions: pfirestore.NewBaseRepository[promotionDocument](provider, promotionCollection, nil, nil),
		provider:   provider,
	}, nil
}

// Insert creates the order document; it fails on id collision.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order id is required", nil)
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeOrder(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// FindByID loads an order by identifier.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order id is required", nil)
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// FindByTrackingToken resolves the public tracking token to its order.
func (r *OrderRepository) FindByTrackingToken(ctx context.Context, token string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	needle := strings.TrimSpace(token)
	if needle == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "tracking token is required", nil)
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("trackingToken", "==", needle).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.findByTrackingToken", status.Error(codes.NotFound, "order not found"))
	}
	return decodeOrder(docs[0].ID, docs[0].Data), nil
}

// FindByProviderRef resolves a provider transaction reference to its order.
func (r *OrderRepository) FindByProviderRef(ctx context.Context, provider string, providerTxnRef string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	p := strings.TrimSpace(provider)
	ref := strings.TrimSpace(providerTxnRef)
	if p == "" || ref == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "provider and transaction reference are required", nil)
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("provider", "==", p).Where("providerTxnRef", "==", ref).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.findByProviderRef", status.Error(codes.NotFound, "order not found"))
	}
	return decodeOrder(docs[0].ID, docs[0].Data), nil
}

// HasOrders reports whether an account owns at least one order. Used to
// decide whether a merged guest record may be deleted.
func (r *OrderRepository) HasOrders(ctx context.Context, accountID string) (bool, error) {
	if r == nil || r.base == nil {
		return false, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(accountID)
	if id == "" {
		return false, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "account id is required", nil)
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("accountId", "==", id).Limit(1)
	})
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if strings.TrimSpace(filter.AccountID) != "" {
			q = q.Where("accountId", "==", strings.TrimSpace(filter.AccountID))
		}
		if len(filter.Status) == 1 {
			q = q.Where("status", "==", string(filter.Status[0]))
		} else if len(filter.Status) > 1 {
			values := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				values = append(values, string(s))
			}
			q = q.Where("status", "in", values)
		}
		q = q.OrderBy("createdAt", firestore.Desc)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i >= pageSize {
			token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{docs[pageSize-1].Data.CreatedAt}})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, decodeOrder(doc.ID, doc.Data))
	}
	return page, nil
}

// SetProviderRegistration records the gateway transaction reference issued at
// checkout initialization. The order stays PENDING so a failed or timed-out
// gateway call can be retried against the same order.
func (r *OrderRepository) SetProviderRegistration(ctx context.Context, orderID string, reg repositories.ProviderRegistration) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order id is required", nil)
	}

	updates := []firestore.Update{
		{Path: "provider", Value: strings.TrimSpace(reg.Provider)},
		{Path: "providerOrderId", Value: strings.TrimSpace(reg.ProviderOrderID)},
		{Path: "updatedAt", Value: reg.Now.UTC()},
	}
	if strings.TrimSpace(reg.ProviderTxnRef) != "" {
		updates = append(updates, firestore.Update{Path: "providerTxnRef", Value: strings.TrimSpace(reg.ProviderTxnRef)})
	}
	if _, err := r.base.Update(ctx, id, updates); err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, id)
}

// ApplyTransition checks the requested status change against the current
// status and appends the history entry inside one transaction. The history is
// append-only; existing entries are never rewritten.
func (r *OrderRepository) ApplyTransition(ctx context.Context, cmd repositories.TransitionCommand) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order id is required", nil)
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	var updated domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", id, err)
		}

		current := domain.OrderStatus(doc.Status)
		if !statusAllowed(current, cmd.From) {
			return &repositories.OrderError{
				Code:      repositories.OrderErrorIllegalTransition,
				Message:   fmt.Sprintf("cannot transition order %s from %s to %s", id, current, cmd.To),
				Current:   current,
				Requested: cmd.To,
			}
		}

		applyStatus(&doc, cmd.To, cmd.Note, cmd.Actor, cmd.Now)
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = decodeOrder(id, doc)
		return nil
	})
	if err != nil {
		var orderErr *repositories.OrderError
		if errors.As(err, &orderErr) {
			return domain.Order{}, orderErr
		}
		return domain.Order{}, pfirestore.WrapError("orders.applyTransition", err)
	}
	return updated, nil
}

// Settle applies a payment outcome as one atomic unit. For a success outcome
// the PENDING→PAID transition, the per-line stock decrement, and the promo
// use-count increment all commit together or not at all. A repeat delivery
// for an already settled order reports AlreadyApplied and writes nothing.
func (r *OrderRepository) Settle(ctx context.Context, cmd repositories.SettlementCommand) (repositories.SettlementResult, error) {
	if r == nil || r.provider == nil {
		return repositories.SettlementResult{}, errors.New("order repository not initialised")
	}
	providerName := strings.TrimSpace(cmd.Provider)
	providerOrderID := strings.TrimSpace(cmd.ProviderOrderID)
	if providerName == "" || providerOrderID == "" {
		return repositories.SettlementResult{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "provider and provider order id are required", nil)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return repositories.SettlementResult{}, err
	}

	var result repositories.SettlementResult
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.SettlementResult{}

		query := client.Collection(orderCollection).
			Where("provider", "==", providerName).
			Where("providerOrderId", "==", providerOrderID).
			Limit(1)
		iter := tx.Documents(query)
		defer iter.Stop()

		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return &repositories.OrderError{
				Code:    repositories.OrderErrorIntegrity,
				Message: fmt.Sprintf("no order matches provider %s reference %s", providerName, providerOrderID),
			}
		}
		if err != nil {
			return err
		}

		var doc orderDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", snapshot.Ref.ID, err)
		}
		orderID := snapshot.Ref.ID
		current := domain.OrderStatus(doc.Status)

		// Duplicate webhook deliveries land here: the order already settled,
		// so the repeat is a successful no-op.
		if current.SettledOrLater() {
			result.Order = decodeOrder(orderID, doc)
			result.AlreadyApplied = true
			return nil
		}
		if !cmd.Success && current == domain.OrderStatusPaymentFailed {
			result.Order = decodeOrder(orderID, doc)
			result.AlreadyApplied = true
			return nil
		}
		if current != domain.OrderStatusPending {
			return &repositories.OrderError{
				Code:      repositories.OrderErrorIllegalTransition,
				Message:   fmt.Sprintf("cannot settle order %s in status %s", orderID, current),
				Current:   current,
				Requested: domain.OrderStatusPaid,
			}
		}

		if !cmd.Success {
			doc.ProviderTxnRef = strings.TrimSpace(cmd.ProviderTxnRef)
			note := strings.TrimSpace(cmd.FailureReason)
			if note == "" {
				note = "payment failed"
			}
			applyStatus(&doc, domain.OrderStatusPaymentFailed, note, cmd.Actor, cmd.Now)
			if err := tx.Set(snapshot.Ref, doc); err != nil {
				return err
			}
			result.Order = decodeOrder(orderID, doc)
			return nil
		}

		// All reads happen before any write inside a Firestore transaction,
		// so collect variant and promo snapshots first.
		type stockWrite struct {
			ref   *firestore.DocumentRef
			doc   variantDocument
			short bool
		}
		stockWrites := make([]stockWrite, 0, len(doc.Items))
		var shortVariants []string
		for _, item := range doc.Items {
			vref := client.Collection(variantCollection).Doc(item.VariantID)
			vsnap, err := tx.Get(vref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					shortVariants = append(shortVariants, item.VariantID)
					continue
				}
				return err
			}
			var vdoc variantDocument
			if err := vsnap.DataTo(&vdoc); err != nil {
				return fmt.Errorf("firestore variants decode %s: %w", item.VariantID, err)
			}
			if vdoc.Stock < item.Quantity {
				shortVariants = append(shortVariants, item.VariantID)
				continue
			}
			vdoc.Stock -= item.Quantity
			vdoc.UpdatedAt = cmd.Now.UTC()
			stockWrites = append(stockWrites, stockWrite{ref: vref, doc: vdoc})
		}
		if len(shortVariants) > 0 {
			return &repositories.OrderError{
				Code:       repositories.OrderErrorInsufficientStock,
				Message:    fmt.Sprintf("insufficient stock for order %s: %s", orderID, strings.Join(shortVariants, ", ")),
				VariantIDs: shortVariants,
			}
		}

		var promoRef *firestore.DocumentRef
		var promoDoc promotionDocument
		redeemPromo := false
		if code := normalizePromoCode(doc.PromoCode); code != "" {
			promoRef = client.Collection(promotionCollection).Doc(code)
			psnap, err := tx.Get(promoRef)
			switch {
			case status.Code(err) == codes.NotFound:
				result.PromoSkipped = true
			case err != nil:
				return err
			default:
				if err := psnap.DataTo(&promoDoc); err != nil {
					return fmt.Errorf("firestore promotions decode %s: %w", code, err)
				}
				if promoDoc.Deleted || (promoDoc.MaxUses > 0 && promoDoc.UseCount >= promoDoc.MaxUses) {
					// The code ran out between validation and settlement. The
					// order keeps its frozen totals; the shortfall is the
					// merchant's to absorb.
					result.PromoSkipped = true
				} else {
					promoDoc.UseCount++
					promoDoc.UpdatedAt = cmd.Now.UTC()
					redeemPromo = true
				}
			}
		}

		for _, write := range stockWrites {
			if err := tx.Set(write.ref, write.doc); err != nil {
				return err
			}
		}
		if redeemPromo {
			if err := tx.Set(promoRef, promoDoc); err != nil {
				return err
			}
		}

		doc.ProviderTxnRef = strings.TrimSpace(cmd.ProviderTxnRef)
		applyStatus(&doc, domain.OrderStatusPaid, "payment settled", cmd.Actor, cmd.Now)
		if err := tx.Set(snapshot.Ref, doc); err != nil {
			return err
		}
		result.Order = decodeOrder(orderID, doc)
		return nil
	}, pfirestore.WithTxTimeout(30*time.Second))
	if err != nil {
		var orderErr *repositories.OrderError
		if errors.As(err, &orderErr) {
			return repositories.SettlementResult{}, orderErr
		}
		return repositories.SettlementResult{}, pfirestore.WrapError("orders.settle", err)
	}
	return result, nil
}

func statusAllowed(current domain.OrderStatus, from []domain.OrderStatus) bool {
	if len(from) == 0 {
		return false
	}
	for _, s := range from {
		if s == current {
			return true
		}
	}
	return false
}

func applyStatus(doc *orderDocument, to domain.OrderStatus, note string, actor string, now time.Time) {
	at := now.UTC()
	doc.Status = string(to)
	doc.UpdatedAt = at
	doc.History = append(doc.History, statusChangeDocument{
		Status:    string(to),
		Note:      strings.TrimSpace(note),
		Actor:     strings.TrimSpace(actor),
		ChangedAt: at,
	})
	switch to {
	case domain.OrderStatusPaid:
		doc.PaidAt = &at
	case domain.OrderStatusShipped:
		doc.ShippedAt = &at
	case domain.OrderStatusDelivered:
		doc.DeliveredAt = &at
	case domain.OrderStatusCancelled:
		doc.CancelledAt = &at
	}
}

func encodeOrder(order domain.Order) orderDocument {
	items := make([]orderLineItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderLineItemDocument{
			VariantID: item.VariantID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Total:     item.Total,
		})
	}
	history := make([]statusChangeDocument, 0, len(order.History))
	for _, change := range order.History {
		history = append(history, statusChangeDocument{
			Status:    string(change.Status),
			Note:      change.Note,
			Actor:     change.Actor,
			ChangedAt: change.ChangedAt.UTC(),
		})
	}
	return orderDocument{
		OrderNumber: order.OrderNumber,
		AccountID:   order.AccountID,
		Items:       items,
		Totals: orderTotalsDocument{
			Subtotal: order.Totals.Subtotal,
			Discount: order.Totals.Discount,
			Total:    order.Totals.Total,
			Currency: order.Totals.Currency,
		},
		PromoCode: order.PromoCode,
		Shipping: shippingAddressDocument{
			Recipient:  order.Shipping.Recipient,
			Line1:      order.Shipping.Line1,
			Line2:      order.Shipping.Line2,
			City:       order.Shipping.City,
			PostalCode: order.Shipping.PostalCode,
			Country:    order.Shipping.Country,
			Phone:      order.Shipping.Phone,
		},
		Status:          string(order.Status),
		History:         history,
		Provider:        order.Provider,
		ProviderOrderID: order.ProviderOrderID,
		ProviderTxnRef:  order.ProviderTxnRef,
		TrackingToken:   order.TrackingToken,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
		PaidAt:          order.PaidAt,
		ShippedAt:       order.ShippedAt,
		DeliveredAt:     order.DeliveredAt,
		CancelledAt:     order.CancelledAt,
	}
}

func decodeOrder(id string, doc orderDocument) domain.Order {
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
	history := make([]domain.StatusChange, 0, len(doc.History))
	for _, change := range doc.History {
		history = append(history, domain.StatusChange{
			Status:    domain.OrderStatus(change.Status),
			Note:      change.Note,
			Actor:     change.Actor,
			ChangedAt: change.ChangedAt,
		})
	}
	return domain.Order{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		AccountID:   doc.AccountID,
		Items:       items,
		Totals: domain.OrderTotals{
			Subtotal: doc.Totals.Subtotal,
			Discount: doc.Totals.Discount,
			Total:    doc.Totals.Total,
			Currency: doc.Totals.Currency,
		},
		PromoCode: doc.PromoCode,
		Shipping: domain.ShippingAddress{
			Recipient:  doc.Shipping.Recipient,
			Line1:      doc.Shipping.Line1,
			Line2:      doc.Shipping.Line2,
			City:       doc.Shipping.City,
			PostalCode: doc.Shipping.PostalCode,
			Country:    doc.Shipping.Country,
			Phone:      doc.Shipping.Phone,
		},
		Status:          domain.OrderStatus(doc.Status),
		History:         history,
		Provider:        doc.Provider,
		ProviderOrderID: doc.ProviderOrderID,
		ProviderTxnRef:  doc.ProviderTxnRef,
		TrackingToken:   doc.TrackingToken,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
		PaidAt:          doc.PaidAt,
		ShippedAt:       doc.ShippedAt,
		DeliveredAt:     doc.DeliveredAt,
		CancelledAt:     doc.CancelledAt,
	}
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
