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
	errOrderRepositoryRequired = errors.New("order service: orders repository is required")
	errOrderClockRequired      = errors.New("order service: clock is required")
)

// ErrOrderInvalidInput indicates the caller supplied invalid input.
var ErrOrderInvalidInput = fmt.Errorf("order service: %w", ErrValidation)

// ErrOrderNotFound indicates the requested order does not exist.
var ErrOrderNotFound = fmt.Errorf("order service: %w", ErrNotFound)

// ErrOrderUnavailable indicates the order store cannot fulfil the request.
var ErrOrderUnavailable = fmt.Errorf("order service: %w", ErrUpstream)

// ErrOrderIllegalTransition indicates the requested status change is not
// permitted from the order's current status.
var ErrOrderIllegalTransition = fmt.Errorf("order service: illegal status transition: %w", ErrConflict)

// ErrOrderStockConflict indicates settlement could not decrement stock.
var ErrOrderStockConflict = fmt.Errorf("order service: insufficient stock at settlement: %w", ErrConflict)

// ErrOrderIntegrity indicates the settlement references an order the store
// does not know, or state contradicts an invariant.
var ErrOrderIntegrity = fmt.Errorf("order service: %w", ErrIntegrity)

// statusTransitions is the lifecycle state machine. A status maps to the set
// of statuses an order may move to next; terminal statuses map to nothing.
var statusTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:       {domain.OrderStatusPaid, domain.OrderStatusCancelled, domain.OrderStatusPaymentFailed},
	domain.OrderStatusPaid:          {domain.OrderStatusProcessing, domain.OrderStatusCancelled, domain.OrderStatusPaymentFailed},
	domain.OrderStatusProcessing:    {domain.OrderStatusShipped},
	domain.OrderStatusShipped:       {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:     nil,
	domain.OrderStatusCancelled:     nil,
	domain.OrderStatusPaymentFailed: nil,
}

// transitionSources returns every status the target is reachable from.
func transitionSources(target domain.OrderStatus) []domain.OrderStatus {
	var sources []domain.OrderStatus
	for from, targets := range statusTransitions {
		for _, to := range targets {
			if to == target {
				sources = append(sources, from)
			}
		}
	}
	return sources
}

// OrderServiceDeps wires the repositories and ambient dependencies for lifecycle operations.
type OrderServiceDeps struct {
	Orders repositories.OrderRepository
	// Carts is optional; when present the paying account's cart is cleared
	// after a successful settlement.
	Carts  repositories.CartRepository
	Events EventPublisher
	Clock  func() time.Time
	Logger func(context.Context, string, map[string]any)
}

type orderService struct {
	orders repositories.OrderRepository
	carts  repositories.CartRepository
	events EventPublisher
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewOrderService constructs an OrderService enforcing dependency validation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errOrderRepositoryRequired
	}
	if deps.Clock == nil {
		return nil, errOrderClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders: deps.Orders,
		carts:  deps.Carts,
		events: deps.Events,
		now:    func() time.Time { return deps.Clock().UTC() },
		logger: logger,
	}, nil
}

// ApplyPaymentOutcome settles a verified gateway outcome. Stock decrement,
// promo redemption, and the status change commit as one atomic unit; a repeat
// delivery for an already settled order is a logged no-op.
func (s *orderService) ApplyPaymentOutcome(ctx context.Context, outcome PaymentOutcome) (SettlementOutcome, error) {
	provider := strings.TrimSpace(outcome.Provider)
	providerOrderID := strings.TrimSpace(outcome.ProviderOrderID)
	if provider == "" || providerOrderID == "" {
		return SettlementOutcome{}, ErrOrderInvalidInput
	}

	result, err := s.orders.Settle(ctx, repositories.SettlementCommand{
		Provider:        provider,
		ProviderOrderID: providerOrderID,
		ProviderTxnRef:  strings.TrimSpace(outcome.ProviderTxnRef),
		Success:         outcome.Success,
		FailureReason:   outcome.FailureReason,
		Actor:           "gateway:" + provider,
		Now:             s.now(),
	})
	if err != nil {
		return SettlementOutcome{}, s.translateOrderError(err)
	}

	if result.AlreadyApplied {
		s.logger(ctx, "order.settlement.duplicate", map[string]any{
			"orderId":         result.Order.ID,
			"provider":        provider,
			"providerOrderId": providerOrderID,
		})
		return SettlementOutcome{Order: result.Order, AlreadyApplied: true}, nil
	}

	if result.PromoSkipped {
		s.logger(ctx, "order.settlement.promo_skipped", map[string]any{
			"orderId":   result.Order.ID,
			"promoCode": result.Order.PromoCode,
		})
	}

	if outcome.Success {
		s.clearCart(ctx, result.Order)
	}

	eventType := "order.paid"
	if !outcome.Success {
		eventType = "order.payment_failed"
	}
	s.publish(ctx, result.Order, eventType)

	s.logger(ctx, "order.settled", map[string]any{
		"orderId": result.Order.ID,
		"status":  string(result.Order.Status),
	})

	return SettlementOutcome{
		Order:        result.Order,
		PromoSkipped: result.PromoSkipped,
	}, nil
}

// GetOrder loads an order; a non-empty accountID scopes the read to the owner.
func (s *orderService) GetOrder(ctx context.Context, orderID string, accountID string) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, ErrOrderInvalidInput
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, s.translateOrderError(err)
	}
	if owner := strings.TrimSpace(accountID); owner != "" && order.AccountID != owner {
		// Ownership mismatches read as absence so order ids stay unguessable.
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

// ListOrders pages through orders matching the filter.
func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		AccountID:  strings.TrimSpace(filter.AccountID),
		Status:     filter.Status,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.translateOrderError(err)
	}
	return page, nil
}

// TrackByToken resolves the public tracking projection for a token. The
// projection omits account, billing, and payment details.
func (s *orderService) TrackByToken(ctx context.Context, token string) (OrderTracking, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return OrderTracking{}, ErrOrderInvalidInput
	}
	order, err := s.orders.FindByTrackingToken(ctx, trimmed)
	if err != nil {
		return OrderTracking{}, s.translateOrderError(err)
	}
	return OrderTracking{
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		Items:       order.Items,
		Totals:      order.Totals,
		History:     order.History,
		CreatedAt:   order.CreatedAt,
	}, nil
}

// UpdateStatus applies an administrative transition after checking it against
// the state machine.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return Order{}, ErrOrderInvalidInput
	}
	target := cmd.Status
	sources := transitionSources(target)
	if len(sources) == 0 {
		if _, known := statusTransitions[target]; !known {
			return Order{}, ErrOrderInvalidInput
		}
		return Order{}, ErrOrderIllegalTransition
	}

	order, err := s.orders.ApplyTransition(ctx, repositories.TransitionCommand{
		OrderID: id,
		From:    sources,
		To:      target,
		Note:    strings.TrimSpace(cmd.Note),
		Actor:   strings.TrimSpace(cmd.Actor),
		Now:     s.now(),
	})
	if err != nil {
		return Order{}, s.translateOrderError(err)
	}

	s.publish(ctx, order, "order.status_changed")
	s.logger(ctx, "order.status.updated", map[string]any{
		"orderId": order.ID,
		"status":  string(order.Status),
		"actor":   cmd.Actor,
	})
	return order, nil
}

// Cancel cancels an order that has not entered fulfilment.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return Order{}, ErrOrderInvalidInput
	}

	if owner := strings.TrimSpace(cmd.AccountID); owner != "" {
		order, err := s.orders.FindByID(ctx, id)
		if err != nil {
			return Order{}, s.translateOrderError(err)
		}
		if order.AccountID != owner {
			return Order{}, ErrOrderNotFound
		}
	}

	note := strings.TrimSpace(cmd.Reason)
	if note == "" {
		note = "order cancelled"
	}

	order, err := s.orders.ApplyTransition(ctx, repositories.TransitionCommand{
		OrderID: id,
		From:    []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusPaid},
		To:      domain.OrderStatusCancelled,
		Note:    note,
		Actor:   strings.TrimSpace(cmd.Actor),
		Now:     s.now(),
	})
	if err != nil {
		return Order{}, s.translateOrderError(err)
	}

	s.publish(ctx, order, "order.cancelled")
	return order, nil
}

// clearCart empties the paying account's cart once the order is paid. The cart
// is a working document, not part of the settlement unit, so a failure here is
// logged and the settlement still stands.
func (s *orderService) clearCart(ctx context.Context, order domain.Order) {
	if s.carts == nil || strings.TrimSpace(order.AccountID) == "" {
		return
	}
	if err := s.carts.Clear(ctx, order.AccountID, s.now()); err != nil {
		s.logger(ctx, "order.cart_clear_failed", map[string]any{
			"orderId":   order.ID,
			"accountId": order.AccountID,
			"error":     err.Error(),
		})
	}
}

func (s *orderService) publish(ctx context.Context, order domain.Order, eventType string) {
	if s.events == nil {
		return
	}
	event := domain.OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		AccountID:   order.AccountID,
		Status:      order.Status,
		OccurredAt:  s.now(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"orderId": order.ID,
			"type":    eventType,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) translateOrderError(err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorIllegalTransition:
			return ErrOrderIllegalTransition
		case repositories.OrderErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrOrderStockConflict, strings.Join(orderErr.VariantIDs, ", "))
		case repositories.OrderErrorIntegrity:
			return ErrOrderIntegrity
		case repositories.OrderErrorInvalidInput:
			return ErrOrderInvalidInput
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return ErrOrderIllegalTransition
		}
	}
	return ErrOrderUnavailable
}
