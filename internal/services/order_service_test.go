package services

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/repositories"
)

func newOrderService(t *testing.T, orders *stubOrderRepo, events *stubEvents) OrderService {
	t.Helper()
	svc, err := NewOrderService(OrderServiceDeps{
		Orders: orders,
		Events: events,
		Clock:  fixedNow,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return svc
}

func paidOrder() domain.Order {
	return domain.Order{
		ID:          "ord_1",
		OrderNumber: "SQ-2026-000001",
		AccountID:   "acc_1",
		Status:      domain.OrderStatusPaid,
	}
}

func TestApplyPaymentOutcomeSettlesOrder(t *testing.T) {
	var settled repositories.SettlementCommand
	orders := &stubOrderRepo{
		settleFn: func(ctx context.Context, cmd repositories.SettlementCommand) (repositories.SettlementResult, error) {
			settled = cmd
			return repositories.SettlementResult{Order: paidOrder()}, nil
		},
	}
	events := &stubEvents{}
	svc := newOrderService(t, orders, events)

	result, err := svc.ApplyPaymentOutcome(context.Background(), PaymentOutcome{
		Provider:        "paymob",
		ProviderOrderID: "1001",
		ProviderTxnRef:  "txn_9",
		Success:         true,
	})
	if err != nil {
		t.Fatalf("apply outcome: %v", err)
	}
	if result.AlreadyApplied {
		t.Fatal("first settlement must not read as duplicate")
	}
	if settled.Actor != "gateway:paymob" {
		t.Fatalf("expected gateway actor, got %q", settled.Actor)
	}
	if !settled.Now.Equal(fixedNow()) {
		t.Fatalf("unexpected settlement time %v", settled.Now)
	}
	if len(events.published) != 1 || events.published[0].Type != "order.paid" {
		t.Fatalf("expected order.paid event, got %+v", events.published)
	}
}

func TestApplyPaymentOutcomeDuplicateIsNoOp(t *testing.T) {
	orders := &stubOrderRepo{
		settleFn: func(ctx context.Context, cmd repositories.SettlementCommand) (repositories.SettlementResult, error) {
			return repositories.SettlementResult{Order: paidOrder(), AlreadyApplied: true}, nil
		},
	}
	events := &stubEvents{}
	svc := newOrderService(t, orders, events)

	result, err := svc.ApplyPaymentOutcome(context.Background(), PaymentOutcome{
		Provider:        "paymob",
		ProviderOrderID: "1001",
		Success:         true,
	})
	if err != nil {
		t.Fatalf("duplicate settlement must not fail: %v", err)
	}
	if !result.AlreadyApplied {
		t.Fatal("expected AlreadyApplied")
	}
	if len(events.published) != 0 {
		t.Fatalf("duplicate settlement must publish nothing, got %+v", events.published)
	}
}

func TestApplyPaymentOutcomeClearsCartOnSuccess(t *testing.T) {
	orders := &stubOrderRepo{
		settleFn: func(ctx context.Context, cmd repositories.SettlementCommand) (repositories.SettlementResult, error) {
			return repositories.SettlementResult{Order: paidOrder()}, nil
		},
	}
	var clearedAccount string
	carts := &stubCartRepo{
		clearFn: func(ctx context.Context, accountID string, now time.Time) error {
			clearedAccount = accountID
			if !now.Equal(fixedNow()) {
				t.Fatalf("unexpected clear time %v", now)
			}
			return nil
		},
	}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders: orders,
		Carts:  carts,
		Clock:  fixedNow,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	if _, err := svc.ApplyPaymentOutcome(context.Background(), PaymentOutcome{
		Provider:        "paymob",
		ProviderOrderID: "1001",
		Success:         true,
	}); err != nil {
		t.Fatalf("apply outcome: %v", err)
	}
	if clearedAccount != "acc_1" {
		t.Fatalf("expected cart cleared for acc_1, got %q", clearedAccount)
	}
}

func TestApplyPaymentOutcomeKeepsCartUnlessPaid(t *testing.T) {
	cases := []struct {
		name   string
		result repositories.SettlementResult
		paid   bool
	}{
		{
			name: "failed payment",
			result: func() repositories.SettlementResult {
				order := paidOrder()
				order.Status = domain.OrderStatusPaymentFailed
				return repositories.SettlementResult{Order: order}
			}(),
			paid: false,
		},
		{
			name:   "duplicate delivery",
			result: repositories.SettlementResult{Order: paidOrder(), AlreadyApplied: true},
			paid:   true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders := &stubOrderRepo{
				settleFn: func(ctx context.Context, cmd repositories.SettlementCommand) (repositories.SettlementResult, error) {
					return tc.result, nil
				},
			}
			carts := &stubCartRepo{
				clearFn: func(ctx context.Context, accountID string, now time.Time) error {
					t.Fatal("cart must only be cleared on the first successful settlement")
					return nil
				},
			}
			svc, err := NewOrderService(OrderServiceDeps{
				Orders: orders,
				Carts:  carts,
				Clock:  fixedNow,
			})
			if err != nil {
				t.Fatalf("new order service: %v", err)
			}

			if _, err := svc.ApplyPaymentOutcome(context.Background(), PaymentOutcome{
				Provider:        "paymob",
				ProviderOrderID: "1001",
				Success:         tc.paid,
			}); err != nil {
				t.Fatalf("apply outcome: %v", err)
			}
		})
	}
}

func TestApplyPaymentOutcomeCartClearFailureDoesNotUndoSettlement(t *testing.T) {
	orders := &stubOrderRepo{
		settleFn: func(ctx context.Context, cmd repositories.SettlementCommand) (repositories.SettlementResult, error) {
			return repositories.SettlementResult{Order: paidOrder()}, nil
		},
	}
	carts := &stubCartRepo{
		clearFn: func(ctx context.Context, accountID string, now time.Time) error {
			return errRepoDown
		},
	}
	events := &stubEvents{}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders: orders,
		Carts:  carts,
		Events: events,
		Clock:  fixedNow,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	result, err := svc.ApplyPaymentOutcome(context.Background(), PaymentOutcome{
		Provider:        "paymob",
		ProviderOrderID: "1001",
		Success:         true,
	})
	if err != nil {
		t.Fatalf("settlement must survive a cart store failure: %v", err)
	}
	if result.Order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected PAID order, got %s", result.Order.Status)
	}
	if len(events.published) != 1 || events.published[0].Type != "order.paid" {
		t.Fatalf("expected order.paid event, got %+v", events.published)
	}
}

func TestApplyPaymentOutcomeFailurePublishesFailedEvent(t *testing.T) {
	orders := &stubOrderRepo{
		settleFn: func(ctx context.Context, cmd repositories.SettlementCommand) (repositories.SettlementResult, error) {
			order := paidOrder()
			order.Status = domain.OrderStatusPaymentFailed
			return repositories.SettlementResult{Order: order}, nil
		},
	}
	events := &stubEvents{}
	svc := newOrderService(t, orders, events)

	if _, err := svc.ApplyPaymentOutcome(context.Background(), PaymentOutcome{
		Provider:        "paymob",
		ProviderOrderID: "1001",
		Success:         false,
		FailureReason:   "insufficient funds",
	}); err != nil {
		t.Fatalf("apply outcome: %v", err)
	}
	if len(events.published) != 1 || events.published[0].Type != "order.payment_failed" {
		t.Fatalf("expected order.payment_failed event, got %+v", events.published)
	}
}

func TestApplyPaymentOutcomeTranslatesStoreErrors(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		wantErr error
	}{
		{
			name:    "stock conflict",
			err:     &repositories.OrderError{Code: repositories.OrderErrorInsufficientStock, VariantIDs: []string{"v1"}},
			wantErr: ErrOrderStockConflict,
		},
		{
			name:    "unknown provider order",
			err:     &repositories.OrderError{Code: repositories.OrderErrorIntegrity},
			wantErr: ErrOrderIntegrity,
		},
		{
			name:    "store down",
			err:     errRepoDown,
			wantErr: ErrOrderUnavailable,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders := &stubOrderRepo{
				settleFn: func(ctx context.Context, cmd repositories.SettlementCommand) (repositories.SettlementResult, error) {
					return repositories.SettlementResult{}, tc.err
				},
			}
			svc := newOrderService(t, orders, &stubEvents{})

			_, err := svc.ApplyPaymentOutcome(context.Background(), PaymentOutcome{
				Provider:        "paymob",
				ProviderOrderID: "1001",
				Success:         true,
			})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestGetOrderScopesToOwner(t *testing.T) {
	orders := &stubOrderRepo{
		findByIDFn: func(ctx context.Context, orderID string) (domain.Order, error) {
			return paidOrder(), nil
		},
	}
	svc := newOrderService(t, orders, &stubEvents{})

	if _, err := svc.GetOrder(context.Background(), "ord_1", "acc_1"); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	// A foreign order must read as missing, not forbidden.
	if _, err := svc.GetOrder(context.Background(), "ord_1", "acc_other"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for foreign order, got %v", err)
	}
}

func TestTrackByTokenReturnsPublicProjection(t *testing.T) {
	order := paidOrder()
	order.TrackingToken = "abc123"
	order.Items = []domain.OrderLineItem{{VariantID: "v1", Name: "Variant v1", UnitPrice: 500, Quantity: 2, Total: 1000}}
	order.Totals = domain.OrderTotals{Subtotal: 1000, Total: 1000, Currency: "EGP"}
	order.History = []domain.StatusChange{{Status: domain.OrderStatusPending, Note: "order placed"}}

	orders := &stubOrderRepo{
		findByTokenFn: func(ctx context.Context, token string) (domain.Order, error) {
			if token != "abc123" {
				return domain.Order{}, errRepoNotFound
			}
			return order, nil
		},
	}
	svc := newOrderService(t, orders, &stubEvents{})

	tracking, err := svc.TrackByToken(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if tracking.OrderNumber != "SQ-2026-000001" || tracking.Status != domain.OrderStatusPaid {
		t.Fatalf("unexpected projection %+v", tracking)
	}
	if len(tracking.Items) != 1 || len(tracking.History) != 1 {
		t.Fatalf("expected items and history in projection, got %+v", tracking)
	}

	if _, err := svc.TrackByToken(context.Background(), "wrong"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for unknown token, got %v", err)
	}
}

func TestUpdateStatusDerivesAllowedSources(t *testing.T) {
	cases := []struct {
		target      domain.OrderStatus
		wantSources []domain.OrderStatus
	}{
		{domain.OrderStatusPaid, []domain.OrderStatus{domain.OrderStatusPending}},
		{domain.OrderStatusProcessing, []domain.OrderStatus{domain.OrderStatusPaid}},
		{domain.OrderStatusShipped, []domain.OrderStatus{domain.OrderStatusProcessing}},
		{domain.OrderStatusDelivered, []domain.OrderStatus{domain.OrderStatusShipped}},
		{domain.OrderStatusCancelled, []domain.OrderStatus{domain.OrderStatusPaid, domain.OrderStatusPending}},
		{domain.OrderStatusPaymentFailed, []domain.OrderStatus{domain.OrderStatusPaid, domain.OrderStatusPending}},
	}
	for _, tc := range cases {
		t.Run(string(tc.target), func(t *testing.T) {
			var got []domain.OrderStatus
			orders := &stubOrderRepo{
				applyTransitionFn: func(ctx context.Context, cmd repositories.TransitionCommand) (domain.Order, error) {
					got = cmd.From
					order := paidOrder()
					order.Status = cmd.To
					return order, nil
				},
			}
			svc := newOrderService(t, orders, &stubEvents{})

			if _, err := svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
				OrderID: "ord_1",
				Status:  tc.target,
				Actor:   "admin:ops",
			}); err != nil {
				t.Fatalf("update status: %v", err)
			}

			sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
			want := append([]domain.OrderStatus(nil), tc.wantSources...)
			sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
			if len(got) != len(want) {
				t.Fatalf("expected sources %v, got %v", want, got)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("expected sources %v, got %v", want, got)
				}
			}
		})
	}
}

func TestUpdateStatusRejectsUnreachableTargets(t *testing.T) {
	svc := newOrderService(t, &stubOrderRepo{}, &stubEvents{})

	// PENDING is the entry status and never a transition target.
	if _, err := svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID: "ord_1",
		Status:  domain.OrderStatusPending,
	}); !errors.Is(err, ErrOrderIllegalTransition) {
		t.Fatalf("expected ErrOrderIllegalTransition, got %v", err)
	}

	if _, err := svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID: "ord_1",
		Status:  domain.OrderStatus("TELEPORTED"),
	}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for unknown status, got %v", err)
	}
}

func TestUpdateStatusSurfacesStoreRejection(t *testing.T) {
	orders := &stubOrderRepo{
		applyTransitionFn: func(ctx context.Context, cmd repositories.TransitionCommand) (domain.Order, error) {
			return domain.Order{}, &repositories.OrderError{
				Code:      repositories.OrderErrorIllegalTransition,
				Current:   domain.OrderStatusDelivered,
				Requested: domain.OrderStatusShipped,
			}
		},
	}
	svc := newOrderService(t, orders, &stubEvents{})

	_, err := svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID: "ord_1",
		Status:  domain.OrderStatusShipped,
	})
	if !errors.Is(err, ErrOrderIllegalTransition) {
		t.Fatalf("expected ErrOrderIllegalTransition, got %v", err)
	}
}

func TestCancelChecksOwnershipAndDefaultsNote(t *testing.T) {
	var transition repositories.TransitionCommand
	orders := &stubOrderRepo{
		findByIDFn: func(ctx context.Context, orderID string) (domain.Order, error) {
			return paidOrder(), nil
		},
		applyTransitionFn: func(ctx context.Context, cmd repositories.TransitionCommand) (domain.Order, error) {
			transition = cmd
			order := paidOrder()
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	}
	events := &stubEvents{}
	svc := newOrderService(t, orders, events)

	if _, err := svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID:   "ord_1",
		AccountID: "acc_1",
		Actor:     "acc_1",
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if transition.Note != "order cancelled" {
		t.Fatalf("expected default note, got %q", transition.Note)
	}
	if transition.To != domain.OrderStatusCancelled {
		t.Fatalf("unexpected target %q", transition.To)
	}
	if len(transition.From) != 2 {
		t.Fatalf("expected cancel reachable from PENDING and PAID only, got %v", transition.From)
	}
	if len(events.published) != 1 || events.published[0].Type != "order.cancelled" {
		t.Fatalf("expected order.cancelled event, got %+v", events.published)
	}

	if _, err := svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID:   "ord_1",
		AccountID: "acc_other",
	}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for foreign cancel, got %v", err)
	}
}
