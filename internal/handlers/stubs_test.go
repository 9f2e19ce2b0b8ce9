package handlers

import (
	"context"
	"errors"
	"net/url"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/payments"
	"github.com/souqline/api/internal/services"
)

var errStubNotConfigured = errors.New("stub not configured")

type stubIdentityService struct {
	createGuestFunc func(ctx context.Context) (services.Account, error)
	getAccountFunc  func(ctx context.Context, accountID string) (services.Account, error)
	registerFunc    func(ctx context.Context, cmd services.RegisterCommand) (services.Account, error)
	loginFunc       func(ctx context.Context, cmd services.LoginCommand) (services.Account, error)
}

func (s *stubIdentityService) CreateGuest(ctx context.Context) (services.Account, error) {
	if s.createGuestFunc == nil {
		return services.Account{}, errStubNotConfigured
	}
	return s.createGuestFunc(ctx)
}

func (s *stubIdentityService) GetAccount(ctx context.Context, accountID string) (services.Account, error) {
	if s.getAccountFunc == nil {
		return services.Account{}, errStubNotConfigured
	}
	return s.getAccountFunc(ctx, accountID)
}

func (s *stubIdentityService) Register(ctx context.Context, cmd services.RegisterCommand) (services.Account, error) {
	if s.registerFunc == nil {
		return services.Account{}, errStubNotConfigured
	}
	return s.registerFunc(ctx, cmd)
}

func (s *stubIdentityService) Login(ctx context.Context, cmd services.LoginCommand) (services.Account, error) {
	if s.loginFunc == nil {
		return services.Account{}, errStubNotConfigured
	}
	return s.loginFunc(ctx, cmd)
}

type stubCartService struct {
	getCartFunc    func(ctx context.Context, accountID string) (services.CartView, error)
	addItemFunc    func(ctx context.Context, cmd services.CartItemCommand) (services.CartView, error)
	updateItemFunc func(ctx context.Context, cmd services.CartItemCommand) (services.CartView, error)
	clearCartFunc  func(ctx context.Context, accountID string) error
}

func (s *stubCartService) GetCart(ctx context.Context, accountID string) (services.CartView, error) {
	if s.getCartFunc == nil {
		return services.CartView{}, errStubNotConfigured
	}
	return s.getCartFunc(ctx, accountID)
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.CartItemCommand) (services.CartView, error) {
	if s.addItemFunc == nil {
		return services.CartView{}, errStubNotConfigured
	}
	return s.addItemFunc(ctx, cmd)
}

func (s *stubCartService) UpdateItem(ctx context.Context, cmd services.CartItemCommand) (services.CartView, error) {
	if s.updateItemFunc == nil {
		return services.CartView{}, errStubNotConfigured
	}
	return s.updateItemFunc(ctx, cmd)
}

func (s *stubCartService) ClearCart(ctx context.Context, accountID string) error {
	if s.clearCartFunc == nil {
		return errStubNotConfigured
	}
	return s.clearCartFunc(ctx, accountID)
}

type stubPromotionService struct {
	validateFunc func(ctx context.Context, cmd services.ValidatePromotionCommand) (services.PromotionValidation, error)
	createFunc   func(ctx context.Context, cmd services.CreatePromotionCommand) (services.PromoCode, error)
	getFunc      func(ctx context.Context, code string) (services.PromoCode, error)
}

func (s *stubPromotionService) Validate(ctx context.Context, cmd services.ValidatePromotionCommand) (services.PromotionValidation, error) {
	if s.validateFunc == nil {
		return services.PromotionValidation{}, errStubNotConfigured
	}
	return s.validateFunc(ctx, cmd)
}

func (s *stubPromotionService) Create(ctx context.Context, cmd services.CreatePromotionCommand) (services.PromoCode, error) {
	if s.createFunc == nil {
		return services.PromoCode{}, errStubNotConfigured
	}
	return s.createFunc(ctx, cmd)
}

func (s *stubPromotionService) Get(ctx context.Context, code string) (services.PromoCode, error) {
	if s.getFunc == nil {
		return services.PromoCode{}, errStubNotConfigured
	}
	return s.getFunc(ctx, code)
}

type stubCheckoutService struct {
	initiateFunc func(ctx context.Context, cmd services.InitiateCheckoutCommand) (services.CheckoutResult, error)
}

func (s *stubCheckoutService) Initiate(ctx context.Context, cmd services.InitiateCheckoutCommand) (services.CheckoutResult, error) {
	if s.initiateFunc == nil {
		return services.CheckoutResult{}, errStubNotConfigured
	}
	return s.initiateFunc(ctx, cmd)
}

type stubOrderService struct {
	applyOutcomeFunc func(ctx context.Context, outcome services.PaymentOutcome) (services.SettlementOutcome, error)
	getOrderFunc     func(ctx context.Context, orderID string, accountID string) (services.Order, error)
	listOrdersFunc   func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	trackFunc        func(ctx context.Context, token string) (services.OrderTracking, error)
	updateStatusFunc func(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error)
	cancelFunc       func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
}

func (s *stubOrderService) ApplyPaymentOutcome(ctx context.Context, outcome services.PaymentOutcome) (services.SettlementOutcome, error) {
	if s.applyOutcomeFunc == nil {
		return services.SettlementOutcome{}, errStubNotConfigured
	}
	return s.applyOutcomeFunc(ctx, outcome)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, accountID string) (services.Order, error) {
	if s.getOrderFunc == nil {
		return services.Order{}, errStubNotConfigured
	}
	return s.getOrderFunc(ctx, orderID, accountID)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listOrdersFunc == nil {
		return domain.CursorPage[services.Order]{}, errStubNotConfigured
	}
	return s.listOrdersFunc(ctx, filter)
}

func (s *stubOrderService) TrackByToken(ctx context.Context, token string) (services.OrderTracking, error) {
	if s.trackFunc == nil {
		return services.OrderTracking{}, errStubNotConfigured
	}
	return s.trackFunc(ctx, token)
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.updateStatusFunc == nil {
		return services.Order{}, errStubNotConfigured
	}
	return s.updateStatusFunc(ctx, cmd)
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFunc == nil {
		return services.Order{}, errStubNotConfigured
	}
	return s.cancelFunc(ctx, cmd)
}

type stubCatalogService struct {
	getVariantFunc    func(ctx context.Context, variantID string) (services.Variant, error)
	upsertVariantFunc func(ctx context.Context, cmd services.UpsertVariantCommand) (services.Variant, error)
}

func (s *stubCatalogService) GetVariant(ctx context.Context, variantID string) (services.Variant, error) {
	if s.getVariantFunc == nil {
		return services.Variant{}, errStubNotConfigured
	}
	return s.getVariantFunc(ctx, variantID)
}

func (s *stubCatalogService) UpsertVariant(ctx context.Context, cmd services.UpsertVariantCommand) (services.Variant, error) {
	if s.upsertVariantFunc == nil {
		return services.Variant{}, errStubNotConfigured
	}
	return s.upsertVariantFunc(ctx, cmd)
}

type stubGatewayVerifier struct {
	verifyCallbackFunc func(provider string, body []byte, signature string) (payments.CallbackOutcome, error)
	verifyRedirectFunc func(provider string, query url.Values) (payments.CallbackOutcome, error)
}

func (s *stubGatewayVerifier) VerifyCallback(provider string, body []byte, signature string) (payments.CallbackOutcome, error) {
	if s.verifyCallbackFunc == nil {
		return payments.CallbackOutcome{}, errStubNotConfigured
	}
	return s.verifyCallbackFunc(provider, body, signature)
}

func (s *stubGatewayVerifier) VerifyRedirect(provider string, query url.Values) (payments.CallbackOutcome, error) {
	if s.verifyRedirectFunc == nil {
		return payments.CallbackOutcome{}, errStubNotConfigured
	}
	return s.verifyRedirectFunc(provider, query)
}
