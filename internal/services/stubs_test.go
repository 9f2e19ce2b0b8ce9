package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/payments"
	"github.com/souqline/api/internal/repositories"
)

// repoError is a minimal RepositoryError for driving translate paths.
type repoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoError) Error() string       { return "repo error" }
func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return e.conflict }
func (e *repoError) IsUnavailable() bool { return e.unavailable }

var (
	errRepoNotFound = &repoError{notFound: true}
	errRepoConflict = &repoError{conflict: true}
	errRepoDown     = &repoError{unavailable: true}
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

type stubAccountRepo struct {
	insertFn      func(ctx context.Context, account domain.Account) error
	updateFn      func(ctx context.Context, account domain.Account) error
	deleteFn      func(ctx context.Context, accountID string) error
	findByIDFn    func(ctx context.Context, accountID string) (domain.Account, error)
	findByEmailFn func(ctx context.Context, email string) (domain.Account, error)
}

func (s *stubAccountRepo) Insert(ctx context.Context, account domain.Account) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, account)
	}
	return nil
}

func (s *stubAccountRepo) Update(ctx context.Context, account domain.Account) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, account)
	}
	return nil
}

func (s *stubAccountRepo) Delete(ctx context.Context, accountID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, accountID)
	}
	return nil
}

func (s *stubAccountRepo) FindByID(ctx context.Context, accountID string) (domain.Account, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, accountID)
	}
	return domain.Account{}, errRepoNotFound
}

func (s *stubAccountRepo) FindByEmail(ctx context.Context, email string) (domain.Account, error) {
	if s.findByEmailFn != nil {
		return s.findByEmailFn(ctx, email)
	}
	return domain.Account{}, errRepoNotFound
}

type stubCartRepo struct {
	getFn     func(ctx context.Context, accountID string) (domain.Cart, error)
	addItemFn func(ctx context.Context, accountID, variantID string, qty int64, now time.Time, expiresAt *time.Time) error
	setItemFn func(ctx context.Context, accountID, variantID string, qty int64, now time.Time) error
	clearFn   func(ctx context.Context, accountID string, now time.Time) error
	mergeFn   func(ctx context.Context, sourceAccountID, destAccountID string, now time.Time) error
}

func (s *stubCartRepo) Get(ctx context.Context, accountID string) (domain.Cart, error) {
	if s.getFn != nil {
		return s.getFn(ctx, accountID)
	}
	return domain.Cart{AccountID: accountID, Items: map[string]int64{}}, nil
}

func (s *stubCartRepo) AddItem(ctx context.Context, accountID, variantID string, qty int64, now time.Time, expiresAt *time.Time) error {
	if s.addItemFn != nil {
		return s.addItemFn(ctx, accountID, variantID, qty, now, expiresAt)
	}
	return nil
}

func (s *stubCartRepo) SetItem(ctx context.Context, accountID, variantID string, qty int64, now time.Time) error {
	if s.setItemFn != nil {
		return s.setItemFn(ctx, accountID, variantID, qty, now)
	}
	return nil
}

func (s *stubCartRepo) Clear(ctx context.Context, accountID string, now time.Time) error {
	if s.clearFn != nil {
		return s.clearFn(ctx, accountID, now)
	}
	return nil
}

func (s *stubCartRepo) Merge(ctx context.Context, sourceAccountID, destAccountID string, now time.Time) error {
	if s.mergeFn != nil {
		return s.mergeFn(ctx, sourceAccountID, destAccountID, now)
	}
	return nil
}

type stubVariantRepo struct {
	findByIDFn  func(ctx context.Context, variantID string) (domain.Variant, error)
	findByIDsFn func(ctx context.Context, variantIDs []string) (map[string]domain.Variant, error)
	upsertFn    func(ctx context.Context, variant domain.Variant) error
}

func (s *stubVariantRepo) FindByID(ctx context.Context, variantID string) (domain.Variant, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, variantID)
	}
	return domain.Variant{}, errRepoNotFound
}

func (s *stubVariantRepo) FindByIDs(ctx context.Context, variantIDs []string) (map[string]domain.Variant, error) {
	if s.findByIDsFn != nil {
		return s.findByIDsFn(ctx, variantIDs)
	}
	return map[string]domain.Variant{}, nil
}

func (s *stubVariantRepo) Upsert(ctx context.Context, variant domain.Variant) error {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, variant)
	}
	return nil
}

type stubPromotionRepo struct {
	insertFn     func(ctx context.Context, promo domain.PromoCode) error
	updateFn     func(ctx context.Context, promo domain.PromoCode) error
	findByCodeFn func(ctx context.Context, code string) (domain.PromoCode, error)
}

func (s *stubPromotionRepo) Insert(ctx context.Context, promo domain.PromoCode) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, promo)
	}
	return nil
}

func (s *stubPromotionRepo) Update(ctx context.Context, promo domain.PromoCode) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, promo)
	}
	return nil
}

func (s *stubPromotionRepo) FindByCode(ctx context.Context, code string) (domain.PromoCode, error) {
	if s.findByCodeFn != nil {
		return s.findByCodeFn(ctx, code)
	}
	return domain.PromoCode{}, errRepoNotFound
}

type stubOrderRepo struct {
	insertFn          func(ctx context.Context, order domain.Order) error
	findByIDFn        func(ctx context.Context, orderID string) (domain.Order, error)
	findByTokenFn     func(ctx context.Context, token string) (domain.Order, error)
	findByProviderFn  func(ctx context.Context, provider, providerTxnRef string) (domain.Order, error)
	hasOrdersFn       func(ctx context.Context, accountID string) (bool, error)
	listFn            func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	setRegistrationFn func(ctx context.Context, orderID string, reg repositories.ProviderRegistration) (domain.Order, error)
	applyTransitionFn func(ctx context.Context, cmd repositories.TransitionCommand) (domain.Order, error)
	settleFn          func(ctx context.Context, cmd repositories.SettlementCommand) (repositories.SettlementResult, error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, orderID)
	}
	return domain.Order{}, errRepoNotFound
}

func (s *stubOrderRepo) FindByTrackingToken(ctx context.Context, token string) (domain.Order, error) {
	if s.findByTokenFn != nil {
		return s.findByTokenFn(ctx, token)
	}
	return domain.Order{}, errRepoNotFound
}

func (s *stubOrderRepo) FindByProviderRef(ctx context.Context, provider, providerTxnRef string) (domain.Order, error) {
	if s.findByProviderFn != nil {
		return s.findByProviderFn(ctx, provider, providerTxnRef)
	}
	return domain.Order{}, errRepoNotFound
}

func (s *stubOrderRepo) HasOrders(ctx context.Context, accountID string) (bool, error) {
	if s.hasOrdersFn != nil {
		return s.hasOrdersFn(ctx, accountID)
	}
	return false, nil
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepo) SetProviderRegistration(ctx context.Context, orderID string, reg repositories.ProviderRegistration) (domain.Order, error) {
	if s.setRegistrationFn != nil {
		return s.setRegistrationFn(ctx, orderID, reg)
	}
	return domain.Order{ID: orderID, Provider: reg.Provider, ProviderOrderID: reg.ProviderOrderID}, nil
}

func (s *stubOrderRepo) ApplyTransition(ctx context.Context, cmd repositories.TransitionCommand) (domain.Order, error) {
	if s.applyTransitionFn != nil {
		return s.applyTransitionFn(ctx, cmd)
	}
	return domain.Order{}, errRepoNotFound
}

func (s *stubOrderRepo) Settle(ctx context.Context, cmd repositories.SettlementCommand) (repositories.SettlementResult, error) {
	if s.settleFn != nil {
		return s.settleFn(ctx, cmd)
	}
	return repositories.SettlementResult{}, errors.New("settle not stubbed")
}

type stubSessionRepo struct {
	insertFn        func(ctx context.Context, session domain.CheckoutSession) error
	updateFn        func(ctx context.Context, session domain.CheckoutSession) error
	findByIDFn      func(ctx context.Context, sessionID string) (domain.CheckoutSession, error)
	findByOrderIDFn func(ctx context.Context, orderID string) (domain.CheckoutSession, error)
}

func (s *stubSessionRepo) Insert(ctx context.Context, session domain.CheckoutSession) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, session)
	}
	return nil
}

func (s *stubSessionRepo) Update(ctx context.Context, session domain.CheckoutSession) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, session)
	}
	return nil
}

func (s *stubSessionRepo) FindByID(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, sessionID)
	}
	return domain.CheckoutSession{}, errRepoNotFound
}

func (s *stubSessionRepo) FindByOrderID(ctx context.Context, orderID string) (domain.CheckoutSession, error) {
	if s.findByOrderIDFn != nil {
		return s.findByOrderIDFn(ctx, orderID)
	}
	return domain.CheckoutSession{}, errRepoNotFound
}

type stubCounterRepo struct {
	nextFn      func(ctx context.Context, counterID string, step int64) (int64, error)
	configureFn func(ctx context.Context, counterID string, cfg repositories.CounterConfig) error
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 1, nil
}

func (s *stubCounterRepo) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	if s.configureFn != nil {
		return s.configureFn(ctx, counterID, cfg)
	}
	return nil
}

type stubGateway struct {
	registerFn    func(ctx context.Context, provider string, req payments.RegisterOrderRequest) (string, payments.OrderRegistration, error)
	paymentKeyFn  func(ctx context.Context, provider string, req payments.PaymentKeyRequest) (payments.PaymentKey, error)
	redirectFn    func(provider, paymentToken string) (string, error)
	walletFn      func(ctx context.Context, provider string, req payments.WalletPaymentRequest) (payments.WalletPayment, error)
	registerCalls int
}

func (s *stubGateway) RegisterOrder(ctx context.Context, provider string, req payments.RegisterOrderRequest) (string, payments.OrderRegistration, error) {
	s.registerCalls++
	if s.registerFn != nil {
		return s.registerFn(ctx, provider, req)
	}
	return payments.ProviderPaymob, payments.OrderRegistration{ProviderOrderID: "1001"}, nil
}

func (s *stubGateway) RequestPaymentKey(ctx context.Context, provider string, req payments.PaymentKeyRequest) (payments.PaymentKey, error) {
	if s.paymentKeyFn != nil {
		return s.paymentKeyFn(ctx, provider, req)
	}
	return payments.PaymentKey{Token: "tok_1"}, nil
}

func (s *stubGateway) BuildRedirectURL(provider, paymentToken string) (string, error) {
	if s.redirectFn != nil {
		return s.redirectFn(provider, paymentToken)
	}
	return "https://pay.example.com/" + paymentToken, nil
}

func (s *stubGateway) InitiateWalletPayment(ctx context.Context, provider string, req payments.WalletPaymentRequest) (payments.WalletPayment, error) {
	if s.walletFn != nil {
		return s.walletFn(ctx, provider, req)
	}
	return payments.WalletPayment{RedirectURL: "https://wallet.example.com/redirect"}, nil
}

type stubEvents struct {
	published []domain.OrderEvent
	err       error
}

func (s *stubEvents) Publish(ctx context.Context, event domain.OrderEvent) error {
	s.published = append(s.published, event)
	return s.err
}
