package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/repositories"
)

var (
	errIdentityAccountsRequired = errors.New("identity service: accounts repository is required")
	errIdentityCartsRequired    = errors.New("identity service: carts repository is required")
	errIdentityOrdersRequired   = errors.New("identity service: orders repository is required")
	errIdentityClockRequired    = errors.New("identity service: clock is required")
)

// ErrIdentityInvalidInput indicates the caller supplied invalid input.
var ErrIdentityInvalidInput = fmt.Errorf("identity service: %w", ErrValidation)

// ErrIdentityNotFound indicates the requested account does not exist.
var ErrIdentityNotFound = fmt.Errorf("identity service: %w", ErrNotFound)

// ErrIdentityUnavailable indicates the account store cannot fulfil the request.
var ErrIdentityUnavailable = fmt.Errorf("identity service: %w", ErrUpstream)

// ErrIdentityEmailTaken indicates the email already belongs to a registered account.
var ErrIdentityEmailTaken = fmt.Errorf("identity service: email already registered: %w", ErrConflict)

// ErrIdentityBadCredentials covers both unknown email and wrong password so
// responses never reveal which check failed.
var ErrIdentityBadCredentials = fmt.Errorf("identity service: invalid credentials: %w", ErrSecurity)

const minPasswordLength = 8

// IdentityServiceDeps wires the repositories and ambient dependencies for account operations.
type IdentityServiceDeps struct {
	Accounts    repositories.AccountRepository
	Carts       repositories.CartRepository
	Orders      repositories.OrderRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
	BcryptCost  int
}

type identityService struct {
	accounts   repositories.AccountRepository
	carts      repositories.CartRepository
	orders     repositories.OrderRepository
	now        func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
	bcryptCost int
}

// NewIdentityService constructs an IdentityService enforcing dependency validation.
func NewIdentityService(deps IdentityServiceDeps) (IdentityService, error) {
	if deps.Accounts == nil {
		return nil, errIdentityAccountsRequired
	}
	if deps.Carts == nil {
		return nil, errIdentityCartsRequired
	}
	if deps.Orders == nil {
		return nil, errIdentityOrdersRequired
	}
	if deps.Clock == nil {
		return nil, errIdentityClockRequired
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return "acc_" + ulid.Make().String() }
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	cost := deps.BcryptCost
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}

	return &identityService{
		accounts:   deps.Accounts,
		carts:      deps.Carts,
		orders:     deps.Orders,
		now:        func() time.Time { return deps.Clock().UTC() },
		newID:      idGen,
		logger:     logger,
		bcryptCost: cost,
	}, nil
}

// CreateGuest lazily provisions an anonymous account for a first cart write.
func (s *identityService) CreateGuest(ctx context.Context) (Account, error) {
	now := s.now()
	account := domain.Account{
		ID:        s.newID(),
		Kind:      domain.AccountKindGuest,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.accounts.Insert(ctx, account); err != nil {
		return Account{}, s.translateRepoError(err)
	}
	s.logger(ctx, "identity.guest.created", map[string]any{
		"accountId": account.ID,
	})
	return account, nil
}

// GetAccount loads an account by identifier.
func (s *identityService) GetAccount(ctx context.Context, accountID string) (Account, error) {
	id := strings.TrimSpace(accountID)
	if id == "" {
		return Account{}, ErrIdentityInvalidInput
	}
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		return Account{}, s.translateRepoError(err)
	}
	return account, nil
}

// Register creates a registered account. When the caller already holds a guest
// identity the guest account is converted in place so its cart carries over.
func (s *identityService) Register(ctx context.Context, cmd RegisterCommand) (Account, error) {
	email, err := normaliseEmail(cmd.Email)
	if err != nil {
		return Account{}, ErrIdentityInvalidInput
	}
	if len(cmd.Password) < minPasswordLength {
		return Account{}, ErrIdentityInvalidInput
	}

	if _, err := s.accounts.FindByEmail(ctx, email); err == nil {
		return Account{}, ErrIdentityEmailTaken
	} else if !isRepoNotFound(err) {
		return Account{}, s.translateRepoError(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), s.bcryptCost)
	if err != nil {
		return Account{}, fmt.Errorf("identity service: hash password: %w", err)
	}

	now := s.now()

	if guestID := strings.TrimSpace(cmd.GuestAccountID); guestID != "" {
		guest, err := s.accounts.FindByID(ctx, guestID)
		if err == nil && guest.IsGuest() {
			guest.Kind = domain.AccountKindRegistered
			guest.Email = email
			guest.PasswordHash = string(hash)
			guest.UpdatedAt = now
			if err := s.accounts.Update(ctx, guest); err != nil {
				return Account{}, s.translateRepoError(err)
			}
			s.logger(ctx, "identity.guest.converted", map[string]any{
				"accountId": guest.ID,
			})
			return guest, nil
		}
		if err != nil && !isRepoNotFound(err) {
			return Account{}, s.translateRepoError(err)
		}
	}

	account := domain.Account{
		ID:           s.newID(),
		Kind:         domain.AccountKindRegistered,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.Insert(ctx, account); err != nil {
		return Account{}, s.translateRepoError(err)
	}
	s.logger(ctx, "identity.registered", map[string]any{
		"accountId": account.ID,
	})
	return account, nil
}

// Login authenticates a registered account. A guest identity carried into the
// call has its cart folded into the registered cart additively; the guest
// account itself is removed once it no longer owns anything.
func (s *identityService) Login(ctx context.Context, cmd LoginCommand) (Account, error) {
	email, err := normaliseEmail(cmd.Email)
	if err != nil {
		return Account{}, ErrIdentityBadCredentials
	}

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if isRepoNotFound(err) {
			return Account{}, ErrIdentityBadCredentials
		}
		return Account{}, s.translateRepoError(err)
	}
	if account.IsGuest() || account.PasswordHash == "" {
		return Account{}, ErrIdentityBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(cmd.Password)); err != nil {
		return Account{}, ErrIdentityBadCredentials
	}

	if guestID := strings.TrimSpace(cmd.GuestAccountID); guestID != "" && guestID != account.ID {
		s.absorbGuest(ctx, guestID, &account)
	}

	return account, nil
}

// absorbGuest merges the guest cart into the registered account and retires
// the guest when it owns no orders. Merge failures abort quietly; the login
// itself already succeeded.
func (s *identityService) absorbGuest(ctx context.Context, guestID string, account *domain.Account) {
	guest, err := s.accounts.FindByID(ctx, guestID)
	if err != nil || !guest.IsGuest() {
		return
	}

	now := s.now()
	if err := s.carts.Merge(ctx, guestID, account.ID, now); err != nil {
		s.logger(ctx, "identity.cart_merge_failed", map[string]any{
			"guestId":   guestID,
			"accountId": account.ID,
			"error":     err.Error(),
		})
		return
	}

	hasOrders, err := s.orders.HasOrders(ctx, guestID)
	if err != nil {
		s.logger(ctx, "identity.guest_order_check_failed", map[string]any{
			"guestId": guestID,
			"error":   err.Error(),
		})
		return
	}
	if hasOrders {
		// The guest keeps its order history; record the link instead of deleting.
		account.MergeSourceID = guestID
		account.UpdatedAt = now
		if err := s.accounts.Update(ctx, *account); err != nil {
			s.logger(ctx, "identity.merge_link_failed", map[string]any{
				"guestId":   guestID,
				"accountId": account.ID,
				"error":     err.Error(),
			})
		}
		return
	}

	if err := s.accounts.Delete(ctx, guestID); err != nil {
		s.logger(ctx, "identity.guest_delete_failed", map[string]any{
			"guestId": guestID,
			"error":   err.Error(),
		})
		return
	}
	s.logger(ctx, "identity.guest.absorbed", map[string]any{
		"guestId":   guestID,
		"accountId": account.ID,
	})
}

func (s *identityService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrIdentityNotFound
		case repoErr.IsConflict():
			return ErrIdentityEmailTaken
		}
	}
	return ErrIdentityUnavailable
}

func normaliseEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if trimmed == "" {
		return "", errors.New("empty email")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", err
	}
	return addr.Address, nil
}
