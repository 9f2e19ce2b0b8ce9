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

const accountCollection = "accounts"

type accountDocument struct {
	Kind          string    `firestore:"kind"`
	Email         string    `firestore:"email,omitempty"`
	PasswordHash  string    `firestore:"passwordHash,omitempty"`
	MergeSourceID string    `firestore:"mergeSourceId,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

// AccountRepository stores guest and registered account records in Firestore.
type AccountRepository struct {
	base *pfirestore.BaseRepository[accountDocument]
}

// NewAccountRepository constructs a Firestore-backed account repository.
func NewAccountRepository(provider *pfirestore.Provider) (*AccountRepository, error) {
	if provider == nil {
		return nil, errors.New("account repository requires firestore provider")
	}
	return &AccountRepository{
		base: pfirestore.NewBaseRepository[accountDocument](provider, accountCollection, nil, nil),
	}, nil
}

// Insert creates the account document; it fails on id collision.
func (r *AccountRepository) Insert(ctx context.Context, account domain.Account) error {
	if r == nil || r.base == nil {
		return errors.New("account repository not initialised")
	}
	id := strings.TrimSpace(account.ID)
	if id == "" {
		return errors.New("account repository: account id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	_, err = ref.Create(ctx, encodeAccount(account))
	if err != nil {
		return pfirestore.WrapError("accounts.insert", err)
	}
	return nil
}

// Update overwrites the account document.
func (r *AccountRepository) Update(ctx context.Context, account domain.Account) error {
	if r == nil || r.base == nil {
		return errors.New("account repository not initialised")
	}
	id := strings.TrimSpace(account.ID)
	if id == "" {
		return errors.New("account repository: account id is required")
	}
	_, err := r.base.Set(ctx, id, encodeAccount(account))
	return err
}

// Delete removes the account document. Callers are responsible for checking
// order ownership before deleting merged guests.
func (r *AccountRepository) Delete(ctx context.Context, accountID string) error {
	if r == nil || r.base == nil {
		return errors.New("account repository not initialised")
	}
	id := strings.TrimSpace(accountID)
	if id == "" {
		return errors.New("account repository: account id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("accounts.delete", err)
	}
	return nil
}

// FindByID loads the account document by identifier.
func (r *AccountRepository) FindByID(ctx context.Context, accountID string) (domain.Account, error) {
	if r == nil || r.base == nil {
		return domain.Account{}, errors.New("account repository not initialised")
	}
	id := strings.TrimSpace(accountID)
	if id == "" {
		return domain.Account{}, errors.New("account repository: account id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}
	return decodeAccount(doc.ID, doc.Data), nil
}

// FindByEmail locates the registered account owning the given email. Emails
// are stored lowercased, so the lookup is case-insensitive.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (domain.Account, error) {
	if r == nil || r.base == nil {
		return domain.Account{}, errors.New("account repository not initialised")
	}
	needle := strings.ToLower(strings.TrimSpace(email))
	if needle == "" {
		return domain.Account{}, errors.New("account repository: email is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("email", "==", needle).Limit(1)
	})
	if err != nil {
		return domain.Account{}, err
	}
	if len(docs) == 0 {
		return domain.Account{}, pfirestore.WrapError("accounts.findByEmail", status.Errorf(codes.NotFound, "account with email %s not found", needle))
	}
	return decodeAccount(docs[0].ID, docs[0].Data), nil
}

func encodeAccount(account domain.Account) accountDocument {
	return accountDocument{
		Kind:          string(account.Kind),
		Email:         strings.ToLower(strings.TrimSpace(account.Email)),
		PasswordHash:  account.PasswordHash,
		MergeSourceID: strings.TrimSpace(account.MergeSourceID),
		CreatedAt:     account.CreatedAt.UTC(),
		UpdatedAt:     account.UpdatedAt.UTC(),
	}
}

func decodeAccount(id string, doc accountDocument) domain.Account {
	return domain.Account{
		ID:            id,
		Kind:          domain.AccountKind(doc.Kind),
		Email:         doc.Email,
		PasswordHash:  doc.PasswordHash,
		MergeSourceID: doc.MergeSourceID,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
}

var _ repositories.AccountRepository = (*AccountRepository)(nil)
