package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/appy-one/acebase-server-sub001/internal/storage"
)

// AccountsPath is the reserved namespace holding account records inside
// the database itself.
const AccountsPath = "__auth__/accounts"

// StoreRepository implements AccountRepository on top of the storage
// engine capability.
type StoreRepository struct {
	store storage.Store
}

// NewStoreRepository creates an AccountRepository backed by the given
// store.
func NewStoreRepository(store storage.Store) *StoreRepository {
	return &StoreRepository{store: store}
}

func accountPath(uid string) string {
	return storage.ChildPath(AccountsPath, uid)
}

// Create persists a new account record.
func (r *StoreRepository) Create(ctx context.Context, account *UserAccount) error {
	if err := r.store.Set(ctx, accountPath(account.UID), account.toMap(), nil); err != nil {
		return fmt.Errorf("creating account %s: %w", account.UID, err)
	}
	return nil
}

// GetByUID loads a single account record.
func (r *StoreRepository) GetByUID(ctx context.Context, uid string) (*UserAccount, error) {
	v, err := r.store.Get(ctx, accountPath(uid))
	if err != nil {
		if errors.Is(err, storage.ErrNodeNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("loading account %s: %w", uid, err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("account record %s is not an object", uid)
	}
	return accountFromMap(uid, m), nil
}

// FindByUsername returns every account with the given username.
func (r *StoreRepository) FindByUsername(ctx context.Context, username string) ([]*UserAccount, error) {
	return r.find(ctx, "username", username)
}

// FindByEmail returns every account with the given email.
func (r *StoreRepository) FindByEmail(ctx context.Context, email string) ([]*UserAccount, error) {
	return r.find(ctx, "email", email)
}

// FindByAccessToken returns every account holding the given private
// access token.
func (r *StoreRepository) FindByAccessToken(ctx context.Context, accessToken string) ([]*UserAccount, error) {
	return r.find(ctx, "access_token", accessToken)
}

// Update persists a mutated account record wholesale.
func (r *StoreRepository) Update(ctx context.Context, account *UserAccount) error {
	if err := r.store.Set(ctx, accountPath(account.UID), account.toMap(), nil); err != nil {
		return fmt.Errorf("updating account %s: %w", account.UID, err)
	}
	return nil
}

// Delete removes an account record permanently.
func (r *StoreRepository) Delete(ctx context.Context, uid string) error {
	if err := r.store.Remove(ctx, accountPath(uid), nil); err != nil {
		return fmt.Errorf("deleting account %s: %w", uid, err)
	}
	return nil
}

func (r *StoreRepository) find(ctx context.Context, field, value string) ([]*UserAccount, error) {
	results, err := r.store.Query(ctx, AccountsPath, []storage.QueryFilter{
		{Key: field, Op: "==", Val: value},
	})
	if err != nil {
		return nil, fmt.Errorf("querying accounts by %s: %w", field, err)
	}

	uids := make([]string, 0, len(results))
	for uid := range results {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	accounts := make([]*UserAccount, 0, len(uids))
	for _, uid := range uids {
		m, ok := results[uid].(map[string]any)
		if !ok {
			continue
		}
		accounts = append(accounts, accountFromMap(uid, m))
	}
	return accounts, nil
}
