package auth

import (
	"context"
)

// AccountRepository provides persistence for user accounts. Find
// methods return every match so callers can detect duplicates that the
// check-then-write uniqueness guard failed to prevent.
type AccountRepository interface {
	Create(ctx context.Context, account *UserAccount) error
	GetByUID(ctx context.Context, uid string) (*UserAccount, error)
	FindByUsername(ctx context.Context, username string) ([]*UserAccount, error)
	FindByEmail(ctx context.Context, email string) ([]*UserAccount, error)
	FindByAccessToken(ctx context.Context, accessToken string) ([]*UserAccount, error)
	Update(ctx context.Context, account *UserAccount) error
	Delete(ctx context.Context, uid string) error
}
