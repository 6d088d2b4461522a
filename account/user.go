// Package account defines the user record and the store contract the
// lifecycle manager needs from the user repository.
package account

import (
	"context"
	"time"
)

// User is an identity record. Email and Username are stored case-folded.
type User struct {
	ID           string
	TenantID     string
	Email        string
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	Active       bool
	Verified     bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store is the user repository. Lookups return store.ErrNotFound for
// missing users; Create returns store.ErrConflict when the email or
// username is taken.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, u *User) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	MarkVerified(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error
}
