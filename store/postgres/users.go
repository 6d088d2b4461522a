package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/goIdentity/account"
)

const userColumns = `id, tenant_id, email, username, password_hash, first_name, last_name,
	is_active, is_verified, last_login_at, created_at, updated_at`

// Users implements account.Store.
type Users struct {
	db dbtx
}

var _ account.Store = (*Users)(nil)

func NewUsers(pool *pgxpool.Pool) *Users {
	return &Users{db: pool}
}

func (s *Users) FindByEmail(ctx context.Context, email string) (*account.User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (s *Users) FindByUsername(ctx context.Context, username string) (*account.User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (s *Users) FindByID(ctx context.Context, id string) (*account.User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *Users) findOne(ctx context.Context, query string, arg string) (*account.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (*account.User, error) {
	var u account.User
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.Active, &u.Verified, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts u. A taken email or username returns store.ErrConflict.
func (s *Users) Create(ctx context.Context, u *account.User) error {
	_, err := s.db.Exec(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		u.ID, u.TenantID, u.Email, u.Username, u.PasswordHash, u.FirstName, u.LastName,
		u.Active, u.Verified, u.LastLoginAt, u.CreatedAt, u.UpdatedAt)
	return mapError(err)
}

func (s *Users) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return requireRow(s.db.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash))
}

func (s *Users) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return requireRow(s.db.Exec(ctx,
		`UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at))
}

func (s *Users) MarkVerified(ctx context.Context, id string) error {
	return requireRow(s.db.Exec(ctx,
		`UPDATE users SET is_verified = TRUE, updated_at = NOW() WHERE id = $1`, id))
}

func (s *Users) SetActive(ctx context.Context, id string, active bool) error {
	return requireRow(s.db.Exec(ctx,
		`UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active))
}
