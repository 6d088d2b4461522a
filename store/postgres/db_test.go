package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/MrEthical07/goIdentity/store"
)

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))
	assert.ErrorIs(t, mapError(pgx.ErrNoRows), store.ErrNotFound)
	assert.ErrorIs(t, mapError(fmt.Errorf("scan: %w", pgx.ErrNoRows)), store.ErrNotFound)

	dup := mapError(&pgconn.PgError{Code: uniqueViolation, ConstraintName: "users_email_key"})
	assert.ErrorIs(t, dup, store.ErrConflict)
	assert.Contains(t, dup.Error(), "users_email_key")

	assert.ErrorIs(t, mapError(&pgconn.PgError{Code: foreignKeyViolation}), store.ErrNotFound)

	other := errors.New("connection reset")
	assert.Same(t, other, mapError(other))
}

func TestRequireRow(t *testing.T) {
	assert.ErrorIs(t, requireRow(pgconn.NewCommandTag("UPDATE 0"), nil), store.ErrNotFound)
	assert.NoError(t, requireRow(pgconn.NewCommandTag("UPDATE 1"), nil))
	assert.ErrorIs(t, requireRow(pgconn.CommandTag{}, pgx.ErrNoRows), store.ErrNotFound)
}

func TestSchemaIsEmbedded(t *testing.T) {
	for _, table := range []string{"users", "roles", "permissions", "role_permissions",
		"user_roles", "user_permissions", "sessions", "session_rotations", "audit_logs"} {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}
