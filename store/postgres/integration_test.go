//go:build integration

package postgres

import (
	"context"
	"crypto/sha256"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/MrEthical07/goIdentity/account"
	"github.com/MrEthical07/goIdentity/audit"
	"github.com/MrEthical07/goIdentity/rbac"
	"github.com/MrEthical07/goIdentity/session"
	"github.com/MrEthical07/goIdentity/store"
)

// PostgresSuite runs against the database named by PG_DSN. Every test
// starts from empty tables.
type PostgresSuite struct {
	suite.Suite
	ctx  context.Context
	pool *pgxpool.Pool
	now  time.Time
}

func TestPostgresSuite(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	suite.Run(t, &PostgresSuite{})
}

func (s *PostgresSuite) SetupSuite() {
	s.ctx = context.Background()
	pool, err := Open(s.ctx, os.Getenv("PG_DSN"))
	s.Require().NoError(err)
	s.Require().NoError(Migrate(s.ctx, pool))
	s.pool = pool
}

func (s *PostgresSuite) TearDownSuite() {
	s.pool.Close()
}

func (s *PostgresSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, `TRUNCATE users, roles, permissions, role_permissions, user_roles,
		user_permissions, sessions, session_rotations, audit_logs`)
	s.Require().NoError(err)
	s.now = time.Now().UTC().Truncate(time.Microsecond)
}

func (s *PostgresSuite) clock() time.Time { return s.now }

func (s *PostgresSuite) TestUsers() {
	t := s.T()
	users := NewUsers(s.pool)
	u := &account.User{
		ID: uuid.NewString(), TenantID: "0", Email: "alice@example.com", Username: "alice",
		PasswordHash: "hash", Active: true, CreatedAt: s.now, UpdatedAt: s.now,
	}
	require.NoError(t, users.Create(s.ctx, u))

	dup := *u
	dup.ID = uuid.NewString()
	dup.Username = "other"
	assert.ErrorIs(t, users.Create(s.ctx, &dup), store.ErrConflict)

	got, err := users.FindByEmail(s.ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Nil(t, got.LastLoginAt)

	require.NoError(t, users.UpdatePassword(s.ctx, u.ID, "hash2"))
	require.NoError(t, users.MarkVerified(s.ctx, u.ID))
	require.NoError(t, users.UpdateLastLogin(s.ctx, u.ID, s.now))
	require.NoError(t, users.SetActive(s.ctx, u.ID, false))

	got, err = users.FindByUsername(s.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hash2", got.PasswordHash)
	assert.True(t, got.Verified)
	assert.False(t, got.Active)
	require.NotNil(t, got.LastLoginAt)

	_, err = users.FindByID(s.ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, users.MarkVerified(s.ctx, "missing"), store.ErrNotFound)
}

func (s *PostgresSuite) TestCatalogAndAssignments() {
	t := s.T()
	catalog := NewCatalog(s.pool)
	assignments := NewAssignments(s.pool)

	require.NoError(t, catalog.CreatePermission(s.ctx, &rbac.Permission{ID: "p1", Name: "users.read", Resource: "users", Action: "read", CreatedAt: s.now, UpdatedAt: s.now}))
	require.NoError(t, catalog.CreateRole(s.ctx, &rbac.Role{ID: "r1", Name: "admin", Level: 100, CreatedAt: s.now, UpdatedAt: s.now}))
	require.NoError(t, catalog.CreateRole(s.ctx, &rbac.Role{ID: "r2", Name: "user", Level: 1, CreatedAt: s.now, UpdatedAt: s.now}))
	assert.ErrorIs(t, catalog.CreateRole(s.ctx, &rbac.Role{ID: "r3", Name: "admin"}), store.ErrConflict)

	require.NoError(t, catalog.AddRolePermission(s.ctx, "r1", "p1"))
	require.NoError(t, catalog.AddRolePermission(s.ctx, "r1", "p1"))
	assert.ErrorIs(t, catalog.AddRolePermission(s.ctx, "r1", "missing"), store.ErrNotFound)

	perms, err := catalog.RolePermissions(s.ctx, "r1")
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, "users.read", perms[0].Name)

	roles, err := catalog.Roles(s.ctx)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "admin", roles[0].Name)

	exp := s.now.Add(time.Hour)
	require.NoError(t, assignments.AssignRole(s.ctx, rbac.RoleAssignment{UserID: "u1", RoleID: "r1", AssignedBy: "u0", AssignedAt: s.now}))
	require.NoError(t, assignments.AssignRole(s.ctx, rbac.RoleAssignment{UserID: "u1", RoleID: "r1", AssignedBy: "u0", AssignedAt: s.now, ExpiresAt: &exp}))
	assert.ErrorIs(t, assignments.AssignRole(s.ctx, rbac.RoleAssignment{UserID: "u1", RoleID: "missing", AssignedAt: s.now}), store.ErrNotFound)
	require.NoError(t, assignments.GrantPermission(s.ctx, rbac.PermissionGrant{UserID: "u1", PermissionID: "p1", GrantedBy: "u0", GrantedAt: s.now}))

	ras, err := assignments.RoleAssignments(s.ctx, "u1")
	require.NoError(t, err)
	require.Len(t, ras, 1)
	require.NotNil(t, ras[0].ExpiresAt)
	assert.True(t, ras[0].ExpiresAt.Equal(exp))

	require.NoError(t, catalog.DeleteRole(s.ctx, "r1"))
	ras, err = assignments.RoleAssignments(s.ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, ras)

	require.NoError(t, assignments.RevokePermission(s.ctx, "u1", "p1"))
	assert.ErrorIs(t, assignments.RevokePermission(s.ctx, "u1", "p1"), store.ErrNotFound)
}

func (s *PostgresSuite) record(sid, uid, token string) *session.Record {
	return &session.Record{
		SessionID: sid, UserID: uid, TenantID: "0",
		TokenHash: sha256.Sum256([]byte(token)),
		IssuedAt:  s.now, ExpiresAt: s.now.Add(time.Hour),
	}
}

func (s *PostgresSuite) TestSessionRotation() {
	t := s.T()
	sessions := NewSessions(s.pool, s.clock)

	require.NoError(t, sessions.Put(s.ctx, s.record("s1", "u1", "t1")))
	require.NoError(t, sessions.Rotate(s.ctx, "0", "s1", sha256.Sum256([]byte("t1")), s.record("s2", "u1", "t2")))

	_, err := sessions.Find(s.ctx, "0", "s1")
	assert.ErrorIs(t, err, session.ErrNotFound)
	uid, rotated, err := sessions.WasRotated(s.ctx, "0", "s1")
	require.NoError(t, err)
	assert.True(t, rotated)
	assert.Equal(t, "u1", uid)

	err = sessions.Rotate(s.ctx, "0", "s1", sha256.Sum256([]byte("t1")), s.record("s3", "u1", "t3"))
	assert.ErrorIs(t, err, session.ErrNotFound)

	err = sessions.Rotate(s.ctx, "0", "s2", sha256.Sum256([]byte("forged")), s.record("s4", "u1", "t4"))
	assert.ErrorIs(t, err, session.ErrTokenMismatch)
	_, err = sessions.Find(s.ctx, "0", "s2")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func (s *PostgresSuite) TestConcurrentRotationHasOneWinner() {
	t := s.T()
	sessions := NewSessions(s.pool, s.clock)
	require.NoError(t, sessions.Put(s.ctx, s.record("s1", "u1", "t1")))

	const racers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := s.record(uuid.NewString(), "u1", uuid.NewString())
			if err := sessions.Rotate(s.ctx, "0", "s1", sha256.Sum256([]byte("t1")), next); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	n, err := sessions.Count(s.ctx, "0")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func (s *PostgresSuite) TestSessionListDeleteAndSweep() {
	t := s.T()
	sessions := NewSessions(s.pool, s.clock)
	require.NoError(t, sessions.Put(s.ctx, s.record("s1", "u1", "t1")))
	require.NoError(t, sessions.Put(s.ctx, s.record("s2", "u1", "t2")))
	require.NoError(t, sessions.Put(s.ctx, s.record("s3", "u2", "t3")))

	list, err := sessions.ListForUser(s.ctx, "0", "u1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	n, err := sessions.DeleteAllForUser(s.ctx, "0", "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	s.now = s.now.Add(2 * time.Hour)
	swept, err := sessions.SweepExpired(s.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	swept, err = sessions.SweepExpired(s.ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func (s *PostgresSuite) TestAuditLog() {
	t := s.T()
	log := NewAuditLog(s.pool)
	for i, action := range []string{audit.ActionLoginSuccess, audit.ActionLoginFailed, audit.ActionLoginSuccess} {
		require.NoError(t, log.Write(s.ctx, audit.Entry{
			Timestamp: s.now.Add(time.Duration(i) * time.Second),
			Action:    action,
			UserID:    "u1",
			Success:   action == audit.ActionLoginSuccess,
			Metadata:  map[string]string{"n": string(rune('a' + i))},
		}))
	}

	got, err := log.Query(s.ctx, audit.Filter{UserID: "u1", Action: audit.ActionLoginSuccess})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Timestamp.After(got[1].Timestamp))
	assert.Equal(t, "c", got[0].Metadata["n"])

	got, err = log.Query(s.ctx, audit.Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
