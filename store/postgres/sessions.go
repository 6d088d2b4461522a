package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/goIdentity/session"
)

// Sessions implements session.Store on PostgreSQL. Rotation locks the old
// row with SELECT ... FOR UPDATE so concurrent rotations of one session
// serialize and exactly one succeeds.
type Sessions struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ session.Store = (*Sessions)(nil)

// NewSessions returns a session store. A nil now uses time.Now.
func NewSessions(pool *pgxpool.Pool, now func() time.Time) *Sessions {
	if now == nil {
		now = time.Now
	}
	return &Sessions{pool: pool, now: now}
}

const sessionColumns = `session_id, user_id, tenant_id, token_hash, ip_address, user_agent, issued_at, expires_at`

func scanSession(row pgx.Row) (*session.Record, error) {
	var (
		rec  session.Record
		hash []byte
	)
	err := row.Scan(&rec.SessionID, &rec.UserID, &rec.TenantID, &hash, &rec.IP, &rec.UserAgent, &rec.IssuedAt, &rec.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if len(hash) != len(rec.TokenHash) {
		return nil, session.ErrCorrupt
	}
	copy(rec.TokenHash[:], hash)
	return &rec, nil
}

func insertSession(ctx context.Context, db dbtx, rec *session.Record) error {
	_, err := db.Exec(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, session_id) DO UPDATE
		SET user_id = EXCLUDED.user_id, token_hash = EXCLUDED.token_hash, ip_address = EXCLUDED.ip_address,
			user_agent = EXCLUDED.user_agent, issued_at = EXCLUDED.issued_at, expires_at = EXCLUDED.expires_at`,
		rec.SessionID, rec.UserID, session.NormalizeTenantID(rec.TenantID), rec.TokenHash[:],
		rec.IP, rec.UserAgent, rec.IssuedAt, rec.ExpiresAt)
	return mapError(err)
}

func (s *Sessions) Put(ctx context.Context, rec *session.Record) error {
	if rec == nil || rec.SessionID == "" || rec.UserID == "" {
		return errors.New("session record requires session and user ids")
	}
	if !session.ValidTenantID(rec.TenantID) {
		return session.ErrInvalidTenant
	}
	if !rec.Active(s.now()) {
		return errors.New("session record already expired")
	}
	return insertSession(ctx, s.pool, rec)
}

// Find returns the unexpired session. An expired row is deleted before
// session.ErrNotFound is returned.
func (s *Sessions) Find(ctx context.Context, tenantID, sessionID string) (*session.Record, error) {
	tenantID = session.NormalizeTenantID(tenantID)
	rec, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE tenant_id = $1 AND session_id = $2`, tenantID, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, err
	}
	if !rec.Active(s.now()) {
		if err := s.DeleteOne(ctx, tenantID, sessionID); err != nil {
			return nil, err
		}
		return nil, session.ErrNotFound
	}
	return rec, nil
}

// Rotate swaps oldSessionID for next in one transaction. A hash mismatch
// deletes the old session and returns session.ErrTokenMismatch.
func (s *Sessions) Rotate(ctx context.Context, tenantID, oldSessionID string, presentedHash [32]byte, next *session.Record) error {
	if next == nil || next.SessionID == "" || next.SessionID == oldSessionID {
		return errors.New("rotation requires a new session id")
	}
	if !session.ValidTenantID(tenantID) {
		return session.ErrInvalidTenant
	}
	tenantID = session.NormalizeTenantID(tenantID)
	if session.NormalizeTenantID(next.TenantID) != tenantID {
		return errors.New("rotated session must stay in the same tenant")
	}
	now := s.now()
	if !next.Active(now) {
		return errors.New("session record already expired")
	}

	// outcome is returned after commit so that revocations on expiry or
	// mismatch persist.
	var outcome error
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			userID    string
			hash      []byte
			expiresAt time.Time
		)
		err := tx.QueryRow(ctx, `SELECT user_id, token_hash, expires_at FROM sessions
			WHERE tenant_id = $1 AND session_id = $2 FOR UPDATE`, tenantID, oldSessionID).
			Scan(&userID, &hash, &expiresAt)
		if errors.Is(err, pgx.ErrNoRows) {
			outcome = session.ErrNotFound
			return nil
		}
		if err != nil {
			return err
		}

		drop := func() error {
			_, err := tx.Exec(ctx, `DELETE FROM sessions WHERE tenant_id = $1 AND session_id = $2`, tenantID, oldSessionID)
			return err
		}
		switch {
		case !expiresAt.After(now):
			outcome = session.ErrNotFound
			return drop()
		case len(hash) != len(presentedHash) || [32]byte(hash) != presentedHash:
			outcome = session.ErrTokenMismatch
			return drop()
		case next.UserID != userID:
			return errors.New("rotated session must belong to the same user")
		}

		if err := drop(); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `INSERT INTO session_rotations (tenant_id, session_id, user_id, expires_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tenant_id, session_id) DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at`,
			tenantID, oldSessionID, userID, expiresAt)
		if err != nil {
			return err
		}
		return insertSession(ctx, tx, next)
	})
	if err != nil {
		return err
	}
	return outcome
}

func (s *Sessions) DeleteOne(ctx context.Context, tenantID, sessionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE tenant_id = $1 AND session_id = $2`,
		session.NormalizeTenantID(tenantID), sessionID)
	return err
}

// DeleteAllForUser removes every row of the user and returns how many of
// them were still unexpired.
func (s *Sessions) DeleteAllForUser(ctx context.Context, tenantID, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `WITH deleted AS (
			DELETE FROM sessions WHERE tenant_id = $1 AND user_id = $2 RETURNING expires_at
		)
		SELECT COUNT(*) FILTER (WHERE expires_at > $3) FROM deleted`,
		session.NormalizeTenantID(tenantID), userID, s.now()).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Sessions) ListForUser(ctx context.Context, tenantID, userID string) ([]*session.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE tenant_id = $1 AND user_id = $2 AND expires_at > $3
		ORDER BY issued_at DESC`,
		session.NormalizeTenantID(tenantID), userID, s.now())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*session.Record, error) { return scanSession(row) })
}

// SweepExpired deletes expired sessions and rotation markers and returns
// the number of sessions removed.
func (s *Sessions) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	var removed int64
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
		if err != nil {
			return err
		}
		removed = tag.RowsAffected()
		_, err = tx.Exec(ctx, `DELETE FROM session_rotations WHERE expires_at <= $1`, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

func (s *Sessions) WasRotated(ctx context.Context, tenantID, sessionID string) (string, bool, error) {
	var userID string
	err := s.pool.QueryRow(ctx, `SELECT user_id FROM session_rotations
		WHERE tenant_id = $1 AND session_id = $2 AND expires_at > $3`,
		session.NormalizeTenantID(tenantID), sessionID, s.now()).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return userID, true, nil
}

// Count returns the number of unexpired sessions in tenantID.
func (s *Sessions) Count(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sessions WHERE tenant_id = $1 AND expires_at > $2`,
		session.NormalizeTenantID(tenantID), s.now()).Scan(&n)
	return n, err
}
