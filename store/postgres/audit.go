package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/goIdentity/audit"
)

// AuditLog persists entries in audit_logs and serves audit.Reader
// queries from it.
type AuditLog struct {
	pool *pgxpool.Pool
}

var (
	_ audit.Sink   = (*AuditLog)(nil)
	_ audit.Reader = (*AuditLog)(nil)
)

func NewAuditLog(pool *pgxpool.Pool) *AuditLog {
	return &AuditLog{pool: pool}
}

// Write inserts entry. An empty ID is replaced with a random UUID.
func (l *AuditLog) Write(ctx context.Context, entry audit.Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := l.pool.Exec(ctx, `INSERT INTO audit_logs (id, occurred_at, action, actor_id, user_id, tenant_id,
			session_id, resource_type, resource_id, old_value, new_value, ip_address, user_agent, success, error, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		entry.ID, entry.Timestamp, entry.Action, entry.ActorID, entry.UserID, entry.TenantID,
		entry.SessionID, entry.ResourceType, entry.ResourceID, entry.OldValue, entry.NewValue,
		entry.IP, entry.UserAgent, entry.Success, entry.Error, entry.Metadata)
	return mapError(err)
}

// Query returns matching entries, newest first.
func (l *AuditLog) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	f = f.Normalized()

	var (
		conditions []string
		args       []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.ResourceType != "" {
		add("resource_type = $%d", f.ResourceType)
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at < $%d", f.To)
	}

	query := `SELECT id, occurred_at, action, actor_id, user_id, tenant_id, session_id, resource_type,
		resource_id, old_value, new_value, ip_address, user_agent, success, error, metadata FROM audit_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d", len(args))

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (audit.Entry, error) {
		var e audit.Entry
		err := row.Scan(&e.ID, &e.Timestamp, &e.Action, &e.ActorID, &e.UserID, &e.TenantID, &e.SessionID,
			&e.ResourceType, &e.ResourceID, &e.OldValue, &e.NewValue, &e.IP, &e.UserAgent, &e.Success, &e.Error, &e.Metadata)
		return e, err
	})
}
