// Package postgres implements the goIdentity storage contracts on
// PostgreSQL through pgx.
//
// [Users] satisfies account.Store, [Catalog] rbac.Catalog, [Assignments]
// rbac.AssignmentStore, [Sessions] session.Store and [AuditLog] both
// audit.Sink and audit.Reader. All of them share one *pgxpool.Pool opened
// with [Open]; [Migrate] applies the embedded schema.
//
// Driver errors are translated to store.ErrNotFound and store.ErrConflict.
package postgres
