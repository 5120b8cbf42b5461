// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: conditional UPDATEs for every compare-and-set, a partial
// unique index for the single active version per queue, expiring role
// locks, LISTEN/NOTIFY for the event bus, embedded SQL migrations.
package postgres
