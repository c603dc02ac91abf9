// Package warehouse loads transformed ORCID records into PostgreSQL and
// maintains the main table through upserts, deletions and dated snapshots.
package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Record is one row of a record table.
type Record struct {
	ORCID     string         `json:"orcid"`
	Record    map[string]any `json:"record"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Warehouse operates on the tables of one schema.
type Warehouse struct {
	pool   *pgxpool.Pool
	schema string
}

// Connect opens a pool to databaseURL. Tables are addressed within schema.
func Connect(ctx context.Context, databaseURL, schema string) (*Warehouse, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("warehouse database URL is required")
	}
	if schema == "" {
		schema = "orcid"
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create warehouse pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping warehouse: %w", err)
	}
	return &Warehouse{pool: pool, schema: schema}, nil
}

// Close releases the pool.
func (w *Warehouse) Close() {
	w.pool.Close()
}

// Schema is the schema tables live in.
func (w *Warehouse) Schema() string {
	return w.schema
}

func (w *Warehouse) table(name string) string {
	return qualify(w.schema, name)
}

func qualify(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// EnsureSchema creates the schema if it is missing.
func (w *Warehouse) EnsureSchema(ctx context.Context) error {
	if _, err := w.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{w.schema}.Sanitize()); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", w.schema, err)
	}
	return nil
}

// EnsureRecordTable creates a record table keyed by ORCID.
func (w *Warehouse) EnsureRecordTable(ctx context.Context, table string) error {
	_, err := w.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+w.table(table)+` (
		orcid      TEXT PRIMARY KEY,
		record     JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return nil
}

// EnsureDeleteTable creates a single-column table of ORCIDs to delete.
func (w *Warehouse) EnsureDeleteTable(ctx context.Context, table string) error {
	_, err := w.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+w.table(table)+` (id TEXT NOT NULL)`)
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return nil
}

// TruncateTable empties a table.
func (w *Warehouse) TruncateTable(ctx context.Context, table string) error {
	if _, err := w.pool.Exec(ctx, "TRUNCATE TABLE "+w.table(table)); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", table, err)
	}
	return nil
}

// TableExists reports whether a table exists in the schema.
func (w *Warehouse) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := w.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)`, w.schema, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return exists, nil
}

// LoadRecords copies records into table using the COPY protocol.
func (w *Warehouse) LoadRecords(ctx context.Context, table string, records []Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	n, err := w.pool.CopyFrom(ctx,
		pgx.Identifier{w.schema, table},
		[]string{"orcid", "record", "updated_at"},
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			data, err := json.Marshal(records[i].Record)
			if err != nil {
				return nil, fmt.Errorf("encode record %s: %w", records[i].ORCID, err)
			}
			updated := records[i].UpdatedAt
			if updated.IsZero() {
				updated = now
			}
			return []any{records[i].ORCID, data, updated}, nil
		}),
	)
	if err != nil {
		return n, fmt.Errorf("failed to copy into %s: %w", table, err)
	}
	return n, nil
}

// LoadDeletes copies ids into a delete table.
func (w *Warehouse) LoadDeletes(ctx context.Context, table string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := w.pool.CopyFrom(ctx,
		pgx.Identifier{w.schema, table},
		[]string{"id"},
		pgx.CopyFromSlice(len(ids), func(i int) ([]any, error) {
			return []any{ids[i]}, nil
		}),
	)
	if err != nil {
		return n, fmt.Errorf("failed to copy into %s: %w", table, err)
	}
	return n, nil
}

// MergeUpserts inserts or replaces main rows from the upsert table, matched
// on orcid.
func (w *Warehouse) MergeUpserts(ctx context.Context, main, upsert string) (int64, error) {
	tag, err := w.pool.Exec(ctx, `
		INSERT INTO `+w.table(main)+` (orcid, record, updated_at)
		SELECT orcid, record, updated_at FROM `+w.table(upsert)+`
		ON CONFLICT (orcid) DO UPDATE SET
			record = EXCLUDED.record,
			updated_at = EXCLUDED.updated_at`)
	if err != nil {
		return 0, fmt.Errorf("failed to merge %s into %s: %w", upsert, main, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteRecords removes main rows whose orcid appears in the delete table.
func (w *Warehouse) DeleteRecords(ctx context.Context, main, deletes string) (int64, error) {
	tag, err := w.pool.Exec(ctx, `
		DELETE FROM `+w.table(main)+` AS m
		USING `+w.table(deletes)+` AS d
		WHERE m.orcid = d.id`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", main, err)
	}
	return tag.RowsAffected(), nil
}

// SnapshotName names the dated copy of a table.
func SnapshotName(table string, date time.Time) string {
	return table + "_snapshot_" + date.UTC().Format("20060102")
}

// Snapshot copies main into its dated snapshot table, replacing any
// snapshot with the same date. It returns the snapshot table name.
func (w *Warehouse) Snapshot(ctx context.Context, main string, date time.Time) (string, error) {
	name := SnapshotName(main, date)
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+w.table(name)); err != nil {
		return "", fmt.Errorf("failed to drop %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, "CREATE TABLE "+w.table(name)+" AS TABLE "+w.table(main)); err != nil {
		return "", fmt.Errorf("failed to snapshot %s: %w", main, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return name, nil
}

// GetRecord returns one record from table.
func (w *Warehouse) GetRecord(ctx context.Context, table, orcid string) (*Record, error) {
	var r Record
	err := w.pool.QueryRow(ctx,
		`SELECT orcid, record, updated_at FROM `+w.table(table)+` WHERE orcid = $1`, orcid,
	).Scan(&r.ORCID, &r.Record, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", orcid, err)
	}
	return &r, nil
}

// CountRecords returns the number of rows in table.
func (w *Warehouse) CountRecords(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := w.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+w.table(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}
