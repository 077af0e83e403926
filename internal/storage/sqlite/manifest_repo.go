// Package sqlite records artifact manifests in a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"agoraetl/internal/storage"
)

// ManifestRepo implements storage.ManifestRepository for SQLite.
//
// SQLite has no timestamp type; created_at is stored as TEXT (RFC3339Nano,
// UTC) and parsed back on read.
type ManifestRepo struct {
	db    *sql.DB
	table string
}

func init() {
	storage.Register("sqlite", NewManifest)
}

// NewManifest opens cfg.DSN with the modernc driver. The pool is limited to
// one connection so ":memory:" databases are shared across calls.
func NewManifest(ctx context.Context, cfg storage.ManifestConfig) (storage.ManifestRepository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &ManifestRepo{db: db, table: cfg.TableName()}, nil
}

func (r *ManifestRepo) Close() { _ = r.db.Close() }

func (r *ManifestRepo) EnsureTable(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, buildCreateSQL(r.table)); err != nil {
		return fmt.Errorf("create %s: %w", r.table, err)
	}
	return nil
}

// Record inserts artifacts in one transaction using INSERT OR IGNORE.
func (r *ManifestRepo) Record(ctx context.Context, artifacts []storage.Artifact) (int64, error) {
	artifacts = storage.DedupeArtifacts(artifacts)
	if len(artifacts) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, buildInsertSQL(r.table))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var inserted int64
	for _, a := range artifacts {
		res, err := stmt.ExecContext(ctx, sqliteArgs(a)...)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", a.Dataset, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *ManifestRepo) Latest(ctx context.Context, dataset string) (storage.Artifact, bool, error) {
	var (
		a       storage.Artifact
		rows    int64
		created string
	)
	err := r.db.QueryRowContext(ctx, buildLatestSQL(r.table), dataset).Scan(
		&a.RunID, &a.Dataset, &a.Path, &a.Format, &rows, &a.Bytes, &a.Version, &a.URI, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Artifact{}, false, nil
	}
	if err != nil {
		return storage.Artifact{}, false, err
	}
	a.Rows = int(rows)
	if a.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return storage.Artifact{}, false, fmt.Errorf("created_at: %w", err)
	}
	return a, true, nil
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func buildCreateSQL(table string) string {
	return "CREATE TABLE IF NOT EXISTS " + sqlIdent(table) + ` (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	"run_id" TEXT NOT NULL,
	"dataset" TEXT NOT NULL,
	"path" TEXT NOT NULL,
	"format" TEXT NOT NULL,
	"rows" INTEGER NOT NULL,
	"bytes" INTEGER NOT NULL,
	"version" TEXT NOT NULL,
	"uri" TEXT NOT NULL,
	"created_at" TEXT NOT NULL,
	UNIQUE ("dataset", "version")
);`
}

func quotedColumns() string {
	cols := make([]string, len(storage.ManifestColumns))
	for i, c := range storage.ManifestColumns {
		cols[i] = sqlIdent(c)
	}
	return strings.Join(cols, ", ")
}

func buildInsertSQL(table string) string {
	ph := strings.TrimSuffix(strings.Repeat("?, ", len(storage.ManifestColumns)), ", ")
	return "INSERT OR IGNORE INTO " + sqlIdent(table) + " (" + quotedColumns() + ") VALUES (" + ph + ");"
}

func buildLatestSQL(table string) string {
	return "SELECT " + quotedColumns() + " FROM " + sqlIdent(table) +
		` WHERE "dataset" = ? ORDER BY id DESC LIMIT 1;`
}

// sqliteArgs returns a.Values() with created_at formatted as text.
func sqliteArgs(a storage.Artifact) []any {
	args := a.Values()
	args[len(args)-1] = formatSQLiteTime(a.CreatedAt)
	return args
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseSQLiteTime accepts what formatSQLiteTime writes plus the layouts
// other SQLite tools commonly produce. Values without a zone are UTC.
func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
