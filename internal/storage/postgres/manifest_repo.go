// Package postgres records artifact manifests in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agoraetl/internal/storage"
)

func init() {
	storage.Register("postgres", NewManifest)
}

// ManifestRepo implements storage.ManifestRepository for Postgres.
type ManifestRepo struct {
	pool  *pgxpool.Pool
	table string
}

// NewManifest opens a pgx pool for cfg.DSN.
func NewManifest(ctx context.Context, cfg storage.ManifestConfig) (storage.ManifestRepository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &ManifestRepo{pool: pool, table: cfg.TableName()}, nil
}

// Close closes the connection pool.
func (r *ManifestRepo) Close() {
	r.pool.Close()
}

// EnsureTable creates the schema (for qualified names) and the table.
func (r *ManifestRepo) EnsureTable(ctx context.Context) error {
	schemaSQL, createSQL := buildCreateSQL(r.table)
	if schemaSQL != "" {
		if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	if _, err := r.pool.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("create %s: %w", r.table, err)
	}
	return nil
}

// Record inserts artifacts with ON CONFLICT (dataset, version) DO NOTHING.
func (r *ManifestRepo) Record(ctx context.Context, artifacts []storage.Artifact) (int64, error) {
	artifacts = storage.DedupeArtifacts(artifacts)
	if len(artifacts) == 0 {
		return 0, nil
	}
	sql, args := buildInsertSQL(r.table, artifacts)
	cmd, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// Latest returns the newest row for dataset.
func (r *ManifestRepo) Latest(ctx context.Context, dataset string) (storage.Artifact, bool, error) {
	var (
		a    storage.Artifact
		rows int64
	)
	err := r.pool.QueryRow(ctx, buildLatestSQL(r.table), dataset).Scan(
		&a.RunID, &a.Dataset, &a.Path, &a.Format, &rows, &a.Bytes, &a.Version, &a.URI, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Artifact{}, false, nil
	}
	if err != nil {
		return storage.Artifact{}, false, err
	}
	a.Rows = int(rows)
	a.CreatedAt = a.CreatedAt.UTC()
	return a, true, nil
}

func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// splitQualifiedName splits "schema.table"; unqualified names have no schema.
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func tableIdent(name string) string {
	schema, table := splitQualifiedName(name)
	if schema == "" {
		return pgIdent(table)
	}
	return pgIdent(schema) + "." + pgIdent(table)
}

func buildCreateSQL(table string) (schemaSQL, createSQL string) {
	if schema, _ := splitQualifiedName(table); schema != "" {
		schemaSQL = "CREATE SCHEMA IF NOT EXISTS " + pgIdent(schema) + ";"
	}
	createSQL = "CREATE TABLE IF NOT EXISTS " + tableIdent(table) + ` (
	id BIGSERIAL PRIMARY KEY,
	"run_id" TEXT NOT NULL,
	"dataset" TEXT NOT NULL,
	"path" TEXT NOT NULL,
	"format" TEXT NOT NULL,
	"rows" BIGINT NOT NULL,
	"bytes" BIGINT NOT NULL,
	"version" TEXT NOT NULL,
	"uri" TEXT NOT NULL,
	"created_at" TIMESTAMPTZ NOT NULL,
	UNIQUE ("dataset", "version")
);`
	return schemaSQL, createSQL
}

// buildInsertSQL builds one multi-row INSERT with numbered placeholders.
func buildInsertSQL(table string, artifacts []storage.Artifact) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(tableIdent(table))
	b.WriteString(" (")
	for i, c := range storage.ManifestColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(artifacts)*len(storage.ManifestColumns))
	p := 1
	for i, a := range artifacts {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, v := range a.Values() {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, v)
			p++
		}
		b.WriteString(")")
	}
	b.WriteString(` ON CONFLICT ("dataset", "version") DO NOTHING;`)
	return b.String(), args
}

func buildLatestSQL(table string) string {
	cols := make([]string, len(storage.ManifestColumns))
	for i, c := range storage.ManifestColumns {
		cols[i] = pgIdent(c)
	}
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + tableIdent(table) +
		` WHERE "dataset" = $1 ORDER BY id DESC LIMIT 1;`
}
