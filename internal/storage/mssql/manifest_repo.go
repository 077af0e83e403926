// Package mssql records artifact manifests in Microsoft SQL Server.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"agoraetl/internal/storage"
)

// maxParams is below SQL Server's 2100 parameter limit per statement.
const maxParams = 2000

func init() {
	storage.Register("mssql", NewManifest)
}

// dbConn is the subset of *sql.DB this package uses.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Close() error
}

// ManifestRepo implements storage.ManifestRepository for SQL Server.
//
// SQL Server has no ON CONFLICT; Record uses INSERT ... SELECT ... WHERE NOT
// EXISTS, so batches must be deduplicated before they are sent.
type ManifestRepo struct {
	db    dbConn
	table string
}

// NewManifest opens cfg.DSN with the "sqlserver" driver and pings it.
func NewManifest(ctx context.Context, cfg storage.ManifestConfig) (storage.ManifestRepository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(8)
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &ManifestRepo{db: raw, table: cfg.TableName()}, nil
}

func (r *ManifestRepo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

func (r *ManifestRepo) EnsureTable(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, buildCreateSQL(r.table)); err != nil {
		return fmt.Errorf("mssql: create %s: %w", r.table, err)
	}
	return nil
}

// Record inserts artifacts in chunks that stay under the parameter limit.
func (r *ManifestRepo) Record(ctx context.Context, artifacts []storage.Artifact) (int64, error) {
	artifacts = storage.DedupeArtifacts(artifacts)
	per := maxParams / len(storage.ManifestColumns)

	var inserted int64
	for start := 0; start < len(artifacts); start += per {
		end := min(start+per, len(artifacts))
		query, args := buildInsertNotExistsSQL(r.table, artifacts[start:end])
		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return inserted, fmt.Errorf("mssql: insert manifest: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += n
	}
	return inserted, nil
}

func (r *ManifestRepo) Latest(ctx context.Context, dataset string) (storage.Artifact, bool, error) {
	var (
		a    storage.Artifact
		rows int64
	)
	err := r.db.QueryRowContext(ctx, buildLatestSQL(r.table), dataset).Scan(
		&a.RunID, &a.Dataset, &a.Path, &a.Format, &rows, &a.Bytes, &a.Version, &a.URI, &a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Artifact{}, false, nil
	}
	if err != nil {
		return storage.Artifact{}, false, err
	}
	a.Rows = int(rows)
	a.CreatedAt = a.CreatedAt.UTC()
	return a, true, nil
}

func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent quotes each part of a schema-qualified name:
// "dbo.artifact_manifest" -> [dbo].[artifact_manifest].
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

func buildCreateSQL(table string) string {
	defs := strings.Join([]string{
		"[id] BIGINT IDENTITY(1,1) PRIMARY KEY",
		"[run_id] NVARCHAR(64) NOT NULL",
		"[dataset] NVARCHAR(256) NOT NULL",
		"[path] NVARCHAR(1024) NOT NULL",
		"[format] NVARCHAR(16) NOT NULL",
		"[rows] BIGINT NOT NULL",
		"[bytes] BIGINT NOT NULL",
		"[version] NVARCHAR(64) NOT NULL",
		"[uri] NVARCHAR(1024) NOT NULL",
		"[created_at] DATETIMEOFFSET NOT NULL",
		"UNIQUE ([dataset], [version])",
	}, ", ")
	return wrapCreateIfMissing(table, defs)
}

func columnList(prefix string) string {
	cols := make([]string, len(storage.ManifestColumns))
	for i, c := range storage.ManifestColumns {
		cols[i] = prefix + mssqlIdent(c)
	}
	return strings.Join(cols, ", ")
}

// buildInsertNotExistsSQL inserts rows from a VALUES source that are not
// already present by (dataset, version). Placeholders are @p1..@pN.
func buildInsertNotExistsSQL(table string, artifacts []storage.Artifact) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(columnList(""))
	b.WriteString(") SELECT ")
	b.WriteString(columnList("v."))
	b.WriteString(" FROM (VALUES ")

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
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, v)
			p++
		}
		b.WriteString(")")
	}
	b.WriteString(") AS v (")
	b.WriteString(columnList(""))
	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" t WHERE t.[dataset] = v.[dataset] AND t.[version] = v.[version]);")
	return b.String(), args
}

func buildLatestSQL(table string) string {
	return "SELECT TOP 1 " + columnList("") + " FROM " + mssqlTableIdent(table) +
		" WHERE [dataset] = @p1 ORDER BY [id] DESC;"
}
