package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"

	"agoraetl/internal/storage"
)

type fakeResult int64

func (f fakeResult) LastInsertId() (int64, error) { return 0, errors.New("unsupported") }
func (f fakeResult) RowsAffected() (int64, error) { return int64(f), nil }

type fakeDB struct {
	queries []string
	argc    []int
	fail    error
}

func (f *fakeDB) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.queries = append(f.queries, query)
	f.argc = append(f.argc, len(args))
	return fakeResult(len(args) / len(storage.ManifestColumns)), nil
}

func (f *fakeDB) QueryRowContext(context.Context, string, ...any) *sql.Row { return nil }
func (f *fakeDB) Close() error                                              { return nil }

func TestBuildCreateSQL_WrapsInObjectIDCheck(t *testing.T) {
	t.Parallel()

	got := buildCreateSQL("dbo.artifact_manifest")
	if !strings.HasPrefix(got, "IF OBJECT_ID(N'dbo.artifact_manifest', N'U') IS NULL BEGIN CREATE TABLE [dbo].[artifact_manifest] (") {
		t.Fatalf("got=%q", got)
	}
	if !strings.Contains(got, "UNIQUE ([dataset], [version])") {
		t.Fatalf("missing unique constraint: %q", got)
	}
}

func TestBuildInsertNotExistsSQL(t *testing.T) {
	t.Parallel()

	arts := []storage.Artifact{{Dataset: "a", Version: "1"}, {Dataset: "b", Version: "2"}}
	got, args := buildInsertNotExistsSQL("artifact_manifest", arts)

	if len(args) != 18 {
		t.Fatalf("args got=%d want=18", len(args))
	}
	if !strings.Contains(got, "@p10, @p11") || strings.Contains(got, "@p19") {
		t.Fatalf("placeholders wrong: %q", got)
	}
	if !strings.Contains(got, "WHERE NOT EXISTS (SELECT 1 FROM [artifact_manifest] t WHERE t.[dataset] = v.[dataset] AND t.[version] = v.[version])") {
		t.Fatalf("missing NOT EXISTS guard: %q", got)
	}
}

func TestRecord_DedupesAndChunks(t *testing.T) {
	t.Parallel()

	per := maxParams / len(storage.ManifestColumns)
	arts := make([]storage.Artifact, 0, per+6)
	for i := 0; i < per+5; i++ {
		arts = append(arts, storage.Artifact{Dataset: "d", Version: fmt.Sprint(i)})
	}
	// Duplicate of the first row; dropped before sending.
	arts = append(arts, storage.Artifact{Dataset: "d", Version: "0"})

	db := &fakeDB{}
	repo := &ManifestRepo{db: db, table: "artifact_manifest"}
	n, err := repo.Record(context.Background(), arts)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if n != int64(per+5) {
		t.Fatalf("inserted got=%d want=%d", n, per+5)
	}
	if len(db.queries) != 2 || db.argc[1] != 5*len(storage.ManifestColumns) {
		t.Fatalf("chunks got=%d argc=%v", len(db.queries), db.argc)
	}
}

func TestRecord_Empty(t *testing.T) {
	t.Parallel()
	db := &fakeDB{fail: errors.New("should not be called")}
	repo := &ManifestRepo{db: db, table: "m"}
	if n, err := repo.Record(context.Background(), nil); err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestMssqlTableIdent(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"dbo.m":   "[dbo].[m]",
		"m":       "[m]",
		"we]ird":  "[we]]ird]",
		" s . t ": "[s].[t]",
	}
	for in, want := range cases {
		if got := mssqlTableIdent(in); got != want {
			t.Fatalf("mssqlTableIdent(%q) got=%s want=%s", in, got, want)
		}
	}
}
