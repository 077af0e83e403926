package clean

import (
	"encoding/json"
	"math"
	"testing"

	"agoraetl/internal/table"
)

func TestValue_StripsNestedNulls(t *testing.T) {
	t.Parallel()

	in := table.Record{
		{Name: "ensembl_gene_id", Value: "ENSG1"},
		{Name: "nominations", Value: math.NaN()},
		{Name: "druggability", Value: table.Record{{Name: "pharos_class", Value: nil}}},
		{Name: "target_nominations", Value: []any{
			table.Record{{Name: "team", Value: "Emory"}, {Name: "notes", Value: nil}},
			table.Record{{Name: "team", Value: nil}},
			"scalar",
		}},
		{Name: "alias", Value: []any{}},
	}
	out := Value(in)
	b, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"ensembl_gene_id":"ENSG1","target_nominations":[{"team":"Emory"},"scalar"],"alias":[]}`
	if string(b) != want {
		t.Fatalf("got=%s want=%s", b, want)
	}
	if v, _ := in.Get("nominations"); !math.IsNaN(v.(float64)) {
		t.Fatalf("input must not be modified")
	}
}

func TestRecords_TopLevelNulls(t *testing.T) {
	t.Parallel()

	tb, _ := table.FromRows([]string{"a", "b"}, [][]any{{1.0, nil}, {nil, "x"}})
	rows := Records(tb)
	if len(rows) != 2 || len(rows[0]) != 1 || len(rows[1]) != 1 {
		t.Fatalf("unexpected rows %v", rows)
	}
	if rows[1][0].Name != "b" {
		t.Fatalf("expected field b, got %v", rows[1])
	}
}

func TestValue_RecordSlice(t *testing.T) {
	t.Parallel()

	out := Value([]table.Record{{{Name: "a", Value: nil}}, {{Name: "a", Value: 1.0}}}).([]table.Record)
	if len(out) != 1 {
		t.Fatalf("expected empty record dropped, got %v", out)
	}
}
