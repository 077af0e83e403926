package standardize

import (
	"reflect"
	"testing"

	"agoraetl/internal/table"
)

func TestColumnName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"Ensembl Gene ID", "ensembl_gene_id"},
		{"log2-FC", "log2_fc"},
		{"ci.lwr", "ci_lwr"},
		{"Team (Primary)", "team_primary"},
		{"pct%", "pct"},
		{"a,b", "a,b"},
		{"Score#1@x&y*z^?$!/", "score1xyz"},
		{"ＡＢＣ", "abc"},
	}
	for _, tc := range cases {
		if got := ColumnName(tc.in); got != tc.want {
			t.Fatalf("ColumnName(%q): got=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestColumns_Idempotent(t *testing.T) {
	t.Parallel()

	tb := table.New("Gene Name", "Is-Scored", "p.value", "(Notes)")
	once := Columns(tb)
	twice := Columns(once)
	if !reflect.DeepEqual(once.Columns(), twice.Columns()) {
		t.Fatalf("not idempotent: %v vs %v", once.Columns(), twice.Columns())
	}
	if want := []string{"gene_name", "is_scored", "p_value", "notes"}; !reflect.DeepEqual(once.Columns(), want) {
		t.Fatalf("got=%v want=%v", once.Columns(), want)
	}
}

func TestValues_ReplacesNA(t *testing.T) {
	t.Parallel()

	tb, err := table.FromRows([]string{"a", "b"}, [][]any{
		{"N/A", 1.0},
		{"n/a ", "keep"},
		{"value", "NA"},
	})
	if err != nil {
		t.Fatalf("FromRows: %v", err)
	}
	out := Values(tb)
	if out.Value(0, "a") != nil || out.Value(1, "a") != nil {
		t.Fatalf("expected n/a cells to be nil, got %v %v", out.Value(0, "a"), out.Value(1, "a"))
	}
	if out.Value(2, "b") != "NA" {
		t.Fatalf("only n/a is replaced, got %v", out.Value(2, "b"))
	}
	if tb.Value(0, "a") != "N/A" {
		t.Fatalf("input must not be modified")
	}
}

func TestValues_LeavesNestedCells(t *testing.T) {
	t.Parallel()

	list := []any{"n/a"}
	tb, _ := table.FromRows([]string{"a"}, [][]any{{list}, {true}})
	out := Values(tb)
	if !reflect.DeepEqual(out.Value(0, "a"), list) || out.Value(1, "a") != true {
		t.Fatalf("unexpected cells %v", out.Records())
	}
	if out != tb {
		t.Fatalf("expected the input table when nothing is replaced")
	}
}

func TestStripMarkup(t *testing.T) {
	t.Parallel()

	tb, _ := table.FromRows([]string{"summary", "n"}, [][]any{
		{"<p>Amyloid <b>beta</b>\n precursor</p>", 1.0},
		{"plain", 2.0},
		{nil, 3.0},
	})
	out, err := StripMarkup(tb, "summary")
	if err != nil {
		t.Fatalf("StripMarkup: %v", err)
	}
	if got := out.Value(0, "summary"); got != "Amyloid beta precursor" {
		t.Fatalf("got=%q", got)
	}
	if out.Value(1, "summary") != "plain" || out.Value(2, "summary") != nil {
		t.Fatalf("unexpected cells %v", out.Records())
	}
	if _, err := StripMarkup(tb, "missing"); err == nil {
		t.Fatalf("expected SchemaError")
	}
}
