package transform

import (
	"math"
	"strings"

	"agoraetl/internal/distribution"
	"agoraetl/internal/table"
)

var studyLabels = map[string]string{
	"MAYO": "MayoRNAseq",
	"MSSM": "MSBB",
}

var sexLabels = map[string]string{
	"ALL":    "males and females",
	"FEMALE": "females only",
	"MALE":   "males only",
}

var diffExpColumns = []string{
	"ensembl_gene_id", "hgnc_symbol", "logfc", "fc", "ci_l", "ci_r",
	"adj_p_val", "tissue", "study", "model",
}

func relabel(labels map[string]string) func(any) any {
	return func(v any) any {
		if s, ok := v.(string); ok {
			if to, ok := labels[s]; ok {
				return to
			}
		}
		return v
	}
}

// modelLabel spells out an interaction model ("Diagnosis.Sex" becomes
// "AD Diagnosis x Sex") and appends the relabeled sex.
func modelLabel(model, sex any) any {
	if table.IsNull(model) {
		return nil
	}
	m := strings.ReplaceAll(table.Text(model), ".", " x ")
	m = strings.ReplaceAll(m, "Diagnosis", "AD Diagnosis")
	return m + " (" + table.Text(sex) + ")"
}

// prepareDiffExp relabels study, sex and model codes and derives
// fc = 2^logfc.
func prepareDiffExp(t *table.Table) (*table.Table, error) {
	if err := t.Require("diff_exp_data", "logfc", "study", "sex", "model"); err != nil {
		return nil, err
	}
	t, err := t.Map("study", relabel(studyLabels))
	if err != nil {
		return nil, err
	}
	if t, err = t.Map("sex", relabel(sexLabels)); err != nil {
		return nil, err
	}
	logfc, _ := t.Column("logfc")
	fc := make([]any, len(logfc))
	for i, v := range logfc {
		if table.IsNull(v) {
			continue
		}
		f, ok := table.Float(v)
		if !ok {
			return nil, &table.TypeMismatchError{Op: "diff_exp_data", Column: "logfc", Row: i, Value: v, Want: "number"}
		}
		fc[i] = math.Pow(2, f)
	}
	if t, err = t.WithColumn("fc", fc); err != nil {
		return nil, err
	}
	return t.Derive("model", func(r table.Row) any {
		return modelLabel(r.Get("model"), r.Get("sex"))
	}), nil
}

func rnaseqDifferentialExpression(in Inputs, _ Params) (Result, error) {
	t, err := in.Primary(RnaseqDifferentialExpression, "diff_exp_data")
	if err != nil {
		return Result{}, err
	}
	t, err = prepareDiffExp(t)
	if err != nil {
		return Result{}, err
	}
	out, err := t.Select(diffExpColumns...)
	if err != nil {
		return Result{}, err
	}
	return Result{Table: out}, nil
}

// rnaDistributionData computes logfc fences per tissue and relabeled model.
func rnaDistributionData(in Inputs, _ Params) (Result, error) {
	t, err := in.Primary(RnaDistributionData, "diff_exp_data")
	if err != nil {
		return Result{}, err
	}
	if t, err = prepareDiffExp(t); err != nil {
		return Result{}, err
	}
	out, err := distribution.Fences(t, []string{"tissue", "model"}, "logfc")
	if err != nil {
		return Result{}, err
	}
	return Result{Table: out}, nil
}

var proteomicsTypes = []struct {
	role  string
	label string
}{
	{"proteomics", "LFQ"},
	{"proteomics_tmt", "TMT"},
	{"proteomics_srm", "SRM"},
}

// proteomicsDistributionData computes log2_fc fences per tissue for every
// proteomics input present and stacks them with a type column.
func proteomicsDistributionData(in Inputs, _ Params) (Result, error) {
	var parts []*table.Table
	for _, pt := range proteomicsTypes {
		t, ok := in[pt.role]
		if !ok || t == nil {
			continue
		}
		f, err := distribution.Fences(t, []string{"tissue"}, "log2_fc")
		if err != nil {
			return Result{}, err
		}
		label := pt.label
		parts = append(parts, f.Derive("type", func(table.Row) any { return label }))
	}
	if len(parts) == 0 {
		return Result{}, &ConfigurationError{
			Transform: string(ProteomicsDistributionData),
			Msg:       "missing input roles: one of proteomics, proteomics_tmt, proteomics_srm",
		}
	}
	return Result{Table: table.Concat(parts...)}, nil
}
