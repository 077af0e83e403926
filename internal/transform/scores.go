package transform

import (
	"agoraetl/internal/distribution"
	"agoraetl/internal/table"
)

// scorePair binds a score column to the indicator that says whether the
// score is meaningful for a gene.
type scorePair struct {
	score    string
	isScored string
}

var overallScorePairs = []scorePair{
	{"geneticsscore", "isscored_genetics"},
	{"omicsscore", "isscored_omics"},
	{"literaturescore", "isscored_lit"},
}

var neuropathPair = scorePair{"flyneuropathscore", "isscored_neuropath"}

var overallScoreNames = map[string]string{
	"ensg":              "ensembl_gene_id",
	"hgnc_gene_id":      "hgnc_symbol",
	"overall":           "target_risk_score",
	"geneticsscore":     "genetics_score",
	"omicsscore":        "multi_omics_score",
	"literaturescore":   "literature_score",
	"flyneuropathscore": "neuropathology_score",
}

// overallScores nulls scores whose indicator is not "Y", drops the
// indicators and duplicate rows, and renames to the published names. The
// neuropathology score is carried only when both of its columns exist.
func overallScores(in Inputs, _ Params) (Result, error) {
	t, err := in.Primary(OverallScores, "overall_scores")
	if err != nil {
		return Result{}, err
	}
	pairs := overallScorePairs
	cols := []string{"ensg", "hgnc_gene_id", "overall"}
	if t.Has(neuropathPair.score) && t.Has(neuropathPair.isScored) {
		pairs = append(append([]scorePair(nil), pairs...), neuropathPair)
	}
	for _, p := range pairs {
		cols = append(cols, p.score)
	}
	need := append([]string(nil), cols...)
	for _, p := range pairs {
		need = append(need, p.isScored)
	}
	if err := t.Require(string(OverallScores), need...); err != nil {
		return Result{}, err
	}

	for _, p := range pairs {
		t, err = t.WithColumn(p.score, keepScored(t, p))
		if err != nil {
			return Result{}, err
		}
	}
	out, err := t.Select(cols...)
	if err != nil {
		return Result{}, err
	}
	return Result{Table: out.Rename(overallScoreNames).DropDuplicates()}, nil
}

// keepScored returns the score column with cells nulled where the
// indicator is not "Y".
func keepScored(t *table.Table, p scorePair) []any {
	vals, _ := t.Column(p.score)
	flag, _ := t.Column(p.isScored)
	out := make([]any, len(vals))
	for i, v := range vals {
		if flag[i] == "Y" {
			out[i] = v
		}
	}
	return out
}

type scoreDistribution struct {
	column   string
	isScored string
	maxParam string
	key      string
	name     string
	wikiID   string
}

const scoresSynID = "syn25913473"

var scoreDistributions = []scoreDistribution{
	{"overall", "", "overall_max_score", "target_risk_score", "Target Risk Score", "621071"},
	{"geneticsscore", "isscored_genetics", "genetics_max_score", "genetics_score", "Genetic Risk Score", "621069"},
	{"omicsscore", "isscored_omics", "omics_max_score", "multi_omics_score", "Multi-omic Risk Score", "621070"},
	{"literaturescore", "isscored_lit", "lit_max_score", "literature_score", "Literature Score", "613105"},
}

// distributionData bins each score column with its configured maximum and
// returns {score_key: summary} with display metadata attached.
//
// The overall score has no indicator column: rows with any "Y" cell among
// the score and indicator columns are kept.
func distributionData(in Inputs, p Params) (Result, error) {
	t, err := in.Primary(DistributionData, "overall_scores")
	if err != nil {
		return Result{}, err
	}
	maxScores := make([]float64, len(scoreDistributions))
	for i, d := range scoreDistributions {
		if maxScores[i], err = p.Float(DistributionData, d.maxParam); err != nil {
			return Result{}, err
		}
	}
	cols := []string{"ensg"}
	for _, d := range scoreDistributions {
		cols = append(cols, d.column)
	}
	for _, d := range scoreDistributions {
		if d.isScored != "" {
			cols = append(cols, d.isScored)
		}
	}
	t, err = t.Select(cols...)
	if err != nil {
		return Result{}, err
	}

	obj := make(table.Record, 0, len(scoreDistributions))
	for i, d := range scoreDistributions {
		s, err := distribution.Binned(t, d.column, d.isScored, maxScores[i])
		if err != nil {
			return Result{}, err
		}
		rec := s.Record()
		rec = append(rec,
			table.Field{Name: "name", Value: d.name},
			table.Field{Name: "syn_id", Value: scoresSynID},
			table.Field{Name: "wiki_id", Value: d.wikiID},
		)
		obj = append(obj, table.Field{Name: d.key, Value: rec})
	}
	return Result{Object: obj}, nil
}
