package transform

import (
	"math"
	"sort"
	"strings"

	"agoraetl/internal/nest"
	"agoraetl/internal/table"
)

var druggabilityColumns = []string{
	"geneid",
	"sm_druggability_bucket",
	"safety_bucket",
	"abability_bucket",
	"pharos_class",
	"classification",
	"safety_bucket_definition",
	"abability_bucket_definition",
}

var geneInfoColumns = []string{
	"ensembl_gene_id",
	"name",
	"summary",
	"symbol",
	"alias",
	"is_igap",
	"has_eqtl",
	"rna_in_ad_brain_change",
	"rna_brain_change_studied",
	"protein_in_ad_brain_change",
	"protein_brain_change_studied",
	"target_nominations",
	"median_expression",
	"druggability",
	"nominations",
	"is_adi",
	"is_tep",
	"resource_url",
}

// columns contributed by the optional genes_biodomains and ensembl_info
// inputs; projected only when present.
var geneInfoOptional = []string{"biodomains", "ensembl_info"}

const defaultResourceURL = "https://adknowledgeportal.synapse.org/Explore/Target%20Enabling%20Resources?QueryWrapper0=%7B%22sql%22%3A%22select%20*%20from%20syn26146692%20WHERE%20%60isPublic%60%20%3D%20true%22%2C%22limit%22%3A25%2C%22offset%22%3A0%2C%22selectedFacets%22%3A%5B%7B%22concreteType%22%3A%22org.sagebionetworks.repo.model.table.FacetColumnValuesRequest%22%2C%22columnName%22%3A%22target%22%2C%22facetValues%22%3A%5B%22{symbol}%22%5D%7D%5D%7D"

// geneInfo builds one record per gene by outer-joining every secondary input
// onto gene_metadata on ensembl_gene_id. Each secondary must be unique on the
// key; a duplicate fails the dataset with a ShapeError instead of
// multiplying rows.
//
// Parameters: adjusted_p_value_threshold and protein_level_threshold
// (required), resource_url_template (optional, "{symbol}" is substituted).
func geneInfo(in Inputs, p Params) (Result, error) {
	ts, err := in.Require(GeneInfo,
		"gene_metadata", "igap", "eqtl", "proteomics", "rna_expression_change",
		"target_list", "median_expression", "druggability")
	if err != nil {
		return Result{}, err
	}
	meta, igap, eqtl, proteomics, rnaChange := ts[0], ts[1], ts[2], ts[3], ts[4]
	targets, medianExpr, drugs := ts[5], ts[6], ts[7]

	adjP, err := p.Float(GeneInfo, "adjusted_p_value_threshold")
	if err != nil {
		return Result{}, err
	}
	proteinP, err := p.Float(GeneInfo, "protein_level_threshold")
	if err != nil {
		return Result{}, err
	}

	type secondary struct {
		name string
		t    *table.Table
	}
	var chain []secondary

	if err := igap.Require("igap", geneID); err != nil {
		return Result{}, err
	}
	igap = igap.Derive("is_igap", func(table.Row) any { return true })
	chain = append(chain, secondary{"igap", igap})
	chain = append(chain, secondary{"eqtl", eqtl})

	rnaMin, err := rnaChange.MinBy([]string{geneID}, "adj_p_val")
	if err != nil {
		return Result{}, err
	}
	chain = append(chain, secondary{"rna_expression_change", rnaMin})

	prot := table.Concat(proteomics, in["proteomics_tmt"], in["proteomics_srm"])
	if err := prot.Require("proteomics", geneID, "log2_fc", "cor_pval", "ci_lwr", "ci_upr"); err != nil {
		return Result{}, err
	}
	protMin, err := prot.DropNull("log2_fc", "cor_pval", "ci_lwr", "ci_upr").MinBy([]string{geneID}, "cor_pval")
	if err != nil {
		return Result{}, err
	}
	chain = append(chain, secondary{"proteomics", protMin})

	nominations, err := nest.Fields(targets, nest.Spec{Grouping: []string{geneID}, NewField: "target_nominations", AsList: true})
	if err != nil {
		return Result{}, err
	}
	chain = append(chain, secondary{"target_list", nominations})

	medians, err := nest.Fields(medianExpr, nest.Spec{Grouping: []string{geneID}, NewField: "median_expression", AsList: true})
	if err != nil {
		return Result{}, err
	}
	chain = append(chain, secondary{"median_expression", medians})

	drugs, err = drugs.Select(druggabilityColumns...)
	if err != nil {
		return Result{}, err
	}
	drugNest, err := nest.Fields(drugs, nest.Spec{Grouping: []string{"geneid"}, NewField: "druggability", AsList: true})
	if err != nil {
		return Result{}, err
	}
	chain = append(chain, secondary{"druggability", drugNest.Rename(map[string]string{"geneid": geneID})})

	if tep, ok := in["tep_adi_info"]; ok && tep != nil {
		chain = append(chain, secondary{"tep_adi_info", tep})
	}
	if gb, ok := in["genes_biodomains"]; ok && gb != nil {
		names, err := geneBiodomainNames(gb)
		if err != nil {
			return Result{}, err
		}
		chain = append(chain, secondary{"genes_biodomains", names})
	}
	if ei, ok := in["ensembl_info"]; ok && ei != nil {
		info, err := nest.Fields(ei, nest.Spec{Grouping: []string{geneID}, NewField: "ensembl_info"})
		if err != nil {
			return Result{}, err
		}
		chain = append(chain, secondary{"ensembl_info", info})
	}

	acc := meta
	for _, s := range chain {
		acc, err = table.Merge(acc, s.t, []string{geneID}, table.MergeOptions{
			How:      table.Outer,
			Validate: table.ValidateOneToOne,
			Name:     s.name,
		})
		if err != nil {
			return Result{}, err
		}
	}

	acc = fill(acc, map[string]any{
		"is_igap":   false,
		"has_eqtl":  false,
		"adj_p_val": -1.0,
		"cor_pval":  -1.0,
		"is_adi":    false,
		"is_tep":    false,
	})
	acc = acc.Derive("alias", func(r table.Row) any {
		if v := r.Get("alias"); !table.IsNull(v) {
			return v
		}
		return []any{}
	})

	acc = acc.Derive("rna_brain_change_studied", func(r table.Row) any {
		return sentinelFloat(r.Get("adj_p_val")) != -1
	})
	acc = acc.Derive("rna_in_ad_brain_change", func(r table.Row) any {
		return sentinelFloat(r.Get("adj_p_val")) <= adjP && r.Get("rna_brain_change_studied") == true
	})
	acc = acc.Derive("protein_brain_change_studied", func(r table.Row) any {
		return sentinelFloat(r.Get("cor_pval")) != -1
	})
	acc = acc.Derive("protein_in_ad_brain_change", func(r table.Row) any {
		return sentinelFloat(r.Get("cor_pval")) <= proteinP && r.Get("protein_brain_change_studied") == true
	})

	acc = acc.Derive("nominations", func(r table.Row) any {
		if list, ok := r.Get("target_nominations").([]any); ok {
			return int64(len(list))
		}
		return math.NaN()
	})

	tmpl := p.String("resource_url_template", defaultResourceURL)
	acc = acc.Derive("resource_url", func(r table.Row) any {
		if r.Get("is_adi") != true && r.Get("is_tep") != true {
			return nil
		}
		return strings.ReplaceAll(tmpl, "{symbol}", table.Text(r.Get("symbol")))
	})

	cols := append([]string(nil), geneInfoColumns...)
	for _, c := range geneInfoOptional {
		if acc.Has(c) {
			cols = append(cols, c)
		}
	}
	out, err := acc.Select(cols...)
	if err != nil {
		return Result{}, err
	}
	return Result{Table: out.DropNull(geneID)}, nil
}

// geneBiodomainNames returns {ensembl_gene_id, biodomains} with the distinct
// biodomain names of each gene in first-seen order.
func geneBiodomainNames(t *table.Table) (*table.Table, error) {
	t, err := t.Select(geneID, biodomain)
	if err != nil {
		return nil, err
	}
	uniq := t.DropNull().DropDuplicates()
	groups, err := uniq.GroupBy(geneID)
	if err != nil {
		return nil, err
	}
	names, _ := uniq.Column(biodomain)
	out := table.New(geneID, "biodomains")
	for _, g := range groups {
		list := make([]any, len(g.Rows))
		for k, i := range g.Rows {
			list[k] = names[i]
		}
		if err := out.Append(g.Key[0], list); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// fill replaces null cells of the named columns, adding absent columns.
func fill(t *table.Table, defaults map[string]any) *table.Table {
	for _, c := range sortedKeys(defaults) {
		def := defaults[c]
		t = t.Derive(c, func(r table.Row) any {
			if v := r.Get(c); !table.IsNull(v) {
				return v
			}
			return def
		})
	}
	return t
}

// sentinelFloat reads a back-filled p-value. Anything non-numeric reads as
// the -1 sentinel.
func sentinelFloat(v any) float64 {
	if f, ok := table.Float(v); ok {
		return f
	}
	return -1
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
