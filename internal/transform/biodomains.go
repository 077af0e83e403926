package transform

import (
	"agoraetl/internal/distribution"
	"agoraetl/internal/nest"
	"agoraetl/internal/split"
	"agoraetl/internal/table"
)

const (
	geneID    = "ensembl_gene_id"
	biodomain = "biodomain"
	goTerms   = "go_terms"
)

// genesBiodomains links genes to biodomains through shared GO terms.
//
// Per gene x biodomain it reports the GO terms, the distinct term counts of
// the biodomain and of the pair, and pct_linking_terms: the pair's share of
// the gene's distinct terms, as a percentage rounded to 2 decimals. Rows are
// nested per gene under gene_biodomains.
//
// Multi-valued gene id cells are split on the gene_id_delimiter parameter
// (default ";") first.
func genesBiodomains(in Inputs, p Params) (Result, error) {
	t, err := in.Primary(GenesBiodomains, "genes_biodomains")
	if err != nil {
		return Result{}, err
	}
	t, err = t.Select(geneID, biodomain, goTerms)
	if err != nil {
		return Result{}, err
	}
	t = t.DropNull()
	if t, err = split.Field(t, geneID, split.Literal(p.String("gene_id_delimiter", ";"))); err != nil {
		return Result{}, err
	}

	perBiodomain, err := t.CountDistinct([]string{biodomain}, goTerms, "n_biodomain_terms")
	if err != nil {
		return Result{}, err
	}
	perGene, err := t.CountDistinct([]string{geneID}, goTerms, "n_gene_total_terms")
	if err != nil {
		return Result{}, err
	}
	perPair, err := t.CountDistinct([]string{geneID, biodomain}, goTerms, "n_gene_biodomain_terms")
	if err != nil {
		return Result{}, err
	}

	groups, err := t.GroupBy(geneID, biodomain)
	if err != nil {
		return Result{}, err
	}
	terms, _ := t.Column(goTerms)
	pairs := table.New(geneID, biodomain, goTerms)
	for _, g := range groups {
		list := make([]any, len(g.Rows))
		for k, i := range g.Rows {
			list[k] = terms[i]
		}
		if err := pairs.Append(g.Key[0], g.Key[1], list); err != nil {
			return Result{}, err
		}
	}

	lookups := []struct {
		t  *table.Table
		on []string
	}{
		{perGene, []string{geneID}},
		{perBiodomain, []string{biodomain}},
		{perPair, []string{geneID, biodomain}},
	}
	for _, l := range lookups {
		pairs, err = table.Merge(pairs, l.t, l.on, table.MergeOptions{How: table.Left, Validate: table.ValidateManyToOne})
		if err != nil {
			return Result{}, err
		}
	}

	pairs = pairs.Derive("pct_linking_terms", func(r table.Row) any {
		num, ok1 := table.Float(r.Get("n_gene_biodomain_terms"))
		den, ok2 := table.Float(r.Get("n_gene_total_terms"))
		if !ok1 || !ok2 || den == 0 {
			return nil
		}
		return distribution.Round(num/den*100, 2)
	})
	pairs = pairs.Drop("n_gene_total_terms")

	out, err := nest.Fields(pairs, nest.Spec{
		Grouping: []string{geneID},
		NewField: "gene_biodomains",
		AsList:   true,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Table: out}, nil
}

// biodomainInfo lists the distinct biodomain names in first-seen order.
func biodomainInfo(in Inputs, _ Params) (Result, error) {
	t, err := in.Primary(BiodomainInfo, "genes_biodomains")
	if err != nil {
		return Result{}, err
	}
	t, err = t.Select(biodomain)
	if err != nil {
		return Result{}, err
	}
	out := t.DropNull().DropDuplicates().Rename(map[string]string{biodomain: "name"})
	return Result{Table: out}, nil
}
