package transform

import (
	"fmt"
	"sort"
	"sync"
)

// Kind names a dataset transform.
type Kind string

const (
	OverallScores                Kind = "overall_scores"
	DistributionData             Kind = "distribution_data"
	TeamInfo                     Kind = "team_info"
	GenesBiodomains              Kind = "genes_biodomains"
	BiodomainInfo                Kind = "biodomain_info"
	GeneInfo                     Kind = "gene_info"
	RnaseqDifferentialExpression Kind = "rnaseq_differential_expression"
	RnaDistributionData          Kind = "rna_distribution_data"
	ProteomicsDistributionData   Kind = "proteomics_distribution_data"
	Biomarkers                   Kind = "biomarkers"
	ModelTransform               Kind = "model_transform"
)

// Func transforms inputs into a Result.
type Func func(in Inputs, p Params) (Result, error)

var (
	mu       sync.RWMutex
	registry = map[Kind]Func{}
)

// Register binds a transform to kind. Intended to be called from init().
//
// Panics on an empty kind, a nil fn or a duplicate registration.
func Register(kind Kind, fn Func) {
	if kind == "" {
		panic("transform: empty kind")
	}
	if fn == nil {
		panic("transform: nil func for " + string(kind))
	}
	mu.Lock()
	defer mu.Unlock()
	if _, dup := registry[kind]; dup {
		panic("transform: duplicate registration for " + string(kind))
	}
	registry[kind] = fn
}

func init() {
	Register(OverallScores, overallScores)
	Register(DistributionData, distributionData)
	Register(TeamInfo, teamInfo)
	Register(GenesBiodomains, genesBiodomains)
	Register(BiodomainInfo, biodomainInfo)
	Register(GeneInfo, geneInfo)
	Register(RnaseqDifferentialExpression, rnaseqDifferentialExpression)
	Register(RnaDistributionData, rnaDistributionData)
	Register(ProteomicsDistributionData, proteomicsDistributionData)
	Register(Biomarkers, biomarkers)
	Register(ModelTransform, modelTransform)
}

// Lookup resolves a configured transform name.
//
// Errors:
//   - ConfigurationError for an unknown name.
func Lookup(name string) (Func, error) {
	mu.RLock()
	fn, ok := registry[Kind(name)]
	mu.RUnlock()
	if !ok {
		return nil, &ConfigurationError{Transform: name, Msg: fmt.Sprintf("unknown transform (known: %v)", Kinds())}
	}
	return fn, nil
}

// Known reports whether name is a registered transform.
func Known(name string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := registry[Kind(name)]
	return ok
}

// Kinds returns the registered kinds in sorted order.
func Kinds() []Kind {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Kind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Apply dispatches to the transform registered under name. Callers decide
// whether a dataset without a transform passes its input through unchanged.
func Apply(in Inputs, name string, p Params) (Result, error) {
	fn, err := Lookup(name)
	if err != nil {
		return Result{}, err
	}
	if p == nil {
		p = Params{}
	}
	res, err := fn(in, p)
	if err != nil {
		return Result{}, fmt.Errorf("transform %s: %w", name, err)
	}
	return res, nil
}
