package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Artifact describes one published output file.
type Artifact struct {
	RunID   string
	Dataset string
	// Path is the staged file on local disk.
	Path   string
	Format string
	Rows   int
	Bytes  int64
	// Version is the hex SHA-256 of the file contents.
	Version string
	// URI is where the file was uploaded; empty for local-only runs.
	URI       string
	CreatedAt time.Time
}

// ManifestColumns is the column order used by every manifest backend and the
// staging manifest.csv.
var ManifestColumns = []string{"run_id", "dataset", "path", "format", "rows", "bytes", "version", "uri", "created_at"}

// Values returns a's fields in ManifestColumns order.
func (a Artifact) Values() []any {
	return []any{a.RunID, a.Dataset, a.Path, a.Format, int64(a.Rows), a.Bytes, a.Version, a.URI, a.CreatedAt.UTC()}
}

// ManifestConfig selects and configures a manifest backend.
//
// Edge cases:
//   - Kind must match a registered backend.
//   - Table defaults to DefaultManifestTable.
type ManifestConfig struct {
	Kind  string
	DSN   string
	Table string
}

// DefaultManifestTable is used when ManifestConfig.Table is empty.
const DefaultManifestTable = "artifact_manifest"

// TableName returns the configured table or the default.
func (c ManifestConfig) TableName() string {
	if c.Table == "" {
		return DefaultManifestTable
	}
	return c.Table
}

// ManifestRepository records published artifacts in a SQL table.
//
// Each backend implements the same semantics in its own dialect: the table is
// created if missing, and recording an artifact whose (dataset, version) is
// already present is a no-op so reruns with unchanged output stay idempotent.
type ManifestRepository interface {
	// Close releases backend resources. Call once.
	Close()

	// EnsureTable creates the manifest table when it does not exist.
	EnsureTable(ctx context.Context) error

	// Record inserts artifacts, skipping (dataset, version) pairs already
	// present. It returns the number of rows inserted.
	Record(ctx context.Context, artifacts []Artifact) (int64, error)

	// Latest returns the most recently recorded artifact for dataset.
	Latest(ctx context.Context, dataset string) (Artifact, bool, error)
}

type manifestFactory func(ctx context.Context, cfg ManifestConfig) (ManifestRepository, error)

var (
	manifestMu        sync.RWMutex
	manifestFactories = map[string]manifestFactory{}
)

// Register registers a manifest backend under kind ("postgres", "sqlite",
// "mssql"). Backend packages call it from init.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered.
func Register(kind string, f manifestFactory) {
	manifestMu.Lock()
	defer manifestMu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := manifestFactories[kind]; exists {
		panic(fmt.Sprintf("storage: manifest factory already registered for kind=%q", kind))
	}
	manifestFactories[kind] = f
}

// New constructs the ManifestRepository registered for cfg.Kind.
//
// Errors:
//   - cfg.Kind empty or not registered.
//   - Whatever the backend factory returns.
func New(ctx context.Context, cfg ManifestConfig) (ManifestRepository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing manifest kind")
	}

	manifestMu.RLock()
	f := manifestFactories[cfg.Kind]
	manifestMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported manifest kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// DedupeArtifacts keeps the first artifact per (dataset, version) so a single
// batch never conflicts with itself.
func DedupeArtifacts(in []Artifact) []Artifact {
	seen := make(map[[2]string]bool, len(in))
	out := make([]Artifact, 0, len(in))
	for _, a := range in {
		k := [2]string{a.Dataset, a.Version}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, a)
	}
	return out
}
