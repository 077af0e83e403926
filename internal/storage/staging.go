package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"agoraetl/internal/table"
)

// Writer stages artifacts under Dir.
type Writer struct {
	Dir string
	// Now is stubbed in tests.
	Now func() time.Time
}

// NewWriter returns a Writer for dir, creating it if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("staging dir %s: %w", dir, err)
	}
	return &Writer{Dir: dir, Now: time.Now}, nil
}

// WriteJSON writes v as <name>.json. v is typically a list of records or a
// single record. Float NaN and infinities are written as null.
func (w *Writer) WriteJSON(name string, v any, rows int) (Artifact, error) {
	b, err := json.Marshal(nullNonFinite(v))
	if err != nil {
		return Artifact{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return w.write(name, "json", b, rows)
}

// WriteCSV writes t as <name>.csv with a header row. Nested cells are
// JSON-encoded and nulls are empty.
func (w *Writer) WriteCSV(name string, t *table.Table) (Artifact, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(t.Columns()); err != nil {
		return Artifact{}, err
	}
	rec := make([]string, len(t.Columns()))
	for i := 0; i < t.Len(); i++ {
		for j, v := range t.Row(i) {
			s, err := csvCell(v)
			if err != nil {
				return Artifact{}, fmt.Errorf("encode %s row %d: %w", name, i, err)
			}
			rec[j] = s
		}
		if err := cw.Write(rec); err != nil {
			return Artifact{}, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return Artifact{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return w.write(name, "csv", buf.Bytes(), t.Len())
}

func (w *Writer) write(name, format string, data []byte, rows int) (Artifact, error) {
	path := filepath.Join(w.Dir, name+"."+format)
	if err := writeFileAtomic(path, data); err != nil {
		return Artifact{}, err
	}
	sum := sha256.Sum256(data)
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	return Artifact{
		Dataset:   name,
		Path:      path,
		Format:    format,
		Rows:      rows,
		Bytes:     int64(len(data)),
		Version:   hex.EncodeToString(sum[:]),
		CreatedAt: now().UTC(),
	}, nil
}

// writeFileAtomic writes data to a temp file in the same directory and
// renames it into place. On failure the temp file is removed.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func csvCell(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int:
		return strconv.Itoa(x), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", nil
		}
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	default:
		b, err := json.Marshal(nullNonFinite(v))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// nullNonFinite replaces NaN and infinite floats with nil anywhere in v so
// encoding/json does not reject the document.
func nullNonFinite(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case table.Record:
		out := make(table.Record, len(x))
		for i, f := range x {
			out[i] = table.Field{Name: f.Name, Value: nullNonFinite(f.Value)}
		}
		return out
	case []table.Record:
		out := make([]table.Record, len(x))
		for i, r := range x {
			out[i] = nullNonFinite(r).(table.Record)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = nullNonFinite(e)
		}
		return out
	default:
		return v
	}
}
