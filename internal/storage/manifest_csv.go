package storage

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ManifestFile is the staging manifest name.
const ManifestFile = "manifest.csv"

// WriteManifestCSV appends artifacts to dir/manifest.csv, writing the header
// when the file is new. The whole file is rewritten atomically.
func WriteManifestCSV(dir string, artifacts []Artifact) (string, error) {
	path := filepath.Join(dir, ManifestFile)
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	var buf bytes.Buffer
	buf.Write(existing)
	cw := csv.NewWriter(&buf)
	if len(existing) == 0 {
		if err := cw.Write(ManifestColumns); err != nil {
			return "", err
		}
	}
	for _, a := range artifacts {
		if err := cw.Write(manifestRow(a)); err != nil {
			return "", err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("encode %s: %w", path, err)
	}
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return "", err
	}
	return path, nil
}

func manifestRow(a Artifact) []string {
	return []string{
		a.RunID,
		a.Dataset,
		a.Path,
		a.Format,
		strconv.Itoa(a.Rows),
		strconv.FormatInt(a.Bytes, 10),
		a.Version,
		a.URI,
		a.CreatedAt.UTC().Format(time.RFC3339),
	}
}
