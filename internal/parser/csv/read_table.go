// Package csv decodes delimited text into a typed table.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"agoraetl/internal/config"
	"agoraetl/internal/table"
)

// ReadTable reads delimited text from r into a table.
//
// Options:
//   - comma: field delimiter (default ","; "tab" or "\t" for TSV)
//   - has_header: first record names the columns (default true)
//   - trim_space: trim cells and headers (default true)
//   - lazy_quotes: tolerate stray quotes (default false)
//   - header_map: original header -> column name
//   - encoding: utf-8 (default), latin1 or windows-1252
//   - infer_types: convert columns to int64/float64/bool (default true)
//   - keep_default_na: read the usual missing-value markers as nil (default true)
//
// Empty cells become nil. Duplicate headers get ".1", ".2" suffixes.
func ReadTable(ctx context.Context, r io.Reader, opt config.Options) (*table.Table, error) {
	dec, err := decoderFor(opt.String("encoding", ""))
	if err != nil {
		return nil, err
	}
	if dec != nil {
		r = dec.Reader(r)
	}

	hasHeader := opt.Bool("has_header", true)
	trim := opt.Bool("trim_space", true)
	hm := opt.StringMap("header_map")
	na := opt.Bool("keep_default_na", true)

	cr := csv.NewReader(r)
	cr.Comma = opt.Rune("comma", ',')
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	cr.FieldsPerRecord = -1

	var (
		headers []string
		rows    [][]string
		line    int
	)
	for {
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("csv read line %d: %w", line, err)
		}
		if line == 1 && hasHeader {
			headers = normalizeHeaders(rec, hm, trim)
			continue
		}
		row := make([]string, len(rec))
		for i, v := range rec {
			if trim {
				v = strings.TrimSpace(v)
			}
			if na && naValues[v] {
				v = ""
			}
			row[i] = v
		}
		rows = append(rows, row)
	}

	if !hasHeader {
		width := 0
		for _, r := range rows {
			width = max(width, len(r))
		}
		headers = make([]string, width)
		for i := range headers {
			headers[i] = strconv.Itoa(i)
		}
	}

	data := make([][]any, len(headers))
	infer := opt.Bool("infer_types", true)
	for c := range headers {
		col := make([]string, len(rows))
		for i, r := range rows {
			if c < len(r) {
				col[i] = r[c]
			}
		}
		if infer {
			data[c] = convertColumn(col, inferKind(col))
		} else {
			data[c] = convertColumn(col, kindText)
		}
	}
	t, err := table.FromColumns(headers, data)
	if err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}
	return t, nil
}

var naValues = map[string]bool{
	"#N/A": true, "#N/A N/A": true, "#NA": true, "-1.#IND": true, "-1.#QNAN": true,
	"-NaN": true, "-nan": true, "1.#IND": true, "1.#QNAN": true, "<NA>": true,
	"N/A": true, "NA": true, "NULL": true, "NaN": true, "None": true,
	"n/a": true, "nan": true, "null": true,
}

func normalizeHeaders(rec []string, hm map[string]string, trim bool) []string {
	out := make([]string, len(rec))
	seen := make(map[string]int, len(rec))
	for i, h := range rec {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		if trim {
			h = strings.TrimSpace(h)
		}
		// Config loaders lowercase map keys, so try both spellings.
		if mapped, ok := hm[h]; ok {
			h = mapped
		} else if mapped, ok := hm[strings.ToLower(h)]; ok {
			h = mapped
		}
		if n, dup := seen[h]; dup {
			seen[h] = n + 1
			h = h + "." + strconv.Itoa(n+1)
		} else {
			seen[h] = 0
		}
		out[i] = h
	}
	return out
}

func decoderFor(name string) (*encoding.Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "utf-8-sig", "utf8-bom":
		return unicode.UTF8BOM.NewDecoder(), nil
	case "latin1", "latin-1", "iso-8859-1":
		return charmap.ISO8859_1.NewDecoder(), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder(), nil
	default:
		return nil, fmt.Errorf("csv: unsupported encoding %q", name)
	}
}
