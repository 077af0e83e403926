// Package json decodes JSON documents into a table.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"agoraetl/internal/config"
	"agoraetl/internal/table"
)

// ReadTable decodes r into a table of records.
//
// Accepted shapes:
//   - A root array of objects; null elements are skipped.
//   - A root object holding an array of objects (envelope): the first such
//     field supplies the records and the remaining fields are skipped.
//   - A single root object with no array field: one record.
//   - Any of the above followed by further objects (JSON lines).
//
// Objects keep their key order, nested objects become table.Record and
// arrays become []any. Integral numbers decode as int64, others as float64.
//
// Options:
//   - header_map: original key -> column name, applied to top-level keys
func ReadTable(ctx context.Context, r io.Reader, opt config.Options) (*table.Table, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var recs []table.Record
	emit := func(rec table.Record) error {
		if len(recs)%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		recs = append(recs, rec)
		return nil
	}

	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return table.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("json: read first token: %w", err)
	}

	switch tok {
	case json.Delim('['):
		if err := readArrayOfObjects(dec, emit); err != nil {
			return nil, err
		}
	case json.Delim('{'):
		if err := readEnvelopeOrSingle(dec, emit); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("json: unsupported root token %v (want object or array)", tok)
	}
	if err := readTrailingObjects(dec, emit); err != nil {
		return nil, err
	}

	if hm := opt.StringMap("header_map"); len(hm) > 0 {
		for _, rec := range recs {
			renameKeys(rec, hm)
		}
	}
	return table.FromRecords(recs), nil
}

func renameKeys(rec table.Record, hm map[string]string) {
	for i, f := range rec {
		if to, ok := hm[f.Name]; ok {
			rec[i].Name = to
		} else if to, ok := hm[strings.ToLower(f.Name)]; ok {
			rec[i].Name = to
		}
	}
}

// readArrayOfObjects consumes array elements after '[' through the closing ']'.
func readArrayOfObjects(dec *json.Decoder, emit func(table.Record) error) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: read array element: %w", err)
		}
		if tok == nil {
			continue
		}
		if tok != json.Delim('{') {
			return fmt.Errorf("json: array element not an object (got %v)", tok)
		}
		rec, err := readObject(dec)
		if err != nil {
			return err
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
	return expectDelim(dec, ']')
}

// readEnvelopeOrSingle walks a root object after '{' through the closing '}'.
// The first field holding a non-empty array of objects supplies the records;
// without one the object itself is the only record.
func readEnvelopeOrSingle(dec *json.Decoder, emit func(table.Record) error) error {
	var single table.Record
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return err
		}
		v, err := readValue(dec)
		if err != nil {
			return err
		}
		if recs, ok := objectList(v); ok {
			for _, rec := range recs {
				if err := emit(rec); err != nil {
					return err
				}
			}
			for dec.More() {
				if _, err := readKey(dec); err != nil {
					return err
				}
				if _, err := readValue(dec); err != nil {
					return err
				}
			}
			return expectDelim(dec, '}')
		}
		single = append(single, table.Field{Name: key, Value: v})
	}
	if err := expectDelim(dec, '}'); err != nil {
		return err
	}
	return emit(single)
}

// objectList reports whether v is a non-empty array whose elements are all
// objects or null. Nulls are dropped.
func objectList(v any) ([]table.Record, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return nil, false
	}
	out := make([]table.Record, 0, len(arr))
	for _, el := range arr {
		switch rec := el.(type) {
		case nil:
		case table.Record:
			out = append(out, rec)
		default:
			return nil, false
		}
	}
	return out, len(out) > 0
}

func readTrailingObjects(dec *json.Decoder, emit func(table.Record) error) error {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("json: read trailing object: %w", err)
		}
		if tok != json.Delim('{') {
			return fmt.Errorf("json: trailing value not an object (got %v)", tok)
		}
		rec, err := readObject(dec)
		if err != nil {
			return err
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("json: read object key: %w", err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("json: object key not a string (got %T)", tok)
	}
	return key, nil
}

func readValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("json: read value: %w", err)
	}
	return valueFromToken(dec, tok)
}

// readObject reads the fields of an object whose '{' was already consumed.
func readObject(dec *json.Decoder) (table.Record, error) {
	rec := table.Record{}
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		v, err := readValue(dec)
		if err != nil {
			return nil, err
		}
		rec = append(rec, table.Field{Name: key, Value: v})
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return rec, nil
}

// valueFromToken builds the Go value whose first token is tok.
func valueFromToken(dec *json.Decoder, tok json.Token) (any, error) {
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			return readObject(dec)
		case '[':
			arr := []any{}
			for dec.More() {
				el, err := readValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, el)
			}
			if err := expectDelim(dec, ']'); err != nil {
				return nil, err
			}
			return arr, nil
		default:
			return nil, fmt.Errorf("json: unexpected delimiter %q", v)
		}
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("json: number %s: %w", v, err)
		}
		return f, nil
	default:
		return v, nil
	}
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: read %q: %w", want, err)
	}
	if tok != want {
		return fmt.Errorf("json: expected %q, got %v", want, tok)
	}
	return nil
}
