// Package feather decodes Feather v2 (Arrow IPC file) inputs into a table.
package feather

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"agoraetl/internal/config"
	"agoraetl/internal/table"
)

// ReadTable reads every record batch of a Feather v2 file.
//
// Integers decode as int64, floats as float64, strings and binary as string,
// lists as []any, structs as table.Record and dictionary columns as their
// decoded values. Dates and timestamps become ISO-8601 strings. Nulls are nil.
//
// Options:
//   - columns: keep only these columns, in this order
func ReadTable(ctx context.Context, r io.Reader, opt config.Options) (*table.Table, error) {
	ras, ok := r.(ipc.ReadAtSeeker)
	if !ok {
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("feather: read: %w", err)
		}
		ras = bytes.NewReader(b)
	}

	fr, err := ipc.NewFileReader(ras, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("feather: open: %w", err)
	}
	defer fr.Close()

	schema := fr.Schema()
	names := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		names[i] = f.Name
	}
	data := make([][]any, len(names))
	for i := range data {
		data[i] = []any{}
	}

	for b := 0; b < fr.NumRecords(); b++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := fr.Record(b)
		if err != nil {
			return nil, fmt.Errorf("feather: record batch %d: %w", b, err)
		}
		n := int(rec.NumRows())
		for c := range names {
			col := rec.Column(c)
			for i := 0; i < n; i++ {
				v, err := valueAt(col, i)
				if err != nil {
					return nil, fmt.Errorf("feather: column %q: %w", names[c], err)
				}
				data[c] = append(data[c], v)
			}
		}
	}

	t, err := table.FromColumns(names, data)
	if err != nil {
		return nil, fmt.Errorf("feather: %w", err)
	}
	if keep := opt.Any("columns"); keep != nil {
		cols, err := stringList(keep)
		if err != nil {
			return nil, fmt.Errorf("feather: columns option: %w", err)
		}
		return t.Select(cols...)
	}
	return t, nil
}

// valueAt converts element i of arr to a table cell.
func valueAt(arr arrow.Array, i int) (any, error) {
	if arr.IsNull(i) {
		return nil, nil
	}
	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(i), nil
	case *array.Int8:
		return int64(a.Value(i)), nil
	case *array.Int16:
		return int64(a.Value(i)), nil
	case *array.Int32:
		return int64(a.Value(i)), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Uint8:
		return int64(a.Value(i)), nil
	case *array.Uint16:
		return int64(a.Value(i)), nil
	case *array.Uint32:
		return int64(a.Value(i)), nil
	case *array.Uint64:
		return int64(a.Value(i)), nil
	case *array.Float16:
		return float64(a.Value(i).Float32()), nil
	case *array.Float32:
		return float64(a.Value(i)), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	case *array.LargeString:
		return a.Value(i), nil
	case *array.Binary:
		return string(a.Value(i)), nil
	case *array.LargeBinary:
		return string(a.Value(i)), nil
	case *array.Date32:
		return a.Value(i).ToTime().Format(time.DateOnly), nil
	case *array.Date64:
		return a.Value(i).ToTime().Format(time.DateOnly), nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit).UTC().Format(time.RFC3339Nano), nil
	case *array.Dictionary:
		return valueAt(a.Dictionary(), a.GetValueIndex(i))
	case array.ListLike:
		start, end := a.ValueOffsets(i)
		return listValues(a.ListValues(), int(start), int(end))
	case *array.Struct:
		st := a.DataType().(*arrow.StructType)
		rec := make(table.Record, st.NumFields())
		for k := 0; k < st.NumFields(); k++ {
			v, err := valueAt(a.Field(k), i)
			if err != nil {
				return nil, err
			}
			rec[k] = table.Field{Name: st.Field(k).Name, Value: v}
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("unsupported arrow type %s", arr.DataType())
	}
}

func listValues(values arrow.Array, start, end int) (any, error) {
	out := make([]any, 0, end-start)
	for j := start; j < end; j++ {
		v, err := valueAt(values, j)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func stringList(v any) ([]string, error) {
	switch s := v.(type) {
	case []string:
		return s, nil
	case []any:
		out := make([]string, len(s))
		for i, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("element %d is %T, want string", i, e)
			}
			out[i] = str
		}
		return out, nil
	default:
		return nil, fmt.Errorf("got %T, want list of strings", v)
	}
}
