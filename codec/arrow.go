package codec

import (
	"bytes"
	"io"

	"github.com/apache/arrow/go/v11/arrow"
	"github.com/apache/arrow/go/v11/arrow/array"
	"github.com/apache/arrow/go/v11/arrow/ipc"
	"github.com/apache/arrow/go/v11/arrow/memory"
	"github.com/granary-db/granary"
	"github.com/granary-db/granary/errors"
)

const arrowBatchSize = 1024

// encodeArrow writes the table as an Arrow IPC stream. Column types are
// chosen from the cells present: a column whose non-missing cells are all
// of one scalar kind maps to the corresponding Arrow type, and anything
// else is written as its string rendering. Insert converts timestamp
// columns to Unix-second integers before encoding, so stored files carry
// only scalar columns.
func encodeArrow(t *granary.Table) ([]byte, error) {
	cols := t.Columns()
	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		fields[i] = arrow.Field{
			Name:     c.Name,
			Type:     arrowDataType(c.Values),
			Nullable: true,
		}
	}
	schema := arrow.NewSchema(fields, nil)
	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	flush := func() error {
		rec := builder.NewRecord()
		defer rec.Release()
		return w.Write(rec)
	}
	for row := 0; row < t.NumRows(); row++ {
		for i, c := range cols {
			buildArrowValue(builder.Field(i), c.Values[row])
		}
		if (row+1)%arrowBatchSize == 0 {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if t.NumRows()%arrowBatchSize != 0 || t.NumRows() == 0 {
		if err := flush(); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func arrowDataType(values []interface{}) arrow.DataType {
	var dt arrow.DataType
	for _, v := range values {
		var next arrow.DataType
		switch v.(type) {
		case nil:
			continue
		case int64:
			next = arrow.PrimitiveTypes.Int64
		case float64:
			next = arrow.PrimitiveTypes.Float64
		case bool:
			next = arrow.FixedWidthTypes.Boolean
		default:
			next = arrow.BinaryTypes.String
		}
		if dt == nil {
			dt = next
		} else if !arrow.TypeEqual(dt, next) {
			return arrow.BinaryTypes.String
		}
	}
	if dt == nil {
		return arrow.BinaryTypes.String
	}
	return dt
}

func buildArrowValue(b array.Builder, v interface{}) {
	if v == nil {
		b.AppendNull()
		return
	}
	switch b := b.(type) {
	case *array.Int64Builder:
		b.Append(v.(int64))
	case *array.Float64Builder:
		b.Append(v.(float64))
	case *array.BooleanBuilder:
		b.Append(v.(bool))
	case *array.StringBuilder:
		b.Append(granary.FormatValue(v))
	default:
		b.AppendNull()
	}
}

// decodeArrow reads an Arrow IPC stream produced by encodeArrow.
func decodeArrow(b []byte) (*granary.Table, error) {
	r, err := ipc.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, gerr.E(gerr.Format, err)
	}
	defer r.Release()
	schema := r.Schema()
	cols := make([]granary.Column, len(schema.Fields()))
	for i, f := range schema.Fields() {
		cols[i].Name = f.Name
	}
	for r.Next() {
		rec := r.Record()
		for i := range cols {
			if err := appendArrowColumn(&cols[i], rec.Column(i)); err != nil {
				return nil, err
			}
		}
	}
	if err := r.Err(); err != nil && err != io.EOF {
		return nil, gerr.E(gerr.Format, err)
	}
	return granary.NewTable(cols...)
}

func appendArrowColumn(col *granary.Column, a arrow.Array) error {
	for i := 0; i < a.Len(); i++ {
		if a.IsNull(i) {
			col.Values = append(col.Values, nil)
			continue
		}
		switch a := a.(type) {
		case *array.Int64:
			col.Values = append(col.Values, a.Value(i))
		case *array.Float64:
			col.Values = append(col.Values, a.Value(i))
		case *array.Boolean:
			col.Values = append(col.Values, a.Value(i))
		case *array.String:
			col.Values = append(col.Values, a.Value(i))
		default:
			return gerr.E(gerr.Format, "unsupported arrow type %s", a.DataType().Name())
		}
	}
	return nil
}
