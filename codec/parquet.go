package codec

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	goparquet "github.com/fraugster/parquet-go"
	"github.com/fraugster/parquet-go/parquet"
	"github.com/fraugster/parquet-go/parquetschema"
	"github.com/granary-db/granary"
	"github.com/granary-db/granary/errors"
)

// encodeParquet writes the table as a Parquet file. The schema is derived
// the same way as for Arrow: scalar columns keep their kind and anything
// else is stored as a UTF8 string rendering.
func encodeParquet(t *granary.Table) ([]byte, error) {
	cols := t.Columns()
	kinds := make([]string, len(cols))
	for i := range cols {
		kinds[i] = parquetKind(cols[i])
	}
	sd, err := parquetSchema(cols, kinds)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	fw := goparquet.NewFileWriter(&buf,
		goparquet.WithSchemaDefinition(sd),
		goparquet.WithCompressionCodec(parquet.CompressionCodec_SNAPPY),
	)
	for row := 0; row < t.NumRows(); row++ {
		data := make(map[string]interface{}, len(cols))
		for i := range cols {
			v := cols[i].Values[row]
			if v == nil {
				continue
			}
			if kinds[i] == "string" {
				data[cols[i].Name] = []byte(granary.FormatValue(v))
			} else {
				data[cols[i].Name] = v
			}
		}
		if err := fw.AddData(data); err != nil {
			return nil, err
		}
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parquetSchema(cols []granary.Column, kinds []string) (*parquetschema.SchemaDefinition, error) {
	var b strings.Builder
	b.WriteString("message granary {\n")
	for i, c := range cols {
		if kinds[i] == "string" {
			fmt.Fprintf(&b, "  optional binary %s (STRING);\n", c.Name)
		} else {
			fmt.Fprintf(&b, "  optional %s %s;\n", kinds[i], c.Name)
		}
	}
	b.WriteString("}\n")
	return parquetschema.ParseSchemaDefinition(b.String())
}

func parquetKind(c granary.Column) string {
	var kind string
	for _, v := range c.Values {
		var next string
		switch v.(type) {
		case nil:
			continue
		case int64:
			next = "int64"
		case float64:
			next = "double"
		case bool:
			next = "boolean"
		default:
			next = "string"
		}
		if kind == "" {
			kind = next
		} else if next != kind {
			kind = "string"
			break
		}
	}
	if kind == "" {
		kind = "string"
	}
	return kind
}

// decodeParquet reads a Parquet file produced by encodeParquet.
func decodeParquet(b []byte) (*granary.Table, error) {
	fr, err := goparquet.NewFileReader(bytes.NewReader(b))
	if err != nil {
		return nil, gerr.E(gerr.Format, err)
	}
	root := fr.GetSchemaDefinition().RootColumn
	cols := make([]granary.Column, len(root.Children))
	byName := make(map[string]*granary.Column, len(cols))
	for i, child := range root.Children {
		cols[i].Name = child.SchemaElement.Name
		byName[cols[i].Name] = &cols[i]
	}
	for {
		row, err := fr.NextRow()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, gerr.E(gerr.Format, err)
		}
		for name := range byName {
			col := byName[name]
			v, ok := row[name]
			if !ok {
				col.Values = append(col.Values, nil)
				continue
			}
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			col.Values = append(col.Values, v)
		}
	}
	return granary.NewTable(cols...)
}
