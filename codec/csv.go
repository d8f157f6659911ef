package codec

import (
	"bytes"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/granary-db/granary"
	"github.com/granary-db/granary/errors"
)

// encodeCSV writes the table's column order as the header row and formats
// each cell. List cells are JSON-encoded per cell; decoding them back is a
// post-processing step in the gather engine so this reader can stay
// schema-agnostic.
func encodeCSV(t *granary.Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.ColumnNames()); err != nil {
		return nil, err
	}
	cols := t.Columns()
	fields := make([]string, len(cols))
	for row := 0; row < t.NumRows(); row++ {
		for i := range cols {
			fields[i] = granary.FormatValue(cols[i].Values[row])
		}
		// A row holding one empty field would be written as a blank line,
		// which the reader skips; write it quoted so the row survives.
		if len(fields) == 1 && fields[0] == "" {
			w.Flush()
			buf.WriteString("\"\"\n")
			continue
		}
		if err := w.Write(fields); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeCSV reads the header row as the column order and sniffs each cell
// as integer, float, bool, or string. Empty cells are missing values.
func decodeCSV(b []byte) (*granary.Table, error) {
	r := csv.NewReader(bytes.NewReader(b))
	r.ReuseRecord = true
	hdr, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, gerr.E(gerr.Format, "empty csv file")
		}
		return nil, gerr.E(gerr.Format, err)
	}
	cols := make([]granary.Column, len(hdr))
	for i, name := range hdr {
		cols[i].Name = name
	}
	for {
		rec, err := r.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, gerr.E(gerr.Format, err)
		}
		if len(rec) != len(cols) {
			return nil, gerr.E(gerr.Format, "row has %d fields, header has %d", len(rec), len(cols))
		}
		for i, field := range rec {
			cols[i].Values = append(cols[i].Values, convertString(field))
		}
	}
	return granary.NewTable(cols...)
}

func convertString(s string) interface{} {
	if s == "" {
		return nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseBool(s); err == nil {
		return v
	}
	return s
}
