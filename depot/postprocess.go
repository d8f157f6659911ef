package depot

import (
	"encoding/json"
	"time"

	"github.com/granary-db/granary"
	"github.com/granary-db/granary/backend"
	"github.com/granary-db/granary/errors"
	"github.com/granary-db/granary/meta"
)

// bounds integers are stored in archive files; the canonical in-memory
// form is the two-character bracket notation.
var boundsNotation = map[int64]string{
	0: "()",
	1: "[)",
	2: "(]",
	3: "[]",
}

// postProcess reconstructs typed columns after concatenation. Read-only
// archives carry free-form type tags in the descriptor's type map;
// writable archives carry declared column types.
func (d *Depot) postProcess(tbl *granary.Table, store *backend.Store, desc *meta.Descriptor) (*granary.Table, error) {
	loc, err := desc.Location()
	if err != nil {
		return nil, err
	}
	// Most datasets repeat the same instant across many rows, so the
	// Unix-to-zoned decode is memoized per distinct value.
	memo := make(map[int64]time.Time)
	if store.ReadOnly() {
		return postProcessArchive(tbl, desc, loc, memo)
	}
	return postProcessWritable(tbl, desc, loc, memo)
}

func postProcessArchive(tbl *granary.Table, desc *meta.Descriptor, loc *time.Location, memo map[int64]time.Time) (*granary.Table, error) {
	for _, col := range tbl.Columns() {
		tag := desc.TypeMap[col.Name]
		if tag == "" && col.Name == desc.Index.Key {
			tag = "datetime"
		}
		switch tag {
		case "datetime", "timestamp":
			decodeTimestamps(tbl.Lookup(col.Name), loc, memo)
		case "bounds":
			c := tbl.Lookup(col.Name)
			for i, v := range c.Values {
				n, ok := asInt64(v)
				if !ok {
					continue
				}
				notation, ok := boundsNotation[n]
				if !ok {
					return nil, gerr.E(gerr.Format, "column %q: bounds value %d out of range", col.Name, n)
				}
				c.Values[i] = notation
			}
		case "list":
			c := tbl.Lookup(col.Name)
			for i, v := range c.Values {
				if v == nil {
					continue
				}
				s, ok := v.(string)
				if !ok {
					continue
				}
				parsed, err := parseListCell(s)
				if err != nil {
					return nil, gerr.E(gerr.Format, "column %q: %w", col.Name, err)
				}
				c.Values[i] = parsed
			}
		case "bool":
			c := tbl.Lookup(col.Name)
			for i, v := range c.Values {
				if n, ok := asInt64(v); ok {
					c.Values[i] = n != 0
				}
			}
		}
	}
	return tbl, nil
}

func postProcessWritable(tbl *granary.Table, desc *meta.Descriptor, loc *time.Location, memo map[int64]time.Time) (*granary.Table, error) {
	for name, typ := range desc.ColumnTypes {
		col := tbl.Lookup(name)
		if col == nil {
			continue
		}
		if isZonedType(typ) {
			decodeTimestamps(col, loc, memo)
			continue
		}
		coerceDeclared(col, typ)
		observed := granary.InferColumn(col.Values)
		if !subtypeOrMissing(observed, typ) {
			return nil, gerr.E(gerr.Schema, "column %q: observed type %s is not a subtype of declared %s",
				name, observed, typ)
		}
	}
	return tbl, nil
}

func decodeTimestamps(col *granary.Column, loc *time.Location, memo map[int64]time.Time) {
	for i, v := range col.Values {
		n, ok := asInt64(v)
		if !ok {
			continue
		}
		t, ok := memo[n]
		if !ok {
			t = time.Unix(n, 0).In(loc)
			memo[n] = t
		}
		col.Values[i] = t
	}
}

// coerceDeclared nudges schema-agnostic CSV cells toward the declared
// type: integral cells in a float column become floats and scalar cells
// in a string column become their rendering. Anything it cannot coerce is
// left for the subtype check to reject.
func coerceDeclared(col *granary.Column, typ granary.Type) {
	target := nonMissing(typ)
	for i, v := range col.Values {
		if v == nil {
			continue
		}
		switch target {
		case granary.TypeAbstractFloat, granary.TypeFloat64, granary.TypeFloat32:
			if n, ok := v.(int64); ok {
				col.Values[i] = float64(n)
			}
		case granary.TypeAbstractString, granary.TypeString:
			if _, ok := v.(string); !ok {
				col.Values[i] = granary.FormatValue(v)
			}
		}
	}
}

// parseListCell decodes a JSON list cell and coerces it to the narrowest
// element type present: all-integral numbers become int64, other numbers
// stay float64, and JSON nulls become missing values.
func parseListCell(s string) ([]interface{}, error) {
	var raw []interface{}
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	integral := true
	for _, v := range raw {
		f, ok := v.(float64)
		if !ok {
			if v != nil {
				integral = false
			}
			continue
		}
		if f != float64(int64(f)) {
			integral = false
		}
	}
	out := make([]interface{}, len(raw))
	for i, v := range raw {
		f, ok := v.(float64)
		if ok && integral {
			out[i] = int64(f)
		} else {
			out[i] = v
		}
	}
	return out, nil
}

func asInt64(v interface{}) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}

// isZonedType reports whether a declared type stores zoned timestamps,
// directly or as Union{ZonedDateTime, Missing}.
func isZonedType(t granary.Type) bool {
	return nonMissing(t) == granary.TypeZonedDateTime
}

// nonMissing unwraps Union{T, Missing} to T when the union has a single
// non-Missing member.
func nonMissing(t granary.Type) granary.Type {
	u, ok := t.(*granary.UnionType)
	if !ok {
		return t
	}
	var inner granary.Type
	for _, m := range u.Types {
		if p, ok := m.(granary.PrimitiveType); ok && p == granary.TypeMissing {
			continue
		}
		if inner != nil {
			return t
		}
		inner = m
	}
	if inner == nil {
		return t
	}
	return inner
}

// subtypeOrMissing accepts observed types that are subtypes of the
// declared type once Missing is allowed on both sides; a column of only
// missing values satisfies any declaration.
func subtypeOrMissing(observed, declared granary.Type) bool {
	obs := nonMissing(observed)
	if p, ok := obs.(granary.PrimitiveType); ok && p == granary.TypeMissing {
		return true
	}
	decl := nonMissing(declared)
	return granary.IsSubtype(obs, decl) || granary.IsSubtype(obs, declared)
}
