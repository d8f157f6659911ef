package granary

import (
	"encoding/json"
	"time"

	"github.com/granary-db/granary/errors"
)

// Type is a column element type. The closed set of primitive tags plus
// three composite forms (union, array, parametric array) mirrors the wire
// encoding stored in dataset metadata: a primitive is a bare string and a
// composite is a JSON array headed by its tag.
type Type interface {
	String() string
	typeNode()
}

type PrimitiveType string

const (
	TypeAbstractString PrimitiveType = "AbstractString"
	TypeAbstractFloat  PrimitiveType = "AbstractFloat"
	TypeInteger        PrimitiveType = "Integer"
	TypeBool           PrimitiveType = "Bool"
	TypeChar           PrimitiveType = "Char"
	TypeString         PrimitiveType = "String"
	TypeFloat64        PrimitiveType = "Float64"
	TypeFloat32        PrimitiveType = "Float32"
	TypeInt64          PrimitiveType = "Int64"
	TypeInt32          PrimitiveType = "Int32"
	TypeUInt64         PrimitiveType = "UInt64"
	TypeZonedDateTime  PrimitiveType = "ZonedDateTime"
	TypeDateTime       PrimitiveType = "DateTime"
	TypeDate           PrimitiveType = "Date"
	TypeMissing        PrimitiveType = "Missing"
)

var primitiveTypes = map[string]PrimitiveType{
	"AbstractString": TypeAbstractString,
	"AbstractFloat":  TypeAbstractFloat,
	"Integer":        TypeInteger,
	"Bool":           TypeBool,
	"Char":           TypeChar,
	"String":         TypeString,
	"Float64":        TypeFloat64,
	"Float32":        TypeFloat32,
	"Int64":          TypeInt64,
	"Int32":          TypeInt32,
	"UInt64":         TypeUInt64,
	"ZonedDateTime":  TypeZonedDateTime,
	"DateTime":       TypeDateTime,
	"Date":           TypeDate,
	"Missing":        TypeMissing,
}

func (t PrimitiveType) String() string { return string(t) }
func (PrimitiveType) typeNode()        {}

// UnionType holds two or more alternatives. The common case in stored
// metadata is Union{T, Missing} for a nullable column.
type UnionType struct {
	Types []Type
}

func (t *UnionType) String() string {
	s := "Union{"
	for i, typ := range t.Types {
		if i > 0 {
			s += ", "
		}
		s += typ.String()
	}
	return s + "}"
}
func (*UnionType) typeNode() {}

// ArrayType is a concrete array with a fixed element type.
type ArrayType struct {
	Elem Type
	Dims int
}

func (t *ArrayType) String() string { return "Array{" + t.Elem.String() + "}" }
func (*ArrayType) typeNode()        {}

// ParametricArrayType is the sanitized form of an array type: its element
// is an upper bound rather than a concrete type.
type ParametricArrayType struct {
	Bound Type
	Dims  int
}

func (t *ParametricArrayType) String() string {
	return "Array{<:" + t.Bound.String() + "}"
}
func (*ParametricArrayType) typeNode() {}

// ParseType decodes the wire form of a type tag: a bare string for a
// primitive or a tag-headed array for a composite. Unknown tags are a
// Format error since they signal corrupt metadata, not bad user input.
func ParseType(raw json.RawMessage) (Type, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, ok := primitiveTypes[s]; ok {
			return t, nil
		}
		return nil, gerr.E(gerr.Format, "unknown type tag %q", s)
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil || len(parts) == 0 {
		return nil, gerr.E(gerr.Format, "malformed type tag %s", string(raw))
	}
	var tag string
	if err := json.Unmarshal(parts[0], &tag); err != nil {
		return nil, gerr.E(gerr.Format, "malformed type tag %s", string(raw))
	}
	switch tag {
	case "Union":
		if len(parts) < 3 {
			return nil, gerr.E(gerr.Format, "union type tag needs at least two members")
		}
		var types []Type
		for _, p := range parts[1:] {
			t, err := ParseType(p)
			if err != nil {
				return nil, err
			}
			types = append(types, t)
		}
		return &UnionType{Types: types}, nil
	case "Array", "ParametricArray":
		if len(parts) != 3 {
			return nil, gerr.E(gerr.Format, "array type tag needs an element and dims")
		}
		elem, err := ParseType(parts[1])
		if err != nil {
			return nil, err
		}
		var dims int
		if err := json.Unmarshal(parts[2], &dims); err != nil {
			return nil, gerr.E(gerr.Format, "malformed array dims in %s", string(raw))
		}
		if tag == "Array" {
			return &ArrayType{Elem: elem, Dims: dims}, nil
		}
		return &ParametricArrayType{Bound: elem, Dims: dims}, nil
	}
	return nil, gerr.E(gerr.Format, "unknown type tag %q", tag)
}

// MarshalType encodes a type in the same wire form ParseType accepts.
func MarshalType(t Type) json.RawMessage {
	switch t := t.(type) {
	case PrimitiveType:
		b, _ := json.Marshal(string(t))
		return b
	case *UnionType:
		parts := []interface{}{"Union"}
		for _, typ := range t.Types {
			parts = append(parts, json.RawMessage(MarshalType(typ)))
		}
		b, _ := json.Marshal(parts)
		return b
	case *ArrayType:
		b, _ := json.Marshal([]interface{}{"Array", json.RawMessage(MarshalType(t.Elem)), t.Dims})
		return b
	case *ParametricArrayType:
		b, _ := json.Marshal([]interface{}{"ParametricArray", json.RawMessage(MarshalType(t.Bound)), t.Dims})
		return b
	}
	return json.RawMessage(`null`)
}

// IsSubtype reports whether a value of type sub is acceptable where typ is
// declared. The lattice is small: concrete strings under AbstractString,
// concrete integers (and Bool) under Integer, concrete floats under
// AbstractFloat, unions by member-wise containment, and arrays covariant in
// their element against a parametric bound.
func IsSubtype(sub, typ Type) bool {
	if u, ok := sub.(*UnionType); ok {
		for _, m := range u.Types {
			if !IsSubtype(m, typ) {
				return false
			}
		}
		return true
	}
	switch typ := typ.(type) {
	case PrimitiveType:
		s, ok := sub.(PrimitiveType)
		if !ok {
			return false
		}
		if s == typ {
			return true
		}
		switch typ {
		case TypeAbstractString:
			return s == TypeString || s == TypeChar
		case TypeInteger:
			return s == TypeInt64 || s == TypeInt32 || s == TypeUInt64 || s == TypeBool
		case TypeAbstractFloat:
			return s == TypeFloat64 || s == TypeFloat32
		}
		return false
	case *UnionType:
		for _, m := range typ.Types {
			if IsSubtype(sub, m) {
				return true
			}
		}
		return false
	case *ArrayType:
		s, ok := sub.(*ArrayType)
		return ok && s.Dims == typ.Dims && IsSubtype(s.Elem, typ.Elem)
	case *ParametricArrayType:
		switch s := sub.(type) {
		case *ArrayType:
			return s.Dims == typ.Dims && IsSubtype(s.Elem, typ.Bound)
		case *ParametricArrayType:
			return s.Dims == typ.Dims && IsSubtype(s.Bound, typ.Bound)
		}
		return false
	}
	return false
}

// Sanitize maps a concrete inferred type to the abstract form recorded in a
// freshly created descriptor: any concrete string becomes AbstractString,
// any concrete integer except Bool becomes Integer, any concrete float
// becomes AbstractFloat, and arrays become parametric with a sanitized
// element bound. Timestamps, dates, Bool, and Missing pass through.
func Sanitize(t Type) Type {
	switch t := t.(type) {
	case PrimitiveType:
		switch t {
		case TypeString, TypeChar:
			return TypeAbstractString
		case TypeInt64, TypeInt32, TypeUInt64:
			return TypeInteger
		case TypeFloat64, TypeFloat32:
			return TypeAbstractFloat
		}
		return t
	case *UnionType:
		types := make([]Type, len(t.Types))
		for i, m := range t.Types {
			types[i] = Sanitize(m)
		}
		return &UnionType{Types: types}
	case *ArrayType:
		return &ParametricArrayType{Bound: Sanitize(t.Elem), Dims: t.Dims}
	case *ParametricArrayType:
		return &ParametricArrayType{Bound: Sanitize(t.Bound), Dims: t.Dims}
	}
	return t
}

// Infer returns the element type of a single cell value.
func Infer(v interface{}) Type {
	switch v := v.(type) {
	case nil:
		return TypeMissing
	case string:
		return TypeString
	case bool:
		return TypeBool
	case int, int64:
		return TypeInt64
	case int32:
		return TypeInt32
	case uint64:
		return TypeUInt64
	case float64:
		return TypeFloat64
	case float32:
		return TypeFloat32
	case time.Time:
		return TypeZonedDateTime
	case DateTime:
		return TypeDateTime
	case Date:
		return TypeDate
	case []interface{}:
		var elem Type
		for _, e := range v {
			elem = unify(elem, Infer(e))
		}
		if elem == nil {
			elem = TypeMissing
		}
		return &ArrayType{Elem: elem, Dims: 1}
	}
	return TypeMissing
}

// InferColumn returns the unified element type across a column's cells,
// folding missing values into a Union with Missing.
func InferColumn(values []interface{}) Type {
	var t Type
	for _, v := range values {
		t = unify(t, Infer(v))
	}
	if t == nil {
		return TypeMissing
	}
	return t
}

func unify(a, b Type) Type {
	if a == nil {
		return b
	}
	if b == nil || typeEqual(a, b) {
		return a
	}
	if a == TypeMissing {
		return &UnionType{Types: []Type{b, TypeMissing}}
	}
	if b == TypeMissing {
		if u, ok := a.(*UnionType); ok {
			for _, m := range u.Types {
				if m == TypeMissing {
					return a
				}
			}
		}
		return &UnionType{Types: []Type{a, TypeMissing}}
	}
	if u, ok := a.(*UnionType); ok {
		for _, m := range u.Types {
			if typeEqual(m, b) {
				return a
			}
		}
		return &UnionType{Types: append(append([]Type{}, u.Types...), b)}
	}
	return &UnionType{Types: []Type{a, b}}
}

func typeEqual(a, b Type) bool {
	switch a := a.(type) {
	case PrimitiveType:
		bb, ok := b.(PrimitiveType)
		return ok && a == bb
	case *UnionType:
		bb, ok := b.(*UnionType)
		if !ok || len(a.Types) != len(bb.Types) {
			return false
		}
		for i := range a.Types {
			if !typeEqual(a.Types[i], bb.Types[i]) {
				return false
			}
		}
		return true
	case *ArrayType:
		bb, ok := b.(*ArrayType)
		return ok && a.Dims == bb.Dims && typeEqual(a.Elem, bb.Elem)
	case *ParametricArrayType:
		bb, ok := b.(*ParametricArrayType)
		return ok && a.Dims == bb.Dims && typeEqual(a.Bound, bb.Bound)
	}
	return false
}
