// Package codec maps file format and compression tags to the encode and
// decode functions used for dataset objects. The registry is a closed
// lookup table: formats and compressions are small enums and dispatch is a
// map from tag to function, never runtime-dynamic.
package codec

import (
	"encoding/json"
	"path"
	"strings"

	"github.com/granary-db/granary"
	"github.com/granary-db/granary/errors"
)

type Format int

const (
	FormatUnknown Format = iota
	CSV
	Arrow
	Parquet
)

func (f Format) String() string {
	switch f {
	case CSV:
		return "CSV"
	case Arrow:
		return "ARROW"
	case Parquet:
		return "PARQUET"
	}
	return "unknown"
}

func (f Format) Ext() string {
	switch f {
	case CSV:
		return "csv"
	case Arrow:
		return "arrow"
	case Parquet:
		return "parquet"
	}
	return ""
}

// ParseFormat accepts the lowercase extension form and the uppercase wire
// form of a format tag.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "csv":
		return CSV, nil
	case "arrow":
		return Arrow, nil
	case "parquet":
		return Parquet, nil
	}
	return FormatUnknown, gerr.E(gerr.Format, "unknown file format %q", s)
}

func (f Format) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *Format) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	format, err := ParseFormat(s)
	if err != nil {
		return err
	}
	*f = format
	return nil
}

type Compression int

const (
	None Compression = iota
	BZ2
	GZ
	LZ4
	ZST
)

// String returns the wire form stored in dataset metadata. The absence of
// compression is the literal "nothing", which round-trips back to None.
func (c Compression) String() string {
	switch c {
	case BZ2:
		return "BZ2"
	case GZ:
		return "GZ"
	case LZ4:
		return "LZ4"
	case ZST:
		return "ZST"
	}
	return "nothing"
}

func (c Compression) Ext() string {
	switch c {
	case BZ2:
		return "bz2"
	case GZ:
		return "gz"
	case LZ4:
		return "lz4"
	case ZST:
		return "zst"
	}
	return ""
}

func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "nothing", "none", "":
		return None, nil
	case "bz2":
		return BZ2, nil
	case "gz":
		return GZ, nil
	case "lz4":
		return LZ4, nil
	case "zst":
		return ZST, nil
	}
	return None, gerr.E(gerr.Format, "unknown compression %q", s)
}

func (c Compression) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Compression) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	comp, err := ParseCompression(s)
	if err != nil {
		return err
	}
	*c = comp
	return nil
}

// Extension returns the filename suffix for a format and compression,
// without a leading dot, e.g. "csv.gz" or "parquet".
func Extension(f Format, c Compression) string {
	ext := f.Ext()
	if c != None {
		ext += "." + c.Ext()
	}
	return ext
}

func formatFromExt(s string) (Format, bool) {
	switch strings.ToLower(s) {
	case "csv":
		return CSV, true
	case "arrow":
		return Arrow, true
	case "parquet":
		return Parquet, true
	}
	return FormatUnknown, false
}

func compressionFromExt(s string) (Compression, bool) {
	switch strings.ToLower(s) {
	case "bz2":
		return BZ2, true
	case "gz":
		return GZ, true
	case "lz4":
		return LZ4, true
	case "zst":
		return ZST, true
	}
	return None, false
}

// DetectFromFilename splits at most two extensions off the tail of name.
// If the innermost recognized extension is a format, the pair is returned;
// a compression extension with no recognized format inside yields only the
// compression. Two stacked compression extensions are corrupt.
func DetectFromFilename(name string) (Format, Compression, error) {
	base := path.Base(name)
	rest, last := splitExt(base)
	if last == "" {
		return FormatUnknown, None, nil
	}
	if f, ok := formatFromExt(last); ok {
		return f, None, nil
	}
	comp, ok := compressionFromExt(last)
	if !ok {
		return FormatUnknown, None, nil
	}
	_, prev := splitExt(rest)
	if prev != "" {
		if _, stacked := compressionFromExt(prev); stacked {
			return FormatUnknown, None, gerr.E(gerr.Format, "double compression extension in %q", name)
		}
		if f, ok := formatFromExt(prev); ok {
			return f, comp, nil
		}
	}
	return FormatUnknown, comp, nil
}

func splitExt(name string) (rest, ext string) {
	i := strings.LastIndex(name, ".")
	if i < 0 || i == len(name)-1 {
		return name, ""
	}
	return name[:i], name[i+1:]
}

type entry struct {
	encode func(*granary.Table) ([]byte, error)
	decode func([]byte) (*granary.Table, error)
}

var formats = map[Format]entry{
	CSV:     {encode: encodeCSV, decode: decodeCSV},
	Arrow:   {encode: encodeArrow, decode: decodeArrow},
	Parquet: {encode: encodeParquet, decode: decodeParquet},
}

// Decode decompresses b if requested and decodes it as the given format.
func Decode(b []byte, f Format, c Compression) (*granary.Table, error) {
	e, ok := formats[f]
	if !ok {
		return nil, gerr.E(gerr.Format, "no decoder for format %s", f)
	}
	if c != None {
		var err error
		b, err = DecompressBytes(b, c)
		if err != nil {
			return nil, err
		}
	}
	return e.decode(b)
}

// Encode encodes t as the given format and then compresses the result.
func Encode(t *granary.Table, f Format, c Compression) ([]byte, error) {
	e, ok := formats[f]
	if !ok {
		return nil, gerr.E(gerr.Format, "no encoder for format %s", f)
	}
	b, err := e.encode(t)
	if err != nil {
		return nil, err
	}
	return CompressBytes(b, c)
}
