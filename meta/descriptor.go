// Package meta reads and writes the per-dataset JSON descriptor stored
// alongside a dataset's data objects.
package meta

import (
	"encoding/json"
	"time"

	"github.com/granary-db/granary"
	"github.com/granary-db/granary/codec"
	"github.com/granary-db/granary/errors"
	"github.com/granary-db/granary/index"
)

// ObjectName is the fixed key component the descriptor lives under within
// a dataset's prefix.
const ObjectName = "METADATA.json"

// Descriptor is the per-dataset metadata object. Once created, the column
// order, column types, index, file format, and compression are immutable;
// only LastModified and Details may change.
type Descriptor struct {
	Collection string
	Dataset    string

	ColumnOrder  []string
	ColumnTypes  map[string]granary.Type
	Timezone     string
	Index        index.TimeSeries
	FileFormat   codec.Format
	Compression  codec.Compression
	LastModified time.Time
	Details      map[string]string
	// TypeMap carries the free-form column type tags of read-only
	// archives, whose schema is maintained by the archive itself.
	TypeMap map[string]string
}

// Location returns the dataset's IANA timezone, defaulting to UTC.
func (d *Descriptor) Location() (*time.Location, error) {
	if d.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return nil, gerr.E(gerr.Format, "descriptor timezone: %w", err)
	}
	return loc, nil
}

// Ext returns the filename extension for the dataset's data objects.
func (d *Descriptor) Ext() string {
	return codec.Extension(d.FileFormat, d.Compression)
}

// Validate checks internal consistency: the index field must be present
// in the column order and typed as a zoned timestamp.
func (d *Descriptor) Validate() error {
	if len(d.ColumnOrder) == 0 {
		return gerr.E(gerr.Schema, "descriptor has no columns")
	}
	found := false
	for _, name := range d.ColumnOrder {
		if name == d.Index.Key {
			found = true
			break
		}
	}
	if !found {
		return gerr.E(gerr.Schema, "index column %q not in column order", d.Index.Key)
	}
	if typ, ok := d.ColumnTypes[d.Index.Key]; ok {
		if !granary.IsSubtype(typ, granary.TypeZonedDateTime) {
			return gerr.E(gerr.Schema, "index column %q must be a zoned timestamp, got %s",
				d.Index.Key, typ)
		}
	}
	return nil
}

type descriptorJSON struct {
	ColumnOrder  []string                   `json:"column_order"`
	ColumnTypes  map[string]json.RawMessage `json:"column_types"`
	Timezone     string                     `json:"timezone"`
	Index        index.TimeSeries           `json:"index"`
	FileFormat   codec.Format               `json:"file_format"`
	Compression  codec.Compression          `json:"compression"`
	LastModified int64                      `json:"last_modified"`
	Details      map[string]string          `json:"details"`
	TypeMap      map[string]string          `json:"type_map,omitempty"`
}

func (d *Descriptor) MarshalJSON() ([]byte, error) {
	types := make(map[string]json.RawMessage, len(d.ColumnTypes))
	for name, typ := range d.ColumnTypes {
		types[name] = granary.MarshalType(typ)
	}
	return json.Marshal(descriptorJSON{
		ColumnOrder:  d.ColumnOrder,
		ColumnTypes:  types,
		Timezone:     d.Timezone,
		Index:        d.Index,
		FileFormat:   d.FileFormat,
		Compression:  d.Compression,
		LastModified: d.LastModified.Unix(),
		Details:      d.Details,
		TypeMap:      d.TypeMap,
	})
}

func (d *Descriptor) UnmarshalJSON(b []byte) error {
	var v descriptorJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return gerr.E(gerr.Format, err)
	}
	types := make(map[string]granary.Type, len(v.ColumnTypes))
	for name, raw := range v.ColumnTypes {
		typ, err := granary.ParseType(raw)
		if err != nil {
			return err
		}
		types[name] = typ
	}
	d.ColumnOrder = v.ColumnOrder
	d.ColumnTypes = types
	d.Timezone = v.Timezone
	d.Index = v.Index
	d.FileFormat = v.FileFormat
	d.Compression = v.Compression
	d.LastModified = time.Unix(v.LastModified, 0).UTC()
	d.Details = v.Details
	d.TypeMap = v.TypeMap
	return nil
}
