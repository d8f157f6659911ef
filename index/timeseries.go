// Package index maps range predicates on a dataset's index to the
// deterministic object-key set that covers them, and groups rows into the
// partitions they belong to on the write path. Partitions are keyed by the
// UTC floor of the index value at the configured granularity.
package index

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/granary-db/granary"
	"github.com/granary-db/granary/errors"
)

type Granularity int

const (
	Hour Granularity = iota
	Day
	Month
	Year
)

func (g Granularity) String() string {
	switch g {
	case Hour:
		return "HOUR"
	case Day:
		return "DAY"
	case Month:
		return "MONTH"
	case Year:
		return "YEAR"
	}
	return "unknown"
}

func ParseGranularity(s string) (Granularity, error) {
	switch s {
	case "HOUR", "hour":
		return Hour, nil
	case "DAY", "day":
		return Day, nil
	case "MONTH", "month":
		return Month, nil
	case "YEAR", "year":
		return Year, nil
	}
	return Hour, gerr.E(gerr.Format, "unknown partition size %q", s)
}

func (g Granularity) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.String())
}

func (g *Granularity) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	gran, err := ParseGranularity(s)
	if err != nil {
		return err
	}
	*g = gran
	return nil
}

// TimeSeries is the partition index over a zoned-timestamp column. It is
// currently the only index variant; the JSON encoding leaves room for more
// through its _type tag.
type TimeSeries struct {
	Key       string
	Partition Granularity
}

type indexJSON struct {
	Type string        `json:"_type"`
	Attr indexAttrJSON `json:"_attr"`
}

type indexAttrJSON struct {
	Key           string      `json:"key"`
	PartitionSize Granularity `json:"partition_size"`
}

func (ts TimeSeries) MarshalJSON() ([]byte, error) {
	return json.Marshal(indexJSON{
		Type: "TimeSeriesIndex",
		Attr: indexAttrJSON{Key: ts.Key, PartitionSize: ts.Partition},
	})
}

func (ts *TimeSeries) UnmarshalJSON(b []byte) error {
	var v indexJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v.Type != "TimeSeriesIndex" {
		return gerr.E(gerr.Format, "unknown index type %q", v.Type)
	}
	ts.Key = v.Attr.Key
	ts.Partition = v.Attr.PartitionSize
	return nil
}

// Floor returns the UTC floor of t at the index granularity.
func (ts TimeSeries) Floor(t time.Time) time.Time {
	u := t.UTC()
	switch ts.Partition {
	case Hour:
		return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC)
	case Day:
		return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	case Month:
		return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
	case Year:
		return time.Date(u.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return u
}

func (ts TimeSeries) next(t time.Time) time.Time {
	switch ts.Partition {
	case Hour:
		return t.Add(time.Hour)
	case Day:
		return t.AddDate(0, 0, 1)
	case Month:
		return t.AddDate(0, 1, 0)
	case Year:
		return t.AddDate(1, 0, 0)
	}
	return t
}

// ObjectKey returns the deterministic object key for the partition whose
// UTC floor is at. The key layout co-locates a year's partitions under a
// year=YYYY directory so prefix listings stay small.
func ObjectKey(prefix, collection, dataset string, at time.Time, ext string) string {
	key := fmt.Sprintf("%s/%s/year=%04d/%d.%s",
		collection, dataset, at.Year(), at.Unix(), ext)
	if prefix != "" {
		key = prefix + "/" + key
	}
	return key
}

// Key pairs a partition's UTC floor with its object key.
type Key struct {
	At     time.Time
	Object string
}

// KeysForRange enumerates, in ascending partition order, the object key of
// every partition intersecting the closed range [start, stop].
func (ts TimeSeries) KeysForRange(start, stop time.Time, prefix, collection, dataset, ext string) []Key {
	var keys []Key
	last := ts.Floor(stop)
	for at := ts.Floor(start); !at.After(last); at = ts.next(at) {
		keys = append(keys, Key{
			At:     at,
			Object: ObjectKey(prefix, collection, dataset, at, ext),
		})
	}
	return keys
}

// FilterRange selects the rows of tbl whose index value lies in the closed
// range [start, stop]. If sourceAt is non-zero it names the partition tbl
// was read from and is used as a pruning hint: only the boundary partitions
// need row-level filtering, interior partitions are kept whole, and
// partitions outside the range come back empty.
func (ts TimeSeries) FilterRange(tbl *granary.Table, start, stop time.Time, sourceAt time.Time) (*granary.Table, error) {
	if !sourceAt.IsZero() {
		startAt, stopAt := ts.Floor(start), ts.Floor(stop)
		if sourceAt.Before(startAt) || sourceAt.After(stopAt) {
			return tbl.Select(nil), nil
		}
		if !sourceAt.Equal(startAt) && !sourceAt.Equal(stopAt) {
			return tbl, nil
		}
	}
	col := tbl.Lookup(ts.Key)
	if col == nil {
		return nil, gerr.E(gerr.Schema, "missing index column %q", ts.Key)
	}
	var rows []int
	for i, v := range col.Values {
		at, err := indexTime(v)
		if err != nil {
			return nil, err
		}
		if !at.Before(start) && !at.After(stop) {
			rows = append(rows, i)
		}
	}
	return tbl.Select(rows), nil
}

// PartitionRows groups the table's rows by the UTC floor of the index
// column. The returned row index sets are in ascending partition order.
type Partition struct {
	At   time.Time
	Rows []int
}

func (ts TimeSeries) PartitionRows(tbl *granary.Table) ([]Partition, error) {
	col := tbl.Lookup(ts.Key)
	if col == nil {
		return nil, gerr.E(gerr.Schema, "missing index column %q", ts.Key)
	}
	groups := make(map[int64]*Partition)
	var order []int64
	for i, v := range col.Values {
		at, err := indexTime(v)
		if err != nil {
			return nil, err
		}
		floor := ts.Floor(at)
		unix := floor.Unix()
		p, ok := groups[unix]
		if !ok {
			p = &Partition{At: floor}
			groups[unix] = p
			order = append(order, unix)
		}
		p.Rows = append(p.Rows, i)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	parts := make([]Partition, len(order))
	for i, unix := range order {
		parts[i] = *groups[unix]
	}
	return parts, nil
}

// indexTime interprets an index cell. In memory index values are zoned
// timestamps; on disk they are Unix-second integers, and the range filter
// runs on freshly decoded files before post-processing restores the
// timestamps.
func indexTime(v interface{}) (time.Time, error) {
	switch v := v.(type) {
	case time.Time:
		return v, nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case float64:
		return time.Unix(int64(v), 0).UTC(), nil
	}
	return time.Time{}, gerr.E(gerr.Schema, "index value %v is not a timestamp", v)
}
