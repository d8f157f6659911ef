package granary

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DateTime is a calendar timestamp with no zone attached. It is distinct
// from time.Time cells, which always carry a location and decode as
// ZonedDateTime.
type DateTime struct {
	time.Time
}

// Date is a calendar day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Compare orders two cell values. Missing values sort after everything
// else so that a sort keeps present data first; otherwise values order
// within their own kind and across numeric kinds by magnitude. Values of
// unrelated kinds fall back to their formatted representation, which keeps
// the ordering total and deterministic.
func Compare(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return 1
		default:
			return -1
		}
	}
	if x, ok := numeric(a); ok {
		if y, ok := numeric(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			default:
				return 0
			}
		}
	}
	if x, ok := a.(string); ok {
		if y, ok := b.(string); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			default:
				return 0
			}
		}
	}
	if x, ok := timeValue(a); ok {
		if y, ok := timeValue(b); ok {
			switch {
			case x.Before(y):
				return -1
			case x.After(y):
				return 1
			default:
				return 0
			}
		}
	}
	fa, fb := FormatValue(a), FormatValue(b)
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	default:
		return 0
	}
}

func numeric(v interface{}) (float64, bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func timeValue(v interface{}) (time.Time, bool) {
	switch v := v.(type) {
	case time.Time:
		return v, true
	case DateTime:
		return v.Time, true
	case Date:
		return time.Date(v.Year, v.Month, v.Day, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// FormatValue renders a cell for CSV output and for building group keys.
// Missing renders empty, lists render as JSON, timestamps as RFC 3339.
func FormatValue(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case DateTime:
		return v.Format("2006-01-02T15:04:05.999999999")
	case Date:
		return v.String()
	case []interface{}:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}

// ValueEqual compares two cells for exact equality, used by row dedup.
func ValueEqual(a, b interface{}) bool {
	if la, ok := a.([]interface{}); ok {
		lb, ok := b.([]interface{})
		if !ok || len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !ValueEqual(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	if _, ok := b.([]interface{}); ok {
		return false
	}
	// Numeric cells compare by value across kinds so that dedup agrees
	// with Compare's ordering.
	if x, ok := numeric(a); ok {
		y, ok := numeric(b)
		return ok && x == y
	}
	if ta, ok := timeValue(a); ok {
		if tb, ok := timeValue(b); ok {
			return ta.Equal(tb)
		}
		return false
	}
	return a == b
}
