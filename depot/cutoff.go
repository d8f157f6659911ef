package depot

import (
	"sort"
	"strings"
	"time"

	"github.com/granary-db/granary"
	"github.com/granary-db/granary/errors"
	"github.com/granary-db/granary/meta"
)

const (
	releaseDateColumn = "release_date"
	tagColumn         = "tag"
	superkeyDetail    = "superkey"
)

// latestRelease selects, for each group of rows sharing the same superkey
// values apart from release_date and tag, the single row whose release
// date is the maximum not after cutoff. Groups with no qualifying row are
// dropped. The selection works on row indices into the input table so the
// surviving rows are extracted in one pass without per-group copies.
//
// Archives that declare no superkey in their descriptor details have no
// release discipline and pass through unchanged.
func latestRelease(tbl *granary.Table, desc *meta.Descriptor, cutoff time.Time) (*granary.Table, error) {
	superkey := desc.Details[superkeyDetail]
	if superkey == "" {
		return tbl, nil
	}
	release := tbl.Lookup(releaseDateColumn)
	if release == nil {
		return nil, gerr.E(gerr.Schema, "archive declares a superkey but has no %s column", releaseDateColumn)
	}
	var groupCols []*granary.Column
	for _, name := range strings.Split(superkey, ",") {
		name = strings.TrimSpace(name)
		if name == releaseDateColumn || name == tagColumn {
			continue
		}
		col := tbl.Lookup(name)
		if col == nil {
			return nil, gerr.E(gerr.Schema, "superkey column %q not in table", name)
		}
		groupCols = append(groupCols, col)
	}

	cutoffUnix := cutoff.Unix()
	type best struct {
		row     int
		release int64
	}
	selected := make(map[string]best)
	var keyBuilder strings.Builder
	for row := 0; row < tbl.NumRows(); row++ {
		rel, ok := releaseUnix(release.Values[row])
		if !ok || rel > cutoffUnix {
			continue
		}
		keyBuilder.Reset()
		for _, col := range groupCols {
			keyBuilder.WriteString(granary.FormatValue(col.Values[row]))
			keyBuilder.WriteByte(0)
		}
		key := keyBuilder.String()
		if b, ok := selected[key]; !ok || rel > b.release {
			selected[key] = best{row: row, release: rel}
		}
	}
	rows := make([]int, 0, len(selected))
	for _, b := range selected {
		rows = append(rows, b.row)
	}
	sort.Ints(rows)
	return tbl.Select(rows), nil
}

func releaseUnix(v interface{}) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case time.Time:
		return v.Unix(), true
	}
	return 0, false
}
