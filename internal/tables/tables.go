// Package tables turns query results into the dashboard's analytics tables.
package tables

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/sdko-org/analytics-dashboard/internal/fetch"
)

// Column maps a record field to a table column.
type Column struct {
	Field    string `json:"field"`
	Title    string `json:"title"`
	Duration bool   `json:"duration,omitempty"`
}

// Table is the layout of one analytics table.
type Table struct {
	Endpoint string   `json:"endpoint"`
	Title    string   `json:"title"`
	Columns  []Column `json:"columns"`
}

var definitions = map[string]Table{
	"events": {
		Endpoint: "events",
		Title:    "Events Table",
		Columns: []Column{
			{Field: "WebsiteName", Title: "Website Name"},
			{Field: "PageName", Title: "Page Name"},
			{Field: "SectionCategory", Title: "Page Section"},
			{Field: "EventTime", Title: "Event Time", Duration: true},
			{Field: "EventType", Title: "Event Type"},
		},
	},
	"pages": {
		Endpoint: "pages",
		Title:    "Pages Table",
		Columns: []Column{
			{Field: "Website", Title: "Website Name"},
			{Field: "PageName", Title: "Page Name"},
			{Field: "PageType", Title: "Page Type"},
			{Field: "PageViews", Title: "Page Views"},
			{Field: "TimeSpent", Title: "Time Spent", Duration: true},
		},
	},
	"referrers": {
		Endpoint: "referrers",
		Title:    "Referrer Table",
		Columns: []Column{
			{Field: "ReferrerName", Title: "Referrer Name"},
			{Field: "WebsiteName", Title: "Website Name"},
			{Field: "ReferrerURL", Title: "Referrer URL"},
			{Field: "ReferrerType", Title: "Referrer Type"},
			{Field: "ReferrerViews", Title: "Referral Visits"},
			{Field: "TrafficCount", Title: "Traffic Count"},
		},
	},
	// Columns follow the fields of /api/getTrafficData records.
	"traffic": {
		Endpoint: "traffic",
		Title:    "Traffic Table",
		Columns: []Column{
			{Field: "WebsiteName", Title: "Website Name"},
			{Field: "TrafficSource", Title: "Traffic Source"},
			{Field: "Visits", Title: "Visits"},
			{Field: "TimeSpent", Title: "Time Spent", Duration: true},
		},
	},
}

// For returns the table layout of endpointKey. Endpoints without a known
// layout get one column per field found in records, sorted by name.
func For(endpointKey string, records []fetch.Record) Table {
	if t, ok := definitions[endpointKey]; ok {
		return t
	}

	seen := make(map[string]bool)
	var fields []string
	for _, r := range records {
		for f := range r {
			if !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
	}
	sort.Strings(fields)

	t := Table{Endpoint: endpointKey, Title: endpointKey}
	for _, f := range fields {
		t.Columns = append(t.Columns, Column{Field: f, Title: f})
	}
	return t
}

// Headers returns the column titles.
func (t Table) Headers() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Title
	}
	return out
}

// Rows formats records cell by cell. Duration columns are rendered as
// HH:MM:SS; everything else is printed as received.
func (t Table) Rows(records []fetch.Record) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		row := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			v := r[c.Field]
			if c.Duration {
				row[i] = FormatDuration(v)
			} else {
				row[i] = formatCell(v)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// FormatDuration renders a millisecond value as the zero-padded UTC clock
// time HH:MM:SS. Hours wrap at 24. Non-numeric values are printed as-is.
func FormatDuration(v any) string {
	ms, ok := toMillis(v)
	if !ok {
		return formatCell(v)
	}

	const day = 24 * 60 * 60 * 1000
	ms %= day
	if ms < 0 {
		ms += day
	}
	secs := ms / 1000
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}

func toMillis(v any) (int64, bool) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		return floatMillis(f)
	case float64:
		return floatMillis(x)
	case int:
		return int64(x), true
	case int64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, false
		}
		return floatMillis(f)
	default:
		return 0, false
	}
}

func floatMillis(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(math.Floor(f)), true
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
