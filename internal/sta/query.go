package sta

import (
	"fmt"
	"net/url"
	"strings"
)

// Query holds the OData-style parameters accepted by SensorThings collection
// endpoints. The zero value means "no parameters".
type Query struct {
	Top     int    // $top row limit; 0 omits the parameter
	OrderBy string // field for $orderby, e.g. "phenomenonTime"
	Desc    bool   // descending order; ascending when false
	Count   bool   // $count=true to request the server-side total
	Filter  string // raw $filter expression
	Expand  string // $expand relation, e.g. "Locations"
}

// Encode renders the query string with parameters in a fixed order so that
// logically identical requests always produce byte-identical strings. The
// string doubles as the cache signature suffix.
func (q Query) Encode() string {
	var parts []string
	if q.Top > 0 {
		parts = append(parts, fmt.Sprintf("$top=%d", q.Top))
	} else if q.Count {
		// $top=0 with $count=true is the count-only probe shape.
		parts = append(parts, "$top=0")
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Desc {
			dir = "desc"
		}
		parts = append(parts, "$orderby="+escapeValue(q.OrderBy+" "+dir))
	}
	if q.Filter != "" {
		parts = append(parts, "$filter="+escapeValue(q.Filter))
	}
	if q.Count {
		parts = append(parts, "$count=true")
	}
	if q.Expand != "" {
		parts = append(parts, "$expand="+escapeValue(q.Expand))
	}
	return strings.Join(parts, "&")
}

// escapeValue percent-encodes a parameter value, keeping spaces as %20 the
// way SensorThings examples write them (never "+").
func escapeValue(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// DayRangeFilter builds an inclusive UTC day-boundary filter for a timestamp
// field. start and end are day-precision ISO dates (YYYY-MM-DD); either may
// be empty, dropping that bound.
func DayRangeFilter(field, start, end string) string {
	var clauses []string
	if start != "" {
		clauses = append(clauses, fmt.Sprintf("%s ge %sT00:00:00.000Z", field, start))
	}
	if end != "" {
		clauses = append(clauses, fmt.Sprintf("%s le %sT23:59:59.999Z", field, end))
	}
	return strings.Join(clauses, " and ")
}

// Signature derives the cache key for a request: the collection path plus the
// deterministically encoded parameters. Two requests differing in any
// response-affecting parameter produce different signatures.
func Signature(path string, q Query) string {
	enc := q.Encode()
	if enc == "" {
		return path
	}
	return path + "?" + enc
}
