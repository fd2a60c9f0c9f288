// Package chart prepares raw observation series for rendering: it validates
// numeric readings, merges series by timestamp, optionally min-max normalizes
// each series for visual comparison, and computes summary statistics.
// Everything here is pure and synchronous; no I/O.
package chart

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mholstad/station-dashboard-service/internal/models"
)

// Validate accepts a candidate reading and returns its numeric value when it
// is a finite number. Strings are parsed once; parse failures and non-finite
// results are rejected. Rejected readings are dropped by callers, never
// substituted with zero, so aggregates stay scientifically accurate.
func Validate(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, isFinite(v)
	case float32:
		return float64(v), isFinite(float64(v))
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || !isFinite(n) {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// SeriesInput is one datastream's observations, keyed for the merged output.
type SeriesInput struct {
	Key          string
	Observations []models.Observation
}

// Point is one merged chart point. Values holds one entry per series that has
// a valid reading at this exact timestamp; absent series are simply missing
// from the map. Raw retains pre-normalization values after Normalize so
// tooltips can show true units.
type Point struct {
	Timestamp string             `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
	Raw       map[string]float64 `json:"raw,omitempty"`
}

// Merge combines N series into a single sequence ordered ascending by
// timestamp. Invalid readings are dropped during the merge.
func Merge(series []SeriesInput) []Point {
	byTime := make(map[string]*Point)
	for _, s := range series {
		for _, obs := range s.Observations {
			v, ok := Validate(float64(obs.Result))
			if !ok {
				continue
			}
			p, exists := byTime[obs.PhenomenonTime]
			if !exists {
				p = &Point{Timestamp: obs.PhenomenonTime, Values: make(map[string]float64)}
				byTime[obs.PhenomenonTime] = p
			}
			p.Values[s.Key] = v
		}
	}

	points := make([]Point, 0, len(byTime))
	for _, p := range byTime {
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool {
		return timestampLess(points[i].Timestamp, points[j].Timestamp)
	})
	return points
}

// timestampLess orders ISO-8601 timestamps chronologically, falling back to
// lexicographic order when parsing fails (safe for uniform ISO strings).
func timestampLess(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339, a)
	tb, errB := time.Parse(time.RFC3339, b)
	if errA == nil && errB == nil {
		return ta.Before(tb)
	}
	return a < b
}

// Normalize rescales each series independently to [0,1] across the merged
// points, retaining the original value in Raw. A degenerate constant series
// normalizes to 0 everywhere. The input is not mutated.
func Normalize(points []Point, keys []string) []Point {
	mins := make(map[string]float64, len(keys))
	maxs := make(map[string]float64, len(keys))
	for _, key := range keys {
		min, max, seen := seriesExtent(points, key)
		if !seen {
			continue
		}
		mins[key], maxs[key] = min, max
	}

	out := make([]Point, len(points))
	for i, p := range points {
		np := Point{
			Timestamp: p.Timestamp,
			Values:    make(map[string]float64, len(p.Values)),
			Raw:       make(map[string]float64, len(p.Values)),
		}
		for key, v := range p.Values {
			np.Raw[key] = v
			min, okMin := mins[key]
			max := maxs[key]
			if !okMin || max == min {
				np.Values[key] = 0
				continue
			}
			np.Values[key] = (v - min) / (max - min)
		}
		out[i] = np
	}
	return out
}

// Denormalize maps a normalized value back to original units.
func Denormalize(normalized, min, max float64) float64 {
	return normalized*(max-min) + min
}

// SeriesExtent returns the min and max valid values of one series across the
// merged points. seen is false when the series has no valid points.
func SeriesExtent(points []Point, key string) (min, max float64, seen bool) {
	return seriesExtent(points, key)
}

func seriesExtent(points []Point, key string) (min, max float64, seen bool) {
	for _, p := range points {
		v, ok := p.Values[key]
		if !ok {
			continue
		}
		if !seen {
			min, max, seen = v, v, true
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max, seen
}
