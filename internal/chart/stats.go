package chart

import (
	"math"
	"sort"

	"github.com/mholstad/station-dashboard-service/internal/models"
)

// Trend classifications for a series over the current window.
const (
	TrendUp      = "up"
	TrendDown    = "down"
	TrendNeutral = "neutral"
)

// trendThreshold is the relative change beyond which a trend is classified;
// the boundary itself is exclusive (exactly 2% is neutral).
const trendThreshold = 0.02

// Stats summarizes one series' valid values in the current window.
type Stats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Latest float64 `json:"latest"`
	Count  int     `json:"count"`
	Trend  string  `json:"trend"`
}

// ComputeStats summarizes a series' observations. Invalid readings are
// dropped first; Latest is the value at the most recent phenomenon time.
// An empty or all-invalid series yields zero Stats with a neutral trend.
func ComputeStats(observations []models.Observation) Stats {
	type reading struct {
		ts    string
		value float64
	}
	valid := make([]reading, 0, len(observations))
	for _, obs := range observations {
		v, ok := Validate(float64(obs.Result))
		if !ok {
			continue
		}
		valid = append(valid, reading{ts: obs.PhenomenonTime, value: v})
	}
	if len(valid) == 0 {
		return Stats{Trend: TrendNeutral}
	}
	sort.Slice(valid, func(i, j int) bool { return timestampLess(valid[i].ts, valid[j].ts) })

	values := make([]float64, len(valid))
	for i, r := range valid {
		values[i] = r.value
	}

	s := Stats{
		Min:    values[0],
		Max:    values[0],
		Latest: values[len(values)-1],
		Count:  len(values),
		Trend:  classifyTrend(values),
	}
	sum := 0.0
	for _, v := range values {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		sum += v
	}
	s.Mean = sum / float64(len(values))
	return s
}

// classifyTrend compares the mean of the most recent 3 values against the
// mean of the oldest 3 in the chronologically ordered window. Requires at
// least 3 valid values; otherwise neutral.
func classifyTrend(values []float64) string {
	if len(values) < 3 {
		return TrendNeutral
	}
	older := mean(values[:3])
	recent := mean(values[len(values)-3:])

	if older == 0 {
		// Relative change is undefined; classify by the recent mean's sign.
		switch {
		case recent > 0:
			return TrendUp
		case recent < 0:
			return TrendDown
		default:
			return TrendNeutral
		}
	}

	change := (recent - older) / math.Abs(older)
	switch {
	case change > trendThreshold:
		return TrendUp
	case change < -trendThreshold:
		return TrendDown
	default:
		return TrendNeutral
	}
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
