package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Result is the envelope every fetcher returns across the UI boundary.
// Success is false when the upstream call failed; Data then holds an
// empty-shaped default so consumers can render a "no data" state without
// nil checks. Errors never cross this boundary as panics.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
}

// Ok wraps data in a successful Result.
func Ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail wraps an empty-shaped default and an error message in a failed Result.
func Fail[T any](data T, msg string) Result[T] {
	return Result[T]{Success: false, Data: data, Error: msg}
}

// Sensor is a monitoring device ("Thing" in SensorThings terms).
// TotalDatastreams is 0 after the coarse fetch and replaced by the
// progressive loader's count-enrichment pass.
type Sensor struct {
	ID               int64    `json:"id"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	Category         string   `json:"category"`
	MetadataURL      string   `json:"metadata_url,omitempty"`
	Published        bool     `json:"published"`
	TotalDatastreams int      `json:"total_datastreams"`
	LocationNames    []string `json:"location_names"`
}

// Location is a deployment site. Latitude/Longitude 0,0 means unknown.
type Location struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Site        string  `json:"site"`
	Active      bool    `json:"active"`
	Depth       float64 `json:"depth,omitempty"`
	DepthRef    string  `json:"depth_ref,omitempty"`
}

// Datastream is one measurable property of a sensor. Name often embeds a
// sensor code prefix, e.g. "GGS05_01 Carbon Dioxide".
type Datastream struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	UnitSymbol      string `json:"unit_symbol"`
	UnitName        string `json:"unit_name"`
	ObservationType string `json:"observation_type"`
}

// Observation is one timestamped reading of a datastream. Result holds the
// numeric value; unparsable upstream results map to 0 at decode time, while
// non-finite values (NaN, infinities) are preserved so the chart pipeline can
// drop them instead of polluting aggregates with zeros.
type Observation struct {
	ID             int64       `json:"id"`
	PhenomenonTime string      `json:"phenomenon_time"`
	ResultTime     string      `json:"result_time,omitempty"`
	Result         Measurement `json:"result"`
	Quality        Quality     `json:"quality,omitempty"`
}

// Measurement is a reading value. The upstream API emits results as JSON
// numbers or numeric strings; JSON itself cannot carry NaN or infinities, so
// those round-trip as strings ("NaN", "+Inf", "-Inf").
type Measurement float64

// MarshalJSON encodes finite values as numbers and non-finite ones as strings.
func (m Measurement) MarshalJSON() ([]byte, error) {
	v := float64(m)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return json.Marshal(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return json.Marshal(v)
}

// UnmarshalJSON accepts a JSON number or a numeric string. Unparsable values
// decode to 0 rather than failing the record.
func (m *Measurement) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*m = Measurement(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			*m = Measurement(n)
			return nil
		}
	}
	*m = 0
	return nil
}

// Quality is the tagged variant for the upstream's duck-typed resultQuality
// field, which arrives as either a bare string or a structured object.
type Quality struct {
	Simple string             `json:"simple,omitempty"`
	Detail *StructuredQuality `json:"detail,omitempty"`
}

// StructuredQuality is the object form of a quality annotation.
type StructuredQuality struct {
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Quality string `json:"quality,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// Label normalizes both quality forms to a single display string.
func (q Quality) Label() string {
	if q.Detail != nil {
		if q.Detail.Status != "" {
			return q.Detail.Status
		}
		return q.Detail.Quality
	}
	return q.Simple
}

// IsZero reports whether no quality annotation was present.
func (q Quality) IsZero() bool {
	return q.Simple == "" && q.Detail == nil
}

// UnmarshalJSON accepts either a JSON string or a structured object.
// Unknown shapes decode to the zero Quality rather than failing the record.
func (q *Quality) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		q.Simple = s
		q.Detail = nil
		return nil
	}
	var detail StructuredQuality
	if err := json.Unmarshal(data, &detail); err == nil {
		q.Simple = ""
		q.Detail = &detail
		return nil
	}
	*q = Quality{}
	return nil
}

// SensorList is the payload of a coarse sensor fetch.
type SensorList struct {
	Sensors    []Sensor `json:"sensors"`
	TotalCount int      `json:"total_count"`
}

// LocationList is the payload of a location fetch.
type LocationList struct {
	Locations  []Location `json:"locations"`
	TotalCount int        `json:"total_count"`
}

// DatastreamList is the payload of a per-sensor datastream fetch.
type DatastreamList struct {
	Datastreams []Datastream `json:"datastreams"`
	SensorID    int64        `json:"sensor_id"`
}

// ObservationPage is the payload of a per-datastream observation fetch.
// IsLimited is true when the server-reported total exceeds what was returned.
type ObservationPage struct {
	Observations []Observation `json:"observations"`
	DatastreamID int64         `json:"datastream_id"`
	TotalCount   int           `json:"total_count"`
	IsLimited    bool          `json:"is_limited"`
}

// DateRange is the span of available observations for a datastream.
// Empty strings mean the range could not be determined.
type DateRange struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}
