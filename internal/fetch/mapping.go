package fetch

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/mholstad/station-dashboard-service/internal/models"
)

// DefaultCategory is assigned when a Thing carries no category property.
const DefaultCategory = "general"

// Raw SensorThings record shapes. Mapping is defensive throughout: a single
// malformed record falls back to defaults instead of aborting the collection.

type rawThing struct {
	ID          int64          `json:"@iot.id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Properties  map[string]any `json:"properties"`
	Locations   []rawLocation  `json:"Locations"`
}

type rawLocation struct {
	ID          int64          `json:"@iot.id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Properties  map[string]any `json:"properties"`
	Location    struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	} `json:"location"`
}

type rawDatastream struct {
	ID                sensorID `json:"@iot.id"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	ObservationType   string   `json:"observationType"`
	UnitOfMeasurement struct {
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
	} `json:"unitOfMeasurement"`
}

type rawObservation struct {
	ID             int64              `json:"@iot.id"`
	PhenomenonTime string             `json:"phenomenonTime"`
	ResultTime     string             `json:"resultTime"`
	Result         models.Measurement `json:"result"`
	ResultQuality  models.Quality     `json:"resultQuality"`
}

// sensorID tolerates servers that emit ids as JSON strings.
type sensorID int64

func (s *sensorID) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*s = sensorID(n)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if n, err := strconv.ParseInt(str, 10, 64); err == nil {
			*s = sensorID(n)
			return nil
		}
	}
	*s = 0
	return nil
}

// mapSensor converts one Thing record. Unknown category defaults, missing
// name gets a placeholder, expanded Locations flatten to name strings only.
func mapSensor(raw rawThing) models.Sensor {
	s := models.Sensor{
		ID:          raw.ID,
		Name:        raw.Name,
		Description: raw.Description,
		Category:    DefaultCategory,
	}
	if s.Name == "" {
		s.Name = "Unnamed sensor"
	}
	if v, ok := stringProp(raw.Properties, "category"); ok && v != "" {
		s.Category = v
	}
	if v, ok := stringProp(raw.Properties, "metadata_url"); ok {
		s.MetadataURL = v
	} else if v, ok := stringProp(raw.Properties, "metadata"); ok {
		s.MetadataURL = v
	}
	s.Published = boolProp(raw.Properties, "published")
	s.LocationNames = make([]string, 0, len(raw.Locations))
	for _, loc := range raw.Locations {
		if loc.Name != "" {
			s.LocationNames = append(s.LocationNames, loc.Name)
		}
	}
	return s
}

// mapLocation converts one Location record. GeoJSON points are
// [longitude, latitude]; anything else leaves the 0,0 unknown sentinel.
func mapLocation(raw rawLocation) models.Location {
	l := models.Location{
		ID:          raw.ID,
		Name:        raw.Name,
		Description: raw.Description,
	}
	if l.Name == "" {
		l.Name = "Unnamed location"
	}
	if len(raw.Location.Coordinates) >= 2 {
		l.Longitude = raw.Location.Coordinates[0]
		l.Latitude = raw.Location.Coordinates[1]
	}
	if v, ok := stringProp(raw.Properties, "site"); ok {
		l.Site = v
	}
	l.Active = boolProp(raw.Properties, "active")
	if v, ok := floatProp(raw.Properties, "depth"); ok {
		l.Depth = v
	} else if v, ok := floatProp(raw.Properties, "elevation"); ok {
		l.Depth = v
	}
	if v, ok := stringProp(raw.Properties, "depth_ref"); ok {
		l.DepthRef = v
	} else if v, ok := stringProp(raw.Properties, "verticalDatum"); ok {
		l.DepthRef = v
	}
	return l
}

// mapDatastream converts one Datastream record. Unknown unit maps to "".
func mapDatastream(raw rawDatastream) models.Datastream {
	d := models.Datastream{
		ID:              int64(raw.ID),
		Name:            raw.Name,
		Description:     raw.Description,
		UnitSymbol:      raw.UnitOfMeasurement.Symbol,
		UnitName:        raw.UnitOfMeasurement.Name,
		ObservationType: raw.ObservationType,
	}
	if d.Name == "" {
		d.Name = "Unnamed datastream"
	}
	return d
}

// mapObservation converts one Observation record. Result decoding (numeric
// or numeric-string, else 0) lives in models.Measurement.
func mapObservation(raw rawObservation) models.Observation {
	return models.Observation{
		ID:             raw.ID,
		PhenomenonTime: raw.PhenomenonTime,
		ResultTime:     raw.ResultTime,
		Result:         raw.Result,
		Quality:        raw.ResultQuality,
	}
}

func stringProp(props map[string]any, key string) (string, bool) {
	if props == nil {
		return "", false
	}
	v, ok := props[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func boolProp(props map[string]any, key string) bool {
	if props == nil {
		return false
	}
	switch v := props[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

func floatProp(props map[string]any, key string) (float64, bool) {
	if props == nil {
		return 0, false
	}
	switch v := props[key].(type) {
	case float64:
		return v, true
	case string:
		n, err := strconv.ParseFloat(v, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
