package models

import (
	"encoding/json"
	"math"
	"testing"
)

// TestMeasurement_RoundTrip verifies finite and non-finite values survive a
// marshal/unmarshal cycle, since cached payloads are re-decoded.
func TestMeasurement_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value float64
	}{
		{"finite", 4.25},
		{"negative", -17.5},
		{"zero", 0},
		{"nan", math.NaN()},
		{"positive inf", math.Inf(1)},
		{"negative inf", math.Inf(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(Measurement(tt.value))
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			var back Measurement
			if err := json.Unmarshal(raw, &back); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", raw, err)
			}
			got := float64(back)
			if math.IsNaN(tt.value) {
				if !math.IsNaN(got) {
					t.Errorf("round trip = %v, want NaN", got)
				}
				return
			}
			if got != tt.value {
				t.Errorf("round trip = %v, want %v", got, tt.value)
			}
		})
	}
}

// TestMeasurement_UnmarshalShapes verifies the accepted upstream result
// encodings and the unparsable-to-zero fallback.
func TestMeasurement_UnmarshalShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
	}{
		{"number", `5.2`, 5.2},
		{"integer", `7`, 7},
		{"numeric string", `"3.14"`, 3.14},
		{"padded string", `" 2.5 "`, 2.5},
		{"word string", `"sensor offline"`, 0},
		{"null", `null`, 0},
		{"object", `{"v": 1}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Measurement
			if err := json.Unmarshal([]byte(tt.raw), &m); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", tt.raw, err)
			}
			if float64(m) != tt.want {
				t.Errorf("Unmarshal(%s) = %v, want %v", tt.raw, float64(m), tt.want)
			}
		})
	}
}

// TestQuality_UnmarshalVariants verifies both upstream resultQuality shapes.
func TestQuality_UnmarshalVariants(t *testing.T) {
	var q Quality
	if err := json.Unmarshal([]byte(`"good"`), &q); err != nil {
		t.Fatalf("Unmarshal(string) error = %v", err)
	}
	if q.Simple != "good" || q.Detail != nil || q.Label() != "good" {
		t.Errorf("string form = %+v, want Simple=good", q)
	}

	if err := json.Unmarshal([]byte(`{"status": "flagged", "reason": "drift"}`), &q); err != nil {
		t.Fatalf("Unmarshal(object) error = %v", err)
	}
	if q.Detail == nil || q.Detail.Status != "flagged" || q.Detail.Reason != "drift" {
		t.Fatalf("object form = %+v, want structured detail", q)
	}
	if q.Simple != "" {
		t.Errorf("Simple = %q after object decode, want empty", q.Simple)
	}
	if q.Label() != "flagged" {
		t.Errorf("Label() = %q, want flagged", q.Label())
	}

	if err := json.Unmarshal([]byte(`{"quality": "B"}`), &q); err != nil {
		t.Fatalf("Unmarshal(quality-only) error = %v", err)
	}
	if q.Label() != "B" {
		t.Errorf("Label() = %q, want quality fallback B", q.Label())
	}
}

// TestQuality_IsZero verifies absence detection.
func TestQuality_IsZero(t *testing.T) {
	if !(Quality{}).IsZero() {
		t.Error("zero Quality IsZero() = false")
	}
	if (Quality{Simple: "good"}).IsZero() {
		t.Error("simple Quality IsZero() = true")
	}
	if (Quality{Detail: &StructuredQuality{}}).IsZero() {
		t.Error("structured Quality IsZero() = true")
	}
}

// TestResult_Envelopes verifies the Ok and Fail constructors.
func TestResult_Envelopes(t *testing.T) {
	ok := Ok(SensorList{TotalCount: 3})
	if !ok.Success || ok.Error != "" || ok.Data.TotalCount != 3 {
		t.Errorf("Ok() = %+v, want success with data", ok)
	}

	fail := Fail(SensorList{Sensors: []Sensor{}}, "upstream down")
	if fail.Success || fail.Error != "upstream down" {
		t.Errorf("Fail() = %+v, want failure with message", fail)
	}
	if fail.Data.Sensors == nil {
		t.Error("Fail() data slice = nil, want empty-shaped default")
	}
}
