package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mholstad/station-dashboard-service/internal/cache"
	"github.com/mholstad/station-dashboard-service/internal/circuitbreaker"
	"github.com/mholstad/station-dashboard-service/internal/fetch"
	"github.com/mholstad/station-dashboard-service/internal/loader"
	"github.com/mholstad/station-dashboard-service/internal/models"
	"github.com/mholstad/station-dashboard-service/internal/sta"
)

// newUpstream starts a fake SensorThings server with three sensors, three
// datastreams on sensor 1, and a fixed observation window per datastream:
// a valid reading, a NaN, and another valid reading.
func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		path := r.URL.Path
		switch {
		case path == "/Things":
			fmt.Fprint(w, `{"@iot.count": 3, "value": [
				{"@iot.id": 1, "name": "Buoy North", "properties": {"category": "buoy"},
				 "Locations": [{"@iot.id": 10, "name": "Fjord Mouth"}]},
				{"@iot.id": 2, "name": "Buoy South"},
				{"@iot.id": 3, "name": "Mast West"}]}`)
		case strings.HasSuffix(path, "/Datastreams") && strings.HasPrefix(path, "/Things(1)"):
			fmt.Fprint(w, `{"@iot.count": 3, "value": [
				{"@iot.id": 101, "name": "GGS05_01 Temperature", "unitOfMeasurement": {"symbol": "°C"}},
				{"@iot.id": 102, "name": "GGS05_01 Salinity"},
				{"@iot.id": 103, "name": "GGS05_01 Dissolved Oxygen"}]}`)
		case strings.HasSuffix(path, "/Datastreams"):
			fmt.Fprint(w, `{"@iot.count": 0, "value": []}`)
		case path == "/Datastreams(101)/Observations",
			path == "/Datastreams(102)/Observations",
			path == "/Datastreams(103)/Observations":
			fmt.Fprint(w, `{"@iot.count": 3, "value": [
				{"@iot.id": 1, "phenomenonTime": "2024-03-01T10:00:00Z", "result": 5},
				{"@iot.id": 2, "phenomenonTime": "2024-03-01T11:00:00Z", "result": "NaN"},
				{"@iot.id": 3, "phenomenonTime": "2024-03-01T12:00:00Z", "result": 7}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

// newTestRouter wires the fake upstream through the real client, fetcher and
// loader into the production route table.
func newTestRouter(t *testing.T, upstreamURL string, breaker *circuitbreaker.CircuitBreaker) *mux.Router {
	t.Helper()
	apiClient, err := sta.NewClientWithRetry(upstreamURL, 2*time.Second, 1, time.Millisecond, time.Millisecond)
	if err != nil {
		t.Fatalf("sta client: %v", err)
	}
	if breaker != nil {
		apiClient.SetCircuitBreaker(breaker)
	}
	fetcher := fetch.NewFetcher(apiClient, cache.NewInMemoryCache(), fetch.Options{ChunkSize: 10})
	sensorLoader := loader.New(context.Background(), fetcher, zap.NewNop())
	h := NewHandler(fetcher, sensorLoader, zap.NewNop(), nil, breaker)

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sensors", h.ListSensors).Methods("GET")
	api.HandleFunc("/sensors/progress", h.GetSensorProgress).Methods("GET")
	api.HandleFunc("/sensors/refresh", h.RefreshSensors).Methods("POST")
	api.HandleFunc("/sensors/{id}/datastreams", h.GetSensorDatastreams).Methods("GET")
	api.HandleFunc("/locations", h.ListLocations).Methods("GET")
	api.HandleFunc("/datastreams/counts", h.GetBatchCounts).Methods("GET")
	api.HandleFunc("/datastreams/{id}/observations", h.GetDatastreamObservations).Methods("GET")
	api.HandleFunc("/datastreams/{id}/range", h.GetDatastreamDateRange).Methods("GET")
	api.HandleFunc("/chart", h.BuildChart).Methods("POST")
	return router
}

func doRequest(t *testing.T, router *mux.Router, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// TestListSensorsEndpoint verifies the sensors route returns the mapped
// catalog in a success envelope.
func TestListSensorsEndpoint(t *testing.T) {
	upstream := newUpstream(t)
	defer upstream.Close()
	router := newTestRouter(t, upstream.URL, nil)

	rec := doRequest(t, router, "GET", "/api/sensors", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var res models.Result[models.SensorList]
	decodeInto(t, rec, &res)
	if !res.Success || len(res.Data.Sensors) != 3 {
		t.Fatalf("result = %+v, want 3 sensors", res)
	}
	if res.Data.Sensors[0].Category != "buoy" {
		t.Errorf("Category = %q, want buoy", res.Data.Sensors[0].Category)
	}
}

// TestSensorDatastreamsEndpoint verifies the per-sensor datastream route and
// its id validation.
func TestSensorDatastreamsEndpoint(t *testing.T) {
	upstream := newUpstream(t)
	defer upstream.Close()
	router := newTestRouter(t, upstream.URL, nil)

	rec := doRequest(t, router, "GET", "/api/sensors/1/datastreams", "")
	var res models.Result[models.DatastreamList]
	decodeInto(t, rec, &res)
	if !res.Success || len(res.Data.Datastreams) != 3 {
		t.Fatalf("result = %+v, want 3 datastreams", res)
	}

	rec = doRequest(t, router, "GET", "/api/sensors/abc/datastreams", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid id status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INVALID_ID") {
		t.Errorf("body = %s, want INVALID_ID code", rec.Body.String())
	}
}

// TestObservationsEndpoint_Validation verifies limit and date range checks.
func TestObservationsEndpoint_Validation(t *testing.T) {
	upstream := newUpstream(t)
	defer upstream.Close()
	router := newTestRouter(t, upstream.URL, nil)

	rec := doRequest(t, router, "GET", "/api/datastreams/101/observations?limit=2000", "")
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "INVALID_LIMIT") {
		t.Errorf("limit=2000: status %d body %s, want 400 INVALID_LIMIT", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, router, "GET", "/api/datastreams/101/observations?start=2024-02-01&end=2024-01-01", "")
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "INVALID_DATE_RANGE") {
		t.Errorf("inverted range: status %d body %s, want 400 INVALID_DATE_RANGE", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, router, "GET", "/api/datastreams/101/observations?limit=10", "")
	var res models.Result[models.ObservationPage]
	decodeInto(t, rec, &res)
	if !res.Success || len(res.Data.Observations) != 3 {
		t.Fatalf("result = %+v, want 3 observations", res)
	}
}

// TestBatchCountsEndpoint verifies the count map and its ids validation.
func TestBatchCountsEndpoint(t *testing.T) {
	upstream := newUpstream(t)
	defer upstream.Close()
	router := newTestRouter(t, upstream.URL, nil)

	rec := doRequest(t, router, "GET", "/api/datastreams/counts?ids=1,2", "")
	var res models.Result[map[string]int]
	decodeInto(t, rec, &res)
	if !res.Success {
		t.Fatalf("result = %+v, want success", res)
	}
	if res.Data["1"] != 3 || res.Data["2"] != 0 {
		t.Errorf("counts = %v, want 1:3 2:0", res.Data)
	}

	rec = doRequest(t, router, "GET", "/api/datastreams/counts?ids=", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty ids status = %d, want 400", rec.Code)
	}
}

// TestProgressEndpoint verifies the loading session reaches completion with
// enriched counts.
func TestProgressEndpoint(t *testing.T) {
	upstream := newUpstream(t)
	defer upstream.Close()
	router := newTestRouter(t, upstream.URL, nil)

	rec := doRequest(t, router, "GET", "/api/sensors/progress", "")
	var snap loader.Snapshot
	decodeInto(t, rec, &snap)
	if len(snap.Sensors) != 3 {
		t.Fatalf("snapshot = %+v, want 3 sensors after basic stage", snap)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec = doRequest(t, router, "GET", "/api/sensors/progress", "")
		decodeInto(t, rec, &snap)
		if snap.IsComplete {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !snap.IsComplete {
		t.Fatal("snapshot never completed")
	}
	if snap.Sensors[0].TotalDatastreams != 3 {
		t.Errorf("sensor 1 TotalDatastreams = %d, want 3", snap.Sensors[0].TotalDatastreams)
	}
}

// TestBuildChartEndpoint runs three series through the full pipeline: the
// NaN reading vanishes from points and stats on every series.
func TestBuildChartEndpoint(t *testing.T) {
	upstream := newUpstream(t)
	defer upstream.Close()
	router := newTestRouter(t, upstream.URL, nil)

	body := `{"series": [
		{"datastream_id": 101, "name": "GGS05_01 Temperature"},
		{"datastream_id": 102, "name": "GGS05_01 Salinity"},
		{"datastream_id": 103, "name": "GGS05_01 Dissolved Oxygen"}]}`
	rec := doRequest(t, router, "POST", "/api/chart", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var res models.Result[chartResponse]
	decodeInto(t, rec, &res)
	if !res.Success {
		t.Fatalf("result = %+v, want success", res)
	}

	if len(res.Data.Points) != 2 {
		t.Fatalf("len(points) = %d, want 2 (NaN timestamp dropped)", len(res.Data.Points))
	}
	for _, p := range res.Data.Points {
		if len(p.Values) != 3 {
			t.Errorf("point %s has %d series, want 3", p.Timestamp, len(p.Values))
		}
	}
	if res.Data.Points[0].Timestamp != "2024-03-01T10:00:00Z" || res.Data.Points[1].Timestamp != "2024-03-01T12:00:00Z" {
		t.Errorf("timestamps = [%s %s], want the two valid readings in order",
			res.Data.Points[0].Timestamp, res.Data.Points[1].Timestamp)
	}

	for _, key := range []string{"ds-101", "ds-102", "ds-103"} {
		s, ok := res.Data.Stats[key]
		if !ok {
			t.Fatalf("stats missing key %s", key)
		}
		if s.Min != 5 || s.Max != 7 || s.Mean != 6 || s.Latest != 7 || s.Count != 2 {
			t.Errorf("stats[%s] = %+v, want min 5 max 7 mean 6 latest 7 count 2", key, s)
		}
	}

	if res.Data.Labels["ds-101"] != "Temperature" {
		t.Errorf("label ds-101 = %q, want Temperature", res.Data.Labels["ds-101"])
	}
	if res.Data.Labels["ds-103"] != "Dissolved Oxygen" {
		t.Errorf("label ds-103 = %q, want Dissolved Oxygen", res.Data.Labels["ds-103"])
	}
}

// TestBuildChartEndpoint_Normalized verifies normalization with Raw
// retention over the HTTP surface.
func TestBuildChartEndpoint_Normalized(t *testing.T) {
	upstream := newUpstream(t)
	defer upstream.Close()
	router := newTestRouter(t, upstream.URL, nil)

	body := `{"series": [{"datastream_id": 101}], "normalize": true}`
	rec := doRequest(t, router, "POST", "/api/chart", body)
	var res models.Result[chartResponse]
	decodeInto(t, rec, &res)
	if !res.Success || len(res.Data.Points) != 2 {
		t.Fatalf("result = %+v, want 2 normalized points", res)
	}
	if res.Data.Points[0].Values["ds-101"] != 0 || res.Data.Points[1].Values["ds-101"] != 1 {
		t.Errorf("normalized values = [%v %v], want [0 1]",
			res.Data.Points[0].Values["ds-101"], res.Data.Points[1].Values["ds-101"])
	}
	if res.Data.Points[0].Raw["ds-101"] != 5 || res.Data.Points[1].Raw["ds-101"] != 7 {
		t.Errorf("raw values = [%v %v], want [5 7]",
			res.Data.Points[0].Raw["ds-101"], res.Data.Points[1].Raw["ds-101"])
	}
}

// TestBuildChartEndpoint_PartialFailure verifies a failing series is
// reported in errors while the rest of the chart renders.
func TestBuildChartEndpoint_PartialFailure(t *testing.T) {
	upstream := newUpstream(t)
	defer upstream.Close()
	router := newTestRouter(t, upstream.URL, nil)

	body := `{"series": [{"datastream_id": 101}, {"datastream_id": 999}]}`
	rec := doRequest(t, router, "POST", "/api/chart", body)
	var res models.Result[chartResponse]
	decodeInto(t, rec, &res)
	if !res.Success {
		t.Fatalf("result = %+v, want success with partial data", res)
	}
	if len(res.Data.Points) != 2 {
		t.Errorf("len(points) = %d, want 2 from the surviving series", len(res.Data.Points))
	}
	if _, ok := res.Data.Errors["ds-999"]; !ok {
		t.Errorf("errors = %v, want entry for ds-999", res.Data.Errors)
	}
	if _, ok := res.Data.Stats["ds-999"]; ok {
		t.Error("stats contain the failed series")
	}
}

// TestBuildChartEndpoint_Validation verifies body and series bounds checks.
func TestBuildChartEndpoint_Validation(t *testing.T) {
	upstream := newUpstream(t)
	defer upstream.Close()
	router := newTestRouter(t, upstream.URL, nil)

	rec := doRequest(t, router, "POST", "/api/chart", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, router, "POST", "/api/chart", `{"series": []}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty series status = %d, want 400", rec.Code)
	}

	var many []string
	for i := 0; i < 11; i++ {
		many = append(many, fmt.Sprintf(`{"datastream_id": %d}`, i+1))
	}
	rec = doRequest(t, router, "POST", "/api/chart", `{"series": [`+strings.Join(many, ",")+`]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("11 series status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, router, "POST", "/api/chart", `{"series": [{"datastream_id": -1}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative id status = %d, want 400", rec.Code)
	}
}

// TestDateRangeEndpoint verifies the range route shape.
func TestDateRangeEndpoint(t *testing.T) {
	upstream := newUpstream(t)
	defer upstream.Close()
	router := newTestRouter(t, upstream.URL, nil)

	rec := doRequest(t, router, "GET", "/api/datastreams/101/range", "")
	var rng models.DateRange
	decodeInto(t, rec, &rng)
	if rng.StartDate == "" || rng.EndDate == "" {
		t.Errorf("range = %+v, want populated bounds", rng)
	}
}

// TestHealthEndpoint verifies the healthy and breaker-open responses.
func TestHealthEndpoint(t *testing.T) {
	upstream := newUpstream(t)
	defer upstream.Close()

	router := newTestRouter(t, upstream.URL, nil)
	rec := doRequest(t, router, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"healthy"`) {
		t.Errorf("body = %s, want healthy", rec.Body.String())
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, Cooldown: time.Hour})
	_ = breaker.Call(context.Background(), func() error { return fmt.Errorf("down") })
	router = newTestRouter(t, upstream.URL, breaker)
	rec = doRequest(t, router, "GET", "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("open-breaker status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"degraded"`) {
		t.Errorf("body = %s, want degraded", rec.Body.String())
	}
}
