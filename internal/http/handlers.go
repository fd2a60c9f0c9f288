package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mholstad/station-dashboard-service/internal/chart"
	"github.com/mholstad/station-dashboard-service/internal/circuitbreaker"
	"github.com/mholstad/station-dashboard-service/internal/fetch"
	"github.com/mholstad/station-dashboard-service/internal/loader"
	"github.com/mholstad/station-dashboard-service/internal/models"
	"github.com/mholstad/station-dashboard-service/internal/observability"
	"github.com/mholstad/station-dashboard-service/internal/validation"
)

// MaxObservationLimit bounds the limit query parameter.
const MaxObservationLimit = 1000

// MaxChartSeries bounds the number of series a chart request may combine.
const MaxChartSeries = 10

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	fetcher *fetch.Fetcher
	loader  *loader.Loader
	logger  *zap.Logger
	// CachePing, when set, checks cache reachability for /health
	// (used when the backend is memcached).
	cachePing func() error
	// breaker, when set, reports upstream circuit state for /health.
	breaker   *circuitbreaker.CircuitBreaker
	startTime time.Time
}

// NewHandler returns a new Handler.
func NewHandler(fetcher *fetch.Fetcher, sensorLoader *loader.Loader, logger *zap.Logger, cachePing func() error, breaker *circuitbreaker.CircuitBreaker) *Handler {
	return &Handler{
		fetcher:   fetcher,
		loader:    sensorLoader,
		logger:    logger,
		cachePing: cachePing,
		breaker:   breaker,
		startTime: time.Now(),
	}
}

// ListSensors handles GET /api/sensors.
func (h *Handler) ListSensors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.fetcher.ListSensors(r.Context()))
}

// GetSensorProgress handles GET /api/sensors/progress. The first call kicks
// off a loading session; the coarse list is present in the response even
// while counts are still resolving.
func (h *Handler) GetSensorProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.loader.EnsureLoaded(r.Context()))
}

// RefreshSensors handles POST /api/sensors/refresh.
func (h *Handler) RefreshSensors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.loader.Refetch(r.Context()))
}

// ListLocations handles GET /api/locations.
func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.fetcher.ListLocations(r.Context()))
}

// GetSensorDatastreams handles GET /api/sensors/{id}/datastreams.
func (h *Handler) GetSensorDatastreams(w http.ResponseWriter, r *http.Request) {
	id, err := validation.ValidateID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_ID", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.fetcher.GetSensorDatastreams(r.Context(), id))
}

// GetDatastreamObservations handles
// GET /api/datastreams/{id}/observations?limit=&start=&end=.
func (h *Handler) GetDatastreamObservations(w http.ResponseWriter, r *http.Request) {
	id, err := validation.ValidateID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_ID", err.Error())
		return
	}
	limit, err := validation.ValidateLimit(r.URL.Query().Get("limit"), MaxObservationLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LIMIT", err.Error())
		return
	}
	start, end, err := validation.ValidateDateRange(r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_DATE_RANGE", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.fetcher.GetDatastreamObservations(r.Context(), id, limit, start, end))
}

// GetDatastreamDateRange handles GET /api/datastreams/{id}/range.
func (h *Handler) GetDatastreamDateRange(w http.ResponseWriter, r *http.Request) {
	id, err := validation.ValidateID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_ID", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.fetcher.GetDatastreamDateRange(r.Context(), id))
}

// GetBatchCounts handles GET /api/datastreams/counts?ids=1,2,3.
func (h *Handler) GetBatchCounts(w http.ResponseWriter, r *http.Request) {
	ids, err := validation.ValidateIDList(r.URL.Query().Get("ids"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_IDS", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models.Ok(h.fetcher.GetBatchDatastreamCounts(r.Context(), ids)))
}

// chartSeriesRequest selects one datastream for a chart.
type chartSeriesRequest struct {
	DatastreamID int64  `json:"datastream_id"`
	Name         string `json:"name,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
}

type chartRequest struct {
	Series    []chartSeriesRequest `json:"series"`
	Normalize bool                 `json:"normalize"`
}

// chartResponse carries merged points plus per-series stats and labels.
// Keys are datastream ids rendered as strings. Errors lists series that
// failed to load; the rest of the chart still renders.
type chartResponse struct {
	Points    []chart.Point          `json:"points"`
	Stats     map[string]chart.Stats `json:"stats"`
	Labels    map[string]string      `json:"labels"`
	IsLimited map[string]bool        `json:"is_limited"`
	Errors    map[string]string      `json:"errors,omitempty"`
}

// BuildChart handles POST /api/chart: fetches the requested series and runs
// them through the chart pipeline.
func (h *Handler) BuildChart(w http.ResponseWriter, r *http.Request) {
	var req chartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
		return
	}
	if len(req.Series) == 0 || len(req.Series) > MaxChartSeries {
		writeError(w, r, http.StatusBadRequest, "INVALID_SERIES", "between 1 and 10 series required")
		return
	}
	for _, s := range req.Series {
		if s.DatastreamID <= 0 {
			writeError(w, r, http.StatusBadRequest, "INVALID_ID", validation.ErrInvalidID.Error())
			return
		}
		if _, _, err := validation.ValidateDateRange(s.StartDate, s.EndDate); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_DATE_RANGE", err.Error())
			return
		}
	}

	resp := chartResponse{
		Stats:     make(map[string]chart.Stats),
		Labels:    make(map[string]string),
		IsLimited: make(map[string]bool),
	}
	inputs := make([]chart.SeriesInput, 0, len(req.Series))
	keys := make([]string, 0, len(req.Series))
	failures := make(map[string]string)

	for _, s := range req.Series {
		key := keyForDatastream(s.DatastreamID)
		res := h.fetcher.GetDatastreamObservations(r.Context(), s.DatastreamID, s.Limit, s.StartDate, s.EndDate)
		if !res.Success {
			failures[key] = res.Error
			continue
		}
		inputs = append(inputs, chart.SeriesInput{Key: key, Observations: res.Data.Observations})
		keys = append(keys, key)
		resp.Stats[key] = chart.ComputeStats(res.Data.Observations)
		resp.IsLimited[key] = res.Data.IsLimited
		if s.Name != "" {
			resp.Labels[key] = chart.DisplayName(s.Name)
		}
	}

	if len(inputs) == 0 {
		msg := "Unable to load any chart series"
		for _, m := range failures {
			msg = m
			break
		}
		writeJSON(w, http.StatusOK, models.Fail(resp, msg))
		return
	}

	resp.Points = chart.Merge(inputs)
	if req.Normalize {
		resp.Points = chart.Normalize(resp.Points, keys)
	}
	if len(failures) > 0 {
		resp.Errors = failures
	}
	writeJSON(w, http.StatusOK, models.Ok(resp))
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	statusCode := http.StatusOK
	checks := make(map[string]string)

	checks["sensorApi"] = "healthy"
	if h.breaker != nil && h.breaker.State() == circuitbreaker.StateOpen {
		checks["sensorApi"] = "unhealthy"
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}
	if h.cachePing != nil {
		if h.cachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, statusCode, map[string]interface{}{
		"status":    status,
		"service":   "station-dashboard-service",
		"version":   "dev",
		"checks":    checks,
		"uptime":    time.Since(h.startTime).Truncate(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func keyForDatastream(id int64) string {
	return "ds-" + strconv.FormatInt(id, 10)
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code,
// message, and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := observability.CorrelationIDFromContext(r.Context())
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}
