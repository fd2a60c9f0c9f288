package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mholstad/station-dashboard-service/internal/cache"
	"github.com/mholstad/station-dashboard-service/internal/models"
	"github.com/mholstad/station-dashboard-service/internal/observability"
	"github.com/mholstad/station-dashboard-service/internal/sta"
)

// TTLs hold per-entity-type cache lifetimes. Catalog data (sensors,
// locations, datastreams, counts, date ranges) changes slowly; observations
// are fresh readings and expire quickly.
type TTLs struct {
	Catalog      time.Duration
	Observations time.Duration
}

// DefaultTTLs returns the standard cache lifetimes.
func DefaultTTLs() TTLs {
	return TTLs{Catalog: 5 * time.Minute, Observations: 90 * time.Second}
}

// Options tune the fetcher beyond its dependencies.
type Options struct {
	TTLs            TTLs
	ListTop         int           // row limit for catalog list fetches
	DefaultObsLimit int           // observation limit when the caller passes none
	ChunkSize       int           // batch count resolver chunk size
	CoalesceTimeout time.Duration // max wait on an identical in-flight fetch
}

// Fetcher implements the entity fetchers: every operation builds a request
// signature, consults the response cache, on miss calls the SensorThings API,
// maps records into domain shapes, and returns a Result envelope. Errors
// never cross this boundary as panics or raw errors.
type Fetcher struct {
	api       sta.API
	cache     cache.Cache
	ttls      TTLs
	listTop   int
	obsLimit  int
	chunkSize int
	coalescer *requestCoalescer
}

// NewFetcher creates a Fetcher. Zero option fields take defaults.
func NewFetcher(api sta.API, c cache.Cache, opts Options) *Fetcher {
	if opts.TTLs.Catalog <= 0 {
		opts.TTLs.Catalog = DefaultTTLs().Catalog
	}
	if opts.TTLs.Observations <= 0 {
		opts.TTLs.Observations = DefaultTTLs().Observations
	}
	if opts.ListTop <= 0 {
		opts.ListTop = 100
	}
	if opts.DefaultObsLimit <= 0 {
		opts.DefaultObsLimit = 50
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 10
	}
	if opts.CoalesceTimeout <= 0 {
		opts.CoalesceTimeout = 10 * time.Second
	}
	return &Fetcher{
		api:       api,
		cache:     c,
		ttls:      opts.TTLs,
		listTop:   opts.ListTop,
		obsLimit:  opts.DefaultObsLimit,
		chunkSize: opts.ChunkSize,
		coalescer: newRequestCoalescer(opts.CoalesceTimeout),
	}
}

// ListSensors fetches the coarse sensor catalog with embedded location names.
// TotalDatastreams is left at 0; the progressive loader fills it in.
func (f *Fetcher) ListSensors(ctx context.Context) models.Result[models.SensorList] {
	q := sta.Query{Top: f.listTop, Count: true, Expand: "Locations"}
	sig := sta.Signature("Things", q)

	list, err := fetchCached(ctx, f, "sensors", sig, f.ttls.Catalog, func(ctx context.Context) (models.SensorList, error) {
		env, err := f.api.GetCollection(ctx, "Things", q)
		if err != nil {
			return models.SensorList{}, err
		}
		out := models.SensorList{Sensors: make([]models.Sensor, 0, len(env.Value))}
		for _, rec := range env.Value {
			var raw rawThing
			if err := json.Unmarshal(rec, &raw); err != nil {
				continue
			}
			out.Sensors = append(out.Sensors, mapSensor(raw))
		}
		out.TotalCount = totalCount(env, len(out.Sensors))
		return out, nil
	})
	if err != nil {
		return models.Fail(models.SensorList{Sensors: []models.Sensor{}}, userMessage("sensors", err))
	}
	return models.Ok(list)
}

// ListLocations fetches the location catalog.
func (f *Fetcher) ListLocations(ctx context.Context) models.Result[models.LocationList] {
	q := sta.Query{Top: f.listTop, Count: true}
	sig := sta.Signature("Locations", q)

	list, err := fetchCached(ctx, f, "locations", sig, f.ttls.Catalog, func(ctx context.Context) (models.LocationList, error) {
		env, err := f.api.GetCollection(ctx, "Locations", q)
		if err != nil {
			return models.LocationList{}, err
		}
		out := models.LocationList{Locations: make([]models.Location, 0, len(env.Value))}
		for _, rec := range env.Value {
			var raw rawLocation
			if err := json.Unmarshal(rec, &raw); err != nil {
				continue
			}
			out.Locations = append(out.Locations, mapLocation(raw))
		}
		out.TotalCount = totalCount(env, len(out.Locations))
		return out, nil
	})
	if err != nil {
		return models.Fail(models.LocationList{Locations: []models.Location{}}, userMessage("locations", err))
	}
	return models.Ok(list)
}

// GetSensorDatastreams fetches the datastreams of one sensor.
func (f *Fetcher) GetSensorDatastreams(ctx context.Context, sensorID int64) models.Result[models.DatastreamList] {
	path := fmt.Sprintf("Things(%d)/Datastreams", sensorID)
	q := sta.Query{Top: f.listTop}
	sig := sta.Signature(path, q)

	list, err := fetchCached(ctx, f, "datastreams", sig, f.ttls.Catalog, func(ctx context.Context) (models.DatastreamList, error) {
		env, err := f.api.GetCollection(ctx, path, q)
		if err != nil {
			return models.DatastreamList{}, err
		}
		out := models.DatastreamList{
			Datastreams: make([]models.Datastream, 0, len(env.Value)),
			SensorID:    sensorID,
		}
		for _, rec := range env.Value {
			var raw rawDatastream
			if err := json.Unmarshal(rec, &raw); err != nil {
				continue
			}
			out.Datastreams = append(out.Datastreams, mapDatastream(raw))
		}
		return out, nil
	})
	if err != nil {
		return models.Fail(models.DatastreamList{Datastreams: []models.Datastream{}, SensorID: sensorID}, userMessage("datastreams", err))
	}
	return models.Ok(list)
}

// GetDatastreamObservations fetches observations for a datastream. With no
// date range it returns the latest limit readings (descending phenomenon
// time); with a range it returns readings within inclusive UTC day bounds in
// ascending order so charts stay chronological. IsLimited reports that the
// server holds more matching rows than were requested.
func (f *Fetcher) GetDatastreamObservations(ctx context.Context, datastreamID int64, limit int, startDate, endDate string) models.Result[models.ObservationPage] {
	if limit <= 0 {
		limit = f.obsLimit
	}
	path := fmt.Sprintf("Datastreams(%d)/Observations", datastreamID)
	q := sta.Query{
		Top:     limit,
		OrderBy: "phenomenonTime",
		Desc:    startDate == "" && endDate == "",
		Count:   true,
		Filter:  sta.DayRangeFilter("phenomenonTime", startDate, endDate),
	}
	sig := sta.Signature(path, q)

	page, err := fetchCached(ctx, f, "observations", sig, f.ttls.Observations, func(ctx context.Context) (models.ObservationPage, error) {
		env, err := f.api.GetCollection(ctx, path, q)
		if err != nil {
			return models.ObservationPage{}, err
		}
		out := models.ObservationPage{
			Observations: make([]models.Observation, 0, len(env.Value)),
			DatastreamID: datastreamID,
		}
		for _, rec := range env.Value {
			var raw rawObservation
			if err := json.Unmarshal(rec, &raw); err != nil {
				continue
			}
			out.Observations = append(out.Observations, mapObservation(raw))
		}
		out.TotalCount = totalCount(env, len(out.Observations))
		out.IsLimited = out.TotalCount > limit
		return out, nil
	})
	if err != nil {
		return models.Fail(models.ObservationPage{Observations: []models.Observation{}, DatastreamID: datastreamID}, userMessage("observations", err))
	}
	return models.Ok(page)
}

// GetDatastreamDateRange returns the first and last phenomenon times for a
// datastream. Failures yield empty bounds rather than an error so callers can
// always populate a date picker.
func (f *Fetcher) GetDatastreamDateRange(ctx context.Context, datastreamID int64) models.DateRange {
	path := fmt.Sprintf("Datastreams(%d)/Observations", datastreamID)
	sig := path + "?range"

	rng, err := fetchCached(ctx, f, "date_range", sig, f.ttls.Catalog, func(ctx context.Context) (models.DateRange, error) {
		first, err := f.edgeObservationTime(ctx, path, false)
		if err != nil {
			return models.DateRange{}, err
		}
		last, err := f.edgeObservationTime(ctx, path, true)
		if err != nil {
			return models.DateRange{}, err
		}
		return models.DateRange{StartDate: first, EndDate: last}, nil
	})
	if err != nil {
		if logger := observability.LoggerFromContext(ctx); logger != nil {
			logger.Debug("date range unavailable", zap.Int64("datastream_id", datastreamID), zap.Error(err))
		}
		return models.DateRange{}
	}
	return rng
}

// edgeObservationTime fetches the single oldest (desc=false) or newest
// (desc=true) phenomenon time of a datastream.
func (f *Fetcher) edgeObservationTime(ctx context.Context, path string, desc bool) (string, error) {
	env, err := f.api.GetCollection(ctx, path, sta.Query{Top: 1, OrderBy: "phenomenonTime", Desc: desc})
	if err != nil {
		return "", err
	}
	if len(env.Value) == 0 {
		return "", nil
	}
	var raw rawObservation
	if err := json.Unmarshal(env.Value[0], &raw); err != nil {
		return "", nil
	}
	return raw.PhenomenonTime, nil
}

// fetchCached is the cache-aside core shared by every fetcher: signature
// lookup, coalesced upstream fetch on miss, cache population, decode.
func fetchCached[T any](ctx context.Context, f *Fetcher, entity, sig string, ttl time.Duration, fetchFn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if payload, ok, err := f.cache.Get(ctx, sig); err == nil && ok {
		var v T
		if err := json.Unmarshal(payload, &v); err == nil {
			observability.CacheHitsTotal.WithLabelValues(entity).Inc()
			if logger := observability.LoggerFromContext(ctx); logger != nil {
				logger.Debug("cache hit", zap.String("signature", sig))
			}
			return v, nil
		}
	}
	observability.CacheMissesTotal.WithLabelValues(entity).Inc()

	payload, coalesced, err := f.coalescer.GetOrDo(ctx, sig, func() ([]byte, error) {
		v, err := fetchFn(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if setErr := f.cache.Set(ctx, sig, raw, ttl); setErr != nil {
			if logger := observability.LoggerFromContext(ctx); logger != nil {
				logger.Warn("cache set failed", zap.String("signature", sig), zap.Error(setErr))
			}
		}
		f.recordCacheSize()
		return raw, nil
	})
	if coalesced {
		observability.CoalescedRequestsTotal.Inc()
	}
	if err != nil {
		return zero, err
	}

	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return zero, fmt.Errorf("decode cached payload: %w", err)
	}
	return v, nil
}

// recordCacheSize updates the size gauge when the backend can report it.
func (f *Fetcher) recordCacheSize() {
	if mem, ok := f.cache.(*cache.InMemoryCache); ok {
		observability.CacheSizeEntries.Set(float64(mem.Len()))
	}
}

// totalCount prefers the server-reported @iot.count, falling back to the
// returned row count when $count was not honored.
func totalCount(env sta.Envelope, returned int) int {
	if env.Count != nil && *env.Count >= 0 {
		return int(*env.Count)
	}
	return returned
}

// userMessage converts an upstream error into the human-readable string
// surfaced in Result envelopes (rendered directly in UI banners).
func userMessage(entity string, err error) string {
	switch {
	case errors.Is(err, sta.ErrTimedOut):
		return fmt.Sprintf("Timed out loading %s from the sensor service", entity)
	case errors.Is(err, sta.ErrRateLimited):
		return fmt.Sprintf("The sensor service is throttling requests; %s are temporarily unavailable", entity)
	case errors.Is(err, sta.ErrNotFound):
		return fmt.Sprintf("No %s found", entity)
	case errors.Is(err, context.Canceled):
		return fmt.Sprintf("Loading %s was cancelled", entity)
	default:
		return fmt.Sprintf("Unable to load %s: %v", entity, err)
	}
}
