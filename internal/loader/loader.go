// Package loader implements progressive loading of the sensor catalog: a
// fast coarse list first, then asynchronous enrichment of each sensor's
// datastream count via the batch resolver.
package loader

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mholstad/station-dashboard-service/internal/models"
	"github.com/mholstad/station-dashboard-service/internal/observability"
)

// Fetcher is the subset of the fetch layer the loader drives.
type Fetcher interface {
	ListSensors(ctx context.Context) models.Result[models.SensorList]
	GetBatchDatastreamCounts(ctx context.Context, sensorIDs []int64) map[int64]int
}

// Snapshot is the observable loading state of the current session. The coarse
// list is always present before counts; consumers must tolerate a zero
// TotalDatastreams until IsComplete.
type Snapshot struct {
	Sensors         []models.Sensor `json:"sensors"`
	TotalCount      int             `json:"total_count"`
	IsLoadingBasic  bool            `json:"is_loading_basic"`
	IsLoadingCounts bool            `json:"is_loading_counts"`
	IsComplete      bool            `json:"is_complete"`
	Error           string          `json:"error,omitempty"`
}

// Loader runs loading sessions. Each session is tagged with a generation;
// results arriving for a superseded generation are discarded, so a slow
// first load can never overwrite a newer refetch.
type Loader struct {
	fetcher Fetcher
	logger  *zap.Logger
	baseCtx context.Context // app-lifetime context for the async count stage

	mu         sync.Mutex
	generation uint64
	state      Snapshot
}

// New creates a Loader. baseCtx bounds the asynchronous count stage and
// should live as long as the application.
func New(baseCtx context.Context, fetcher Fetcher, logger *zap.Logger) *Loader {
	return &Loader{
		fetcher: fetcher,
		logger:  logger,
		baseCtx: baseCtx,
		state:   Snapshot{Sensors: []models.Sensor{}},
	}
}

// Snapshot returns a copy of the current loading state.
func (l *Loader) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.copyStateLocked()
}

// EnsureLoaded starts the first session if none has run yet and returns the
// current snapshot. Subsequent calls are cheap reads.
func (l *Loader) EnsureLoaded(ctx context.Context) Snapshot {
	l.mu.Lock()
	started := l.generation > 0
	l.mu.Unlock()
	if started {
		return l.Snapshot()
	}
	return l.Refetch(ctx)
}

// Refetch starts a new session: the coarse list loads synchronously (the
// returned snapshot already contains it), then the count stage continues in
// the background. The previous list is retained during the basic phase so
// consumers never observe an empty flash.
func (l *Loader) Refetch(ctx context.Context) Snapshot {
	l.mu.Lock()
	l.generation++
	gen := l.generation
	l.state.IsLoadingBasic = true
	l.state.IsLoadingCounts = false
	l.state.IsComplete = false
	l.state.Error = ""
	l.mu.Unlock()

	res := l.fetcher.ListSensors(ctx)

	l.mu.Lock()
	if gen != l.generation {
		observability.LoaderStaleResultsDroppedTotal.Inc()
		snap := l.copyStateLocked()
		l.mu.Unlock()
		return snap
	}
	if !res.Success {
		observability.LoaderStagesTotal.WithLabelValues("basic", "error").Inc()
		l.state.IsLoadingBasic = false
		l.state.Error = res.Error
		snap := l.copyStateLocked()
		l.mu.Unlock()
		if l.logger != nil {
			l.logger.Warn("sensor list load failed", zap.String("error", res.Error))
		}
		return snap
	}

	observability.LoaderStagesTotal.WithLabelValues("basic", "success").Inc()
	l.state.Sensors = res.Data.Sensors
	l.state.TotalCount = res.Data.TotalCount
	l.state.IsLoadingBasic = false
	l.state.IsLoadingCounts = true
	ids := make([]int64, len(res.Data.Sensors))
	for i, s := range res.Data.Sensors {
		ids[i] = s.ID
	}
	snap := l.copyStateLocked()
	l.mu.Unlock()

	go l.loadCounts(gen, ids)
	return snap
}

// loadCounts runs the enrichment stage for one session and applies the
// resolved counts unless the session has been superseded.
func (l *Loader) loadCounts(gen uint64, ids []int64) {
	counts := l.fetcher.GetBatchDatastreamCounts(l.baseCtx, ids)

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.generation {
		observability.LoaderStaleResultsDroppedTotal.Inc()
		return
	}

	enriched := make([]models.Sensor, len(l.state.Sensors))
	copy(enriched, l.state.Sensors)
	for i := range enriched {
		if n, ok := counts[enriched[i].ID]; ok {
			enriched[i].TotalDatastreams = n
		}
	}
	l.state.Sensors = enriched
	l.state.IsLoadingCounts = false
	l.state.IsComplete = true
	observability.LoaderStagesTotal.WithLabelValues("counts", "success").Inc()
	if l.logger != nil {
		l.logger.Debug("count enrichment complete", zap.Int("sensors", len(enriched)))
	}
}

// copyStateLocked snapshots the state with an independent sensor slice.
// Caller holds l.mu.
func (l *Loader) copyStateLocked() Snapshot {
	snap := l.state
	snap.Sensors = make([]models.Sensor, len(l.state.Sensors))
	copy(snap.Sensors, l.state.Sensors)
	return snap
}
