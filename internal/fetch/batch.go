package fetch

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/mholstad/station-dashboard-service/internal/observability"
	"github.com/mholstad/station-dashboard-service/internal/sta"
)

// GetBatchDatastreamCounts resolves the datastream count for many sensors at
// once. Ids already cached answer immediately; the rest are resolved in
// fixed-size chunks, all requests within a chunk in flight together and the
// next chunk starting only after the previous one has fully settled. This
// caps simultaneous outstanding requests at the chunk size. Per-id failures
// degrade to a count of 0; the batch as a whole always returns a complete map.
func (f *Fetcher) GetBatchDatastreamCounts(ctx context.Context, sensorIDs []int64) map[int64]int {
	counts := make(map[int64]int, len(sensorIDs))

	var unresolved []int64
	for _, id := range sensorIDs {
		if n, ok := f.cachedCount(ctx, id); ok {
			counts[id] = n
			continue
		}
		unresolved = append(unresolved, id)
	}
	if len(unresolved) == 0 {
		return counts
	}

	var mu sync.Mutex
	for start := 0; start < len(unresolved); start += f.chunkSize {
		end := start + f.chunkSize
		if end > len(unresolved) {
			end = len(unresolved)
		}
		chunk := unresolved[start:end]

		observability.BatchWavesTotal.Inc()
		observability.BatchChunkSize.Observe(float64(len(chunk)))

		var wg sync.WaitGroup
		for _, id := range chunk {
			id := id
			wg.Add(1)
			go func() {
				defer wg.Done()
				n := f.resolveCount(ctx, id)
				mu.Lock()
				counts[id] = n
				mu.Unlock()
			}()
		}
		wg.Wait()
	}
	return counts
}

// countSignature is the cache key for one sensor's datastream count probe.
func countSignature(sensorID int64) string {
	path := fmt.Sprintf("Things(%d)/Datastreams", sensorID)
	return sta.Signature(path, sta.Query{Count: true})
}

// cachedCount answers a count from the response cache without any network.
func (f *Fetcher) cachedCount(ctx context.Context, sensorID int64) (int, bool) {
	payload, ok, err := f.cache.Get(ctx, countSignature(sensorID))
	if err != nil || !ok {
		return 0, false
	}
	n, err := strconv.Atoi(string(payload))
	if err != nil {
		return 0, false
	}
	observability.CacheHitsTotal.WithLabelValues("counts").Inc()
	return n, true
}

// resolveCount fetches one sensor's datastream count with a $top=0&$count=true
// probe and caches it with the catalog TTL. Failure degrades to 0, uncached so
// the next batch retries.
func (f *Fetcher) resolveCount(ctx context.Context, sensorID int64) int {
	path := fmt.Sprintf("Things(%d)/Datastreams", sensorID)
	env, err := f.api.GetCollection(ctx, path, sta.Query{Count: true})
	if err != nil {
		observability.BatchCountFailuresTotal.Inc()
		if logger := observability.LoggerFromContext(ctx); logger != nil {
			logger.Debug("count resolution failed", zap.Int64("sensor_id", sensorID), zap.Error(err))
		}
		return 0
	}
	n := countFromEnvelope(env)
	if setErr := f.cache.Set(ctx, countSignature(sensorID), []byte(strconv.Itoa(n)), f.ttls.Catalog); setErr == nil {
		f.recordCacheSize()
	}
	return n
}

// countFromEnvelope prefers @iot.count; servers ignoring $top=0 still report
// a value array whose length is the count.
func countFromEnvelope(env sta.Envelope) int {
	if env.Count != nil && *env.Count >= 0 {
		return int(*env.Count)
	}
	return len(env.Value)
}
