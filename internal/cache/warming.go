package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mholstad/station-dashboard-service/internal/models"
)

// CatalogFetcher is implemented by the fetch layer. Declared here so the
// warmer does not depend on the fetch package directly.
type CatalogFetcher interface {
	ListSensors(ctx context.Context) models.Result[models.SensorList]
	ListLocations(ctx context.Context) models.Result[models.LocationList]
}

// Warmer prefetches the slow-changing catalog (sensors and locations) so the
// first dashboard request after startup is served from cache.
type Warmer struct {
	fetcher CatalogFetcher
	logger  *zap.Logger
}

// NewWarmer creates a Warmer using the given fetcher and logger.
func NewWarmer(fetcher CatalogFetcher, logger *zap.Logger) *Warmer {
	return &Warmer{fetcher: fetcher, logger: logger}
}

// Warm fetches sensors and locations concurrently, populating the cache via
// the fetcher. Returns an aggregated error when any fetch failed.
func (w *Warmer) Warm(ctx context.Context) error {
	start := time.Now()
	if w.logger != nil {
		w.logger.Info("warming catalog cache")
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if res := w.fetcher.ListSensors(ctx); !res.Success {
			errCh <- fmt.Errorf("warm sensors: %s", res.Error)
		}
	}()
	go func() {
		defer wg.Done()
		if res := w.fetcher.ListLocations(ctx); !res.Success {
			errCh <- fmt.Errorf("warm locations: %s", res.Error)
		}
	}()
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if w.logger != nil {
		w.logger.Info("catalog warming complete",
			zap.Int("errors", len(errs)),
			zap.Duration("duration", time.Since(start)))
	}
	if len(errs) > 0 {
		return fmt.Errorf("catalog warming: %v", errs)
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval
// until ctx is done.
func (w *Warmer) WarmPeriodic(ctx context.Context, interval time.Duration) error {
	if err := w.Warm(ctx); err != nil && w.logger != nil {
		w.logger.Warn("initial catalog warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx); err != nil && w.logger != nil {
				w.logger.Warn("periodic catalog warm failed", zap.Error(err))
			}
		}
	}
}
