package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mholstad/station-dashboard-service/internal/cache"
	"github.com/mholstad/station-dashboard-service/internal/circuitbreaker"
	"github.com/mholstad/station-dashboard-service/internal/config"
	"github.com/mholstad/station-dashboard-service/internal/fetch"
	httphandler "github.com/mholstad/station-dashboard-service/internal/http"
	"github.com/mholstad/station-dashboard-service/internal/loader"
	"github.com/mholstad/station-dashboard-service/internal/observability"
	"github.com/mholstad/station-dashboard-service/internal/sta"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	apiClient, err := sta.NewClientWithRetry(
		cfg.SensorAPIURL,
		cfg.SensorAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		logger.Fatal("sensor api client", zap.Error(err))
	}

	var breaker *circuitbreaker.CircuitBreaker
	if cfg.CircuitBreakerEnabled {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Cooldown:         cfg.CircuitBreakerCooldown,
			Component:        "sensor_api",
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition("sensor_api", from.String(), to.String())
				observability.CircuitBreakerState.WithLabelValues("sensor_api").Set(float64(to))
			},
		})
		apiClient.SetCircuitBreaker(breaker)
		observability.CircuitBreakerState.WithLabelValues("sensor_api").Set(0)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("cooldown", cfg.CircuitBreakerCooldown))
	}

	var responseCache cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		responseCache = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		responseCache = cache.NewInMemoryCacheWithCap(cfg.CacheMaxEntries, cfg.CacheEvictBatch)
		logger.Info("cache backend: in_memory",
			zap.Int("max_entries", cfg.CacheMaxEntries),
			zap.Int("evict_batch", cfg.CacheEvictBatch))
	}

	fetcher := fetch.NewFetcher(apiClient, responseCache, fetch.Options{
		TTLs:            fetch.TTLs{Catalog: cfg.CatalogTTL, Observations: cfg.ObservationsTTL},
		ListTop:         cfg.ListTop,
		DefaultObsLimit: cfg.DefaultObsLimit,
		ChunkSize:       cfg.BatchChunkSize,
		CoalesceTimeout: cfg.CoalesceTimeout,
	})

	appCtx, stopApp := context.WithCancel(context.Background())
	defer stopApp()

	sensorLoader := loader.New(appCtx, fetcher, logger)

	if cfg.WarmCache {
		warmer := cache.NewWarmer(fetcher, logger)
		warmCtx, warmCancel := context.WithTimeout(appCtx, 30*time.Second)
		if err := warmer.Warm(warmCtx); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(appCtx, cfg.WarmInterval); err != nil && err != context.Canceled {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	var cachePing func() error
	if memcacheCloser != nil {
		cachePing = memcacheCloser.Ping
	}
	handler := httphandler.NewHandler(fetcher, sensorLoader, logger, cachePing, breaker)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())

	api := router.PathPrefix("/api").Subrouter()
	api.Use(httphandler.RateLimitMiddleware(limiter))
	api.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	api.HandleFunc("/sensors", handler.ListSensors).Methods("GET")
	api.HandleFunc("/sensors/progress", handler.GetSensorProgress).Methods("GET")
	api.HandleFunc("/sensors/refresh", handler.RefreshSensors).Methods("POST")
	api.HandleFunc("/sensors/{id}/datastreams", handler.GetSensorDatastreams).Methods("GET")
	api.HandleFunc("/locations", handler.ListLocations).Methods("GET")
	api.HandleFunc("/datastreams/counts", handler.GetBatchCounts).Methods("GET")
	api.HandleFunc("/datastreams/{id}/observations", handler.GetDatastreamObservations).Methods("GET")
	api.HandleFunc("/datastreams/{id}/range", handler.GetDatastreamDateRange).Methods("GET")
	api.HandleFunc("/chart", handler.BuildChart).Methods("POST")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", ":"+cfg.ServerPort),
			zap.String("sensor_api", cfg.SensorAPIURL))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	stopApp()
	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
