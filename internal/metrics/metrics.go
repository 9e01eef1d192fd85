// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abelbrown/chatfeed/internal/logging"
)

var (
	// FetchTotal counts per-source fetches by result ("ok" or "error").
	FetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatfeed_fetch_total",
			Help: "Per-source page fetches by result.",
		},
		[]string{"result"},
	)

	FetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatfeed_fetch_duration_seconds",
			Help:    "Latency of a single source page fetch.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// LoadTotal counts completed fan-outs by kind ("initial", "older", "poll").
	LoadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatfeed_load_total",
			Help: "Completed aggregation fan-outs by kind.",
		},
		[]string{"kind"},
	)

	BusyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatfeed_load_busy_total",
			Help: "Load requests rejected because another load was in flight.",
		},
	)

	PresetPersistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatfeed_preset_persist_failures_total",
			Help: "Failed attempts to write the preset collection.",
		},
	)

	TimelineItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatfeed_timeline_items",
			Help: "Items in the canonical and filtered timelines.",
		},
		[]string{"timeline"},
	)

	heapAlloc = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "chatfeed_heap_alloc_bytes",
			Help: "Current heap allocation in bytes.",
		},
		func() float64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return float64(stats.HeapAlloc)
		},
	)
)

func init() {
	prometheus.MustRegister(FetchTotal)
	prometheus.MustRegister(FetchDuration)
	prometheus.MustRegister(LoadTotal)
	prometheus.MustRegister(BusyTotal)
	prometheus.MustRegister(PresetPersistFailures)
	prometheus.MustRegister(TimelineItems)
	prometheus.MustRegister(heapAlloc)
}

// ObserveFetch records one source fetch.
func ObserveFetch(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	FetchTotal.WithLabelValues(result).Inc()
	FetchDuration.Observe(d.Seconds())
}

// SetTimeline records the current timeline sizes.
func SetTimeline(canonical, filtered int) {
	TimelineItems.WithLabelValues("canonical").Set(float64(canonical))
	TimelineItems.WithLabelValues("filtered").Set(float64(filtered))
}

// Handler returns the /metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve runs a metrics endpoint on addr until ctx is cancelled.
// An empty addr disables the endpoint.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
