// Package metrics exposes the render node's Prometheus collectors. Every Metrics value
// owns its registry, so tests and multiple engines never collide on registration.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oxy"

// Metrics groups the collectors updated by the compute and display path.
type Metrics struct {
	Registry *prometheus.Registry

	// PipelineCompiles counts finished compilations by result (ready, failed).
	PipelineCompiles *prometheus.CounterVec
	// PipelineCompileDuration observes validation plus pipeline creation time.
	PipelineCompileDuration prometheus.Histogram
	// PipelineEvictions counts pipelines dropped from the cache.
	PipelineEvictions prometheus.Counter

	// BindGroupBuilds counts bind group creations.
	BindGroupBuilds prometheus.Counter

	// UniformMaps counts staging map requests by outcome (issued, skipped, completed, failed, rejected).
	UniformMaps *prometheus.CounterVec
	// UniformTime is the last counter value written to the staging buffer.
	UniformTime prometheus.Gauge
	// UniformCopies counts staging to uniform copies recorded.
	UniformCopies prometheus.Counter

	// Dispatches counts recorded compute dispatches.
	Dispatches prometheus.Counter
	// LoadingTicks counts frames skipped while the pipeline was not ready.
	LoadingTicks prometheus.Counter
	// NodeReady is 1 once the render node has left the loading phase.
	NodeReady prometheus.Gauge
	// Ticks counts simulation ticks.
	Ticks prometheus.Counter
	// FrameDuration observes render loop iterations.
	FrameDuration prometheus.Histogram
	// FPS is the frame rate reported by the profiler.
	FPS prometheus.Gauge
	// HeapAlloc is the heap size reported by the profiler.
	HeapAlloc prometheus.Gauge
}

// New creates a Metrics with a fresh registry.
//
// Returns:
//   - *Metrics: the registered collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		PipelineCompiles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_compiles_total",
			Help:      "Compute pipeline compilations by result",
		}, []string{"result"}),
		PipelineCompileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_compile_duration_seconds",
			Help:      "Time spent validating and creating compute pipelines",
			Buckets:   prometheus.DefBuckets,
		}),
		PipelineEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_evictions_total",
			Help:      "Compute pipelines evicted from the cache",
		}),
		BindGroupBuilds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bind_group_builds_total",
			Help:      "Bind groups created",
		}),
		UniformMaps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uniform_maps_total",
			Help:      "Staging buffer map requests by outcome",
		}, []string{"outcome"}),
		UniformTime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uniform_time",
			Help:      "Last time value written to the staging buffer",
		}),
		UniformCopies: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uniform_copies_total",
			Help:      "Staging to uniform buffer copies recorded",
		}),
		LoadingTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loading_frames_total",
			Help:      "Frames recorded without a dispatch because the pipeline was not ready",
		}),
		NodeReady: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_ready",
			Help:      "1 once the compute pipeline is ready",
		}),
		Dispatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Compute dispatches recorded",
		}),
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Simulation ticks",
		}),
		FrameDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_duration_seconds",
			Help:      "Render loop iteration time",
			Buckets:   []float64{.001, .002, .004, .008, .016, .033, .066, .133},
		}),
		FPS: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fps",
			Help:      "Frames per second over the last profiler interval",
		}),
		HeapAlloc: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heap_alloc_bytes",
			Help:      "Heap bytes allocated at the last profiler interval",
		}),
	}
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
//
// Parameters:
//   - ctx: cancelling it shuts the server down
//   - addr: the listen address, e.g. ":9090"
//
// Returns:
//   - error: a listen error, or nil after a clean shutdown
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
