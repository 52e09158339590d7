// Package metrics exposes synchronizer counters and gauges to Prometheus.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vampsync/internal/logging"
)

const namespace = "vampsync"

// Metrics holds the Prometheus instruments of one process.
type Metrics struct {
	registry        *prometheus.Registry
	decisions       *prometheus.CounterVec
	flushes         *prometheus.CounterVec
	flushedFrames   *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
	passDuration    prometheus.Histogram
	compressionJobs prometheus.Gauge
	archivedFiles   prometheus.Counter
}

// New registers all instruments on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Frame file classifications by camera and outcome.",
		}, []string{"camera", "outcome"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accumulator_flushes_total",
			Help:      "Synchronized files written by the output accumulator.",
		}, []string{"camera"}),
		flushedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accumulator_flushed_frames_total",
			Help:      "Frames written by the output accumulator.",
		}, []string{"camera"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Files waiting in synchronizer queues.",
		}, []string{"camera", "queue"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of one scan and synchronize pass.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		compressionJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "compression_jobs",
			Help:      "Compression processes currently running.",
		}),
		archivedFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archived_files_total",
			Help:      "Files migrated to the next storage tier.",
		}),
	}
	reg.MustRegister(
		m.decisions, m.flushes, m.flushedFrames, m.queueDepth,
		m.passDuration, m.compressionJobs, m.archivedFiles,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the backing registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDecision counts one classification.
func (m *Metrics) ObserveDecision(camera int, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(strconv.Itoa(camera), outcome).Inc()
}

// ObserveFlush counts one accumulator flush of frames frames.
func (m *Metrics) ObserveFlush(camera, frames int) {
	if m == nil {
		return
	}
	label := strconv.Itoa(camera)
	m.flushes.WithLabelValues(label).Inc()
	m.flushedFrames.WithLabelValues(label).Add(float64(frames))
}

// SetQueueDepth records the length of an input or output queue.
func (m *Metrics) SetQueueDepth(camera int, queue string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(strconv.Itoa(camera), queue).Set(float64(n))
}

// ObservePass records the duration of one daemon pass.
func (m *Metrics) ObservePass(d time.Duration) {
	if m == nil {
		return
	}
	m.passDuration.Observe(d.Seconds())
}

// SetCompressionJobs records the running compression job count.
func (m *Metrics) SetCompressionJobs(n int) {
	if m == nil {
		return
	}
	m.compressionJobs.Set(float64(n))
}

// AddArchived counts files moved to the next tier.
func (m *Metrics) AddArchived(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.archivedFiles.Add(float64(n))
}

// Serve exposes /metrics on bind until ctx is done.
func Serve(ctx context.Context, bind string, m *Metrics, logger *slog.Logger) error {
	logger = logging.NewComponentLogger(logger, "metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("metrics endpoint listening", logging.String("bind", bind))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
