// Package metrics exports trial counters and duration histograms for
// Prometheus. Runs are short-lived, so the registry is written to a node
// exporter textfile rather than scraped.
package metrics

import (
	"sync"
	"time"

	"github.com/basekick-labs/readbench/internal/trial"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

const namespace = "readbench"

// Trial durations span milliseconds on small datasets to minutes on large ones.
var durationBuckets = prometheus.ExponentialBuckets(0.005, 2, 16)

// Recorder records samples into its own registry. It implements bench.Observer.
type Recorder struct {
	registry *prometheus.Registry

	trials      *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	resolution  *prometheus.HistogramVec
	lastRun     prometheus.Gauge
	runDuration prometheus.Gauge

	mu     sync.Mutex
	logger zerolog.Logger
}

// NewRecorder creates a recorder. Go runtime and process collectors are
// registered alongside the trial metrics.
func NewRecorder(logger zerolog.Logger) *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		// Labels: strategy, order, size_class, status (success, failure)
		trials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trial",
			Name:      "total",
			Help:      "Measured trials by outcome",
		}, []string{"strategy", "order", "size_class", "status"}),
		// Labels: strategy, kind (ResolutionError, PipelineError, TimeoutError, Canceled)
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trial",
			Name:      "failures_total",
			Help:      "Failed trials by error kind",
		}, []string{"strategy", "kind"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trial",
			Name:      "duration_seconds",
			Help:      "Timing window of successful trials",
			Buckets:   durationBuckets,
		}, []string{"strategy", "order", "size_class"}),
		resolution: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trial",
			Name:      "resolution_seconds",
			Help:      "Dataset resolution time, whether or not it was inside the timing window",
			Buckets:   durationBuckets,
		}, []string{"strategy"}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
		runDuration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run",
		}),
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Observe records one measured sample.
func (r *Recorder) Observe(s trial.Sample) {
	strategy, order, size := s.Strategy.String(), s.Order.String(), s.SizeClass.String()
	if s.Succeeded {
		r.trials.WithLabelValues(strategy, order, size, "success").Inc()
		r.duration.WithLabelValues(strategy, order, size).Observe(s.Duration().Seconds())
	} else {
		r.trials.WithLabelValues(strategy, order, size, "failure").Inc()
		r.failures.WithLabelValues(strategy, string(s.ErrorKind)).Inc()
	}
	if s.ResolveNanos > 0 {
		r.resolution.WithLabelValues(strategy).Observe(time.Duration(s.ResolveNanos).Seconds())
	}
}

// RunFinished records the end of a run.
func (r *Recorder) RunFinished(start, end time.Time) {
	r.lastRun.Set(float64(end.Unix()))
	r.runDuration.Set(end.Sub(start).Seconds())
}

// WriteTextfile writes the registry in text exposition format. The file is
// replaced atomically so a concurrent node exporter never reads a partial file.
func (r *Recorder) WriteTextfile(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		r.logger.Error().Err(err).Str("path", path).Msg("Failed to write metrics textfile")
		return err
	}
	r.logger.Debug().Str("path", path).Msg("Metrics textfile written")
	return nil
}
