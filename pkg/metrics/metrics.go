package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds the acquisition collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Ticks          prometheus.Counter
	MeasureErrors  *prometheus.CounterVec
	InvalidValues  *prometheus.CounterVec
	WriteErrors    prometheus.Counter
	PublishErrors  *prometheus.CounterVec
	PublishDropped prometheus.Counter
	TickDuration   prometheus.Histogram
	Running        prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analogread_ticks_total",
			Help: "Sampling ticks executed.",
		}),
		MeasureErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analogread_measure_errors_total",
			Help: "Failed voltage measurements.",
		}, []string{"channel"}),
		InvalidValues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analogread_invalid_values_total",
			Help: "Formula evaluations without a finite result.",
		}, []string{"channel"}),
		WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analogread_write_errors_total",
			Help: "Rows that could not be appended to the data file.",
		}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analogread_publish_errors_total",
			Help: "Samples a live mirror failed to publish.",
		}, []string{"sink"}),
		PublishDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analogread_publish_dropped_total",
			Help: "Samples dropped because the publish queue was full.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "analogread_tick_duration_seconds",
			Help:    "Time spent measuring, evaluating and writing one tick.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analogread_sampling_running",
			Help: "1 while a sampling session is running.",
		}),
	}

	reg.MustRegister(
		m.Ticks,
		m.MeasureErrors,
		m.InvalidValues,
		m.WriteErrors,
		m.PublishErrors,
		m.PublishDropped,
		m.TickDuration,
		m.Running,
	)

	return m
}

func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.TickDuration.Observe(d.Seconds())
}

func (m *Metrics) MeasureError(channel string) {
	if m == nil {
		return
	}
	m.MeasureErrors.WithLabelValues(channel).Inc()
}

func (m *Metrics) InvalidValue(channel string) {
	if m == nil {
		return
	}
	m.InvalidValues.WithLabelValues(channel).Inc()
}

func (m *Metrics) WriteError() {
	if m == nil {
		return
	}
	m.WriteErrors.Inc()
}

func (m *Metrics) PublishError(sink string) {
	if m == nil {
		return
	}
	m.PublishErrors.WithLabelValues(sink).Inc()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.PublishDropped.Inc()
}

func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.Running.Set(1)
	} else {
		m.Running.Set(0)
	}
}

// Serve exposes /metrics and /health on addr until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, log logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Infof("metrics server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
