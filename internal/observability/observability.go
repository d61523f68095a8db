// Package observability wires logging, metrics, and tracing for the runtime.
package observability

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for runtime spans.
const TracerName = "github.com/AcrylicShrimp/fathom"

// NewLogger builds the process logger. Debug switches to text output at
// debug level; otherwise JSON at info.
func NewLogger(debug bool) *slog.Logger {
	if debug {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// Metrics holds the runtime's Prometheus instruments.
type Metrics struct {
	Registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	TasksRunning    prometheus.Gauge
	TasksPending    prometheus.Gauge
	TurnsTotal      *prometheus.CounterVec
	TasksTotal      *prometheus.CounterVec
	EventsPublished prometheus.Counter
	ModelRetries    prometheus.Counter
}

// NewMetrics creates and registers the runtime instruments on a fresh
// registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fathom_sessions_active",
			Help: "Number of live sessions.",
		}),
		TasksRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fathom_tasks_running",
			Help: "Background tasks currently running (bounded by W).",
		}),
		TasksPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fathom_tasks_pending",
			Help: "Background tasks waiting for a worker slot.",
		}),
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fathom_turns_total",
			Help: "Completed turns by result.",
		}, []string{"result"}),
		TasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fathom_tasks_total",
			Help: "Finished tasks by terminal state.",
		}, []string{"state"}),
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "fathom_events_published_total",
			Help: "Session events published across all sessions.",
		}),
		ModelRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "fathom_model_retries_total",
			Help: "Transient model-call retries.",
		}),
	}
}

// InitTracing installs a tracer provider writing spans to stderr. Returns the
// shutdown hook. Disabled tracing installs a no-op provider.
func InitTracing(enabled bool) (func(context.Context) error, error) {
	if !enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// Tracer returns the runtime tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// NewHTTPServer serves /metrics and /healthz on addr.
func NewHTTPServer(addr string, metrics *Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
