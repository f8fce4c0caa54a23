package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"alerthub/internal/domain"
	"alerthub/internal/ingest"
	"alerthub/internal/logging"
	"alerthub/internal/notify"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine is the alert engine surface exposed over HTTP.
type Engine interface {
	ingest.Submitter
	List(ctx context.Context, filter domain.Filter) ([]domain.AlertRecord, error)
	History(ctx context.Context, limit int, filter domain.Filter) ([]domain.HistoryEntry, error)
	Statistics(ctx context.Context, windowHours float64) (domain.Statistics, error)
	Acknowledge(ctx context.Context, id, actor string) (bool, error)
	Dismiss(ctx context.Context, id, reason string) (bool, error)
	Export(ctx context.Context, format string) ([]byte, error)
	Subscribe(handler notify.Handler) func()
}

// Options configures mounted paths and limits.
// Params: API prefix, probe/metrics paths, body and SSE limits, readiness probe.
// Returns: router settings.
type Options struct {
	APIPrefix    string
	HealthPath   string
	ReadyPath    string
	MetricsPath  string
	MaxBodyBytes int64
	SSEBuffer    int
	Ready        func() bool
}

type handler struct {
	engine Engine
	opts   Options
	logger *slog.Logger
}

// NewRouter builds the HTTP surface.
// Params: engine, options, and logger.
// Returns: chi router with API, probes, and metrics.
func NewRouter(engine Engine, opts Options, logger *slog.Logger) http.Handler {
	logger = logging.Component(logger, "http")
	if opts.Ready == nil {
		opts.Ready = func() bool { return true }
	}
	h := &handler{engine: engine, opts: opts, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observe(logger))

	r.Get(opts.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get(opts.ReadyPath, func(w http.ResponseWriter, _ *http.Request) {
		if !opts.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not-ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Method(http.MethodGet, opts.MetricsPath, promhttp.Handler())

	r.Route(opts.APIPrefix, func(r chi.Router) {
		r.Route("/alerts", func(r chi.Router) {
			r.Post("/", h.submit)
			r.Get("/", h.list)
			r.Post("/{id}/acknowledge", h.acknowledge)
			r.Post("/{id}/dismiss", h.dismiss)
		})
		r.Get("/history", h.history)
		r.Get("/statistics", h.statistics)
		r.Get("/export", h.export)
		r.Get("/events", h.events)
	})
	return r
}
