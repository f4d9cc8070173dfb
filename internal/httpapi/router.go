// Package httpapi is the JSON surface of the tracker.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"supplyTrace/internal/ledgersync"
	"supplyTrace/internal/metrics"
	"supplyTrace/internal/model"
)

// Service is what the handlers need from the orchestrator.
type Service interface {
	Register(ctx context.Context, in ledgersync.RegisterInput) (ledgersync.Registration, error)
	UpdateStatus(ctx context.Context, in ledgersync.StatusInput) (ledgersync.StatusUpdate, error)
	AddEvent(ctx context.Context, in ledgersync.EventInput) (model.Event, error)
	GetProduct(ctx context.Context, rawID string) (ledgersync.ProductView, error)
	History(ctx context.Context, rawID string) ([]model.Event, error)
	Products(ctx context.Context) ([]model.Product, error)
}

// Options configure the router. Metrics and MetricsHandler are optional.
type Options struct {
	Service        Service
	Logger         *zap.Logger
	Metrics        *metrics.Collector
	MetricsHandler http.Handler
}

type handlers struct {
	svc    Service
	logger *zap.Logger
}

// NewRouter wires middleware and routes.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{svc: opts.Service, logger: logger}

	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(withLogging(logger, opts.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{headerRequestID},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	r.Post("/addProduct", h.addProduct)
	r.Get("/getProduct/{id}", h.getProduct)
	r.Post("/addEvent", h.addEvent)
	r.Get("/getHistory/{productId}", h.getHistory)
	r.Get("/getAllProducts", h.getAllProducts)
	r.Post("/updateStatus", h.updateStatus)

	return r
}
