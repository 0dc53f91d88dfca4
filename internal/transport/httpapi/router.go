// Package httpapi — HTTP-поверхность сервисов: webhooks провайдеров,
// операционные ручки ledger-сервиса, health и метрики.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/health"
)

const maxBodySize = 1 << 20

// Options описывает, какие группы маршрутов поднимает сервис.
type Options struct {
	Health   *health.Handler
	Webhooks WebhookApplier
	Ledger   *LedgerAPI
	Logger   *log.Entry
}

// NewRouter собирает chi-роутер. Группы без зависимостей не регистрируются.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/livez", health.LivenessHandler)
	if opts.Health != nil {
		r.Get("/healthz", opts.Health.ServeHTTP)
		r.Get("/readyz", opts.Health.ReadinessHandler)
	}

	if opts.Webhooks != nil {
		webhooks := &webhookHandler{applier: opts.Webhooks, logger: logger}
		r.Post("/webhooks/{provider}", webhooks.receive)
	}

	if opts.Ledger != nil {
		r.Route("/v1", func(r chi.Router) {
			r.Post("/products", opts.Ledger.createProduct)
			r.Post("/accounts", opts.Ledger.createAccount)
			r.Get("/aggregates/{kind}/{id}", opts.Ledger.getAggregate)
			r.Post("/orders", opts.Ledger.placeOrder)
			r.Post("/orders/{orderID}/cancel", opts.Ledger.cancelOrder)
			r.Post("/orders/{orderID}/release", opts.Ledger.releaseStock)
			r.Get("/orders/{orderID}/payments", opts.Ledger.listPayments)
		})
	}

	return r
}

func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r)

			entry := logger.WithFields(log.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"duration":   time.Since(started).String(),
				"request_id": middleware.GetReqID(r.Context()),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("http request failed")
				return
			}
			entry.Debug("http request served")
		})
	}
}
