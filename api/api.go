// Package api exposes a cassieq engine over HTTP.
//
// Routes live under /api/v1. Queues are addressed by account and name;
// every message route works on the queue's active version:
//
//	POST   /api/v1/accounts/{account}/queues
//	GET    /api/v1/accounts/{account}/queues
//	GET    /api/v1/accounts/{account}/queues/{queue}
//	DELETE /api/v1/accounts/{account}/queues/{queue}
//	GET    /api/v1/accounts/{account}/queues/{queue}/statistics
//	POST   /api/v1/accounts/{account}/queues/{queue}/repair
//	POST   /api/v1/accounts/{account}/queues/{queue}/messages
//	GET    /api/v1/accounts/{account}/queues/{queue}/messages/next
//	PUT    /api/v1/accounts/{account}/queues/{queue}/messages
//	DELETE /api/v1/accounts/{account}/queues/{queue}/messages
//	PUT    /api/v1/accounts/{account}/queues/{queue}/messages/{index}
//	GET    /api/v1/dlq
//	GET    /api/v1/dlq/count
//	POST   /api/v1/dlq/purge
//	GET    /api/v1/dlq/{entryId}
//	POST   /api/v1/dlq/{entryId}/replay
//
// Message bodies sent to the API must be UTF-8 text. Delivered bodies
// that are not text come back base64 encoded; see [MessageResponse].
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/paradoxical-io/cassieq-sub001/engine"
)

// API wires the HTTP handlers to an engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger used for request logs and handler failures.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API over eng.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns a router with every route and the standard middleware.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.requestLogger)
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the API routes on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/accounts/{account}/queues", a.registerQueueRoutes)
		r.Route("/dlq", a.registerDLQRoutes)
	})
}

func (a *API) registerQueueRoutes(r chi.Router) {
	r.Post("/", a.createQueue)
	r.Get("/", a.listQueues)

	r.Route("/{queue}", func(r chi.Router) {
		r.Get("/", a.getQueue)
		r.Delete("/", a.deleteQueue)
		r.Get("/statistics", a.queueStatistics)
		r.Post("/repair", a.repairQueue)

		r.Post("/messages", a.putMessage)
		r.Get("/messages/next", a.nextMessage)
		r.Put("/messages", a.updateMessage)
		r.Delete("/messages", a.ackMessage)
		r.Put("/messages/{index}", a.updateMessageByTag)
	})
}

func (a *API) registerDLQRoutes(r chi.Router) {
	r.Get("/", a.listDLQ)
	r.Get("/count", a.dlqCount)
	r.Post("/purge", a.purgeDLQ)
	r.Get("/{entryId}", a.getDLQ)
	r.Post("/{entryId}/replay", a.replayDLQ)
}

// requestLogger logs one line per request at Debug, or Warn for 5xx.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		a.logger.Log(r.Context(), level, "cassieq/api: request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
