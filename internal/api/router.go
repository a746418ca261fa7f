package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps bundles everything the ops surface serves.
type Deps struct {
	Events      EventSource
	Replay      *ReplayHandler
	Coordinator SagaStarter
	Sagas       SagaReader
	Status      StatusReader
	Queue       DepthReader
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	eventHandler := NewEventHandler(d.Events)
	orderHandler := NewOrderHandler(d.Coordinator, d.Sagas, d.Status)
	queueHandler := NewQueueHandler(d.Queue)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())

		r.Get("/events", eventHandler.List)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", orderHandler.Create)
			r.Get("/{uuid}/status", orderHandler.Status)
			r.Get("/{uuid}/saga", orderHandler.Saga)
		})

		r.Get("/sagas/{uuid}", orderHandler.SagaByUUID)

		r.Post("/replay", d.Replay.Run)

		r.Get("/queues", queueHandler.Depths)
	})

	return r
}
