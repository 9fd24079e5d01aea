package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"plateCover/api/middleware"
)

type RouterConfig struct {
	MaxRequestSize int64
	// ResultsPrefix is the public path of output areas, e.g. /tasks_storage.
	ResultsPrefix string
}

func NewRouter(h *TaskHandler, cfg RouterConfig, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.TraceID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recovery(logger))

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.BodyLimit(cfg.MaxRequestSize, logger)).Post("/process-task/", h.Upload)
		r.Get("/task-status/{task_id}", h.Status)
	})

	r.Get(cfg.ResultsPrefix+"/{task_id}/output/{filename}", h.Result)

	return r
}
