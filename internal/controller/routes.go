package controller

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unclebandit/padaria-campaigns/internal/handler"
	"github.com/unclebandit/padaria-campaigns/internal/logger"
)

// NewRouter wires every HTTP route of the campaign API.
func NewRouter(ctrl *CampaignController, campaigns *handler.CampaignHandler, health *handler.HealthHandler, log logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", health.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/offers/{id}/campaign", ctrl.CreateFromOffer)

	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", ctrl.CreateCampaign)
		r.Get("/", campaigns.ListCampaigns)
		r.Get("/active", campaigns.ActiveCampaigns)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", campaigns.GetCampaign)
			r.Delete("/", ctrl.Delete)
			r.Get("/recipients", campaigns.ListRecipients)
			r.Post("/preview", ctrl.PersonalizedPreview)

			r.Post("/start", ctrl.Start)
			r.Post("/pause", ctrl.Pause)
			r.Post("/resume", ctrl.Resume)
			r.Post("/cancel", ctrl.Cancel)

			r.Post("/schedule", ctrl.Schedule)
			r.Delete("/schedule", ctrl.Unschedule)
		})
	})
	return r
}

func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request", map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			})
		})
	}
}
