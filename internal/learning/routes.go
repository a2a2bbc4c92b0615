// internal/learning/routes.go

package learning

import (
	"github.com/go-chi/chi/v5"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/auth"
)

// RegisterRoutes adds the scoring and model endpoints
func RegisterRoutes(router chi.Router, handler *Handler, authMiddleware *auth.Middleware) {
	router.Group(func(api chi.Router) {
		api.Use(authMiddleware.Authenticate)

		api.Get("/api/v1/compat/score/{userA}/{userB}", handler.GetScore)

		// Model
		api.Get("/api/v1/ml/predict/{userA}/{userB}", handler.GetPrediction)
		api.Post("/api/v1/ml/outcomes", handler.RecordOutcome)
		api.Post("/api/v1/ml/train", handler.Train)
		api.Delete("/api/v1/ml/train", handler.CancelTraining)
		api.Get("/api/v1/ml/stats", handler.GetStats)
		api.Get("/api/v1/ml/distribution", handler.GetDistribution)
	})
}
