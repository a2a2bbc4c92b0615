// internal/dating/routes.go

package dating

import (
	"github.com/go-chi/chi/v5"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/auth"
)

// RegisterRoutes adds the matching endpoints and the live channel
func RegisterRoutes(router chi.Router, handler *Handler, authMiddleware *auth.Middleware) {
	router.Group(func(api chi.Router) {
		api.Use(authMiddleware.Authenticate)

		// Handshake
		api.Post("/api/v1/matching/like/{userId}", handler.Like)
		api.Post("/api/v1/matching/approve/{userId}", handler.Approve)
		api.Post("/api/v1/matching/reject/{userId}", handler.Reject)
		api.Get("/api/v1/matching/state/{userId}", handler.GetState)

		api.Get("/api/v1/matching/matches", handler.GetMatches)
		api.Get("/api/v1/matching/recommendations", handler.GetRecommendations)

		// Token comes from the query string for browser clients
		api.Get("/ws", handler.ServeWS)
	})
}
