// internal/notification/routes.go

package notification

import (
	"github.com/go-chi/chi/v5"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/auth"
)

// RegisterRoutes adds the push token endpoints
func RegisterRoutes(router chi.Router, handler *Handler, authMiddleware *auth.Middleware) {
	router.Group(func(api chi.Router) {
		api.Use(authMiddleware.Authenticate)

		// Push tokens
		api.Post("/api/v1/notifications/push-token", handler.RegisterPushToken)
		api.Delete("/api/v1/notifications/push-token", handler.UnregisterPushToken)
	})
}
