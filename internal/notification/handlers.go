// internal/notification/handlers.go

package notification

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/auth"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/utils"
)

// Handler serves push token registration
type Handler struct {
	service *Service
}

// NewHandler creates a notification handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterPushToken registers a device push token
func (h *Handler) RegisterPushToken(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())

	var req RegisterPushTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := h.service.RegisterPushToken(r.Context(), userID, &req)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to register push token")
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, token)
}

// UnregisterPushToken unregisters a device push token
func (h *Handler) UnregisterPushToken(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())

	token := r.URL.Query().Get("token")
	if token == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Token is required")
		return
	}

	if err := h.service.UnregisterPushToken(r.Context(), userID, token); err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, err.Error())
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to unregister push token")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{
		"message": "Push token unregistered successfully",
	})
}
