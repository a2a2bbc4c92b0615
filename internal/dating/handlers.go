// internal/dating/handlers.go

package dating

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/auth"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/utils"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
)

// Handler serves the matching endpoints and the live channel
type Handler struct {
	service  *Service
	hub      *Hub
	upgrader *websocket.Upgrader
}

// NewHandler creates a dating handler
func NewHandler(service *Service, hub *Hub) *Handler {
	return &Handler{service: service, hub: hub, upgrader: newUpgrader(anyOrigin)}
}

// RestrictOrigins limits live channel upgrades from browsers to the given
// origins. With none, only clients that send no Origin may connect.
func (h *Handler) RestrictOrigins(origins []string) {
	h.upgrader = newUpgrader(originIn(origins))
}

func targetParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
	return id, err == nil && id > 0
}

func respondServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, profile.ErrUserNotFound):
		utils.RespondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrCannotLikeSelf):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNoPendingRequest):
		utils.RespondWithError(w, http.StatusConflict, err.Error())
	default:
		utils.RespondWithError(w, http.StatusInternalServerError, fallback)
	}
}

type action func(r *http.Request, userID, targetID int64) (*LikeResult, error)

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request, do action, fallback string) {
	userID, _ := auth.GetUserIDFromContext(r.Context())
	targetID, ok := targetParam(r)
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	res, err := do(r, userID, targetID)
	if err != nil {
		respondServiceError(w, err, fallback)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, res)
}

// Like expresses interest in another user
func (h *Handler) Like(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, func(r *http.Request, userID, targetID int64) (*LikeResult, error) {
		return h.service.Like(r.Context(), userID, targetID)
	}, "Failed to like user")
}

// Approve accepts a pending like from another user
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, func(r *http.Request, userID, targetID int64) (*LikeResult, error) {
		return h.service.Approve(r.Context(), userID, targetID)
	}, "Failed to approve match request")
}

// Reject declines a pending like from another user
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, func(r *http.Request, userID, targetID int64) (*LikeResult, error) {
		return h.service.Reject(r.Context(), userID, targetID)
	}, "Failed to reject match request")
}

// GetState returns the state of the caller's like on another user
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())
	targetID, ok := targetParam(r)
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	state, err := h.service.State(r.Context(), userID, targetID)
	if err != nil {
		respondServiceError(w, err, "Failed to get match state")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, StateResponse{UserID: userID, TargetID: targetID, State: state})
}

// GetMatches lists the caller's matches
func (h *Handler) GetMatches(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())

	matches, err := h.service.Matches(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err, "Failed to get matches")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, MatchesResponse{Matches: matches, Count: len(matches)})
}

// GetRecommendations ranks candidates for the caller
func (h *Handler) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())

	limit := defaultRecommendations
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}
	useModel := true
	if v := r.URL.Query().Get("ai"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid ai flag")
			return
		}
		useModel = b
	}

	recs, err := h.service.Recommend(r.Context(), userID, limit, useModel)
	if err != nil {
		respondServiceError(w, err, "Failed to get recommendations")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, RecommendationsResponse{
		Recommendations: recs,
		Count:           len(recs),
		UsedModel:       useModel,
	})
}

// ServeWS upgrades the request to the caller's live channel
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.log.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	client := NewClient(h.hub, h.service, conn, userID)
	h.hub.Register(r.Context(), client)
	client.Start()
}
