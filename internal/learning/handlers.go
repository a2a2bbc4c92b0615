// internal/learning/handlers.go

package learning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/auth"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/utils"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
)

// Handler serves the learning endpoints
type Handler struct {
	service *Service
}

// NewHandler creates a learning handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RecordOutcomeDTO is the body of POST /ml/outcomes. SubjectID defaults to the caller.
type RecordOutcomeDTO struct {
	SubjectID          int64               `json:"subject_id" validate:"gte=0"`
	TargetID           int64               `json:"target_id" validate:"required,gt=0"`
	WasSuccessfulMatch *bool               `json:"was_successful_match" validate:"required"`
	InteractionMetrics *InteractionMetrics `json:"interaction_metrics,omitempty"`
}

func pairParams(r *http.Request) (int64, int64, bool) {
	a, errA := strconv.ParseInt(chi.URLParam(r, "userA"), 10, 64)
	b, errB := strconv.ParseInt(chi.URLParam(r, "userB"), 10, 64)
	return a, b, errA == nil && errB == nil
}

// GetScore returns the explained rule-based score of two users
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	a, b, ok := pairParams(r)
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	res, err := h.service.Score(r.Context(), a, b)
	if err != nil {
		if errors.Is(err, profile.ErrUserNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, err.Error())
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to score users")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, res)
}

// GetPrediction returns the raw model probability for two users
func (h *Handler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	a, b, ok := pairParams(r)
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	res, err := h.service.Predict(r.Context(), a, b)
	if err != nil {
		switch {
		case errors.Is(err, profile.ErrUserNotFound):
			utils.RespondWithError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrModelUnavailable):
			utils.RespondWithError(w, http.StatusServiceUnavailable, err.Error())
		default:
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to predict match")
		}
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, res)
}

// RecordOutcome stores an observed interaction outcome as a live sample
func (h *Handler) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())

	var dto RecordOutcomeDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := utils.ValidateStruct(dto); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if dto.SubjectID == 0 {
		dto.SubjectID = userID
	}

	sample, err := h.service.RecordOutcome(r.Context(), Outcome{
		SubjectID: dto.SubjectID,
		TargetID:  dto.TargetID,
		Success:   *dto.WasSuccessfulMatch,
		Metrics:   dto.InteractionMetrics,
	})
	if err != nil {
		if errors.Is(err, profile.ErrUserNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, err.Error())
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to record outcome")
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, sample)
}

// Train runs a training pass and returns its result
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	res, err := h.service.Train(r.Context(), force)
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientTrainingData):
			utils.RespondWithError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, context.Canceled):
			utils.RespondWithError(w, http.StatusConflict, "Training was cancelled")
		default:
			utils.RespondWithError(w, http.StatusInternalServerError, "Training failed")
		}
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, res)
}

// CancelTraining aborts the running training pass
func (h *Handler) CancelTraining(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CancelTraining(); err != nil {
		utils.RespondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.SuccessResponse(w, map[string]string{"message": "Training cancellation requested"}, http.StatusAccepted)
}

// GetStats returns model and sample statistics
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to get model stats")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, stats)
}

// GetDistribution returns the decile distribution of sample scores
func (h *Handler) GetDistribution(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.MatchDistribution(r.Context())
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to get match distribution")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, d)
}
