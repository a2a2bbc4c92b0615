// internal/dating/dto.go

package dating

import (
	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
)

// RecommendationsResponse wraps ranked candidates
type RecommendationsResponse struct {
	Recommendations []*Recommendation `json:"recommendations"`
	Count           int               `json:"count"`
	UsedModel       bool              `json:"used_model"`
}

// StateResponse is the state of the caller's like on another user
type StateResponse struct {
	UserID   int64      `json:"user_id"`
	TargetID int64      `json:"target_id"`
	State    MatchState `json:"state"`
}

// MatchesResponse lists the caller's matches
type MatchesResponse struct {
	Matches []*profile.UserProfile `json:"matches"`
	Count   int                    `json:"count"`
}
