// internal/dating/models.go

package dating

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/learning"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
)

var (
	ErrCannotLikeSelf   = errors.New("cannot like yourself")
	ErrNoPendingRequest = errors.New("no pending match request")
)

// MatchState is the derived state of a directed pair
type MatchState string

const (
	StateNone     MatchState = "NONE"
	StatePending  MatchState = "PENDING"
	StateApproved MatchState = "APPROVED"
	StateRejected MatchState = "REJECTED"
)

// stateOf derives the state of a like from a's side
func stateOf(rel *profile.Relationship) MatchState {
	switch {
	case rel.Matched:
		return StateApproved
	case rel.Liked && rel.Rejected:
		return StateRejected
	case rel.Liked:
		return StatePending
	default:
		return StateNone
	}
}

// LikeResult is the outcome of like, approve and reject
type LikeResult struct {
	UserID       int64      `json:"user_id"`
	TargetID     int64      `json:"target_id"`
	State        MatchState `json:"state"`
	MatchCreated bool       `json:"match_created"`
}

// EventType names a real-time notification
type EventType string

const (
	EventMatchRequested EventType = "match_requested"
	EventMatchConfirmed EventType = "match_confirmed"
	EventMatchRejected  EventType = "match_rejected"
	EventMatchState     EventType = "match_state"
	EventError          EventType = "error"
)

// Event is delivered over the live channel or queued while the user is offline
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	UserID     int64           `json:"user_id"`
	FromUserID int64           `json:"from_user_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewEvent creates an event addressed to userID
func NewEvent(typ EventType, userID, fromUserID int64, data interface{}) *Event {
	ev := &Event{
		ID:         uuid.New().String(),
		Type:       typ,
		UserID:     userID,
		FromUserID: fromUserID,
		CreatedAt:  time.Now().UTC(),
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			ev.Data = raw
		}
	}
	return ev
}

// Recommendation is a scored candidate
type Recommendation struct {
	User            *profile.UserProfile `json:"user"`
	Score           float64              `json:"score"`
	Method          learning.Method      `json:"method"`
	CommonInterests []string             `json:"common_interests"`
}
