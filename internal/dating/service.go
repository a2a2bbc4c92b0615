// internal/dating/service.go

package dating

import (
	"context"
	"time"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/logger"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/learning"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
)

// Learner scores pairs and learns from their outcomes
type Learner interface {
	ScorePair(ctx context.Context, a, b *profile.UserProfile, useModel bool) (float64, learning.Method)
	RecordPair(ctx context.Context, subject, target *profile.UserProfile, success bool, metrics *learning.InteractionMetrics) (*learning.TrainingSample, error)
}

// Service coordinates the match handshake between two users
type Service struct {
	users    profile.Repository
	learner  Learner
	notifier Notifier
	log      *logger.Logger

	// bounded fan-out for candidate scoring
	scoreWorkers int
}

// NewService creates a dating service
func NewService(users profile.Repository, learner Learner, notifier Notifier, log *logger.Logger) *Service {
	return &Service{
		users:        users,
		learner:      learner,
		notifier:     notifier,
		log:          log.With("component", "dating"),
		scoreWorkers: 8,
	}
}

func (s *Service) loadPair(ctx context.Context, aID, bID int64) (*profile.UserProfile, *profile.UserProfile, error) {
	a, err := s.users.FindByID(ctx, aID)
	if err != nil {
		return nil, nil, err
	}
	b, err := s.users.FindByID(ctx, bID)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// Matches returns the profiles the user is matched with
func (s *Service) Matches(ctx context.Context, userID int64) ([]*profile.UserProfile, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	matches := make([]*profile.UserProfile, 0, len(user.Matched))
	for _, id := range user.Matched {
		p, err := s.users.FindByID(ctx, id)
		if err != nil {
			s.log.Warn("matched user not found", "user_id", userID, "match_id", id, "error", err)
			continue
		}
		matches = append(matches, p)
	}
	return matches, nil
}

// notify delivers an event. Failures are logged; the state change stands.
func (s *Service) notify(ctx context.Context, ev *Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.log.Error("failed to deliver event", "type", ev.Type, "user_id", ev.UserID, "error", err)
	}
}

// learn records the outcome as a live training sample
func (s *Service) learn(ctx context.Context, subject, target *profile.UserProfile, success bool) {
	if s.learner == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := s.learner.RecordPair(ctx, subject, target, success, nil); err != nil {
		s.log.Error("failed to record match outcome", "subject_id", subject.ID, "target_id", target.ID, "error", err)
	}
}
