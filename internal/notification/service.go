// internal/notification/service.go
// Device tokens and push delivery of match events

package notification

import (
	"context"
	"strconv"
	"time"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/logger"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/dating"
)

const pushTimeout = 5 * time.Second

// Service manages push tokens and sends pushes for dating events
type Service struct {
	tokens TokenRepository
	push   PushService
	log    *logger.Logger
}

// NewService creates a notification service. push may be nil, in which case
// tokens are still stored but nothing is sent.
func NewService(tokens TokenRepository, push PushService, log *logger.Logger) *Service {
	return &Service{tokens: tokens, push: push, log: log.With("component", "notification")}
}

// RegisterPushToken stores the device token for the user
func (s *Service) RegisterPushToken(ctx context.Context, userID int64, req *RegisterPushTokenRequest) (*PushToken, error) {
	token := &PushToken{
		UserID:   userID,
		Platform: req.Platform,
		Token:    req.Token,
		DeviceID: req.DeviceID,
		IsActive: true,
	}
	if err := s.tokens.Save(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// UnregisterPushToken removes one of the user's tokens
func (s *Service) UnregisterPushToken(ctx context.Context, userID int64, token string) error {
	return s.tokens.Delete(ctx, userID, token)
}

// pushFor renders the device notification for an event. Only events that
// invite the user back into the app produce one.
func pushFor(ev *dating.Event) *PushNotification {
	data := map[string]string{
		"event_id":     ev.ID,
		"type":         string(ev.Type),
		"from_user_id": strconv.FormatInt(ev.FromUserID, 10),
	}

	switch ev.Type {
	case dating.EventMatchRequested:
		return &PushNotification{
			Title:       "Someone likes you 👀",
			Body:        "Open the app to see who it is.",
			Data:        data,
			CollapseKey: "match_requested",
		}
	case dating.EventMatchConfirmed:
		data["matched_user_id"] = data["from_user_id"]
		data["action"] = "chat"
		return &PushNotification{
			Title:       "It's a Match! 💕",
			Body:        "You have a new match! Start a conversation now.",
			Data:        data,
			CollapseKey: "match_confirmed",
		}
	default:
		return nil
	}
}

// SendEventPush pushes ev to all of its recipient's active devices
func (s *Service) SendEventPush(ctx context.Context, ev *dating.Event) error {
	if s.push == nil {
		return nil
	}
	n := pushFor(ev)
	if n == nil {
		return nil
	}

	tokens, err := s.tokens.ListActive(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}
	for _, t := range tokens {
		n.Tokens = append(n.Tokens, t.Token)
	}

	res, err := s.push.SendPush(ctx, n)
	if err != nil {
		pushesTotal.WithLabelValues(string(ev.Type), "error").Inc()
		return err
	}
	pushesTotal.WithLabelValues(string(ev.Type), "sent").Add(float64(res.Sent))
	pushesTotal.WithLabelValues(string(ev.Type), "failed").Add(float64(res.Failed))

	for _, token := range res.InvalidTokens {
		if err := s.tokens.Deactivate(ctx, token); err != nil {
			s.log.Warn("failed to deactivate push token", "user_id", ev.UserID, "error", err)
		}
	}
	return nil
}

// Presence reports whether a user has a live channel
type Presence interface {
	IsOnline(userID int64) bool
}

// PushNotifier hands events to the next notifier and also pushes them to
// the devices of users who are not connected
type PushNotifier struct {
	next     dating.Notifier
	presence Presence
	service  *Service
}

// NewPushNotifier wraps next with push delivery for offline users
func NewPushNotifier(next dating.Notifier, presence Presence, service *Service) *PushNotifier {
	return &PushNotifier{next: next, presence: presence, service: service}
}

// Notify implements dating.Notifier
func (n *PushNotifier) Notify(ctx context.Context, ev *dating.Event) error {
	err := n.next.Notify(ctx, ev)
	if n.presence.IsOnline(ev.UserID) {
		return err
	}

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()
	if perr := n.service.SendEventPush(pushCtx, ev); perr != nil {
		n.service.log.Warn("push delivery failed", "user_id", ev.UserID, "type", ev.Type, "error", perr)
	}
	return err
}
