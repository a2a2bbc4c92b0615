// internal/notification/push.go

package notification

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// PushService delivers push notifications to devices
type PushService interface {
	SendPush(ctx context.Context, n *PushNotification) (*PushResult, error)
}

// FCMConfig selects the Firebase service account
type FCMConfig struct {
	CredentialsPath string
	CredentialsJSON string
}

// FCMPushService implements push notifications using Firebase Cloud Messaging
type FCMPushService struct {
	client *messaging.Client
}

// NewFCMPushService creates a new FCM push service
func NewFCMPushService(ctx context.Context, cfg FCMConfig) (*FCMPushService, error) {
	var opt option.ClientOption
	switch {
	case cfg.CredentialsPath != "":
		opt = option.WithCredentialsFile(cfg.CredentialsPath)
	case cfg.CredentialsJSON != "":
		opt = option.WithCredentialsJSON([]byte(cfg.CredentialsJSON))
	default:
		return nil, errors.New("firebase credentials path or JSON must be set")
	}

	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}
	return &FCMPushService{client: client}, nil
}

// SendPush sends one notification to every token in n
func (s *FCMPushService) SendPush(ctx context.Context, n *PushNotification) (*PushResult, error) {
	if len(n.Tokens) == 0 {
		return &PushResult{}, nil
	}

	msg := &messaging.MulticastMessage{
		Tokens: n.Tokens,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: n.Data,
		Android: &messaging.AndroidConfig{
			Priority:    "high",
			CollapseKey: n.CollapseKey,
			Notification: &messaging.AndroidNotification{
				Sound:       "default",
				ClickAction: "FLUTTER_NOTIFICATION_CLICK",
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{Title: n.Title, Body: n.Body},
					Sound: "default",
				},
			},
		},
	}

	resp, err := s.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to send push notification: %w", err)
	}

	res := &PushResult{Sent: resp.SuccessCount, Failed: resp.FailureCount}
	for i, r := range resp.Responses {
		if r.Success {
			continue
		}
		if messaging.IsUnregistered(r.Error) || messaging.IsSenderIDMismatch(r.Error) {
			res.InvalidTokens = append(res.InvalidTokens, n.Tokens[i])
		}
	}
	return res, nil
}
