// internal/notification/models.go

package notification

import (
	"errors"
	"time"
)

var (
	ErrTokenNotFound = errors.New("push token not found")
)

// Platform is the device family a token belongs to
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// PushToken represents a device push token
type PushToken struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Platform  Platform  `json:"platform" db:"platform"`
	Token     string    `json:"token" db:"token"`
	DeviceID  string    `json:"device_id" db:"device_id"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PushNotification is one message fanned out to a user's devices
type PushNotification struct {
	Tokens      []string
	Title       string
	Body        string
	Data        map[string]string
	CollapseKey string
}

// PushResult reports what the provider did with a PushNotification
type PushResult struct {
	Sent          int
	Failed        int
	InvalidTokens []string // tokens the provider no longer accepts
}

// RegisterPushTokenRequest represents request to register a push token
type RegisterPushTokenRequest struct {
	Platform Platform `json:"platform" validate:"required,oneof=ios android web"`
	Token    string   `json:"token" validate:"required,max=4096"`
	DeviceID string   `json:"device_id" validate:"required,max=255"`
}
