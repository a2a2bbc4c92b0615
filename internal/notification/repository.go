// internal/notification/repository.go

package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// TokenRepository stores device push tokens
type TokenRepository interface {
	// Save registers a token, replacing the one previously held by the same device
	Save(ctx context.Context, token *PushToken) error
	ListActive(ctx context.Context, userID int64) ([]*PushToken, error)
	// Delete removes one of the user's tokens
	Delete(ctx context.Context, userID int64, token string) error
	Deactivate(ctx context.Context, token string) error
}

type postgresTokenRepository struct {
	db *sqlx.DB
}

// NewPostgresTokenRepository creates a token repository on the push_tokens table
func NewPostgresTokenRepository(db *sqlx.DB) TokenRepository {
	return &postgresTokenRepository{db: db}
}

func (r *postgresTokenRepository) Save(ctx context.Context, token *PushToken) error {
	query := `
		INSERT INTO push_tokens (user_id, platform, token, device_id, is_active)
		VALUES ($1, $2, $3, $4, true)
		ON CONFLICT (user_id, device_id)
		DO UPDATE SET token = $3, platform = $2, is_active = true, updated_at = NOW()
		RETURNING id, is_active, created_at, updated_at`

	return r.db.QueryRowContext(ctx, query,
		token.UserID, token.Platform, token.Token, token.DeviceID,
	).Scan(&token.ID, &token.IsActive, &token.CreatedAt, &token.UpdatedAt)
}

func (r *postgresTokenRepository) ListActive(ctx context.Context, userID int64) ([]*PushToken, error) {
	query := `
		SELECT id, user_id, platform, token, device_id, is_active, created_at, updated_at
		FROM push_tokens
		WHERE user_id = $1 AND is_active = true
		ORDER BY id`

	var tokens []*PushToken
	err := r.db.SelectContext(ctx, &tokens, query, userID)
	return tokens, err
}

func (r *postgresTokenRepository) Delete(ctx context.Context, userID int64, token string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM push_tokens WHERE user_id = $1 AND token = $2`, userID, token)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func (r *postgresTokenRepository) Deactivate(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE push_tokens SET is_active = false, updated_at = NOW() WHERE token = $1`, token)
	return err
}

type deviceKey struct {
	userID   int64
	deviceID string
}

type memoryTokenRepository struct {
	mu     sync.Mutex
	nextID int64
	tokens map[deviceKey]*PushToken
}

// NewMemoryTokenRepository creates an in-process token repository
func NewMemoryTokenRepository() TokenRepository {
	return &memoryTokenRepository{tokens: make(map[deviceKey]*PushToken)}
}

func (r *memoryTokenRepository) Save(_ context.Context, token *PushToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	key := deviceKey{token.UserID, token.DeviceID}
	stored, ok := r.tokens[key]
	if !ok {
		r.nextID++
		stored = &PushToken{ID: r.nextID, UserID: token.UserID, DeviceID: token.DeviceID, CreatedAt: now}
		r.tokens[key] = stored
	}
	stored.Platform = token.Platform
	stored.Token = token.Token
	stored.IsActive = true
	stored.UpdatedAt = now

	*token = *stored
	return nil
}

func (r *memoryTokenRepository) ListActive(_ context.Context, userID int64) ([]*PushToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*PushToken
	for _, t := range r.tokens {
		if t.UserID == userID && t.IsActive {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryTokenRepository) Delete(_ context.Context, userID int64, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, t := range r.tokens {
		if t.UserID == userID && t.Token == token {
			delete(r.tokens, key)
			return nil
		}
	}
	return ErrTokenNotFound
}

func (r *memoryTokenRepository) Deactivate(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tokens {
		if t.Token == token {
			t.IsActive = false
			t.UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}
