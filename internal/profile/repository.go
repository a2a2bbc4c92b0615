// internal/profile/repository.go

package profile

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Repository is the user store the matcher reads profiles from and records
// like / match relationships in
type Repository interface {
	FindByID(ctx context.Context, userID int64) (*UserProfile, error)
	FindAll(ctx context.Context) ([]*UserProfile, error)

	// RecordLike inserts a directed like and, when the reverse like already
	// exists, the canonical match edge, atomically per pair
	RecordLike(ctx context.Context, likerID, likeeID int64) (*LikeOutcome, error)
	// RejectLike marks requester's pending like on rejecter as rejected.
	// Returns false when there was no pending like to reject.
	RejectLike(ctx context.Context, rejecterID, requesterID int64) (bool, error)
	Relationship(ctx context.Context, a, b int64) (*Relationship, error)

	SetOnline(ctx context.Context, userID int64, online bool) error
}

// postgresRepository implements Repository using PostgreSQL
type postgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

const selectProfiles = `
	SELECT
		u.id,
		COALESCE(EXTRACT(YEAR FROM age(u.date_of_birth))::int, 0) AS age,
		COALESCE(u.gender, '') AS gender,
		COALESCE(u.interested_in, 'both') AS interested_in,
		u.latitude, u.longitude,
		COALESCE(u.interests, '{}') AS interests,
		COALESCE(u.education, '') AS education,
		COALESCE(u.zodiac_sign, '') AS zodiac_sign,
		COALESCE(u.bio, '') AS bio,
		COALESCE(u.is_online, FALSE) AS is_online,
		ARRAY(SELECT l.likee_id FROM user_likes l WHERE l.liker_id = u.id ORDER BY l.created_at) AS liked,
		ARRAY(SELECT l.liker_id FROM user_likes l WHERE l.likee_id = u.id ORDER BY l.created_at) AS liked_by,
		ARRAY(
			SELECT CASE WHEN m.lower_id = u.id THEN m.higher_id ELSE m.lower_id END
			FROM match_edges m
			WHERE m.lower_id = u.id OR m.higher_id = u.id
			ORDER BY m.matched_at
		) AS matched
	FROM users u`

type profileRow struct {
	ID           int64          `db:"id"`
	Age          int            `db:"age"`
	Gender       string         `db:"gender"`
	InterestedIn string         `db:"interested_in"`
	Latitude     *float64       `db:"latitude"`
	Longitude    *float64       `db:"longitude"`
	Interests    pq.StringArray `db:"interests"`
	Education    string         `db:"education"`
	ZodiacSign   string         `db:"zodiac_sign"`
	Bio          string         `db:"bio"`
	IsOnline     bool           `db:"is_online"`
	Liked        pq.Int64Array  `db:"liked"`
	LikedBy      pq.Int64Array  `db:"liked_by"`
	Matched      pq.Int64Array  `db:"matched"`
}

func (r profileRow) toProfile() *UserProfile {
	return &UserProfile{
		ID:               r.ID,
		Age:              r.Age,
		Gender:           r.Gender,
		GenderPreference: r.InterestedIn,
		Latitude:         r.Latitude,
		Longitude:        r.Longitude,
		Interests:        []string(r.Interests),
		Education:        r.Education,
		ZodiacSign:       r.ZodiacSign,
		Bio:              r.Bio,
		IsOnline:         r.IsOnline,
		Liked:            []int64(r.Liked),
		LikedBy:          []int64(r.LikedBy),
		Matched:          []int64(r.Matched),
	}
}

// FindByID retrieves a profile with its relationships
func (r *postgresRepository) FindByID(ctx context.Context, userID int64) (*UserProfile, error) {
	var row profileRow
	if err := r.db.GetContext(ctx, &row, selectProfiles+` WHERE u.id = $1`, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return row.toProfile(), nil
}

// FindAll retrieves every profile
func (r *postgresRepository) FindAll(ctx context.Context) ([]*UserProfile, error) {
	var rows []profileRow
	if err := r.db.SelectContext(ctx, &rows, selectProfiles+` ORDER BY u.id`); err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	profiles := make([]*UserProfile, 0, len(rows))
	for _, row := range rows {
		profiles = append(profiles, row.toProfile())
	}
	return profiles, nil
}

// pairLockKey maps an unordered pair to a single bigint advisory lock key
func pairLockKey(a, b int64) int64 {
	lower, higher := CanonicalPair(a, b)
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(lower))
	binary.BigEndian.PutUint64(buf[8:], uint64(higher))
	h := fnv.New64a()
	h.Write(buf[:])
	return int64(h.Sum64())
}

// lockPair serializes writers on the same unordered pair for the rest of tx
func lockPair(ctx context.Context, tx *sqlx.Tx, a, b int64) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, pairLockKey(a, b)); err != nil {
		return fmt.Errorf("failed to lock pair: %w", err)
	}
	return nil
}

// RecordLike records a like and completes the match when it is mutual
func (r *postgresRepository) RecordLike(ctx context.Context, likerID, likeeID int64) (*LikeOutcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockPair(ctx, tx, likerID, likeeID); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO user_likes (liker_id, likee_id)
		VALUES ($1, $2)
		ON CONFLICT (liker_id, likee_id) DO NOTHING`,
		likerID, likeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to record like: %w", err)
	}
	n, _ := res.RowsAffected()
	outcome := &LikeOutcome{Created: n == 1}

	if err := tx.GetContext(ctx, &outcome.Mutual, `
		SELECT EXISTS (SELECT 1 FROM user_likes WHERE liker_id = $1 AND likee_id = $2)`,
		likeeID, likerID); err != nil {
		return nil, fmt.Errorf("failed to check reverse like: %w", err)
	}

	if outcome.Mutual {
		// Liking back overrides an earlier rejection in either direction
		if _, err := tx.ExecContext(ctx, `
			UPDATE user_likes SET rejected_at = NULL
			WHERE (liker_id = $1 AND likee_id = $2) OR (liker_id = $2 AND likee_id = $1)`,
			likerID, likeeID); err != nil {
			return nil, fmt.Errorf("failed to clear rejection: %w", err)
		}

		lower, higher := CanonicalPair(likerID, likeeID)
		res, err := tx.ExecContext(ctx, `
			INSERT INTO match_edges (lower_id, higher_id)
			VALUES ($1, $2)
			ON CONFLICT (lower_id, higher_id) DO NOTHING`,
			lower, higher)
		if err != nil {
			return nil, fmt.Errorf("failed to create match: %w", err)
		}
		n, _ := res.RowsAffected()
		outcome.MatchCreated = n == 1
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit like: %w", err)
	}
	return outcome, nil
}

// RejectLike marks a pending like as rejected
func (r *postgresRepository) RejectLike(ctx context.Context, rejecterID, requesterID int64) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockPair(ctx, tx, rejecterID, requesterID); err != nil {
		return false, err
	}

	lower, higher := CanonicalPair(rejecterID, requesterID)
	res, err := tx.ExecContext(ctx, `
		UPDATE user_likes SET rejected_at = NOW()
		WHERE liker_id = $1 AND likee_id = $2 AND rejected_at IS NULL
		AND NOT EXISTS (SELECT 1 FROM match_edges WHERE lower_id = $3 AND higher_id = $4)`,
		requesterID, rejecterID, lower, higher)
	if err != nil {
		return false, fmt.Errorf("failed to reject like: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit rejection: %w", err)
	}
	return n == 1, nil
}

// Relationship reads the directed relationship of a towards b
func (r *postgresRepository) Relationship(ctx context.Context, a, b int64) (*Relationship, error) {
	lower, higher := CanonicalPair(a, b)
	var rel Relationship
	err := r.db.GetContext(ctx, &rel, `
		SELECT
			EXISTS (SELECT 1 FROM user_likes WHERE liker_id = $1 AND likee_id = $2) AS liked,
			EXISTS (SELECT 1 FROM user_likes WHERE liker_id = $1 AND likee_id = $2 AND rejected_at IS NOT NULL) AS rejected,
			EXISTS (SELECT 1 FROM user_likes WHERE liker_id = $2 AND likee_id = $1) AS liked_back,
			EXISTS (SELECT 1 FROM match_edges WHERE lower_id = $3 AND higher_id = $4) AS matched`,
		a, b, lower, higher)
	if err != nil {
		return nil, fmt.Errorf("failed to read relationship: %w", err)
	}
	return &rel, nil
}

// SetOnline updates the presence flag
func (r *postgresRepository) SetOnline(ctx context.Context, userID int64, online bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET is_online = $1, updated_at = NOW() WHERE id = $2`, online, userID)
	if err != nil {
		return fmt.Errorf("failed to update online status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}
