// internal/common/database/migrations.go
// Schema for the matching service

package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/logger"
)

// migrations are idempotent and run in order on every boot
var migrations = []string{
	// Users are owned by the profile service; only the columns the matcher reads are ensured here
	`CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		username VARCHAR(100) UNIQUE NOT NULL,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS date_of_birth DATE`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS gender VARCHAR(20)`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS interested_in VARCHAR(20) DEFAULT 'both'`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS latitude DOUBLE PRECISION`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS longitude DOUBLE PRECISION`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS interests TEXT[] DEFAULT '{}'`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS education VARCHAR(100)`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS zodiac_sign VARCHAR(20)`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS bio TEXT`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS is_online BOOLEAN DEFAULT FALSE`,

	// One row per directed like; the pair key gives set semantics
	`CREATE TABLE IF NOT EXISTS user_likes (
		liker_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		likee_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		rejected_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (liker_id, likee_id),
		CHECK (liker_id <> likee_id)
	)`,

	// Canonical, order-independent match edges
	`CREATE TABLE IF NOT EXISTS match_edges (
		lower_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		higher_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		matched_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (lower_id, higher_id),
		CHECK (lower_id < higher_id)
	)`,

	`CREATE TABLE IF NOT EXISTS training_samples (
		id BIGSERIAL PRIMARY KEY,
		subject_id INTEGER NOT NULL,
		target_id INTEGER NOT NULL,
		distance_score DOUBLE PRECISION NOT NULL,
		age_score DOUBLE PRECISION NOT NULL,
		interest_overlap DOUBLE PRECISION NOT NULL,
		gender_score DOUBLE PRECISION NOT NULL,
		education_score DOUBLE PRECISION NOT NULL,
		zodiac_score DOUBLE PRECISION NOT NULL,
		interest_cosine DOUBLE PRECISION NOT NULL,
		interest_ratio DOUBLE PRECISION NOT NULL,
		bio_score DOUBLE PRECISION NOT NULL,
		aggregate_score DOUBLE PRECISION NOT NULL,
		distance_known BOOLEAN NOT NULL DEFAULT FALSE,
		was_successful_match BOOLEAN NOT NULL,
		interaction_metrics JSONB,
		common_interests TEXT[] DEFAULT '{}',
		match_score DOUBLE PRECISION NOT NULL,
		source VARCHAR(20) NOT NULL,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_training_samples_derived_pair
		ON training_samples(subject_id, target_id) WHERE source <> 'live'`,
	`CREATE INDEX IF NOT EXISTS idx_training_samples_pair ON training_samples(subject_id, target_id)`,
	`CREATE INDEX IF NOT EXISTS idx_training_samples_source ON training_samples(source)`,

	`CREATE TABLE IF NOT EXISTS trained_models (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		version INTEGER NOT NULL,
		topology JSONB NOT NULL,
		weights BYTEA,
		weights_key TEXT,
		weight_specs JSONB NOT NULL,
		accuracy_score DOUBLE PRECISION NOT NULL,
		precision_score DOUBLE PRECISION NOT NULL,
		recall_score DOUBLE PRECISION NOT NULL,
		f1_score DOUBLE PRECISION NOT NULL,
		samples_count INTEGER NOT NULL,
		trained_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (name, version)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trained_models_created ON trained_models(created_at DESC, id DESC)`,

	// Fallback offline queue when Redis is not configured
	`CREATE TABLE IF NOT EXISTS pending_notifications (
		id BIGSERIAL PRIMARY KEY,
		user_id INTEGER NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_notifications_user ON pending_notifications(user_id, id)`,

	`CREATE TABLE IF NOT EXISTS push_tokens (
		id SERIAL PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token TEXT NOT NULL,
		platform VARCHAR(20) NOT NULL,
		device_id VARCHAR(255) NOT NULL,
		is_active BOOLEAN DEFAULT TRUE,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT unique_user_device UNIQUE (user_id, device_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_push_tokens_user ON push_tokens(user_id) WHERE is_active`,
	`CREATE INDEX IF NOT EXISTS idx_push_tokens_token ON push_tokens(token)`,
}

// RunMigrations executes the schema migrations in order
func RunMigrations(ctx context.Context, db *sqlx.DB, log *logger.Logger) error {
	for i, migration := range migrations {
		log.Debug("running migration", "step", i+1, "total", len(migrations))
		if _, err := db.ExecContext(ctx, migration); err != nil {
			// Concurrent boots can race on index creation
			if !strings.Contains(err.Error(), "already exists") {
				return fmt.Errorf("migration %d failed: %w", i+1, err)
			}
			log.Warn("migration skipped", "step", i+1, "reason", "already exists")
		}
	}
	log.Info("database migrations completed", "count", len(migrations))
	return nil
}
