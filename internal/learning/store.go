// internal/learning/store.go

package learning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// ModelStore persists trained models. Records are append-only and versioned
// per model name.
type ModelStore interface {
	// Save assigns the next version for m.Name and inserts the record.
	// When a blob store is configured the weights are written there and only
	// the key is kept on the record.
	Save(ctx context.Context, m *TrainedModel) error
	// LoadLatest returns the most recent record with its weights resolved,
	// or nil when no model has been saved.
	LoadLatest(ctx context.Context) (*TrainedModel, error)
	// History lists saved records newest first, without weights
	History(ctx context.Context, limit int) ([]*TrainedModel, error)
}

type postgresModelStore struct {
	db    *sqlx.DB
	name  string
	blobs BlobStore
}

// NewPostgresModelStore creates a model store for the named model. blobs may be nil.
func NewPostgresModelStore(db *sqlx.DB, name string, blobs BlobStore) ModelStore {
	return &postgresModelStore{db: db, name: name, blobs: blobs}
}

func (s *postgresModelStore) Save(ctx context.Context, m *TrainedModel) error {
	m.Name = s.name
	if err := externalize(ctx, s.blobs, m); err != nil {
		return err
	}

	specs, err := m.WeightSpecs.Value()
	if err != nil {
		return fmt.Errorf("failed to encode weight specs: %w", err)
	}

	query := `
		INSERT INTO trained_models (
			name, version, topology, weights, weights_key, weight_specs,
			accuracy_score, precision_score, recall_score, f1_score,
			samples_count, trained_at
		)
		SELECT $1::varchar, COALESCE(MAX(version), 0) + 1, $2::jsonb, $3::bytea, $4::text, $5::jsonb,
			$6::float8, $7::float8, $8::float8, $9::float8, $10::int, $11::timestamptz
		FROM trained_models WHERE name = $1
		RETURNING id, version, created_at`

	err = s.db.QueryRowxContext(ctx, query,
		m.Name, string(m.Topology), m.Weights, m.WeightsKey, specs,
		m.Accuracy, m.Precision, m.Recall, m.F1,
		m.SamplesCount, m.TrainedAt,
	).Scan(&m.ID, &m.Version, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}
	return nil
}

func (s *postgresModelStore) LoadLatest(ctx context.Context) (*TrainedModel, error) {
	var m TrainedModel
	err := s.db.GetContext(ctx, &m, `
		SELECT * FROM trained_models
		WHERE name = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, s.name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest model: %w", err)
	}

	if err := resolve(ctx, s.blobs, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *postgresModelStore) History(ctx context.Context, limit int) ([]*TrainedModel, error) {
	var models []*TrainedModel
	err := s.db.SelectContext(ctx, &models, `
		SELECT id, name, version, topology, weights_key, weight_specs,
			accuracy_score, precision_score, recall_score, f1_score,
			samples_count, trained_at, created_at
		FROM trained_models
		WHERE name = $1
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($2, 0)`, s.name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return models, nil
}

// externalize moves the weight buffer to the blob store
func externalize(ctx context.Context, blobs BlobStore, m *TrainedModel) error {
	if blobs == nil || m.Weights == nil {
		return nil
	}
	key := BlobKey(m.Name)
	if err := blobs.Put(ctx, key, m.Weights); err != nil {
		return err
	}
	m.WeightsKey = &key
	m.Weights = nil
	return nil
}

// resolve fetches externalized weights back onto the record
func resolve(ctx context.Context, blobs BlobStore, m *TrainedModel) error {
	if m.Weights != nil || m.WeightsKey == nil {
		return nil
	}
	if blobs == nil {
		return fmt.Errorf("model %d weights stored at %s but no blob store is configured", m.ID, *m.WeightsKey)
	}
	data, err := blobs.Get(ctx, *m.WeightsKey)
	if err != nil {
		return err
	}
	m.Weights = data
	return nil
}

// memoryModelStore keeps model records in process memory
type memoryModelStore struct {
	mu     sync.RWMutex
	name   string
	blobs  BlobStore
	nextID int64
	models []*TrainedModel
}

// NewMemoryModelStore creates an in-process model store. blobs may be nil.
func NewMemoryModelStore(name string, blobs BlobStore) ModelStore {
	return &memoryModelStore{name: name, blobs: blobs}
}

func (s *memoryModelStore) Save(ctx context.Context, m *TrainedModel) error {
	m.Name = s.name
	if err := externalize(ctx, s.blobs, m); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	m.ID = s.nextID
	m.Version = len(s.models) + 1
	m.CreatedAt = time.Now().UTC()

	cp := *m
	s.models = append(s.models, &cp)
	return nil
}

func (s *memoryModelStore) LoadLatest(ctx context.Context) (*TrainedModel, error) {
	s.mu.RLock()
	if len(s.models) == 0 {
		s.mu.RUnlock()
		return nil, nil
	}
	m := *s.models[len(s.models)-1]
	s.mu.RUnlock()

	if err := resolve(ctx, s.blobs, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *memoryModelStore) History(_ context.Context, limit int) ([]*TrainedModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*TrainedModel, 0, len(s.models))
	for _, m := range s.models {
		cp := *m
		cp.Weights = nil
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
