// internal/learning/samples.go

package learning

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// SampleRepository persists training samples
type SampleRepository interface {
	// Insert appends a sample. Derived samples (anything but live outcomes)
	// are written at most once per subject/target pair; the bool reports
	// whether a row was written.
	Insert(ctx context.Context, s *TrainingSample) (bool, error)
	Exists(ctx context.Context, subjectID, targetID int64) (bool, error)
	Count(ctx context.Context) (int, error)
	CountBySource(ctx context.Context, source SampleSource) (int, error)
	List(ctx context.Context) ([]*TrainingSample, error)
}

var sampleColumns = []struct{ name, sqlType string }{
	{"subject_id", "INTEGER"},
	{"target_id", "INTEGER"},
	{"distance_score", "DOUBLE PRECISION"},
	{"age_score", "DOUBLE PRECISION"},
	{"interest_overlap", "DOUBLE PRECISION"},
	{"gender_score", "DOUBLE PRECISION"},
	{"education_score", "DOUBLE PRECISION"},
	{"zodiac_score", "DOUBLE PRECISION"},
	{"interest_cosine", "DOUBLE PRECISION"},
	{"interest_ratio", "DOUBLE PRECISION"},
	{"bio_score", "DOUBLE PRECISION"},
	{"aggregate_score", "DOUBLE PRECISION"},
	{"distance_known", "BOOLEAN"},
	{"was_successful_match", "BOOLEAN"},
	{"interaction_metrics", "JSONB"},
	{"common_interests", "TEXT[]"},
	{"match_score", "DOUBLE PRECISION"},
	{"source", "VARCHAR(20)"},
	{"created_at", "TIMESTAMPTZ"},
}

var insertLiveSample, insertDerivedSample = buildSampleInserts()

// buildSampleInserts returns a plain insert for live outcomes and a
// pair-deduplicating insert for derived samples. The partial unique index on
// (subject_id, target_id) backs the NOT EXISTS check under concurrency.
func buildSampleInserts() (string, string) {
	names := make([]string, len(sampleColumns))
	params := make([]string, len(sampleColumns))
	casts := make([]string, len(sampleColumns))
	for i, c := range sampleColumns {
		names[i] = c.name
		params[i] = ":" + c.name
		casts[i] = fmt.Sprintf("CAST(:%s AS %s)", c.name, c.sqlType)
	}
	cols := strings.Join(names, ", ")

	live := fmt.Sprintf(`INSERT INTO training_samples (%s) VALUES (%s)`, cols, strings.Join(params, ", "))
	derived := fmt.Sprintf(`
		INSERT INTO training_samples (%s)
		SELECT %s
		WHERE NOT EXISTS (
			SELECT 1 FROM training_samples WHERE subject_id = :subject_id AND target_id = :target_id
		)
		ON CONFLICT DO NOTHING`, cols, strings.Join(casts, ", "))
	return live, derived
}

type postgresSampleRepository struct {
	db *sqlx.DB
}

// NewPostgresSampleRepository creates a PostgreSQL-backed sample repository
func NewPostgresSampleRepository(db *sqlx.DB) SampleRepository {
	return &postgresSampleRepository{db: db}
}

func (r *postgresSampleRepository) Insert(ctx context.Context, s *TrainingSample) (bool, error) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	query := insertDerivedSample
	if s.Source == SourceLive {
		query = insertLiveSample
	}
	res, err := r.db.NamedExecContext(ctx, query, s)
	if err != nil {
		return false, fmt.Errorf("failed to insert training sample: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *postgresSampleRepository) Exists(ctx context.Context, subjectID, targetID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM training_samples WHERE subject_id = $1 AND target_id = $2)`,
		subjectID, targetID)
	if err != nil {
		return false, fmt.Errorf("failed to check training sample: %w", err)
	}
	return exists, nil
}

func (r *postgresSampleRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM training_samples`); err != nil {
		return 0, fmt.Errorf("failed to count training samples: %w", err)
	}
	return n, nil
}

func (r *postgresSampleRepository) CountBySource(ctx context.Context, source SampleSource) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM training_samples WHERE source = $1`, source); err != nil {
		return 0, fmt.Errorf("failed to count training samples: %w", err)
	}
	return n, nil
}

func (r *postgresSampleRepository) List(ctx context.Context) ([]*TrainingSample, error) {
	var samples []*TrainingSample
	if err := r.db.SelectContext(ctx, &samples, `SELECT * FROM training_samples ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list training samples: %w", err)
	}
	return samples, nil
}

// memorySampleRepository keeps samples in process memory
type memorySampleRepository struct {
	mu      sync.RWMutex
	nextID  int64
	samples []*TrainingSample
}

// NewMemorySampleRepository creates an in-process sample repository
func NewMemorySampleRepository() SampleRepository {
	return &memorySampleRepository{}
}

func (r *memorySampleRepository) Insert(_ context.Context, s *TrainingSample) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Source != SourceLive && r.existsLocked(s.SubjectID, s.TargetID) {
		return false, nil
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	r.nextID++
	cp := *s
	cp.ID = r.nextID
	s.ID = cp.ID
	r.samples = append(r.samples, &cp)
	return true, nil
}

func (r *memorySampleRepository) existsLocked(subjectID, targetID int64) bool {
	for _, s := range r.samples {
		if s.SubjectID == subjectID && s.TargetID == targetID {
			return true
		}
	}
	return false
}

func (r *memorySampleRepository) Exists(_ context.Context, subjectID, targetID int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.existsLocked(subjectID, targetID), nil
}

func (r *memorySampleRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.samples), nil
}

func (r *memorySampleRepository) CountBySource(_ context.Context, source SampleSource) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, s := range r.samples {
		if s.Source == source {
			n++
		}
	}
	return n, nil
}

func (r *memorySampleRepository) List(_ context.Context) ([]*TrainingSample, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*TrainingSample, len(r.samples))
	for i, s := range r.samples {
		cp := *s
		out[i] = &cp
	}
	return out, nil
}
