// internal/learning/models.go

package learning

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/compat"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/neural"
)

var (
	ErrInsufficientTrainingData = errors.New("insufficient training data")
	ErrModelUnavailable         = errors.New("model not trained")
	ErrNoTrainingRunning        = errors.New("no training run in progress")
)

// SampleSource records where a training sample came from
type SampleSource string

const (
	SourceLive      SampleSource = "live"
	SourceBackfill  SampleSource = "backfill"
	SourceSynthetic SampleSource = "synthetic"
	SourceAugmented SampleSource = "augmented"
)

// InteractionMetrics summarize how a pair interacted after being shown to each other
type InteractionMetrics struct {
	ChatDurationSeconds float64 `json:"chat_duration_seconds"`
	MessageCount        int     `json:"message_count"`
	ResponseTimeSeconds float64 `json:"response_time_seconds"`
}

// Value implements driver.Valuer for JSONB storage
func (m InteractionMetrics) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for JSONB storage
func (m *InteractionMetrics) Scan(value interface{}) error {
	return scanJSON(value, m)
}

// TrainingSample is one labelled observation of a user pair. Samples are never updated.
type TrainingSample struct {
	ID        int64 `json:"id" db:"id"`
	SubjectID int64 `json:"subject_id" db:"subject_id"`
	TargetID  int64 `json:"target_id" db:"target_id"`

	compat.FeatureVector `json:"features"`

	WasSuccessfulMatch bool                `json:"was_successful_match" db:"was_successful_match"`
	InteractionMetrics *InteractionMetrics `json:"interaction_metrics,omitempty" db:"interaction_metrics"`
	CommonInterests    pq.StringArray      `json:"common_interests" db:"common_interests"`
	MatchScore         float64             `json:"match_score" db:"match_score"`
	Source             SampleSource        `json:"source" db:"source"`
	CreatedAt          time.Time           `json:"created_at" db:"created_at"`
}

// Label is the numeric training target
func (s *TrainingSample) Label() float64 {
	if s.WasSuccessfulMatch {
		return 1
	}
	return 0
}

// WeightSpecs is the JSONB column holding the weight layout of a model
type WeightSpecs []neural.WeightSpec

// Value implements driver.Valuer
func (w WeightSpecs) Value() (driver.Value, error) {
	b, err := json.Marshal([]neural.WeightSpec(w))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (w *WeightSpecs) Scan(value interface{}) error {
	return scanJSON(value, w)
}

// Evaluation holds validation metrics of a training run
type Evaluation struct {
	Accuracy  float64 `json:"accuracy" db:"accuracy_score"`
	Precision float64 `json:"precision" db:"precision_score"`
	Recall    float64 `json:"recall" db:"recall_score"`
	F1        float64 `json:"f1" db:"f1_score"`
}

// TrainedModel is one persisted training run. Records are append-only.
type TrainedModel struct {
	ID          int64           `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Version     int             `json:"version" db:"version"`
	Topology    json.RawMessage `json:"topology" db:"topology"`
	Weights     []byte          `json:"-" db:"weights"`
	WeightsKey  *string         `json:"weights_key,omitempty" db:"weights_key"`
	WeightSpecs WeightSpecs     `json:"weight_specs" db:"weight_specs"`

	Evaluation   `json:"evaluation"`
	SamplesCount int       `json:"samples_count" db:"samples_count"`
	TrainedAt    time.Time `json:"trained_at" db:"trained_at"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

func scanJSON(value interface{}, dst interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into %T", value, dst)
	}
	return json.Unmarshal(data, dst)
}
