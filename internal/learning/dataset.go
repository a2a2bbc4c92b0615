// internal/learning/dataset.go
// Training data collection: backfill from the like graph, synthesis for cold
// starts and class balancing with jittered augmentation

package learning

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/logger"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/compat"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/config"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
)

// synthesisAttemptsPerSample bounds random pair draws during synthesis
const synthesisAttemptsPerSample = 20

// DataManager builds and maintains the training set
type DataManager struct {
	users   profile.Repository
	samples SampleRepository
	cfg     config.MLConfig
	log     *logger.Logger

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// NewDataManager creates a data manager. rng seeds synthesis and balancing.
func NewDataManager(users profile.Repository, samples SampleRepository, cfg config.MLConfig, rng *rand.Rand, log *logger.Logger) *DataManager {
	return &DataManager{
		users:   users,
		samples: samples,
		cfg:     cfg,
		rng:     rng,
		log:     log,
	}
}

// NewSample extracts the features of a pair into an unsaved sample
func NewSample(subject, target *profile.UserProfile, success bool, metrics *InteractionMetrics, source SampleSource) *TrainingSample {
	f := compat.Extract(subject, target)
	return &TrainingSample{
		SubjectID:          subject.ID,
		TargetID:           target.ID,
		FeatureVector:      f,
		WasSuccessfulMatch: success,
		InteractionMetrics: metrics,
		CommonInterests:    compat.CommonInterests(subject, target),
		MatchScore:         f.Aggregate,
		Source:             source,
	}
}

// Backfill turns every existing like and match into a labelled sample. A pair
// is labelled positive when the like is mutual. Pairs already sampled are skipped.
func (m *DataManager) Backfill(ctx context.Context) (int, error) {
	users, err := m.users.FindAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load users: %w", err)
	}
	byID := make(map[int64]*profile.UserProfile, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	inserted := 0
	for _, subject := range users {
		if len(subject.Liked) == 0 && len(subject.Matched) == 0 {
			continue
		}

		seen := make(map[int64]struct{})
		targets := append(append([]int64{}, subject.Liked...), subject.Matched...)
		for _, targetID := range targets {
			if _, dup := seen[targetID]; dup {
				continue
			}
			seen[targetID] = struct{}{}

			if err := ctx.Err(); err != nil {
				return inserted, err
			}

			exists, err := m.samples.Exists(ctx, subject.ID, targetID)
			if err != nil {
				return inserted, err
			}
			if exists {
				continue
			}

			target, ok := byID[targetID]
			if !ok {
				m.log.Warn("backfill target not found", "subject_id", subject.ID, "target_id", targetID)
				continue
			}

			mutual := subject.IsLikedBy(target.ID) && target.HasLiked(subject.ID)
			ok, err = m.samples.Insert(ctx, NewSample(subject, target, mutual, nil, SourceBackfill))
			if err != nil {
				return inserted, err
			}
			if ok {
				inserted++
			}
		}
	}

	if inserted > 0 {
		m.log.Info("backfilled training samples", "count", inserted)
	}
	return inserted, nil
}

// Synthesize tops the sample set up to MinSamples with labelled random
// pairs of gender-compatible users. Positives are labelled leniently until
// the running positive ratio reaches TargetPositiveRatio, strictly after.
func (m *DataManager) Synthesize(ctx context.Context) (int, error) {
	count, err := m.samples.Count(ctx)
	if err != nil {
		return 0, err
	}
	needed := m.cfg.MinSamples - count
	if needed <= 0 {
		return 0, nil
	}

	users, err := m.users.FindAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load users: %w", err)
	}
	if len(users) < 2 {
		m.log.Warn("not enough users to synthesize training data", "users", len(users))
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	inserted, positives := 0, 0
	for attempt := 0; attempt < needed*synthesisAttemptsPerSample && inserted < needed; attempt++ {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}

		a := users[m.rng.Intn(len(users))]
		b := users[m.rng.Intn(len(users))]
		if a.ID == b.ID || !compat.GenderCompatible(a, b) {
			continue
		}

		score := compat.Extract(a, b).Aggregate
		threshold := m.cfg.StrictPositiveThreshold
		if inserted == 0 || float64(positives)/float64(inserted) < m.cfg.TargetPositiveRatio {
			threshold = m.cfg.PositiveThreshold
		}
		success := score >= threshold

		ok, err := m.samples.Insert(ctx, NewSample(a, b, success, m.syntheticMetrics(score, success), SourceSynthetic))
		if err != nil {
			return inserted, err
		}
		if !ok {
			continue
		}
		inserted++
		if success {
			positives++
		}
	}

	m.log.Info("synthesized training samples",
		"count", inserted,
		"positives", positives,
		"needed", needed,
	)
	return inserted, nil
}

// syntheticMetrics invents interaction metrics that grow with the score and
// are larger for successful pairs. Callers hold m.mu.
func (m *DataManager) syntheticMetrics(score float64, success bool) *InteractionMetrics {
	scale := 0.3
	if success {
		scale = 1
	}
	return &InteractionMetrics{
		ChatDurationSeconds: score * scale * (300 + m.rng.Float64()*1500),
		MessageCount:        int(score * scale * (5 + m.rng.Float64()*45)),
		ResponseTimeSeconds: (1.1 - score) * (30 + m.rng.Float64()*570) / scale,
	}
}

// Balance returns a training set with exactly perClassCap samples of each
// class. Larger classes are subsampled; smaller ones are filled with jittered
// copies tagged as augmented. The result is empty when either class is empty.
func (m *DataManager) Balance(samples []*TrainingSample, perClassCap int) []*TrainingSample {
	var pos, neg []*TrainingSample
	for _, s := range samples {
		if s.WasSuccessfulMatch {
			pos = append(pos, s)
		} else {
			neg = append(neg, s)
		}
	}
	if len(pos) == 0 || len(neg) == 0 || perClassCap < 1 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*TrainingSample, 0, 2*perClassCap)
	out = append(out, m.fitClass(pos, perClassCap)...)
	out = append(out, m.fitClass(neg, perClassCap)...)
	return out
}

func (m *DataManager) fitClass(class []*TrainingSample, n int) []*TrainingSample {
	if len(class) >= n {
		picked := make([]*TrainingSample, len(class))
		copy(picked, class)
		m.rng.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
		return picked[:n]
	}

	out := make([]*TrainingSample, len(class), n)
	copy(out, class)
	for len(out) < n {
		out = append(out, m.jitter(class[m.rng.Intn(len(class))]))
	}
	return out
}

// jitter copies a sample and perturbs its continuous sub-scores. Gender and
// education are binary and stay untouched.
func (m *DataManager) jitter(s *TrainingSample) *TrainingSample {
	cp := *s
	cp.ID = 0
	cp.Source = SourceAugmented

	amp := m.cfg.JitterAmplitude
	for _, v := range []*float64{
		&cp.Distance,
		&cp.Age,
		&cp.InterestOverlap,
		&cp.Zodiac,
		&cp.InterestCosine,
		&cp.InterestRatio,
		&cp.Bio,
	} {
		*v = clampUnit(*v + (m.rng.Float64()*2-1)*amp)
	}
	return &cp
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
