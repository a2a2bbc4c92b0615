// internal/learning/service.go

package learning

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/logger"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/compat"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/config"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/neural"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
)

// forced and cooldown-respecting passes join separate flights so a forced
// request never receives a skipped result; trainMu runs them one at a time
func trainKey(force bool) string {
	if force {
		return "train:force"
	}
	return "train"
}

// Service is the entry point of the learning pipeline
type Service struct {
	users     profile.Repository
	samples   SampleRepository
	store     ModelStore
	data      *DataManager
	trainer   *Trainer
	predictor *Predictor
	scorer    *Scorer
	rules     *compat.RuleScorer
	cfg       config.MLConfig
	log       *logger.Logger

	group   singleflight.Group
	trainMu sync.Mutex

	mu          sync.Mutex
	cancelTrain context.CancelFunc

	// live sample ordinal, seeded from the store on first use
	liveMu     sync.Mutex
	liveSeeded bool
	liveCount  atomic.Int64

	// background work outlives requests but not the service
	baseCtx context.Context
	stop    context.CancelFunc
	bg      sync.WaitGroup
}

// NewService wires the data manager, trainer, predictor and scorer together
func NewService(users profile.Repository, samples SampleRepository, store ModelStore, cfg config.MLConfig, log *logger.Logger) *Service {
	log = log.With("component", "learning")
	rules := compat.NewRuleScorer()
	predictor := NewPredictor(store, log)
	data := NewDataManager(users, samples, cfg, rand.New(rand.NewSource(cfg.Seed)), log)

	baseCtx, stop := context.WithCancel(context.Background())
	return &Service{
		users:     users,
		samples:   samples,
		store:     store,
		data:      data,
		trainer:   NewTrainer(samples, data, store, predictor, cfg, log),
		predictor: predictor,
		scorer:    NewScorer(rules, predictor, log),
		rules:     rules,
		cfg:       cfg,
		log:       log,
		baseCtx:   baseCtx,
		stop:      stop,
	}
}

// Predictor exposes the resident model handle
func (s *Service) Predictor() *Predictor {
	return s.predictor
}

// EnsureReady loads the latest model, and when there is none or it needs
// retraining, backfills and synthesizes samples and trains. Lack of data is
// not an error: the service then scores with rules until enough samples exist.
func (s *Service) EnsureReady(ctx context.Context) error {
	err := s.predictor.Load(ctx)
	force := false
	switch {
	case err == nil:
		needs, err := s.trainer.NeedsRetraining(ctx)
		if err != nil {
			return err
		}
		if !needs {
			return nil
		}
	case errors.Is(err, neural.ErrCorruptWeights):
		s.log.Warn("stored model is corrupt, retraining", "error", err)
		force = true
	case errors.Is(err, ErrModelUnavailable):
		s.log.Info("no trained model found, bootstrapping")
	default:
		s.log.Warn("failed to load model, retraining", "error", err)
		force = true
	}

	_, err = s.Train(ctx, force)
	if errors.Is(err, ErrInsufficientTrainingData) {
		s.log.Warn("not enough training data, using rule-based scoring", "error", err)
		return nil
	}
	return err
}

// ScoreResult is the explained rule-based score of a pair
type ScoreResult struct {
	UserA int64 `json:"user_a"`
	UserB int64 `json:"user_b"`
	*compat.Explanation
}

// Score returns the rule-based compatibility of two users with its factors
func (s *Service) Score(ctx context.Context, userA, userB int64) (*ScoreResult, error) {
	a, b, err := s.loadPair(ctx, userA, userB)
	if err != nil {
		return nil, err
	}
	return &ScoreResult{UserA: userA, UserB: userB, Explanation: s.rules.Explain(a, b)}, nil
}

// Prediction is the raw model output for a pair
type Prediction struct {
	UserA        int64   `json:"user_a"`
	UserB        int64   `json:"user_b"`
	Probability  float64 `json:"probability"`
	ModelVersion int     `json:"model_version"`
}

// Predict returns the model's match probability. It fails with
// ErrModelUnavailable when no model has been trained.
func (s *Service) Predict(ctx context.Context, userA, userB int64) (*Prediction, error) {
	a, b, err := s.loadPair(ctx, userA, userB)
	if err != nil {
		return nil, err
	}
	p, err := s.predictor.Predict(ctx, a, b)
	if err != nil {
		return nil, err
	}
	version, _, _ := s.predictor.Current()
	predictionsTotal.WithLabelValues(string(MethodAIModel)).Inc()
	return &Prediction{UserA: userA, UserB: userB, Probability: p, ModelVersion: version}, nil
}

// ScorePair rates already loaded profiles with the composed scorer
func (s *Service) ScorePair(ctx context.Context, a, b *profile.UserProfile, useModel bool) (float64, Method) {
	return s.scorer.Score(ctx, a, b, useModel)
}

// Outcome is an observed result of showing two users to each other
type Outcome struct {
	SubjectID int64
	TargetID  int64
	Success   bool
	Metrics   *InteractionMetrics
}

// RecordOutcome stores a live sample for the pair. Every RetrainEvery live
// samples a background retrain is started.
func (s *Service) RecordOutcome(ctx context.Context, o Outcome) (*TrainingSample, error) {
	subject, target, err := s.loadPair(ctx, o.SubjectID, o.TargetID)
	if err != nil {
		return nil, err
	}
	return s.RecordPair(ctx, subject, target, o.Success, o.Metrics)
}

// RecordPair is RecordOutcome for profiles the caller already holds
func (s *Service) RecordPair(ctx context.Context, subject, target *profile.UserProfile, success bool, metrics *InteractionMetrics) (*TrainingSample, error) {
	if err := s.seedLiveCount(ctx); err != nil {
		return nil, err
	}

	sample := NewSample(subject, target, success, metrics, SourceLive)
	if _, err := s.samples.Insert(ctx, sample); err != nil {
		return nil, err
	}
	samplesRecorded.WithLabelValues(string(SourceLive)).Inc()

	live := s.liveCount.Add(1)
	if live%int64(s.cfg.RetrainEvery) == 0 {
		s.log.Info("live sample threshold reached, retraining", "live_samples", live)
		s.retrainAsync(true)
	}
	return sample, nil
}

// seedLiveCount loads the number of stored live samples once, before the
// first insert, so every later insert gets a unique ordinal
func (s *Service) seedLiveCount(ctx context.Context) error {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if s.liveSeeded {
		return nil
	}
	n, err := s.samples.CountBySource(ctx, SourceLive)
	if err != nil {
		return fmt.Errorf("failed to count live samples: %w", err)
	}
	s.liveCount.Store(int64(n))
	s.liveSeeded = true
	return nil
}

// Train backfills and synthesizes samples, then trains. Concurrent calls
// share a single run. The run is detached from ctx: a caller that gives up
// stops waiting but the run continues until CancelTraining.
func (s *Service) Train(ctx context.Context, force bool) (*TrainResult, error) {
	ch := s.group.DoChan(trainKey(force), func() (interface{}, error) {
		return s.runTraining(force)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*TrainResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) runTraining(force bool) (*TrainResult, error) {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()

	ctx, cancel := context.WithCancel(s.baseCtx)
	s.mu.Lock()
	s.cancelTrain = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancelTrain = nil
		s.mu.Unlock()
		cancel()
	}()

	skipped, err := s.trainer.Cooldown(ctx, force)
	if err != nil {
		trainingRunsTotal.WithLabelValues(outcomeOf(err)).Inc()
		return nil, err
	}
	if skipped != nil {
		trainingRunsTotal.WithLabelValues("skipped").Inc()
		return skipped, nil
	}

	if _, err := s.data.Backfill(ctx); err != nil {
		trainingRunsTotal.WithLabelValues(outcomeOf(err)).Inc()
		return nil, fmt.Errorf("backfill failed: %w", err)
	}
	if _, err := s.data.Synthesize(ctx); err != nil {
		trainingRunsTotal.WithLabelValues(outcomeOf(err)).Inc()
		return nil, fmt.Errorf("synthesis failed: %w", err)
	}

	res, err := s.trainer.Train(ctx, force)
	if err != nil {
		trainingRunsTotal.WithLabelValues(outcomeOf(err)).Inc()
		if errors.Is(err, ErrInsufficientTrainingData) {
			s.log.Warn("training skipped", "error", err)
		} else {
			s.log.Error("training failed", "error", err)
		}
		return nil, err
	}

	if res.Trained {
		trainingRunsTotal.WithLabelValues("trained").Inc()
	} else {
		trainingRunsTotal.WithLabelValues("skipped").Inc()
	}
	return res, nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientTrainingData):
		return "insufficient_data"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "failed"
	}
}

// CancelTraining aborts the running training pass, if any
func (s *Service) CancelTraining() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelTrain == nil {
		return ErrNoTrainingRunning
	}
	s.cancelTrain()
	s.log.Info("training cancellation requested")
	return nil
}

// Training reports whether a training pass is running
func (s *Service) Training() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelTrain != nil
}

// RetrainIfNeeded trains when NeedsRetraining says so
func (s *Service) RetrainIfNeeded(ctx context.Context) error {
	needs, err := s.trainer.NeedsRetraining(ctx)
	if err != nil {
		return err
	}
	if !needs {
		return nil
	}
	_, err = s.Train(ctx, false)
	if errors.Is(err, ErrInsufficientTrainingData) {
		return nil
	}
	return err
}

func (s *Service) retrainAsync(force bool) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if _, err := s.Train(s.baseCtx, force); err != nil && !errors.Is(err, ErrInsufficientTrainingData) {
			s.log.Error("background retraining failed", "error", err)
		}
	}()
}

// Wait blocks until background retraining has finished
func (s *Service) Wait() {
	s.bg.Wait()
}

// Close cancels background work and waits for it
func (s *Service) Close() {
	s.stop()
	s.bg.Wait()
}

// ModelStats describes the resident model and the training set
type ModelStats struct {
	Ready           bool            `json:"ready"`
	ModelVersion    int             `json:"model_version,omitempty"`
	TrainedAt       *time.Time      `json:"trained_at,omitempty"`
	Evaluation      *Evaluation     `json:"evaluation,omitempty"`
	ModelSamples    int             `json:"model_samples"`
	TotalSamples    int             `json:"total_samples"`
	LiveSamples     int             `json:"live_samples"`
	NeedsRetraining bool            `json:"needs_retraining"`
	Training        bool            `json:"training"`
	CircuitBreaker  string          `json:"circuit_breaker"`
	History         []*TrainedModel `json:"history"`
}

// Stats reports on the model and the sample set
func (s *Service) Stats(ctx context.Context) (*ModelStats, error) {
	total, err := s.samples.Count(ctx)
	if err != nil {
		return nil, err
	}
	live, err := s.samples.CountBySource(ctx, SourceLive)
	if err != nil {
		return nil, err
	}
	needs, err := s.trainer.NeedsRetraining(ctx)
	if err != nil {
		return nil, err
	}
	history, err := s.store.History(ctx, 10)
	if err != nil {
		return nil, err
	}

	stats := &ModelStats{
		TotalSamples:    total,
		LiveSamples:     live,
		NeedsRetraining: needs,
		Training:        s.Training(),
		CircuitBreaker:  s.scorer.BreakerState(),
		History:         history,
	}
	if m := s.predictor.Model(); m != nil {
		stats.Ready = true
		stats.ModelVersion = m.Version
		stats.TrainedAt = &m.TrainedAt
		stats.Evaluation = &m.Evaluation
		stats.ModelSamples = m.SamplesCount
	}
	return stats, nil
}

// Bucket is one decile of the score distribution
type Bucket struct {
	Range   string  `json:"range"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Count   int     `json:"count"`
	Matches int     `json:"matches"`
}

// Distribution summarizes sample scores and outcomes
type Distribution struct {
	Buckets      []Bucket `json:"buckets"`
	TotalSamples int      `json:"total_samples"`
	TotalMatches int      `json:"total_matches"`
	SuccessRate  float64  `json:"success_rate"`
	AverageScore float64  `json:"average_score"`
}

// MatchDistribution buckets sample match scores into deciles
func (s *Service) MatchDistribution(ctx context.Context) (*Distribution, error) {
	samples, err := s.samples.List(ctx)
	if err != nil {
		return nil, err
	}
	return distributionOf(samples), nil
}

func distributionOf(samples []*TrainingSample) *Distribution {
	d := &Distribution{Buckets: make([]Bucket, 10)}
	for i := range d.Buckets {
		lo, hi := float64(i)/10, float64(i+1)/10
		d.Buckets[i] = Bucket{Range: fmt.Sprintf("%.1f-%.1f", lo, hi), Min: lo, Max: hi}
	}

	var sum float64
	for _, sm := range samples {
		i := int(sm.MatchScore * 10)
		if i > 9 {
			i = 9
		}
		if i < 0 {
			i = 0
		}
		d.Buckets[i].Count++
		if sm.WasSuccessfulMatch {
			d.Buckets[i].Matches++
			d.TotalMatches++
		}
		sum += sm.MatchScore
	}

	d.TotalSamples = len(samples)
	if d.TotalSamples > 0 {
		d.SuccessRate = float64(d.TotalMatches) / float64(d.TotalSamples)
		d.AverageScore = sum / float64(d.TotalSamples)
	}
	return d
}

func (s *Service) loadPair(ctx context.Context, aID, bID int64) (*profile.UserProfile, *profile.UserProfile, error) {
	a, err := s.users.FindByID(ctx, aID)
	if err != nil {
		return nil, nil, err
	}
	b, err := s.users.FindByID(ctx, bID)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}
