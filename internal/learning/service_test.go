package learning

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/logger"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/config"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
)

func newService(t *testing.T, cfg config.MLConfig, users ...*profile.UserProfile) (*Service, SampleRepository) {
	t.Helper()
	samples := NewMemorySampleRepository()
	return newServiceWith(t, cfg, profile.NewMemoryRepository(users...), samples), samples
}

func newServiceWith(t *testing.T, cfg config.MLConfig, users profile.Repository, samples SampleRepository) *Service {
	t.Helper()
	svc := NewService(users, samples, NewMemoryModelStore(cfg.ModelName, nil), cfg, logger.NewNop())
	t.Cleanup(svc.Close)
	return svc
}

func versions(t *testing.T, svc *Service) int {
	t.Helper()
	history, err := svc.store.History(context.Background(), 0)
	require.NoError(t, err)
	return len(history)
}

// gatedSamples holds live inserts until every expected caller has arrived
type gatedSamples struct {
	SampleRepository
	gate *sync.WaitGroup
}

func (g *gatedSamples) Insert(ctx context.Context, s *TrainingSample) (bool, error) {
	if g.gate != nil && s.Source == SourceLive {
		g.gate.Done()
		g.gate.Wait()
	}
	return g.SampleRepository.Insert(ctx, s)
}

// countingUsers counts full profile scans
type countingUsers struct {
	profile.Repository
	scans atomic.Int32
}

func (c *countingUsers) FindAll(ctx context.Context) ([]*profile.UserProfile, error) {
	c.scans.Add(1)
	return c.Repository.FindAll(ctx)
}

func TestEnsureReadyWithoutDataFallsBackToRules(t *testing.T) {
	svc, _ := newService(t, testConfig())

	require.NoError(t, svc.EnsureReady(context.Background()))
	assert.False(t, svc.Predictor().Ready())
}

func TestEnsureReadyBootstrapsFromSeededSamples(t *testing.T) {
	ctx := context.Background()
	svc, samples := newService(t, testConfig())
	seedSamples(t, samples, labelledSamples(20))

	require.NoError(t, svc.EnsureReady(ctx))
	assert.True(t, svc.Predictor().Ready())

	// A second boot loads the saved model instead of training again
	require.NoError(t, svc.EnsureReady(ctx))
	version, _, _ := svc.Predictor().Current()
	assert.Equal(t, 1, version)
}

func TestRecordOutcomeTriggersRetraining(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	svc, samples := newService(t, cfg, community(4)...)
	seedSamples(t, samples, labelledSamples(20))

	for i := 0; i < cfg.RetrainEvery; i++ {
		sample, err := svc.RecordOutcome(ctx, Outcome{SubjectID: 1, TargetID: 2, Success: i%2 == 0})
		require.NoError(t, err)
		assert.Equal(t, SourceLive, sample.Source)
	}
	svc.Wait()

	assert.True(t, svc.Predictor().Ready(), "reaching RetrainEvery live samples retrains")
	live, err := samples.CountBySource(ctx, SourceLive)
	require.NoError(t, err)
	assert.Equal(t, cfg.RetrainEvery, live)
}

func TestRecordOutcomeUnknownUser(t *testing.T) {
	svc, _ := newService(t, testConfig(), community(1)...)

	_, err := svc.RecordOutcome(context.Background(), Outcome{SubjectID: 1, TargetID: 99})
	assert.ErrorIs(t, err, profile.ErrUserNotFound)
}

func TestCancelTrainingWithoutRun(t *testing.T) {
	svc, _ := newService(t, testConfig())

	assert.ErrorIs(t, svc.CancelTraining(), ErrNoTrainingRunning)
	assert.False(t, svc.Training())
}

func TestPredictUntrained(t *testing.T) {
	svc, _ := newService(t, testConfig(), community(2)...)

	_, err := svc.Predict(context.Background(), 1, 2)
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestScoreExplainsRuleScore(t *testing.T) {
	svc, _ := newService(t, testConfig(), community(2)...)

	res, err := svc.Score(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.UserA)
	assert.GreaterOrEqual(t, res.Score, 0.3)
	assert.LessOrEqual(t, res.Score, 1.0)
	assert.NotNil(t, res.DistanceKm)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	svc, samples := newService(t, testConfig())
	seedSamples(t, samples, labelledSamples(20))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.False(t, stats.Ready)
	assert.True(t, stats.NeedsRetraining)
	assert.Equal(t, 40, stats.TotalSamples)

	_, err = svc.Train(ctx, true)
	require.NoError(t, err)

	stats, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Ready)
	assert.Equal(t, 1, stats.ModelVersion)
	assert.Equal(t, 40, stats.ModelSamples)
	assert.False(t, stats.NeedsRetraining)
	assert.Len(t, stats.History, 1)
}

func TestMatchDistribution(t *testing.T) {
	samples := []*TrainingSample{
		{MatchScore: 0.05},
		{MatchScore: 0.35, WasSuccessfulMatch: true},
		{MatchScore: 0.38},
		{MatchScore: 1.0, WasSuccessfulMatch: true},
	}

	d := distributionOf(samples)

	require.Len(t, d.Buckets, 10)
	assert.Equal(t, "0.3-0.4", d.Buckets[3].Range)
	assert.Equal(t, 1, d.Buckets[0].Count)
	assert.Equal(t, 2, d.Buckets[3].Count)
	assert.Equal(t, 1, d.Buckets[3].Matches)
	assert.Equal(t, 1, d.Buckets[9].Count, "a perfect score lands in the top bucket")
	assert.Equal(t, 4, d.TotalSamples)
	assert.Equal(t, 2, d.TotalMatches)
	assert.InDelta(t, 0.5, d.SuccessRate, 1e-9)
	assert.InDelta(t, 0.445, d.AverageScore, 1e-9)

	empty := distributionOf(nil)
	assert.Zero(t, empty.TotalSamples)
	assert.Zero(t, empty.SuccessRate)
}

func TestRetrainIfNeeded(t *testing.T) {
	ctx := context.Background()
	svc, samples := newService(t, testConfig())

	require.NoError(t, svc.RetrainIfNeeded(ctx), "too few samples is not an error")
	assert.False(t, svc.Predictor().Ready())

	seedSamples(t, samples, labelledSamples(20))
	require.NoError(t, svc.RetrainIfNeeded(ctx))
	assert.True(t, svc.Predictor().Ready())

	require.NoError(t, svc.RetrainIfNeeded(ctx))
	version, _, _ := svc.Predictor().Current()
	assert.Equal(t, 1, version, "an up-to-date model is left alone")
}

func TestSchedulerTrainsInBackground(t *testing.T) {
	svc, samples := newService(t, testConfig())
	seedSamples(t, samples, labelledSamples(20))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	NewScheduler(svc, 10*time.Millisecond, logger.NewNop()).Start(ctx)

	require.Eventually(t, svc.Predictor().Ready, 5*time.Second, 10*time.Millisecond)
}

func TestRecordOutcomeRetrainsOncePerMultiple(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	svc, samples := newService(t, cfg, community(4)...)
	seedSamples(t, samples, labelledSamples(20))

	record := func() {
		_, err := svc.RecordOutcome(ctx, Outcome{SubjectID: 1, TargetID: 2, Success: true})
		require.NoError(t, err)
		svc.Wait()
	}

	for i := 1; i < cfg.RetrainEvery; i++ {
		record()
	}
	assert.Equal(t, 0, versions(t, svc), "no retraining before the threshold")

	record()
	assert.Equal(t, 1, versions(t, svc))

	for i := 1; i < cfg.RetrainEvery; i++ {
		record()
	}
	assert.Equal(t, 1, versions(t, svc))

	record()
	assert.Equal(t, 2, versions(t, svc), "every multiple retrains again")
}

func TestConcurrentOutcomesStillTriggerRetraining(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.RetrainEvery = 2
	gated := &gatedSamples{SampleRepository: NewMemorySampleRepository()}
	svc := newServiceWith(t, cfg, profile.NewMemoryRepository(community(4)...), gated)
	seedSamples(t, gated, labelledSamples(20))

	_, err := svc.RecordOutcome(ctx, Outcome{SubjectID: 1, TargetID: 2})
	require.NoError(t, err)

	// the next two inserts land together, crossing the multiple at 2
	gated.gate = &sync.WaitGroup{}
	gated.gate.Add(2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordOutcome(ctx, Outcome{SubjectID: 3, TargetID: 4, Success: true})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	svc.Wait()

	live, err := gated.CountBySource(ctx, SourceLive)
	require.NoError(t, err)
	assert.Equal(t, 3, live)
	assert.Equal(t, 1, versions(t, svc))
}

func TestForcedTrainIsNotSkipped(t *testing.T) {
	ctx := context.Background()
	svc, samples := newService(t, testConfig())
	seedSamples(t, samples, labelledSamples(20))

	res, err := svc.Train(ctx, false)
	require.NoError(t, err)
	assert.True(t, res.Trained)

	res, err = svc.Train(ctx, false)
	require.NoError(t, err)
	assert.False(t, res.Trained, "inside the cooldown")

	res, err = svc.Train(ctx, true)
	require.NoError(t, err)
	assert.True(t, res.Trained)
	assert.Equal(t, 2, res.ModelVersion)
}

func TestSkippedTrainDoesNoDataPreparation(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	users := &countingUsers{Repository: profile.NewMemoryRepository(community(6)...)}
	samples := NewMemorySampleRepository()
	svc := newServiceWith(t, cfg, users, samples)
	seedSamples(t, samples, labelledSamples(20))

	res, err := svc.Train(ctx, false)
	require.NoError(t, err)
	require.True(t, res.Trained)
	before, err := samples.Count(ctx)
	require.NoError(t, err)
	scans := users.scans.Load()

	res, err = svc.Train(ctx, false)
	require.NoError(t, err)
	assert.False(t, res.Trained)
	assert.Equal(t, scans, users.scans.Load(), "profiles are not scanned")
	after, err := samples.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
