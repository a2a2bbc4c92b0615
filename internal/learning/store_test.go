package learning

import (
	"context"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/logger"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/neural"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
)

func trainedRecord(t *testing.T) (*neural.Network, *TrainedModel) {
	t.Helper()
	net, err := neural.Build(MatchTopology(), rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	topology, err := net.Topology().Marshal()
	require.NoError(t, err)
	specs, weights, err := net.Weights()
	require.NoError(t, err)
	return net, &TrainedModel{
		Topology:     topology,
		Weights:      weights,
		WeightSpecs:  specs,
		Evaluation:   Evaluation{Accuracy: 0.8, Precision: 0.75, Recall: 0.7, F1: 0.72},
		SamplesCount: 60,
	}
}

func TestMemoryModelStoreVersions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryModelStore("match-predictor", nil)

	latest, err := store.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest, "no model saved yet")

	for i := 1; i <= 3; i++ {
		_, m := trainedRecord(t)
		require.NoError(t, store.Save(ctx, m))
		assert.Equal(t, i, m.Version)
		assert.Equal(t, "match-predictor", m.Name)
	}

	latest, err = store.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)

	history, err := store.History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 3, history[0].Version)
	assert.Nil(t, history[0].Weights)
}

func TestModelStoreExternalizesWeights(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobStore()
	store := NewMemoryModelStore("match-predictor", blobs)

	_, m := trainedRecord(t)
	weights := append([]byte(nil), m.Weights...)
	require.NoError(t, store.Save(ctx, m))

	require.NotNil(t, m.WeightsKey)
	assert.True(t, strings.HasPrefix(*m.WeightsKey, "models/match-predictor/"))
	assert.True(t, strings.HasSuffix(*m.WeightsKey, ".bin"))
	assert.Nil(t, m.Weights)

	stored, err := blobs.Get(ctx, *m.WeightsKey)
	require.NoError(t, err)
	assert.Equal(t, weights, stored)

	latest, err := store.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, weights, latest.Weights)
}

func TestPredictorLoadsLazily(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryModelStore("match-predictor", nil)
	p := NewPredictor(store, logger.NewNop())
	users := community(2)

	_, err := p.Predict(ctx, users[0], users[1])
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.False(t, p.Ready())

	net, m := trainedRecord(t)
	require.NoError(t, store.Save(ctx, m))

	got, err := p.Predict(ctx, users[0], users[1])
	require.NoError(t, err)
	assert.True(t, p.Ready())

	want, err := net.Predict(extractSlice(users[0], users[1]))
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-4, "restored weights are float32")
	assert.Greater(t, got, 0.0)
	assert.Less(t, got, 1.0)
}

func TestPredictorRejectsUnsupportedWeights(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryModelStore("match-predictor", nil)
	_, m := trainedRecord(t)
	m.WeightSpecs[0].DType = "float16"
	require.NoError(t, store.Save(ctx, m))

	err := NewPredictor(store, logger.NewNop()).Load(ctx)
	assert.ErrorIs(t, err, neural.ErrUnsupportedWeightType)
}

func TestPredictorInstallSwapsSnapshot(t *testing.T) {
	p := NewPredictor(NewMemoryModelStore("m", nil), logger.NewNop())
	net, m := trainedRecord(t)
	m.Version = 4

	p.Install(net, m)

	version, _, ok := p.Current()
	assert.True(t, ok)
	assert.Equal(t, 4, version)
	assert.Nil(t, p.Model().Weights)
}

func extractSlice(a, b *profile.UserProfile) []float64 {
	return NewSample(a, b, false, nil, SourceLive).Slice()
}

func TestPredictorTreatsCorruptWeightsAsUnavailable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryModelStore("match-predictor", nil)
	_, m := trainedRecord(t)
	m.Weights = m.Weights[:len(m.Weights)-3]
	require.NoError(t, store.Save(ctx, m))

	p := NewPredictor(store, logger.NewNop())
	err := p.Load(ctx)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.ErrorIs(t, err, neural.ErrCorruptWeights)
	assert.False(t, p.Ready())
}

func TestPredictorKeepsNewerResidentModel(t *testing.T) {
	p := NewPredictor(NewMemoryModelStore("m", nil), logger.NewNop())
	newer, m := trainedRecord(t)
	m.Version = 5
	p.Install(newer, m)

	older, stale := trainedRecord(t)
	stale.Version = 4
	p.Install(older, stale)

	version, _, _ := p.Current()
	assert.Equal(t, 5, version)
}
