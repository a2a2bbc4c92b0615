package dating

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/logger"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/compat"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/config"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/learning"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
)

func ids(recs []*Recommendation) []int64 {
	out := make([]int64, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.User.ID)
	}
	return out
}

func TestRecommendFiltersIncompatibleCandidates(t *testing.T) {
	f := newFixture()

	recs, err := f.service.Recommend(context.Background(), 1, 0, false)
	require.NoError(t, err)
	// 4 only wants men and 5 only wants women
	assert.Equal(t, []int64{2, 3}, ids(recs))
	for _, r := range recs {
		assert.Equal(t, learning.MethodTraditional, r.Method)
	}
	assert.GreaterOrEqual(t, recs[0].Score, recs[1].Score)
	assert.ElementsMatch(t, []string{"music", "travel", "hiking"}, recs[0].CommonInterests)
}

func TestRecommendUsesTheLearnerWhenAsked(t *testing.T) {
	f := newFixture()

	recs, err := f.service.Recommend(context.Background(), 1, 0, true)
	require.NoError(t, err)
	// the fake model inverts the rule score, so the order flips
	assert.Equal(t, []int64{3, 2}, ids(recs))
	assert.Equal(t, learning.MethodAIModel, recs[0].Method)
}

func TestRecommendExcludesLikedAndMatched(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.service.Like(ctx, 1, 2)
	require.NoError(t, err)
	recs, err := f.service.Recommend(ctx, 1, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(recs))

	// 2 liked 1 back, so 1 is now a match and not a candidate for 2
	_, err = f.service.Like(ctx, 2, 1)
	require.NoError(t, err)
	recs, err = f.service.Recommend(ctx, 2, 0, false)
	require.NoError(t, err)
	assert.NotContains(t, ids(recs), int64(1))
}

func TestRecommendLimit(t *testing.T) {
	f := newFixture()

	recs, err := f.service.Recommend(context.Background(), 1, 1, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(recs))

	_, err = f.service.Recommend(context.Background(), 99, 1, false)
	assert.ErrorIs(t, err, profile.ErrUserNotFound)
}

func TestRecommendWithoutLearnerFallsBackToRules(t *testing.T) {
	f := newFixture()
	svc := NewService(f.users, nil, nil, f.service.log)

	recs, err := svc.Recommend(context.Background(), 1, 0, true)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, learning.MethodTraditional, recs[0].Method)
}

func TestRecommendWithUntrainedModelFallsBackToRules(t *testing.T) {
	ctx := context.Background()
	log := logger.NewNop()
	cfg := config.DefaultMLConfig()
	users := profile.NewMemoryRepository(testUsers()...)
	learner := learning.NewService(users, learning.NewMemorySampleRepository(), learning.NewMemoryModelStore(cfg.ModelName, nil), cfg, log)
	t.Cleanup(learner.Close)
	service := NewService(users, learner, NewHub(NewMemoryQueue(), users, log), log)

	recs, err := service.Recommend(ctx, 1, 0, true)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3}, ids(recs))

	rules := compat.NewRuleScorer()
	me, err := users.FindByID(ctx, 1)
	require.NoError(t, err)
	for _, r := range recs {
		assert.Equal(t, learning.MethodFallback, r.Method)
		assert.InDelta(t, rules.Score(me, r.User), r.Score, 1e-9)
		assert.GreaterOrEqual(t, r.Score, 0.3)
	}
}
