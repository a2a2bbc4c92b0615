package learning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/logger"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/compat"
)

func TestScorerMethods(t *testing.T) {
	ctx := context.Background()
	users := community(2)
	rules := compat.NewRuleScorer()
	predictor := NewPredictor(NewMemoryModelStore("m", nil), logger.NewNop())
	s := NewScorer(rules, predictor, logger.NewNop())

	score, method := s.Score(ctx, users[0], users[1], false)
	assert.Equal(t, MethodTraditional, method)
	assert.Equal(t, rules.Score(users[0], users[1]), score)

	score, method = s.Score(ctx, users[0], users[1], true)
	assert.Equal(t, MethodFallback, method, "no model is resident")
	assert.Equal(t, rules.Score(users[0], users[1]), score)

	net, m := trainedRecord(t)
	predictor.Install(net, m)

	score, method = s.Score(ctx, users[0], users[1], true)
	assert.Equal(t, MethodAIModel, method)
	want, err := net.Predict(extractSlice(users[0], users[1]))
	require.NoError(t, err)
	assert.InDelta(t, want, score, 1e-12)
	assert.Equal(t, "closed", s.BreakerState())
}
