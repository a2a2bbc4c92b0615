// internal/learning/scorer.go

package learning

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/logger"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/compat"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
)

// Method names the strategy that produced a score
type Method string

const (
	MethodAIModel     Method = "ai_model"
	MethodTraditional Method = "traditional"
	MethodFallback    Method = "traditional_fallback"
)

const breakerFailureThreshold = 5

// Scorer combines the learned model with the rule-based scorer. The model is
// used when requested and resident; inference failures trip a circuit breaker
// that routes straight to the rules until it half-opens again.
type Scorer struct {
	rules     *compat.RuleScorer
	predictor *Predictor
	breaker   *gobreaker.CircuitBreaker[float64]
	log       *logger.Logger
}

// NewScorer creates a composed scorer
func NewScorer(rules *compat.RuleScorer, predictor *Predictor, log *logger.Logger) *Scorer {
	s := &Scorer{rules: rules, predictor: predictor, log: log}
	s.breaker = gobreaker.NewCircuitBreaker[float64](gobreaker.Settings{
		Name:        "match-predictor",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrModelUnavailable)
		},
	})
	return s
}

// Score rates a pair, preferring the model when useModel is set
func (s *Scorer) Score(ctx context.Context, a, b *profile.UserProfile, useModel bool) (float64, Method) {
	score, method := s.score(ctx, a, b, useModel)
	predictionsTotal.WithLabelValues(string(method)).Inc()
	compatibilityScores.Observe(score)
	return score, method
}

func (s *Scorer) score(ctx context.Context, a, b *profile.UserProfile, useModel bool) (float64, Method) {
	if !useModel {
		return s.rules.Score(a, b), MethodTraditional
	}
	if !s.predictor.Ready() {
		return s.rules.Score(a, b), MethodFallback
	}

	p, err := s.breaker.Execute(func() (float64, error) {
		return s.predictor.Predict(ctx, a, b)
	})
	if err != nil {
		s.log.Debug("model prediction failed, using rules", "user_a", a.ID, "user_b", b.ID, "error", err)
		return s.rules.Score(a, b), MethodFallback
	}
	return p, MethodAIModel
}

// BreakerState reports the circuit breaker state for stats
func (s *Scorer) BreakerState() string {
	return s.breaker.State().String()
}
