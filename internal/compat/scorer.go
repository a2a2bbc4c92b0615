// internal/compat/scorer.go

package compat

import "github.com/imadgeboyega/kiekky-matchmaking/internal/profile"

// RuleScorer is the deterministic, explainable compatibility scorer
type RuleScorer struct{}

// NewRuleScorer creates a rule-based scorer
func NewRuleScorer() *RuleScorer {
	return &RuleScorer{}
}

// Score returns the weighted aggregate in [0.3, 1]
func (RuleScorer) Score(a, b *profile.UserProfile) float64 {
	return Extract(a, b).Aggregate
}

// Explanation breaks a score down into its named factors
type Explanation struct {
	Score           float64       `json:"score"`
	Features        FeatureVector `json:"features"`
	CommonInterests []string      `json:"common_interests"`
	DistanceKm      *float64      `json:"distance_km,omitempty"`
}

// Explain returns the score together with the factors behind it
func (RuleScorer) Explain(a, b *profile.UserProfile) *Explanation {
	f := Extract(a, b)
	e := &Explanation{
		Score:           f.Aggregate,
		Features:        f,
		CommonInterests: CommonInterests(a, b),
	}
	if km, err := DistanceKm(a, b); err == nil {
		e.DistanceKm = &km
	}
	return e
}
