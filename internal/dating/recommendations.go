// internal/dating/recommendations.go

package dating

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/compat"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/learning"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
)

const (
	defaultRecommendations = 10
	maxRecommendations     = 100
)

// Recommend ranks the user's candidates by score. Candidates are users
// whose gender preferences are mutually compatible with the user's, minus
// the user, current matches and users already liked.
func (s *Service) Recommend(ctx context.Context, userID int64, limit int, useModel bool) ([]*Recommendation, error) {
	start := time.Now()
	defer func() { recommendationLatency.Observe(time.Since(start).Seconds()) }()

	if limit <= 0 {
		limit = defaultRecommendations
	}
	if limit > maxRecommendations {
		limit = maxRecommendations
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	all, err := s.users.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	candidates := filterCandidates(user, all)

	recs := make([]*Recommendation, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.scoreWorkers)
	for i, c := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			score, method := s.score(gctx, user, c, useModel)
			recs[i] = &Recommendation{
				User:            c,
				Score:           score,
				Method:          method,
				CommonInterests: compat.CommonInterests(user, c),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		return recs[i].User.ID < recs[j].User.ID
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}

	for _, r := range recs {
		recommendationsServed.WithLabelValues(string(r.Method)).Inc()
	}
	return recs, nil
}

func (s *Service) score(ctx context.Context, a, b *profile.UserProfile, useModel bool) (float64, learning.Method) {
	if s.learner == nil {
		return compat.NewRuleScorer().Score(a, b), learning.MethodTraditional
	}
	return s.learner.ScorePair(ctx, a, b, useModel)
}

func filterCandidates(user *profile.UserProfile, all []*profile.UserProfile) []*profile.UserProfile {
	out := make([]*profile.UserProfile, 0, len(all))
	for _, c := range all {
		if c.ID == user.ID || user.IsMatchedWith(c.ID) || user.HasLiked(c.ID) {
			continue
		}
		if !compat.GenderCompatible(user, c) {
			continue
		}
		out = append(out, c)
	}
	return out
}
