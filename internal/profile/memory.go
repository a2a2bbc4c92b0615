// internal/profile/memory.go

package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
)

type pairKey struct{ from, to int64 }

type likeRow struct {
	seq      int64
	rejected bool
}

// MemoryRepository is an in-process Repository for local development and tests
type MemoryRepository struct {
	mu    sync.RWMutex
	seq   int64
	users map[int64]*UserProfile
	likes map[pairKey]*likeRow
	edges map[pairKey]int64 // canonical pair -> seq
}

// NewMemoryRepository creates a store seeded with the given profiles.
// Relationship lists on the seeds are ignored; use RecordLike to build them.
func NewMemoryRepository(seed ...*UserProfile) *MemoryRepository {
	r := &MemoryRepository{
		users: make(map[int64]*UserProfile),
		likes: make(map[pairKey]*likeRow),
		edges: make(map[pairKey]int64),
	}
	for _, p := range seed {
		r.Save(p)
	}
	return r
}

// LoadMemoryRepository reads a JSON array of profiles. Liked entries in the
// seed are replayed as likes so mutual pairs become matches.
func LoadMemoryRepository(ctx context.Context, src io.Reader) (*MemoryRepository, error) {
	var seed []*UserProfile
	if err := json.NewDecoder(src).Decode(&seed); err != nil {
		return nil, fmt.Errorf("failed to decode profile seed: %w", err)
	}

	r := NewMemoryRepository(seed...)
	for _, p := range seed {
		for _, target := range p.Liked {
			if _, ok := r.users[target]; !ok {
				continue
			}
			if _, err := r.RecordLike(ctx, p.ID, target); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// Save inserts or replaces the scalar fields of a profile
func (r *MemoryRepository) Save(p *UserProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *p
	cp.Interests = append([]string(nil), p.Interests...)
	cp.Liked, cp.LikedBy, cp.Matched = nil, nil, nil
	r.users[p.ID] = &cp
}

func (r *MemoryRepository) FindByID(_ context.Context, userID int64) (*UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.users[userID]; !ok {
		return nil, ErrUserNotFound
	}
	return r.hydrate(userID), nil
}

func (r *MemoryRepository) FindAll(_ context.Context) ([]*UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	profiles := make([]*UserProfile, 0, len(ids))
	for _, id := range ids {
		profiles = append(profiles, r.hydrate(id))
	}
	return profiles, nil
}

// hydrate copies a stored profile and derives its relationship lists in insertion order.
// Caller must hold the read lock.
func (r *MemoryRepository) hydrate(id int64) *UserProfile {
	p := *r.users[id]
	p.Interests = append([]string(nil), p.Interests...)

	type edge struct {
		id  int64
		seq int64
	}
	var liked, likedBy, matched []edge
	for k, row := range r.likes {
		if k.from == id {
			liked = append(liked, edge{k.to, row.seq})
		}
		if k.to == id {
			likedBy = append(likedBy, edge{k.from, row.seq})
		}
	}
	for k, seq := range r.edges {
		switch id {
		case k.from:
			matched = append(matched, edge{k.to, seq})
		case k.to:
			matched = append(matched, edge{k.from, seq})
		}
	}

	collect := func(es []edge) []int64 {
		sort.Slice(es, func(i, j int) bool { return es[i].seq < es[j].seq })
		out := make([]int64, 0, len(es))
		for _, e := range es {
			out = append(out, e.id)
		}
		return out
	}
	p.Liked = collect(liked)
	p.LikedBy = collect(likedBy)
	p.Matched = collect(matched)
	return &p
}

func (r *MemoryRepository) RecordLike(_ context.Context, likerID, likeeID int64) (*LikeOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[likerID]; !ok {
		return nil, ErrUserNotFound
	}
	if _, ok := r.users[likeeID]; !ok {
		return nil, ErrUserNotFound
	}

	outcome := &LikeOutcome{}
	key := pairKey{likerID, likeeID}
	if _, ok := r.likes[key]; !ok {
		r.seq++
		r.likes[key] = &likeRow{seq: r.seq}
		outcome.Created = true
	}

	reverse, ok := r.likes[pairKey{likeeID, likerID}]
	outcome.Mutual = ok
	if outcome.Mutual {
		reverse.rejected = false
		r.likes[key].rejected = false

		lower, higher := CanonicalPair(likerID, likeeID)
		edge := pairKey{lower, higher}
		if _, exists := r.edges[edge]; !exists {
			r.seq++
			r.edges[edge] = r.seq
			outcome.MatchCreated = true
		}
	}
	return outcome, nil
}

func (r *MemoryRepository) RejectLike(_ context.Context, rejecterID, requesterID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.likes[pairKey{requesterID, rejecterID}]
	if !ok || row.rejected {
		return false, nil
	}
	lower, higher := CanonicalPair(rejecterID, requesterID)
	if _, matched := r.edges[pairKey{lower, higher}]; matched {
		return false, nil
	}
	row.rejected = true
	return true, nil
}

func (r *MemoryRepository) Relationship(_ context.Context, a, b int64) (*Relationship, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rel := &Relationship{}
	if row, ok := r.likes[pairKey{a, b}]; ok {
		rel.Liked = true
		rel.Rejected = row.rejected
	}
	_, rel.LikedBack = r.likes[pairKey{b, a}]
	lower, higher := CanonicalPair(a, b)
	_, rel.Matched = r.edges[pairKey{lower, higher}]
	return rel, nil
}

func (r *MemoryRepository) SetOnline(_ context.Context, userID int64, online bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	p.IsOnline = online
	return nil
}
