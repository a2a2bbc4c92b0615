// internal/learning/predictor.go

package learning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/logger"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/compat"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/neural"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
)

// residentModel is an immutable snapshot; it is replaced, never mutated
type residentModel struct {
	net   *neural.Network
	model TrainedModel // without weights
}

// Predictor serves the resident model. Reads are lock-free.
type Predictor struct {
	store ModelStore
	log   *logger.Logger

	current atomic.Pointer[residentModel]
	loadMu  sync.Mutex
}

// NewPredictor creates a predictor with nothing resident
func NewPredictor(store ModelStore, log *logger.Logger) *Predictor {
	return &Predictor{store: store, log: log}
}

// Load makes the latest persisted model resident. It returns
// ErrModelUnavailable when nothing has been saved yet or the stored weight
// buffer is corrupt.
func (p *Predictor) Load(ctx context.Context) error {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()

	m, err := p.store.LoadLatest(ctx)
	if err != nil {
		return err
	}
	if m == nil {
		return ErrModelUnavailable
	}

	t, err := neural.ParseTopology(m.Topology)
	if err != nil {
		return fmt.Errorf("model v%d: %w", m.Version, err)
	}
	net, err := neural.Restore(t, m.WeightSpecs, m.Weights)
	if errors.Is(err, neural.ErrCorruptWeights) {
		return fmt.Errorf("%w: model v%d: %w", ErrModelUnavailable, m.Version, err)
	}
	if err != nil {
		return fmt.Errorf("failed to restore model v%d: %w", m.Version, err)
	}

	if p.install(net, m) {
		p.log.Info("model loaded", "version", m.Version, "trained_at", m.TrainedAt)
	}
	return nil
}

// Install swaps in a network together with the record it was saved as.
// An older version never replaces a newer resident one.
func (p *Predictor) Install(net *neural.Network, m *TrainedModel) {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()
	p.install(net, m)
}

func (p *Predictor) install(net *neural.Network, m *TrainedModel) bool {
	if cur := p.current.Load(); cur != nil && cur.model.Version > m.Version {
		return false
	}
	r := &residentModel{net: net, model: *m}
	r.model.Weights = nil
	p.current.Store(r)
	modelVersion.Set(float64(m.Version))
	return true
}

// Ready reports whether a model is resident
func (p *Predictor) Ready() bool {
	return p.current.Load() != nil
}

// Current returns the version and training time of the resident model
func (p *Predictor) Current() (version int, trainedAt time.Time, ok bool) {
	r := p.current.Load()
	if r == nil {
		return 0, time.Time{}, false
	}
	return r.model.Version, r.model.TrainedAt, true
}

// Model returns a copy of the resident model record, or nil
func (p *Predictor) Model() *TrainedModel {
	r := p.current.Load()
	if r == nil {
		return nil
	}
	m := r.model
	return &m
}

// Predict returns the model's match probability for the pair. When nothing
// is resident it attempts a single load first.
func (p *Predictor) Predict(ctx context.Context, a, b *profile.UserProfile) (float64, error) {
	r := p.current.Load()
	if r == nil {
		if err := p.Load(ctx); err != nil {
			return 0, err
		}
		r = p.current.Load()
	}
	return r.net.Predict(compat.Extract(a, b).Slice())
}
