// internal/learning/trainer.go
// Training pipeline: collect, balance, fit, evaluate, persist, install

package learning

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/logger"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/compat"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/config"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/neural"
)

// MatchTopology is the classifier trained on pair features
func MatchTopology() neural.Topology {
	return neural.Sequential(compat.FeatureDim,
		neural.Dense("dense_1", 128, neural.ActivationReLU, neural.L2(0.001)),
		neural.BatchNorm("batch_normalization_1"),
		neural.Dropout("dropout_1", 0.3),
		neural.Dense("dense_2", 64, neural.ActivationReLU, neural.L1L2(0.0005, 0.001)),
		neural.BatchNorm("batch_normalization_2"),
		neural.Dropout("dropout_2", 0.2),
		neural.Dense("dense_3", 32, neural.ActivationReLU, neural.L2(0.001)),
		neural.Dense("output", 1, neural.ActivationSigmoid, nil),
	)
}

// TrainResult is the outcome of a training request
type TrainResult struct {
	Evaluation
	Trained      bool            `json:"trained"`
	ModelVersion int             `json:"model_version"`
	SamplesCount int             `json:"samples_count"`
	TrainedAt    time.Time       `json:"trained_at"`
	History      *neural.History `json:"history,omitempty"`
}

// Trainer fits, evaluates and persists the match classifier
type Trainer struct {
	samples   SampleRepository
	data      *DataManager
	store     ModelStore
	predictor *Predictor
	cfg       config.MLConfig
	log       *logger.Logger
	now       func() time.Time
}

// NewTrainer creates a trainer. A successful run is installed on predictor.
func NewTrainer(samples SampleRepository, data *DataManager, store ModelStore, predictor *Predictor, cfg config.MLConfig, log *logger.Logger) *Trainer {
	return &Trainer{
		samples:   samples,
		data:      data,
		store:     store,
		predictor: predictor,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

func (t *Trainer) latest(ctx context.Context) (*TrainedModel, error) {
	models, err := t.store.History(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	return models[0], nil
}

// Cooldown returns the latest model's metrics with Trained=false when a pass
// now would be skipped, and nil when training should go ahead
func (t *Trainer) Cooldown(ctx context.Context, force bool) (*TrainResult, error) {
	if force {
		return nil, nil
	}
	latest, err := t.latest(ctx)
	if err != nil {
		return nil, err
	}
	if latest == nil || t.now().Sub(latest.TrainedAt) >= t.cfg.TrainCooldown {
		return nil, nil
	}
	t.log.Info("model is recent, skipping training",
		"version", latest.Version,
		"trained_at", latest.TrainedAt,
	)
	return &TrainResult{
		Evaluation:   latest.Evaluation,
		ModelVersion: latest.Version,
		SamplesCount: latest.SamplesCount,
		TrainedAt:    latest.TrainedAt,
	}, nil
}

// Train runs one training pass. Unless force is set, a model trained within
// the cooldown is kept and its metrics returned with Trained=false. Nothing
// is persisted when ctx is cancelled mid-fit.
func (t *Trainer) Train(ctx context.Context, force bool) (*TrainResult, error) {
	if skipped, err := t.Cooldown(ctx, force); err != nil || skipped != nil {
		return skipped, err
	}

	samples, err := t.samples.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(samples) < t.cfg.MinSamples {
		return nil, fmt.Errorf("%w: have %d samples, need %d", ErrInsufficientTrainingData, len(samples), t.cfg.MinSamples)
	}

	balanced := t.data.Balance(samples, t.cfg.PerClassCap)
	if len(balanced) == 0 {
		return nil, fmt.Errorf("%w: samples cover a single class", ErrInsufficientTrainingData)
	}

	rng := rand.New(rand.NewSource(t.cfg.Seed))
	rng.Shuffle(len(balanced), func(i, j int) { balanced[i], balanced[j] = balanced[j], balanced[i] })

	valN := int(math.Round(float64(len(balanced)) * t.cfg.ValidationSplit))
	if valN < 1 {
		valN = 1
	}
	trainX, trainY := toRows(balanced[valN:])
	valX, valY := toRows(balanced[:valN])
	if len(trainX) == 0 {
		return nil, fmt.Errorf("%w: nothing left to train on after the validation split", ErrInsufficientTrainingData)
	}

	net, err := neural.Build(MatchTopology(), rng)
	if err != nil {
		return nil, err
	}

	start := t.now()
	history, err := net.Fit(ctx, trainX, trainY, neural.FitConfig{
		Epochs:       t.cfg.Epochs,
		BatchSize:    t.cfg.BatchSize,
		LearningRate: t.cfg.LearningRate,
		Rand:         rng,
		ValidationX:  valX,
		ValidationY:  valY,
		OnEpoch: func(epoch int, loss, valLoss float64) {
			if (epoch+1)%10 == 0 {
				t.log.Debug("training epoch", "epoch", epoch+1, "loss", loss, "val_loss", valLoss)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("training aborted: %w", err)
	}

	preds, err := net.PredictBatch(valX)
	if err != nil {
		return nil, err
	}
	eval := Evaluate(preds, valY)

	topology, err := net.Topology().Marshal()
	if err != nil {
		return nil, err
	}
	specs, weights, err := net.Weights()
	if err != nil {
		return nil, err
	}

	model := &TrainedModel{
		Topology:     topology,
		Weights:      weights,
		WeightSpecs:  specs,
		Evaluation:   eval,
		SamplesCount: len(samples),
		TrainedAt:    t.now().UTC(),
	}
	if err := t.store.Save(ctx, model); err != nil {
		return nil, err
	}
	t.predictor.Install(net, model)

	t.log.Info("model trained",
		"version", model.Version,
		"samples", len(samples),
		"balanced", len(balanced),
		"accuracy", eval.Accuracy,
		"f1", eval.F1,
		"duration", t.now().Sub(start),
	)
	observeTraining(eval, t.now().Sub(start))

	return &TrainResult{
		Evaluation:   eval,
		Trained:      true,
		ModelVersion: model.Version,
		SamplesCount: model.SamplesCount,
		TrainedAt:    model.TrainedAt,
		History:      history,
	}, nil
}

// NeedsRetraining reports whether there is no model, the latest one is
// older than StaleAfter, or samples have been added since it was trained
func (t *Trainer) NeedsRetraining(ctx context.Context) (bool, error) {
	latest, err := t.latest(ctx)
	if err != nil {
		return false, err
	}
	if latest == nil {
		return true, nil
	}
	if t.now().Sub(latest.TrainedAt) > t.cfg.StaleAfter {
		return true, nil
	}
	count, err := t.samples.Count(ctx)
	if err != nil {
		return false, err
	}
	return count > latest.SamplesCount, nil
}

func toRows(samples []*TrainingSample) ([][]float64, []float64) {
	x := make([][]float64, len(samples))
	y := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = s.Slice()
		y[i] = s.Label()
	}
	return x, y
}
