// internal/neural/network.go
// Sequential feed-forward network trained with mini-batch Adam on binary cross-entropy

package neural

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrNotBinaryClassifier = errors.New("network must end in a single sigmoid unit to be fitted")
	ErrEmptyDataset        = errors.New("no training rows")
)

const lossEpsilon = 1e-7

// Network is a sequential stack of layers. A network that is no longer being
// fitted is safe for concurrent use by Predict and PredictBatch.
type Network struct {
	topology Topology
	layers   []layer
}

// Build creates a network with freshly initialized weights
func Build(t Topology, rng *rand.Rand) (*Network, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	n := &Network{topology: t}
	dim := t.InputDim
	for _, spec := range t.Layers {
		var l layer
		switch spec.Kind {
		case KindDense:
			d := newDense(spec, dim)
			d.init(rng)
			l = d
		case KindBatchNorm:
			l = newBatchNorm(spec, dim)
		case KindDropout:
			l = newDropout(spec, dim)
		}
		n.layers = append(n.layers, l)
		dim = l.outputDim()
	}
	return n, nil
}

// Restore rebuilds a network from its topology and a packed weight buffer
func Restore(t Topology, specs []WeightSpec, data []byte) (*Network, error) {
	tensors, err := DecodeWeights(specs, data)
	if err != nil {
		return nil, err
	}

	n, err := Build(t, rand.New(rand.NewSource(1)))
	if err != nil {
		return nil, err
	}

	byName := make(map[string]Tensor, len(tensors))
	for _, tensor := range tensors {
		byName[tensor.Spec.Name] = tensor
	}
	for _, l := range n.layers {
		if err := l.restore(byName); err != nil {
			return nil, fmt.Errorf("failed to restore layer %s: %w", l.spec().Name, err)
		}
	}
	return n, nil
}

// Topology returns the architecture the network was built from
func (n *Network) Topology() Topology {
	return n.topology
}

// Weights packs every layer's tensors in layer order
func (n *Network) Weights() ([]WeightSpec, []byte, error) {
	var tensors []Tensor
	for _, l := range n.layers {
		tensors = append(tensors, l.tensors()...)
	}
	return EncodeWeights(tensors)
}

// ParamCount is the number of trainable scalars
func (n *Network) ParamCount() int {
	total := 0
	for _, l := range n.layers {
		for _, p := range l.params() {
			total += len(p.value)
		}
	}
	return total
}

func (n *Network) forward(x *mat.Dense, training bool, rng *rand.Rand) *mat.Dense {
	out := x
	for _, l := range n.layers {
		out = l.forward(out, training, rng)
	}
	return out
}

// Predict returns the first output unit for one input row
func (n *Network) Predict(x []float64) (float64, error) {
	out, err := n.PredictBatch([][]float64{x})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// PredictBatch runs inference on many rows and returns the first output unit of each
func (n *Network) PredictBatch(rows [][]float64) ([]float64, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	x, err := toMatrix(rows, n.topology.InputDim)
	if err != nil {
		return nil, err
	}
	out := n.forward(x, false, nil)
	return mat.Col(nil, 0, out), nil
}

// FitConfig controls a training run
type FitConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Rand         *rand.Rand

	// Optional held-out rows scored after every epoch
	ValidationX [][]float64
	ValidationY []float64

	// OnEpoch is called after every epoch when set
	OnEpoch func(epoch int, loss, valLoss float64)
}

// History records per-epoch losses
type History struct {
	Loss    []float64 `json:"loss"`
	ValLoss []float64 `json:"val_loss,omitempty"`
}

// Fit trains the network on labelled rows. The context is checked between
// mini-batches; a cancelled fit leaves the network partially trained and the
// caller should discard it.
func (n *Network) Fit(ctx context.Context, rows [][]float64, labels []float64, cfg FitConfig) (*History, error) {
	last, ok := n.layers[len(n.layers)-1].(*denseLayer)
	if !ok || last.cfg.Activation != ActivationSigmoid || last.cfg.Units != 1 {
		return nil, ErrNotBinaryClassifier
	}
	if len(rows) == 0 {
		return nil, ErrEmptyDataset
	}
	if len(rows) != len(labels) {
		return nil, fmt.Errorf("%d rows but %d labels", len(rows), len(labels))
	}
	x, err := toMatrix(rows, n.topology.InputDim)
	if err != nil {
		return nil, err
	}

	var valX *mat.Dense
	if len(cfg.ValidationX) > 0 {
		if len(cfg.ValidationX) != len(cfg.ValidationY) {
			return nil, fmt.Errorf("%d validation rows but %d labels", len(cfg.ValidationX), len(cfg.ValidationY))
		}
		if valX, err = toMatrix(cfg.ValidationX, n.topology.InputDim); err != nil {
			return nil, fmt.Errorf("validation rows: %w", err)
		}
	}

	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > len(rows) {
		batchSize = len(rows)
	}

	var params []*param
	for _, l := range n.layers {
		params = append(params, l.params()...)
	}
	opt := newAdam(cfg.LearningRate)
	hist := &History{}

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		perm := rng.Perm(len(rows))
		var epochLoss float64

		for start := 0; start < len(perm); start += batchSize {
			if err := ctx.Err(); err != nil {
				return hist, err
			}
			end := start + batchSize
			if end > len(perm) {
				end = len(perm)
			}
			idx := perm[start:end]

			xb := mat.NewDense(len(idx), n.topology.InputDim, nil)
			yb := make([]float64, len(idx))
			for i, r := range idx {
				xb.SetRow(i, x.RawRowView(r))
				yb[i] = labels[r]
			}

			out := n.forward(xb, true, rng)
			pred := mat.Col(nil, 0, out)
			loss := binaryCrossEntropy(pred, yb)

			// sigmoid + cross-entropy: d loss / d logit = (p - y) / m
			dz := mat.NewDense(len(idx), 1, nil)
			m := float64(len(idx))
			for i := range pred {
				dz.Set(i, 0, (pred[i]-yb[i])/m)
			}
			grad := last.backwardPreActivation(dz)
			for i := len(n.layers) - 2; i >= 0; i-- {
				grad = n.layers[i].backward(grad)
			}

			for _, p := range params {
				loss += p.penalty()
			}
			opt.update(params)
			epochLoss += loss * m
		}

		epochLoss /= float64(len(rows))
		hist.Loss = append(hist.Loss, epochLoss)

		valLoss := math.NaN()
		if valX != nil {
			valPred := mat.Col(nil, 0, n.forward(valX, false, nil))
			valLoss = binaryCrossEntropy(valPred, cfg.ValidationY)
			hist.ValLoss = append(hist.ValLoss, valLoss)
		}
		if cfg.OnEpoch != nil {
			cfg.OnEpoch(epoch, epochLoss, valLoss)
		}
	}
	return hist, nil
}

func binaryCrossEntropy(pred, labels []float64) float64 {
	if len(pred) == 0 {
		return 0
	}
	var total float64
	for i, p := range pred {
		p = math.Min(math.Max(p, lossEpsilon), 1-lossEpsilon)
		total -= labels[i]*math.Log(p) + (1-labels[i])*math.Log(1-p)
	}
	return total / float64(len(pred))
}

func toMatrix(rows [][]float64, dim int) (*mat.Dense, error) {
	x := mat.NewDense(len(rows), dim, nil)
	for i, r := range rows {
		if len(r) != dim {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(r), dim)
		}
		x.SetRow(i, r)
	}
	return x, nil
}
