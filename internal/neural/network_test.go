package neural

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func matchTopology() Topology {
	return Sequential(9,
		Dense("dense_1", 16, ActivationReLU, L2(0.001)),
		BatchNorm("batch_norm_1"),
		Dropout("dropout_1", 0.3),
		Dense("dense_2", 8, ActivationReLU, L1L2(0.0005, 0.001)),
		BatchNorm("batch_norm_2"),
		Dropout("dropout_2", 0.2),
		Dense("dense_3", 4, ActivationReLU, L2(0.001)),
		Dense("output", 1, ActivationSigmoid, nil),
	)
}

func separable(rng *rand.Rand, n, dim int) ([][]float64, []float64) {
	rows := make([][]float64, n)
	labels := make([]float64, n)
	for i := range rows {
		rows[i] = make([]float64, dim)
		for j := range rows[i] {
			rows[i][j] = rng.Float64()
		}
		if rows[i][0]+rows[i][1] > 1 {
			labels[i] = 1
		}
	}
	return rows, labels
}

func accuracy(t *testing.T, n *Network, rows [][]float64, labels []float64) float64 {
	t.Helper()
	pred, err := n.PredictBatch(rows)
	require.NoError(t, err)
	correct := 0
	for i, p := range pred {
		if (p >= 0.5) == (labels[i] == 1) {
			correct++
		}
	}
	return float64(correct) / float64(len(rows))
}

func TestTopologyValidate(t *testing.T) {
	require.NoError(t, matchTopology().Validate())

	bad := []Topology{
		{Format: "graph", InputDim: 2, Layers: []LayerSpec{Dense("d", 1, ActivationSigmoid, nil)}},
		Sequential(0, Dense("d", 1, ActivationSigmoid, nil)),
		Sequential(2),
		Sequential(2, Dense("d", 0, ActivationReLU, nil)),
		Sequential(2, Dense("d", 1, "tanh", nil)),
		Sequential(2, Dropout("drop", 1)),
		Sequential(2, Dense("d", 2, ActivationReLU, nil), Dense("d", 1, ActivationSigmoid, nil)),
		Sequential(2, LayerSpec{Kind: "Conv2D", Name: "c"}),
	}
	for i, topo := range bad {
		assert.ErrorIs(t, topo.Validate(), ErrInvalidTopology, "case %d", i)
	}
}

func TestParseTopologyRoundTrip(t *testing.T) {
	data, err := matchTopology().Marshal()
	require.NoError(t, err)

	parsed, err := ParseTopology(data)
	require.NoError(t, err)
	assert.Equal(t, matchTopology(), parsed)
	assert.Equal(t, 1, parsed.OutputDim())

	_, err = ParseTopology([]byte(`{"format":`))
	assert.ErrorIs(t, err, ErrInvalidTopology)
}

func TestFitLearnsSeparableProblem(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	rows, labels := separable(rng, 300, 2)

	net, err := Build(Sequential(2,
		Dense("hidden", 16, ActivationReLU, nil),
		Dense("out", 1, ActivationSigmoid, nil),
	), rng)
	require.NoError(t, err)

	hist, err := net.Fit(context.Background(), rows, labels, FitConfig{
		Epochs:       150,
		BatchSize:    16,
		LearningRate: 0.02,
		Rand:         rng,
	})
	require.NoError(t, err)
	require.Len(t, hist.Loss, 150)
	assert.Less(t, hist.Loss[len(hist.Loss)-1], hist.Loss[0])

	testRows, testLabels := separable(rand.New(rand.NewSource(4)), 200, 2)
	assert.GreaterOrEqual(t, accuracy(t, net, testRows, testLabels), 0.85)
}

func TestFitWithRegularizedStackProducesProbabilities(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	rows, labels := separable(rng, 120, 9)
	valRows, valLabels := separable(rng, 30, 9)

	net, err := Build(matchTopology(), rng)
	require.NoError(t, err)

	var epochs int
	hist, err := net.Fit(context.Background(), rows, labels, FitConfig{
		Epochs:       20,
		BatchSize:    32,
		LearningRate: 0.001,
		Rand:         rng,
		ValidationX:  valRows,
		ValidationY:  valLabels,
		OnEpoch:      func(int, float64, float64) { epochs++ },
	})
	require.NoError(t, err)
	assert.Equal(t, 20, epochs)
	assert.Len(t, hist.ValLoss, 20)

	preds, err := net.PredictBatch(valRows)
	require.NoError(t, err)
	for _, p := range preds {
		assert.False(t, math.IsNaN(p))
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
}

func TestRestoreReproducesPredictions(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	rows, labels := separable(rng, 64, 9)

	net, err := Build(matchTopology(), rng)
	require.NoError(t, err)
	_, err = net.Fit(context.Background(), rows, labels, FitConfig{Epochs: 3, BatchSize: 16, LearningRate: 0.01, Rand: rng})
	require.NoError(t, err)

	specs, buf, err := net.Weights()
	require.NoError(t, err)
	for _, s := range specs {
		assert.Equal(t, Float32, s.DType)
	}

	restored, err := Restore(net.Topology(), specs, buf)
	require.NoError(t, err)

	want, err := net.PredictBatch(rows)
	require.NoError(t, err)
	got, err := restored.PredictBatch(rows)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, got, 1e-4)
	assert.Equal(t, net.ParamCount(), restored.ParamCount())
}

func TestRestoreFailsOnMissingOrForeignWeights(t *testing.T) {
	topo := Sequential(2, Dense("out", 1, ActivationSigmoid, nil))

	specs, buf, err := EncodeWeights([]Tensor{
		{Spec: WeightSpec{Name: "out/kernel", Shape: []int{2, 1}, DType: Float32}, Values: []float64{1, 1}},
	})
	require.NoError(t, err)
	_, err = Restore(topo, specs, buf)
	assert.ErrorContains(t, err, "missing weight out/bias")

	specs, buf, err = EncodeWeights([]Tensor{
		{Spec: WeightSpec{Name: "out/kernel", Shape: []int{1, 2}, DType: Float32}, Values: []float64{1, 1}},
		{Spec: WeightSpec{Name: "out/bias", Shape: []int{1}, DType: Float32}, Values: []float64{0}},
	})
	require.NoError(t, err)
	_, err = Restore(topo, specs, buf)
	assert.ErrorContains(t, err, "shape")

	_, err = Restore(topo, []WeightSpec{{Name: "out/kernel", Shape: []int{2, 1}, DType: "qint8"}}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedWeightType)
}

func TestFitHonoursCancellation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	rows, labels := separable(rng, 64, 9)
	net, err := Build(matchTopology(), rng)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = net.Fit(ctx, rows, labels, FitConfig{Epochs: 100, BatchSize: 8, LearningRate: 0.01, Rand: rng})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFitRequiresSigmoidHead(t *testing.T) {
	net, err := Build(Sequential(2, Dense("out", 2, ActivationLinear, nil)), rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	_, err = net.Fit(context.Background(), [][]float64{{0, 1}}, []float64{1}, FitConfig{Epochs: 1, LearningRate: 0.1})
	assert.ErrorIs(t, err, ErrNotBinaryClassifier)
}

// TestGradientsMatchFiniteDifferences checks backpropagation through dense,
// batch-norm and regularization against numeric derivatives
func TestGradientsMatchFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	net, err := Build(Sequential(3,
		Dense("h", 4, ActivationSigmoid, L1L2(0.01, 0.02)),
		BatchNorm("bn"),
		Dense("out", 1, ActivationSigmoid, L2(0.01)),
	), rng)
	require.NoError(t, err)

	rows, labels := separable(rng, 6, 3)
	x, err := toMatrix(rows, 3)
	require.NoError(t, err)

	lossOf := func() float64 {
		pred := mat.Col(nil, 0, net.forward(x, true, rng))
		loss := binaryCrossEntropy(pred, labels)
		for _, l := range net.layers {
			for _, p := range l.params() {
				if p.reg == nil {
					continue
				}
				for _, w := range p.value {
					loss += p.reg.L1*math.Abs(w) + p.reg.L2*w*w
				}
			}
		}
		return loss
	}

	// analytic gradients
	pred := mat.Col(nil, 0, net.forward(x, true, rng))
	dz := mat.NewDense(len(pred), 1, nil)
	for i := range pred {
		dz.Set(i, 0, (pred[i]-labels[i])/float64(len(pred)))
	}
	last := net.layers[len(net.layers)-1].(*denseLayer)
	grad := last.backwardPreActivation(dz)
	for i := len(net.layers) - 2; i >= 0; i-- {
		grad = net.layers[i].backward(grad)
	}

	const h = 1e-6
	for _, l := range net.layers {
		for _, p := range l.params() {
			p.penalty()
			for i := range p.value {
				orig := p.value[i]
				p.value[i] = orig + h
				plus := lossOf()
				p.value[i] = orig - h
				minus := lossOf()
				p.value[i] = orig

				numeric := (plus - minus) / (2 * h)
				assert.InDelta(t, numeric, p.grad[i], 1e-5, "%s[%d]", p.name, i)
			}
		}
	}
}
