// internal/neural/layers.go

package neural

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// layer is one stage of a sequential network. forward with training=false
// must not mutate the layer so concurrent inference stays safe.
type layer interface {
	spec() LayerSpec
	outputDim() int
	forward(x *mat.Dense, training bool, rng *rand.Rand) *mat.Dense
	backward(grad *mat.Dense) *mat.Dense
	params() []*param
	tensors() []Tensor
	restore(weights map[string]Tensor) error
}

// param is a trainable tensor with its gradient and Adam moments
type param struct {
	name  string
	shape []int
	rows  int
	cols  int
	value []float64
	grad  []float64
	m, v  []float64
	reg   *Regularizer
}

func newParam(name string, shape []int, rows, cols int, reg *Regularizer) *param {
	n := rows * cols
	return &param{
		name:  name,
		shape: shape,
		rows:  rows,
		cols:  cols,
		value: make([]float64, n),
		grad:  make([]float64, n),
		m:     make([]float64, n),
		v:     make([]float64, n),
		reg:   reg,
	}
}

func (p *param) matrix() *mat.Dense { return mat.NewDense(p.rows, p.cols, p.value) }
func (p *param) gradMatrix() *mat.Dense { return mat.NewDense(p.rows, p.cols, p.grad) }

func (p *param) tensor() Tensor {
	return Tensor{
		Spec:   WeightSpec{Name: p.name, Shape: append([]int(nil), p.shape...), DType: Float32},
		Values: append([]float64(nil), p.value...),
	}
}

// penalty adds the regularization gradient to grad and returns the loss term
func (p *param) penalty() float64 {
	if p.reg == nil {
		return 0
	}
	var loss float64
	for i, w := range p.value {
		if p.reg.L1 > 0 {
			loss += p.reg.L1 * math.Abs(w)
			p.grad[i] += p.reg.L1 * sign(w)
		}
		if p.reg.L2 > 0 {
			loss += p.reg.L2 * w * w
			p.grad[i] += 2 * p.reg.L2 * w
		}
	}
	return loss
}

func loadInto(dst []float64, name string, shape []int, weights map[string]Tensor) error {
	t, ok := weights[name]
	if !ok {
		return fmt.Errorf("missing weight %s", name)
	}
	if !t.Spec.Numeric() {
		return fmt.Errorf("weight %s has non-numeric dtype %s", name, t.Spec.DType)
	}
	if !sameShape(t.Spec.Shape, shape) {
		return fmt.Errorf("weight %s has shape %v, want %v", name, t.Spec.Shape, shape)
	}
	copy(dst, t.Values)
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func activate(act Activation, v float64) float64 {
	switch act {
	case ActivationReLU:
		return math.Max(0, v)
	case ActivationSigmoid:
		return 1 / (1 + math.Exp(-v))
	default:
		return v
	}
}

// activationGrad is expressed in terms of the activation output
func activationGrad(act Activation, out float64) float64 {
	switch act {
	case ActivationReLU:
		if out > 0 {
			return 1
		}
		return 0
	case ActivationSigmoid:
		return out * (1 - out)
	default:
		return 1
	}
}

// denseLayer computes act(x·W + b) with W shaped [in, units]
type denseLayer struct {
	cfg    LayerSpec
	in     int
	kernel *param
	bias   *param

	input  *mat.Dense
	output *mat.Dense
}

func newDense(cfg LayerSpec, in int) *denseLayer {
	return &denseLayer{
		cfg:    cfg,
		in:     in,
		kernel: newParam(cfg.Name+"/kernel", []int{in, cfg.Units}, in, cfg.Units, cfg.Regularizer),
		bias:   newParam(cfg.Name+"/bias", []int{cfg.Units}, 1, cfg.Units, nil),
	}
}

// init uses He-normal for ReLU and Glorot-uniform otherwise; biases start at zero
func (d *denseLayer) init(rng *rand.Rand) {
	if d.cfg.Activation == ActivationReLU {
		scale := math.Sqrt(2.0 / float64(d.in))
		for i := range d.kernel.value {
			d.kernel.value[i] = rng.NormFloat64() * scale
		}
		return
	}
	limit := math.Sqrt(6.0 / float64(d.in+d.cfg.Units))
	for i := range d.kernel.value {
		d.kernel.value[i] = (rng.Float64()*2 - 1) * limit
	}
}

func (d *denseLayer) spec() LayerSpec { return d.cfg }
func (d *denseLayer) outputDim() int { return d.cfg.Units }
func (d *denseLayer) params() []*param {
	return []*param{d.kernel, d.bias}
}

func (d *denseLayer) forward(x *mat.Dense, training bool, _ *rand.Rand) *mat.Dense {
	rows, _ := x.Dims()
	out := mat.NewDense(rows, d.cfg.Units, nil)
	out.Mul(x, d.kernel.matrix())

	b := d.bias.value
	act := d.cfg.Activation
	out.Apply(func(_, j int, v float64) float64 { return activate(act, v+b[j]) }, out)

	if training {
		d.input, d.output = x, out
	}
	return out
}

func (d *denseLayer) backward(grad *mat.Dense) *mat.Dense {
	rows, cols := grad.Dims()
	dz := mat.NewDense(rows, cols, nil)
	act := d.cfg.Activation
	out := d.output
	dz.Apply(func(i, j int, g float64) float64 { return g * activationGrad(act, out.At(i, j)) }, grad)
	return d.backwardPreActivation(dz)
}

// backwardPreActivation takes the gradient with respect to x·W + b
func (d *denseLayer) backwardPreActivation(dz *mat.Dense) *mat.Dense {
	d.kernel.gradMatrix().Mul(d.input.T(), dz)

	rows, cols := dz.Dims()
	for j := 0; j < cols; j++ {
		var s float64
		for i := 0; i < rows; i++ {
			s += dz.At(i, j)
		}
		d.bias.grad[j] = s
	}

	dx := mat.NewDense(rows, d.in, nil)
	dx.Mul(dz, d.kernel.matrix().T())
	return dx
}

func (d *denseLayer) tensors() []Tensor {
	return []Tensor{d.kernel.tensor(), d.bias.tensor()}
}

func (d *denseLayer) restore(weights map[string]Tensor) error {
	if err := loadInto(d.kernel.value, d.kernel.name, d.kernel.shape, weights); err != nil {
		return err
	}
	return loadInto(d.bias.value, d.bias.name, d.bias.shape, weights)
}

// batchNormLayer normalizes each feature with batch statistics while fitting
// and with the moving averages at inference
type batchNormLayer struct {
	cfg        LayerSpec
	dim        int
	gamma      *param
	beta       *param
	movingMean []float64
	movingVar  []float64

	xhat   *mat.Dense
	invStd []float64
}

func newBatchNorm(cfg LayerSpec, dim int) *batchNormLayer {
	b := &batchNormLayer{
		cfg:        cfg,
		dim:        dim,
		gamma:      newParam(cfg.Name+"/gamma", []int{dim}, 1, dim, nil),
		beta:       newParam(cfg.Name+"/beta", []int{dim}, 1, dim, nil),
		movingMean: make([]float64, dim),
		movingVar:  make([]float64, dim),
	}
	for j := 0; j < dim; j++ {
		b.gamma.value[j] = 1
		b.movingVar[j] = 1
	}
	return b
}

func (b *batchNormLayer) spec() LayerSpec { return b.cfg }
func (b *batchNormLayer) outputDim() int { return b.dim }
func (b *batchNormLayer) params() []*param { return []*param{b.gamma, b.beta} }

func (b *batchNormLayer) forward(x *mat.Dense, training bool, _ *rand.Rand) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	gamma, beta, eps := b.gamma.value, b.beta.value, b.cfg.Epsilon

	if !training {
		mean, variance := b.movingMean, b.movingVar
		out.Apply(func(_, j int, v float64) float64 {
			return gamma[j]*(v-mean[j])/math.Sqrt(variance[j]+eps) + beta[j]
		}, x)
		return out
	}

	n := float64(rows)
	xhat := mat.NewDense(rows, cols, nil)
	invStd := make([]float64, cols)
	for j := 0; j < cols; j++ {
		var mean float64
		for i := 0; i < rows; i++ {
			mean += x.At(i, j)
		}
		mean /= n

		var variance float64
		for i := 0; i < rows; i++ {
			d := x.At(i, j) - mean
			variance += d * d
		}
		variance /= n

		invStd[j] = 1 / math.Sqrt(variance+eps)
		for i := 0; i < rows; i++ {
			h := (x.At(i, j) - mean) * invStd[j]
			xhat.Set(i, j, h)
			out.Set(i, j, gamma[j]*h+beta[j])
		}

		m := b.cfg.Momentum
		b.movingMean[j] = m*b.movingMean[j] + (1-m)*mean
		b.movingVar[j] = m*b.movingVar[j] + (1-m)*variance
	}

	b.xhat, b.invStd = xhat, invStd
	return out
}

func (b *batchNormLayer) backward(grad *mat.Dense) *mat.Dense {
	rows, cols := grad.Dims()
	n := float64(rows)
	dx := mat.NewDense(rows, cols, nil)

	for j := 0; j < cols; j++ {
		var sumDy, sumDyXhat float64
		for i := 0; i < rows; i++ {
			dy := grad.At(i, j)
			sumDy += dy
			sumDyXhat += dy * b.xhat.At(i, j)
		}
		b.gamma.grad[j] = sumDyXhat
		b.beta.grad[j] = sumDy

		g := b.gamma.value[j]
		for i := 0; i < rows; i++ {
			dxhat := grad.At(i, j) * g
			dx.Set(i, j, b.invStd[j]/n*(n*dxhat-g*sumDy-b.xhat.At(i, j)*g*sumDyXhat))
		}
	}
	return dx
}

func (b *batchNormLayer) tensors() []Tensor {
	return []Tensor{
		b.gamma.tensor(),
		b.beta.tensor(),
		{
			Spec:   WeightSpec{Name: b.cfg.Name + "/moving_mean", Shape: []int{b.dim}, DType: Float32},
			Values: append([]float64(nil), b.movingMean...),
		},
		{
			Spec:   WeightSpec{Name: b.cfg.Name + "/moving_variance", Shape: []int{b.dim}, DType: Float32},
			Values: append([]float64(nil), b.movingVar...),
		},
	}
}

func (b *batchNormLayer) restore(weights map[string]Tensor) error {
	shape := []int{b.dim}
	for _, t := range []struct {
		dst  []float64
		name string
	}{
		{b.gamma.value, b.gamma.name},
		{b.beta.value, b.beta.name},
		{b.movingMean, b.cfg.Name + "/moving_mean"},
		{b.movingVar, b.cfg.Name + "/moving_variance"},
	} {
		if err := loadInto(t.dst, t.name, shape, weights); err != nil {
			return err
		}
	}
	return nil
}

// dropoutLayer zeroes a random fraction of activations while fitting and
// rescales the survivors so inference needs no correction
type dropoutLayer struct {
	cfg  LayerSpec
	dim  int
	mask *mat.Dense
}

func newDropout(cfg LayerSpec, dim int) *dropoutLayer {
	return &dropoutLayer{cfg: cfg, dim: dim}
}

func (d *dropoutLayer) spec() LayerSpec { return d.cfg }
func (d *dropoutLayer) outputDim() int { return d.dim }
func (d *dropoutLayer) params() []*param { return nil }
func (d *dropoutLayer) tensors() []Tensor { return nil }
func (d *dropoutLayer) restore(map[string]Tensor) error { return nil }

func (d *dropoutLayer) forward(x *mat.Dense, training bool, rng *rand.Rand) *mat.Dense {
	if !training || d.cfg.Rate == 0 {
		return x
	}

	rows, cols := x.Dims()
	keep := 1 - d.cfg.Rate
	mask := mat.NewDense(rows, cols, nil)
	mask.Apply(func(_, _ int, _ float64) float64 {
		if rng.Float64() < keep {
			return 1 / keep
		}
		return 0
	}, mask)

	out := mat.NewDense(rows, cols, nil)
	out.MulElem(x, mask)
	d.mask = mask
	return out
}

func (d *dropoutLayer) backward(grad *mat.Dense) *mat.Dense {
	if d.mask == nil {
		return grad
	}
	rows, cols := grad.Dims()
	dx := mat.NewDense(rows, cols, nil)
	dx.MulElem(grad, d.mask)
	return dx
}
