// internal/neural/optimizer.go

package neural

import "math"

// adam implements the Adam update rule with bias-corrected moments
type adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64
	step  int
}

func newAdam(lr float64) *adam {
	return &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-7}
}

func (o *adam) update(params []*param) {
	o.step++
	c1 := 1 - math.Pow(o.beta1, float64(o.step))
	c2 := 1 - math.Pow(o.beta2, float64(o.step))

	for _, p := range params {
		for i, g := range p.grad {
			p.m[i] = o.beta1*p.m[i] + (1-o.beta1)*g
			p.v[i] = o.beta2*p.v[i] + (1-o.beta2)*g*g
			mHat := p.m[i] / c1
			vHat := p.v[i] / c2
			p.value[i] -= o.lr * mHat / (math.Sqrt(vHat) + o.eps)
		}
	}
}
