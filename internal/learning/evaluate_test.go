package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	preds := []float64{0.9, 0.8, 0.2, 0.6, 0.1, 0.4}
	labels := []float64{1, 1, 1, 0, 0, 0}

	e := Evaluate(preds, labels)

	// tp=2 fp=1 fn=1 tn=2
	assert.InDelta(t, 4.0/6.0, e.Accuracy, 1e-9)
	assert.InDelta(t, 2.0/3.0, e.Precision, 1e-9)
	assert.InDelta(t, 2.0/3.0, e.Recall, 1e-9)
	assert.InDelta(t, 2.0/3.0, e.F1, 1e-9)
}

func TestEvaluateZeroDenominators(t *testing.T) {
	e := Evaluate([]float64{0.1, 0.2}, []float64{0, 0})

	assert.Equal(t, 1.0, e.Accuracy)
	assert.Zero(t, e.Precision)
	assert.Zero(t, e.Recall)
	assert.Zero(t, e.F1)

	assert.Equal(t, Evaluation{}, Evaluate(nil, nil))
}
