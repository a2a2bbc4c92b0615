// internal/learning/evaluate.go

package learning

// DecisionThreshold turns a predicted probability into a match label
const DecisionThreshold = 0.5

// Evaluate scores predictions against labels at DecisionThreshold. A metric
// whose denominator is zero is reported as 0.
func Evaluate(predictions, labels []float64) Evaluation {
	var tp, fp, tn, fn float64
	for i, p := range predictions {
		predicted := p >= DecisionThreshold
		actual := labels[i] >= DecisionThreshold
		switch {
		case predicted && actual:
			tp++
		case predicted && !actual:
			fp++
		case !predicted && actual:
			fn++
		default:
			tn++
		}
	}

	var e Evaluation
	e.Accuracy = ratio(tp+tn, tp+tn+fp+fn)
	e.Precision = ratio(tp, tp+fp)
	e.Recall = ratio(tp, tp+fn)
	e.F1 = ratio(2*e.Precision*e.Recall, e.Precision+e.Recall)
	return e
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
