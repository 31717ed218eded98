package predictor

import "math"

// Forest is a bagged ensemble of regression trees. Its prediction is the mean
// of the tree outputs.
type Forest struct {
	Trees []Tree `json:"trees"`
}

func (f *Forest) Predict(match, urgency float64) float64 {
	if len(f.Trees) == 0 {
		return math.NaN()
	}
	x := sample{match, urgency}
	sum := 0.0
	for i := range f.Trees {
		sum += f.Trees[i].Predict(x)
	}
	return sum / float64(len(f.Trees))
}

// R2 is the coefficient of determination of pred against truth. It is NaN
// for an empty set or a constant truth vector.
func R2(truth, pred []float64) float64 {
	if len(truth) == 0 || len(truth) != len(pred) {
		return math.NaN()
	}

	mean := 0.0
	for _, v := range truth {
		mean += v
	}
	mean /= float64(len(truth))

	var ssRes, ssTot float64
	for i, v := range truth {
		ssRes += (v - pred[i]) * (v - pred[i])
		ssTot += (v - mean) * (v - mean)
	}
	if ssTot == 0 {
		return math.NaN()
	}
	return 1 - ssRes/ssTot
}
