package ops

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/chogo-ml/chogo/pkg/errors"
)

// epsilonSmall guards log(0) and division by a zero weight sum.
const epsilonSmall = 1e-15

// SmoothLabels blends a one-hot target matrix towards the uniform
// distribution: Ys = (1-s)*Y + s/k. The smoothing factor must lie in
// [0, 1). Row sums are preserved at 1.
func SmoothLabels(y *mat.Dense, smoothing float64) (*mat.Dense, error) {
	if smoothing < 0 || smoothing >= 1 {
		return nil, errors.NewValueError("SmoothLabels", "smoothing factor must be in [0, 1)")
	}
	n, k := y.Dims()
	if smoothing == 0 {
		var cp mat.Dense
		cp.CloneFrom(y)
		return &cp, nil
	}
	out := mat.NewDense(n, k, nil)
	uniform := smoothing / float64(k)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			out.Set(i, j, (1-smoothing)*y.At(i, j)+uniform)
		}
	}
	return out, nil
}

// CategoricalCrossEntropy computes the negative log-likelihood between
// predicted probabilities and one-hot targets:
//
//	loss = sum_i w_i * (-sum_j Ys[i,j]*log(P[i,j])) / sum_i w_i
//
// with Ys the label-smoothed targets. A nil sampleWeight means unit
// weights. Probabilities are clamped away from zero before the log.
func CategoricalCrossEntropy(pred, y *mat.Dense, sampleWeight []float64, labelSmoothing float64) (float64, error) {
	n, k := pred.Dims()
	yr, yc := y.Dims()
	if yr != n || yc != k {
		return 0, errors.NewDimensionError("CategoricalCrossEntropy", n*k, yr*yc, 0)
	}
	if sampleWeight != nil && len(sampleWeight) != n {
		return 0, errors.NewDimensionError("CategoricalCrossEntropy", n, len(sampleWeight), 0)
	}

	ys, err := SmoothLabels(y, labelSmoothing)
	if err != nil {
		return 0, err
	}

	total := 0.0
	weightSum := 0.0
	for i := 0; i < n; i++ {
		w := 1.0
		if sampleWeight != nil {
			w = sampleWeight[i]
		}
		rowLoss := 0.0
		for j := 0; j < k; j++ {
			t := ys.At(i, j)
			if t == 0 {
				continue
			}
			p := pred.At(i, j)
			if p < epsilonSmall {
				p = epsilonSmall
			}
			rowLoss -= t * math.Log(p)
		}
		total += w * rowLoss
		weightSum += w
	}
	if weightSum < epsilonSmall {
		return 0, errors.NewValueError("CategoricalCrossEntropy", "sample weights sum to zero")
	}
	return total / weightSum, nil
}

// SoftmaxCrossEntropyGrad computes the gradient of the weighted-mean
// smoothed cross-entropy with respect to the utilities that produced
// pred through SoftmaxWithAvailabilities:
//
//	dLoss/dU[i,j] = (w_i / sum w) * (P[i,j]*S_i - Ys[i,j])   if item j available
//	dLoss/dU[i,j] = 0                                        otherwise
//
// where S_i is the smoothed target mass on the row's available items.
// Smoothing puts target mass on unavailable items too; their clamped
// log term is constant in U, so only the available mass propagates and
// S_i < 1 whenever smoothing meets a partially available row. With no
// smoothing S_i is 1 and the familiar P - Ys form falls out.
//
// ysmooth must be the already-smoothed target matrix. The formula holds
// under both exit-option conventions because the exit utility is a
// constant, not a parameter.
func SoftmaxCrossEntropyGrad(pred, ysmooth, avail *mat.Dense, sampleWeight []float64) (*mat.Dense, error) {
	n, k := pred.Dims()
	yr, yc := ysmooth.Dims()
	if yr != n || yc != k {
		return nil, errors.NewDimensionError("SoftmaxCrossEntropyGrad", n*k, yr*yc, 0)
	}
	if sampleWeight != nil && len(sampleWeight) != n {
		return nil, errors.NewDimensionError("SoftmaxCrossEntropyGrad", n, len(sampleWeight), 0)
	}

	weightSum := float64(n)
	if sampleWeight != nil {
		weightSum = 0
		for _, w := range sampleWeight {
			weightSum += w
		}
		if weightSum < epsilonSmall {
			return nil, errors.NewValueError("SoftmaxCrossEntropyGrad", "sample weights sum to zero")
		}
	}

	grad := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		w := 1.0
		if sampleWeight != nil {
			w = sampleWeight[i]
		}
		scale := w / weightSum
		availMass := 0.0
		for j := 0; j < k; j++ {
			if avail.At(i, j) != 0 {
				availMass += ysmooth.At(i, j)
			}
		}
		for j := 0; j < k; j++ {
			if avail.At(i, j) == 0 {
				continue
			}
			grad.Set(i, j, scale*(pred.At(i, j)*availMass-ysmooth.At(i, j)))
		}
	}
	return grad, nil
}
