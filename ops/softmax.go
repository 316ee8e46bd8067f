// Package ops implements the numerical core shared by all choice
// models: availability-masked softmax, label-smoothed weighted
// categorical cross-entropy, and the closed-form gradient of that loss
// with respect to utilities.
package ops

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/chogo-ml/chogo/pkg/errors"
)

// SoftmaxWithAvailabilities converts a (batch x items) utility matrix
// and a 0/1 availability mask of the same shape into per-instance
// choice probabilities.
//
// Unavailable items receive exactly zero probability; available items
// follow a softmax of their utilities restricted to the available
// subset. The row-wise maximum over available utilities is subtracted
// before exponentiating to avoid overflow.
//
// When normalizeExit is true an implicit outside option with utility 0
// joins the softmax denominator. Convention: the returned item rows
// then sum to 1 minus the exit mass; the exit mass itself is not part
// of the returned matrix and the one-hot target used by the loss stays
// over the in-set items.
//
// A row with no available items is a ValueError: the dataset invariant
// (the chosen item is available) makes it unreachable for valid data.
func SoftmaxWithAvailabilities(utilities, avail *mat.Dense, normalizeExit bool) (*mat.Dense, error) {
	n, k := utilities.Dims()
	ar, ac := avail.Dims()
	if ar != n || ac != k {
		return nil, errors.NewDimensionError("SoftmaxWithAvailabilities", n*k, ar*ac, 0)
	}

	probs := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		rowMax := math.Inf(-1)
		for j := 0; j < k; j++ {
			if avail.At(i, j) != 0 && utilities.At(i, j) > rowMax {
				rowMax = utilities.At(i, j)
			}
		}
		if math.IsInf(rowMax, -1) {
			return nil, errors.NewValueError("SoftmaxWithAvailabilities",
				"row has no available items")
		}

		denom := 0.0
		for j := 0; j < k; j++ {
			if avail.At(i, j) == 0 {
				continue
			}
			e := math.Exp(utilities.At(i, j) - rowMax)
			probs.Set(i, j, e)
			denom += e
		}
		if normalizeExit {
			// Exit option has utility 0, shifted like the others.
			denom += math.Exp(-rowMax)
		}
		for j := 0; j < k; j++ {
			if avail.At(i, j) != 0 {
				probs.Set(i, j, probs.At(i, j)/denom)
			}
		}
	}
	return probs, nil
}

// OneHot builds a (len(choices) x depth) one-hot matrix.
func OneHot(choices []int, depth int) (*mat.Dense, error) {
	y := mat.NewDense(len(choices), depth, nil)
	for i, c := range choices {
		if c < 0 || c >= depth {
			return nil, errors.NewValueError("OneHot", "choice index out of range")
		}
		y.Set(i, c, 1)
	}
	return y, nil
}
