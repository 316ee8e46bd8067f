// Package metrics provides evaluation metrics for fitted choice
// models, operating on predicted probability matrices and observed
// choice indices.
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	chogoErrors "github.com/chogo-ml/chogo/pkg/errors"
)

// TopOneAccuracy calculates the share of instances whose highest
// predicted probability falls on the observed choice.
//
// Ties are broken towards the lowest item index, matching an argmax
// scan over each row.
//
// Parameters:
//   - probas: (n x items) predicted probability matrix, one row per
//     choice instance
//   - choices: observed choice index per instance, in [0, items)
//
// Returns:
//   - The accuracy in [0, 1]
//   - An error if inputs are invalid
//
// Example:
//
//	probas := mat.NewDense(2, 2, []float64{0.8, 0.2, 0.3, 0.7})
//	acc, err := TopOneAccuracy(probas, []int{0, 1})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Accuracy: %f\n", acc) // Output: Accuracy: 1.000000
func TopOneAccuracy(probas *mat.Dense, choices []int) (float64, error) {
	if probas == nil {
		return 0, chogoErrors.NewValueError(
			"TopOneAccuracy",
			"probability matrix cannot be nil",
		)
	}

	n, items := probas.Dims()
	if n == 0 {
		return 0, chogoErrors.NewValueError(
			"TopOneAccuracy",
			"probability matrix cannot be empty",
		)
	}
	if len(choices) != n {
		return 0, chogoErrors.NewDimensionError(
			"TopOneAccuracy",
			n,
			len(choices),
			0,
		)
	}

	correct := 0
	for i := 0; i < n; i++ {
		c := choices[i]
		if c < 0 || c >= items {
			return 0, chogoErrors.NewValidationError(
				"choices",
				fmt.Sprintf("choice index out of range [0, %d) at index %d", items, i),
				c,
			)
		}

		best := 0
		for j := 1; j < items; j++ {
			if probas.At(i, j) > probas.At(i, best) {
				best = j
			}
		}
		if best == c {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// MeanNegativeLogLikelihood calculates the mean over instances of
// -log(P[chosen item]).
//
// Zero predicted probability on an observed choice is clamped to a
// small positive floor so the metric stays finite.
//
// Parameters:
//   - probas: (n x items) predicted probability matrix
//   - choices: observed choice index per instance, in [0, items)
//
// Returns:
//   - The mean negative log-likelihood, always >= 0
//   - An error if inputs are invalid
func MeanNegativeLogLikelihood(probas *mat.Dense, choices []int) (float64, error) {
	if probas == nil {
		return 0, chogoErrors.NewValueError(
			"MeanNegativeLogLikelihood",
			"probability matrix cannot be nil",
		)
	}

	n, items := probas.Dims()
	if n == 0 {
		return 0, chogoErrors.NewValueError(
			"MeanNegativeLogLikelihood",
			"probability matrix cannot be empty",
		)
	}
	if len(choices) != n {
		return 0, chogoErrors.NewDimensionError(
			"MeanNegativeLogLikelihood",
			n,
			len(choices),
			0,
		)
	}

	const floor = 1e-15
	sum := 0.0
	for i := 0; i < n; i++ {
		c := choices[i]
		if c < 0 || c >= items {
			return 0, chogoErrors.NewValidationError(
				"choices",
				fmt.Sprintf("choice index out of range [0, %d) at index %d", items, i),
				c,
			)
		}
		sum += -math.Log(math.Max(probas.At(i, c), floor))
	}
	return sum / float64(n), nil
}
