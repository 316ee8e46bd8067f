package metrics_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/chogo-ml/chogo/metrics"
)

func TestTopOneAccuracy(t *testing.T) {
	tests := []struct {
		name    string
		probas  *mat.Dense
		choices []int
		want    float64
	}{
		{
			name: "all correct",
			probas: mat.NewDense(2, 2, []float64{
				0.8, 0.2,
				0.3, 0.7,
			}),
			choices: []int{0, 1},
			want:    1.0,
		},
		{
			name: "half correct",
			probas: mat.NewDense(2, 2, []float64{
				0.8, 0.2,
				0.6, 0.4,
			}),
			choices: []int{0, 1},
			want:    0.5,
		},
		{
			name: "ties break to the lowest index",
			probas: mat.NewDense(1, 2, []float64{
				0.5, 0.5,
			}),
			choices: []int{0},
			want:    1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := metrics.TopOneAccuracy(tt.probas, tt.choices)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestTopOneAccuracy_Errors(t *testing.T) {
	probas := mat.NewDense(2, 2, []float64{0.5, 0.5, 0.5, 0.5})

	_, err := metrics.TopOneAccuracy(nil, []int{0})
	assert.Error(t, err)

	_, err = metrics.TopOneAccuracy(probas, []int{0})
	assert.Error(t, err, "choices length mismatch")

	_, err = metrics.TopOneAccuracy(probas, []int{0, 2})
	assert.Error(t, err, "choice index out of range")
}

func TestMeanNegativeLogLikelihood(t *testing.T) {
	probas := mat.NewDense(2, 2, []float64{
		0.5, 0.5,
		0.25, 0.75,
	})

	got, err := metrics.MeanNegativeLogLikelihood(probas, []int{0, 1})
	require.NoError(t, err)

	want := (-math.Log(0.5) - math.Log(0.75)) / 2
	assert.InDelta(t, want, got, 1e-12)
	assert.GreaterOrEqual(t, got, 0.0)
}

func TestMeanNegativeLogLikelihood_ZeroProbabilityStaysFinite(t *testing.T) {
	probas := mat.NewDense(1, 2, []float64{0.0, 1.0})

	got, err := metrics.MeanNegativeLogLikelihood(probas, []int{0})
	require.NoError(t, err)
	assert.False(t, math.IsInf(got, 0), "metric must be clamped to a finite value")
	assert.Greater(t, got, 0.0)
}

func TestMeanNegativeLogLikelihood_Errors(t *testing.T) {
	probas := mat.NewDense(1, 2, []float64{0.5, 0.5})

	_, err := metrics.MeanNegativeLogLikelihood(nil, []int{0})
	assert.Error(t, err)

	_, err = metrics.MeanNegativeLogLikelihood(probas, []int{0, 1})
	assert.Error(t, err, "choices length mismatch")

	_, err = metrics.MeanNegativeLogLikelihood(probas, []int{-1})
	assert.Error(t, err, "negative choice index")
}
