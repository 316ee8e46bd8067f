// Package models implements the chogo training engine and the concrete
// choice models built on it: SimpleMNL (linear utility), ResLogit
// (residual-network-augmented utility) and the latent-class mixture.
//
// All models share one pipeline: batch features -> utilities ->
// availability-masked softmax -> label-smoothed weighted
// negative-log-likelihood. Models differ only in how they map features
// to utilities and how they pull the loss gradient back onto their own
// parameters; that pair of operations is the UtilityModel contract.
package models

import (
	"gonum.org/v1/gonum/mat"

	"github.com/chogo-ml/chogo/core/tensor"
	"github.com/chogo-ml/chogo/dataset"
)

// UtilityModel maps batch features to per-item utility scores and
// provides the matching gradient capability.
type UtilityModel interface {
	// ComputeBatchUtility returns a (batch x items) utility matrix for
	// the batch. It is a pure function of the model's parameter set and
	// the batch and must not mutate its inputs.
	ComputeBatchUtility(b *dataset.Batch) (*mat.Dense, error)

	// Parameters returns the model's named parameter set.
	Parameters() *tensor.NamedTensors

	// UtilityGradients is the injected gradient capability: given the
	// gradient of the loss with respect to the utilities it returned
	// for this batch, it produces the gradient for every named
	// parameter (a vector-Jacobian product through the model's own
	// architecture).
	UtilityGradients(b *dataset.Batch, dUtility *mat.Dense) (*tensor.NamedTensors, error)
}

// ChoiceModel is the full estimator surface shared by the concrete
// models. The latent-class mixture composes N of these.
type ChoiceModel interface {
	UtilityModel

	// Instantiate creates the parameter tensors for the given data
	// dimensions. Calling it twice with different dimensions is a
	// configuration error.
	Instantiate(nItems, nSharedFeatures, nItemsFeatures int) error

	// Fit estimates the parameters on a dataset and returns the
	// per-epoch loss history.
	Fit(ds *dataset.ChoiceDataset, cfg FitConfig) (History, error)

	// Evaluate computes the dataset loss without updating parameters.
	Evaluate(ds *dataset.ChoiceDataset, sampleWeight []float64, batchSize int, mode EvalMode) (float64, error)

	// PredictProbas returns the (n x items) choice probabilities.
	PredictProbas(ds *dataset.ChoiceDataset, batchSize int) (*mat.Dense, error)
}

// History maps a metric name ("train_loss", "test_loss") to its
// per-epoch values. It is append-only and bound to one Fit call.
type History map[string][]float64

// EvalMode selects which loss Evaluate reports.
type EvalMode string

const (
	// ModeEval reports the raw negative log-likelihood.
	ModeEval EvalMode = "eval"
	// ModeOptim reports the optimized loss, i.e. the label-smoothed,
	// sample-weighted objective the fit minimizes.
	ModeOptim EvalMode = "optim"
)

// FitConfig carries the per-call fit inputs. Zero values fall back to
// the model's configured defaults.
type FitConfig struct {
	// SampleWeight holds one weight per dataset instance, or nil.
	SampleWeight []float64
	// ValDataset, when set, is evaluated after every epoch and tracked
	// as "test_loss".
	ValDataset *dataset.ChoiceDataset
	// Epochs overrides the configured epoch count when positive.
	Epochs int
	// BatchSize overrides the configured batch size when non-zero.
	BatchSize int
}

// BatchLosses bundles the two losses reported for one predicted batch.
type BatchLosses struct {
	// Optimized is the label-smoothed, sample-weighted objective.
	Optimized float64
	// NLL is the raw negative log-likelihood.
	NLL float64
}
