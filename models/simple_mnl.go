package models

import (
	"gonum.org/v1/gonum/mat"

	"github.com/chogo-ml/chogo/core/tensor"
	"github.com/chogo-ml/chogo/dataset"
	"github.com/chogo-ml/chogo/pkg/errors"
)

// Parameter names of SimpleMNL (stable, used by persistence).
const (
	paramSharedCoefficients = "shared_coefficients"
	paramItemsCoefficients  = "items_coefficients"
	paramIntercept          = "intercept"
)

// Intercept modes.
const (
	// InterceptNone fits no intercept.
	InterceptNone = ""
	// InterceptItem fits one intercept per item with item 0 anchored
	// at 0.
	InterceptItem = "item"
	// InterceptItemFull fits one free intercept per item.
	InterceptItemFull = "item-full"
)

// SimpleMNL is the multinomial logit model with linear utility:
//
//	U[i,j] = shared[i,:]·Wshared[:,j] + sum_f items[i,j,f]*Witems[f] + intercept[j]
//
// Shared features carry item-specific coefficients; item features carry
// generic coefficients. Any intercept mode other than InterceptNone or
// InterceptItemFull behaves as InterceptItem.
type SimpleMNL struct {
	core      *Core
	intercept string

	params          *tensor.NamedTensors
	instantiated    bool
	nItems          int
	nSharedFeatures int
	nItemsFeatures  int
}

// SimpleMNLOption configures a SimpleMNL.
type SimpleMNLOption func(*SimpleMNL)

// WithMNLIntercept sets the intercept mode.
func WithMNLIntercept(mode string) SimpleMNLOption {
	return func(m *SimpleMNL) { m.intercept = mode }
}

// WithMNLOptimizer sets the optimizer name ("sgd", "adam", "adamax",
// "lbfgs"). Unknown names fall back to Adam with a logged warning.
func WithMNLOptimizer(name string) SimpleMNLOption {
	return func(m *SimpleMNL) { m.core.optimizerName = name }
}

// WithMNLLearningRate sets the learning rate.
func WithMNLLearningRate(lr float64) SimpleMNLOption {
	return func(m *SimpleMNL) { m.core.lr = lr }
}

// WithMNLEpochs sets the default epoch count.
func WithMNLEpochs(epochs int) SimpleMNLOption {
	return func(m *SimpleMNL) { m.core.epochs = epochs }
}

// WithMNLBatchSize sets the default batch size (dataset.FullBatch for a
// single whole-dataset batch).
func WithMNLBatchSize(size int) SimpleMNLOption {
	return func(m *SimpleMNL) { m.core.batchSize = size }
}

// WithMNLLabelSmoothing sets the label smoothing factor in [0, 1).
func WithMNLLabelSmoothing(s float64) SimpleMNLOption {
	return func(m *SimpleMNL) { m.core.labelSmoothing = s }
}

// WithMNLNormalizeExit enables the implicit exit option in the softmax
// normalization.
func WithMNLNormalizeExit(enabled bool) SimpleMNLOption {
	return func(m *SimpleMNL) { m.core.normalizeExit = enabled }
}

// WithMNLTolerance sets the L-BFGS convergence tolerance.
func WithMNLTolerance(tol float64) SimpleMNLOption {
	return func(m *SimpleMNL) { m.core.tolerance = tol }
}

// WithMNLRandomState fixes the random seed for weight initialization
// and batch shuffling.
func WithMNLRandomState(seed int64) SimpleMNLOption {
	return func(m *SimpleMNL) { m.core.randomState = seed }
}

// WithMNLCallbacks registers training callbacks.
func WithMNLCallbacks(callbacks ...Callback) SimpleMNLOption {
	return func(m *SimpleMNL) { m.core.callbacks = append(m.core.callbacks, callbacks...) }
}

// NewSimpleMNL creates a SimpleMNL with default configuration (Adam,
// lr 0.001, 1 epoch, batch size 32, no intercept).
func NewSimpleMNL(opts ...SimpleMNLOption) *SimpleMNL {
	m := &SimpleMNL{
		core:      newCore("SimpleMNL"),
		intercept: InterceptNone,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsFitted returns whether the model has been fitted.
func (m *SimpleMNL) IsFitted() bool { return m.core.state.IsFitted() }

// RequestStop sets the external stop flag; sampled between epochs.
func (m *SimpleMNL) RequestStop() { m.core.requestStop() }

// Instantiate creates the parameter tensors for the given data
// dimensions, initialized with small random values.
func (m *SimpleMNL) Instantiate(nItems, nSharedFeatures, nItemsFeatures int) error {
	if m.instantiated {
		if nItems != m.nItems || nSharedFeatures != m.nSharedFeatures || nItemsFeatures != m.nItemsFeatures {
			return errors.NewDimensionError("SimpleMNL.Instantiate", m.nItems, nItems, 1)
		}
		return nil
	}
	if nItems < 2 {
		return errors.NewValueError("SimpleMNL.Instantiate", "need at least two items")
	}

	rng := m.core.ensureRNG()
	params := tensor.NewNamedTensors()
	if nSharedFeatures > 0 {
		params.MustAdd(paramSharedCoefficients, randomNormalDense(rng, nSharedFeatures, nItems, 0.02))
	}
	if nItemsFeatures > 0 {
		params.MustAdd(paramItemsCoefficients, randomNormalDense(rng, 1, nItemsFeatures, 0.02))
	}
	switch m.intercept {
	case InterceptNone:
	case InterceptItemFull:
		params.MustAdd(paramIntercept, randomNormalDense(rng, 1, nItems, 0.02))
	default:
		// InterceptItem and any unrecognized mode: item 0 anchored at 0.
		params.MustAdd(paramIntercept, randomNormalDense(rng, 1, nItems-1, 0.02))
	}
	if params.Len() == 0 {
		return errors.NewValueError("SimpleMNL.Instantiate",
			"model has no parameters: no features and no intercept")
	}

	m.params = params
	m.nItems = nItems
	m.nSharedFeatures = nSharedFeatures
	m.nItemsFeatures = nItemsFeatures
	m.instantiated = true
	return nil
}

func (m *SimpleMNL) ensureInstantiated(ds *dataset.ChoiceDataset) error {
	return m.Instantiate(ds.NItems(), ds.NSharedFeatures(), ds.NItemsFeatures())
}

// Parameters returns the model's named parameter set.
func (m *SimpleMNL) Parameters() *tensor.NamedTensors {
	if m.params == nil {
		return tensor.NewNamedTensors()
	}
	return m.params
}

// ComputeBatchUtility computes the linear utilities for a batch.
func (m *SimpleMNL) ComputeBatchUtility(b *dataset.Batch) (*mat.Dense, error) {
	if !m.instantiated {
		return nil, errors.NewNotInstantiatedError("SimpleMNL")
	}
	n := b.Size()
	_, nItems := b.Avail.Dims()
	if nItems != m.nItems {
		return nil, errors.NewDimensionError("SimpleMNL.ComputeBatchUtility", m.nItems, nItems, 1)
	}

	utilities := mat.NewDense(n, m.nItems, nil)
	if ws := m.params.Get(paramSharedCoefficients); ws != nil {
		_, cols := b.Shared.Dims()
		if cols != m.nSharedFeatures {
			return nil, errors.NewDimensionError("SimpleMNL.ComputeBatchUtility", m.nSharedFeatures, cols, 1)
		}
		utilities.Mul(b.Shared, ws)
	}
	if wi := m.params.Get(paramItemsCoefficients); wi != nil {
		for i := 0; i < n; i++ {
			items := b.Items[i]
			_, f := items.Dims()
			if f != m.nItemsFeatures {
				return nil, errors.NewDimensionError("SimpleMNL.ComputeBatchUtility", m.nItemsFeatures, f, 1)
			}
			for j := 0; j < m.nItems; j++ {
				v := utilities.At(i, j)
				for k := 0; k < m.nItemsFeatures; k++ {
					v += items.At(j, k) * wi.At(0, k)
				}
				utilities.Set(i, j, v)
			}
		}
	}
	if ic := m.params.Get(paramIntercept); ic != nil {
		_, width := ic.Dims()
		offset := m.nItems - width // 1 when item 0 is anchored, 0 otherwise
		for i := 0; i < n; i++ {
			for q := 0; q < width; q++ {
				j := q + offset
				utilities.Set(i, j, utilities.At(i, j)+ic.At(0, q))
			}
		}
	}
	return utilities, nil
}

// UtilityGradients pulls the loss gradient at the utilities back onto
// the linear parameters.
func (m *SimpleMNL) UtilityGradients(b *dataset.Batch, dUtility *mat.Dense) (*tensor.NamedTensors, error) {
	if !m.instantiated {
		return nil, errors.NewNotInstantiatedError("SimpleMNL")
	}
	n := b.Size()
	grads := m.params.ZeroLike()

	if m.params.Get(paramSharedCoefficients) != nil {
		g := grads.Get(paramSharedCoefficients)
		g.Mul(b.Shared.T(), dUtility)
	}
	if m.params.Get(paramItemsCoefficients) != nil {
		g := grads.Get(paramItemsCoefficients)
		for i := 0; i < n; i++ {
			items := b.Items[i]
			for j := 0; j < m.nItems; j++ {
				d := dUtility.At(i, j)
				if d == 0 {
					continue
				}
				for k := 0; k < m.nItemsFeatures; k++ {
					g.Set(0, k, g.At(0, k)+items.At(j, k)*d)
				}
			}
		}
	}
	if ic := m.params.Get(paramIntercept); ic != nil {
		g := grads.Get(paramIntercept)
		_, width := ic.Dims()
		offset := m.nItems - width
		for i := 0; i < n; i++ {
			for q := 0; q < width; q++ {
				g.Set(0, q, g.At(0, q)+dUtility.At(i, q+offset))
			}
		}
	}
	return grads, nil
}

// Fit estimates the model on a ChoiceDataset, instantiating parameters
// from the dataset dimensions on first use.
func (m *SimpleMNL) Fit(ds *dataset.ChoiceDataset, cfg FitConfig) (History, error) {
	if err := m.ensureInstantiated(ds); err != nil {
		return nil, err
	}
	return m.core.fit(m, ds, cfg)
}

// Evaluate computes the dataset loss in the given mode without
// updating parameters.
func (m *SimpleMNL) Evaluate(ds *dataset.ChoiceDataset, sampleWeight []float64, batchSize int, mode EvalMode) (float64, error) {
	if err := m.ensureInstantiated(ds); err != nil {
		return 0, err
	}
	return m.core.evaluate(m, ds, sampleWeight, batchSize, mode)
}

// PredictProbas returns the choice probabilities for every instance.
func (m *SimpleMNL) PredictProbas(ds *dataset.ChoiceDataset, batchSize int) (*mat.Dense, error) {
	if err := m.ensureInstantiated(ds); err != nil {
		return nil, err
	}
	return m.core.predictProbas(m, ds, batchSize)
}

// Kind identifies the model type for persistence.
func (m *SimpleMNL) Kind() string { return "SimpleMNL" }

// Hyperparameters returns the configuration persisted alongside the
// parameter tensors.
func (m *SimpleMNL) Hyperparameters() map[string]interface{} {
	return map[string]interface{}{
		"intercept":         m.intercept,
		"optimizer":         m.core.optimizerName,
		"lr":                m.core.lr,
		"epochs":            m.core.epochs,
		"batch_size":        m.core.batchSize,
		"label_smoothing":   m.core.labelSmoothing,
		"normalize_exit":    m.core.normalizeExit,
		"tolerance":         m.core.tolerance,
		"n_items":           m.nItems,
		"n_shared_features": m.nSharedFeatures,
		"n_items_features":  m.nItemsFeatures,
	}
}

// ApplyHyperparameters restores configuration saved by
// Hyperparameters. Numeric values may arrive as float64 after a JSON
// round trip.
func (m *SimpleMNL) ApplyHyperparameters(params map[string]interface{}) error {
	h := hyperReader{params: params}
	m.intercept = h.str("intercept", m.intercept)
	m.core.optimizerName = h.str("optimizer", m.core.optimizerName)
	m.core.lr = h.float("lr", m.core.lr)
	m.core.epochs = h.int("epochs", m.core.epochs)
	m.core.batchSize = h.int("batch_size", m.core.batchSize)
	m.core.labelSmoothing = h.float("label_smoothing", m.core.labelSmoothing)
	m.core.normalizeExit = h.boolean("normalize_exit", m.core.normalizeExit)
	m.core.tolerance = h.float("tolerance", m.core.tolerance)
	m.nItems = h.int("n_items", m.nItems)
	m.nSharedFeatures = h.int("n_shared_features", m.nSharedFeatures)
	m.nItemsFeatures = h.int("n_items_features", m.nItemsFeatures)
	return h.err
}

// Materialize creates the parameter tensors from restored
// hyper-parameters so persistence can assign them by name.
func (m *SimpleMNL) Materialize() error {
	if m.instantiated {
		return nil
	}
	if err := m.Instantiate(m.nItems, m.nSharedFeatures, m.nItemsFeatures); err != nil {
		return err
	}
	m.core.state.SetFitted()
	return nil
}

// randomNormalDense fills a new tensor with N(0, stddev) draws.
func randomNormalDense(rng interface{ NormFloat64() float64 }, r, c int, stddev float64) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64() * stddev
	}
	return mat.NewDense(r, c, data)
}
