package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/chogo-ml/chogo/core/tensor"
	"github.com/chogo-ml/chogo/dataset"
	"github.com/chogo-ml/chogo/pkg/errors"
)

// ResLogit augments the SimpleMNL linear utility with a stack of
// residual layers (Wong & Farooq, 2021):
//
//	h_0 = U_linear
//	h_l = h_{l-1} - act(h_{l-1}·W_l)   (residual, when W_l is square)
//	h_l = act(h_{l-1}·W_l)             (otherwise)
//	U   = h_L
//
// Layer 1 is always (items x items). With explicit layer widths, layer
// l >= 2 is (width[l-2] x width[l-1]); the width list must have length
// nLayers-1 and end with the item count so the stack returns to the
// utility space. With nLayers = 0 the model reduces exactly to
// SimpleMNL.
type ResLogit struct {
	core        *Core
	intercept   string
	nLayers     int
	layerWidths []int
	activation  string

	base         *SimpleMNL
	params       *tensor.NamedTensors
	instantiated bool

	nItems          int
	nSharedFeatures int
	nItemsFeatures  int
}

// ResLogitOption configures a ResLogit.
type ResLogitOption func(*ResLogit)

// WithResNLayers sets the number of residual layers.
func WithResNLayers(n int) ResLogitOption {
	return func(m *ResLogit) { m.nLayers = n }
}

// WithResLayersWidth sets explicit widths for layers 2..n; must have
// length nLayers-1 and end with the item count.
func WithResLayersWidth(widths []int) ResLogitOption {
	return func(m *ResLogit) { m.layerWidths = append([]int{}, widths...) }
}

// WithResActivation sets the residual activation: "linear", "relu",
// "-relu", "tanh", "sigmoid" or "softplus".
func WithResActivation(name string) ResLogitOption {
	return func(m *ResLogit) { m.activation = name }
}

// WithResIntercept sets the intercept mode of the linear base utility.
func WithResIntercept(mode string) ResLogitOption {
	return func(m *ResLogit) { m.intercept = mode }
}

// WithResOptimizer sets the optimizer name.
func WithResOptimizer(name string) ResLogitOption {
	return func(m *ResLogit) { m.core.optimizerName = name }
}

// WithResLearningRate sets the learning rate.
func WithResLearningRate(lr float64) ResLogitOption {
	return func(m *ResLogit) { m.core.lr = lr }
}

// WithResEpochs sets the default epoch count.
func WithResEpochs(epochs int) ResLogitOption {
	return func(m *ResLogit) { m.core.epochs = epochs }
}

// WithResBatchSize sets the default batch size.
func WithResBatchSize(size int) ResLogitOption {
	return func(m *ResLogit) { m.core.batchSize = size }
}

// WithResLabelSmoothing sets the label smoothing factor.
func WithResLabelSmoothing(s float64) ResLogitOption {
	return func(m *ResLogit) { m.core.labelSmoothing = s }
}

// WithResTolerance sets the L-BFGS convergence tolerance.
func WithResTolerance(tol float64) ResLogitOption {
	return func(m *ResLogit) { m.core.tolerance = tol }
}

// WithResRandomState fixes the random seed.
func WithResRandomState(seed int64) ResLogitOption {
	return func(m *ResLogit) { m.core.randomState = seed }
}

// WithResCallbacks registers training callbacks.
func WithResCallbacks(callbacks ...Callback) ResLogitOption {
	return func(m *ResLogit) { m.core.callbacks = append(m.core.callbacks, callbacks...) }
}

// NewResLogit creates a ResLogit with default configuration (2 residual
// layers, linear activation, item intercept).
func NewResLogit(opts ...ResLogitOption) *ResLogit {
	m := &ResLogit{
		core:       newCore("ResLogit"),
		intercept:  InterceptItem,
		nLayers:    2,
		activation: "linear",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsFitted returns whether the model has been fitted.
func (m *ResLogit) IsFitted() bool { return m.core.state.IsFitted() }

// RequestStop sets the external stop flag; sampled between epochs.
func (m *ResLogit) RequestStop() { m.core.requestStop() }

func residualLayerName(l int) string {
	return fmt.Sprintf("residual_layer_%d", l)
}

// layerDims returns the (in, out) dimensions of every layer after
// validation.
func (m *ResLogit) layerDims(nItems int) ([][2]int, error) {
	if m.nLayers < 0 {
		return nil, errors.NewValueError("ResLogit", "n_layers cannot be negative")
	}
	if m.nLayers <= 1 {
		if len(m.layerWidths) != 0 {
			return nil, errors.NewValueError("ResLogit",
				"res_layers_width length must equal n_layers - 1")
		}
	} else if len(m.layerWidths) != 0 {
		if len(m.layerWidths) != m.nLayers-1 {
			return nil, errors.NewValueError("ResLogit",
				"res_layers_width length must equal n_layers - 1")
		}
		if m.layerWidths[len(m.layerWidths)-1] != nItems {
			return nil, errors.NewValueError("ResLogit",
				"last element of res_layers_width must equal the number of items")
		}
	}

	dims := make([][2]int, 0, m.nLayers)
	in := nItems
	for l := 0; l < m.nLayers; l++ {
		out := nItems
		if l > 0 && len(m.layerWidths) > 0 {
			out = m.layerWidths[l-1]
		}
		dims = append(dims, [2]int{in, out})
		in = out
	}
	return dims, nil
}

// Instantiate creates the linear base parameters and the residual
// layer weights. Width and activation mismatches surface here, before
// any training step.
func (m *ResLogit) Instantiate(nItems, nSharedFeatures, nItemsFeatures int) error {
	if m.instantiated {
		if nItems != m.nItems || nSharedFeatures != m.nSharedFeatures || nItemsFeatures != m.nItemsFeatures {
			return errors.NewDimensionError("ResLogit.Instantiate", m.nItems, nItems, 1)
		}
		return nil
	}
	if _, _, err := activationFuncs(m.activation); err != nil {
		return err
	}
	dims, err := m.layerDims(nItems)
	if err != nil {
		return err
	}

	rng := m.core.ensureRNG()
	base := NewSimpleMNL(WithMNLIntercept(m.intercept))
	base.core.rng = rng
	if err := base.Instantiate(nItems, nSharedFeatures, nItemsFeatures); err != nil {
		return err
	}

	params := tensor.NewNamedTensors()
	for _, name := range base.Parameters().Names() {
		params.MustAdd(name, base.Parameters().Get(name))
	}
	for l, d := range dims {
		params.MustAdd(residualLayerName(l), randomNormalDense(rng, d[0], d[1], 0.02))
	}

	m.base = base
	m.params = params
	m.nItems = nItems
	m.nSharedFeatures = nSharedFeatures
	m.nItemsFeatures = nItemsFeatures
	m.instantiated = true
	return nil
}

func (m *ResLogit) ensureInstantiated(ds *dataset.ChoiceDataset) error {
	return m.Instantiate(ds.NItems(), ds.NSharedFeatures(), ds.NItemsFeatures())
}

// Parameters returns the linear base parameters followed by the
// residual layer weights.
func (m *ResLogit) Parameters() *tensor.NamedTensors {
	if m.params == nil {
		return tensor.NewNamedTensors()
	}
	return m.params
}

// ComputeBatchUtility runs the linear base and the residual stack.
func (m *ResLogit) ComputeBatchUtility(b *dataset.Batch) (*mat.Dense, error) {
	hs, _, err := m.forwardStack(b)
	if err != nil {
		return nil, err
	}
	return hs[len(hs)-1], nil
}

// forwardStack computes all intermediate activations: hs[0] is the
// linear utility, hs[l] the output of layer l; zs[l-1] the
// pre-activation of layer l.
func (m *ResLogit) forwardStack(b *dataset.Batch) (hs, zs []*mat.Dense, err error) {
	if !m.instantiated {
		return nil, nil, errors.NewNotInstantiatedError("ResLogit")
	}
	act, _, err := activationFuncs(m.activation)
	if err != nil {
		return nil, nil, err
	}

	h0, err := m.base.ComputeBatchUtility(b)
	if err != nil {
		return nil, nil, err
	}
	hs = []*mat.Dense{h0}
	n := b.Size()

	for l := 0; l < m.nLayers; l++ {
		w := m.params.Get(residualLayerName(l))
		in, out := w.Dims()
		prev := hs[len(hs)-1]
		_, prevCols := prev.Dims()
		if prevCols != in {
			return nil, nil, errors.NewDimensionError("ResLogit.forwardStack", in, prevCols, 1)
		}

		z := mat.NewDense(n, out, nil)
		z.Mul(prev, w)
		zs = append(zs, z)

		h := mat.NewDense(n, out, nil)
		square := in == out
		for i := 0; i < n; i++ {
			for j := 0; j < out; j++ {
				a := act(z.At(i, j))
				if square {
					h.Set(i, j, prev.At(i, j)-a)
				} else {
					h.Set(i, j, a)
				}
			}
		}
		hs = append(hs, h)
	}
	return hs, zs, nil
}

// UtilityGradients backpropagates the utility gradient through the
// residual stack and the linear base.
func (m *ResLogit) UtilityGradients(b *dataset.Batch, dUtility *mat.Dense) (*tensor.NamedTensors, error) {
	hs, zs, err := m.forwardStack(b)
	if err != nil {
		return nil, err
	}
	_, deriv, err := activationFuncs(m.activation)
	if err != nil {
		return nil, err
	}

	grads := m.params.ZeroLike()
	n := b.Size()

	dh := dUtility
	for l := m.nLayers - 1; l >= 0; l-- {
		w := m.params.Get(residualLayerName(l))
		in, out := w.Dims()
		square := in == out
		z := zs[l]
		prev := hs[l]

		// dZ = d(loss)/d(pre-activation); the residual path negates the
		// activation branch.
		dZ := mat.NewDense(n, out, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < out; j++ {
				g := dh.At(i, j) * deriv(z.At(i, j))
				if square {
					g = -g
				}
				dZ.Set(i, j, g)
			}
		}

		gw := grads.Get(residualLayerName(l))
		gw.Mul(prev.T(), dZ)

		dPrev := mat.NewDense(n, in, nil)
		dPrev.Mul(dZ, w.T())
		if square {
			dPrev.Add(dPrev, dh)
		}
		dh = dPrev
	}

	baseGrads, err := m.base.UtilityGradients(b, dh)
	if err != nil {
		return nil, err
	}
	for _, name := range baseGrads.Names() {
		grads.Get(name).Copy(baseGrads.Get(name))
	}
	return grads, nil
}

// Fit estimates the model on a ChoiceDataset, instantiating parameters
// from the dataset dimensions on first use.
func (m *ResLogit) Fit(ds *dataset.ChoiceDataset, cfg FitConfig) (History, error) {
	if err := m.ensureInstantiated(ds); err != nil {
		return nil, err
	}
	return m.core.fit(m, ds, cfg)
}

// Evaluate computes the dataset loss without updating parameters.
func (m *ResLogit) Evaluate(ds *dataset.ChoiceDataset, sampleWeight []float64, batchSize int, mode EvalMode) (float64, error) {
	if err := m.ensureInstantiated(ds); err != nil {
		return 0, err
	}
	return m.core.evaluate(m, ds, sampleWeight, batchSize, mode)
}

// PredictProbas returns the choice probabilities for every instance.
func (m *ResLogit) PredictProbas(ds *dataset.ChoiceDataset, batchSize int) (*mat.Dense, error) {
	if err := m.ensureInstantiated(ds); err != nil {
		return nil, err
	}
	return m.core.predictProbas(m, ds, batchSize)
}

// Kind identifies the model type for persistence.
func (m *ResLogit) Kind() string { return "ResLogit" }

// Hyperparameters returns the configuration persisted alongside the
// parameter tensors.
func (m *ResLogit) Hyperparameters() map[string]interface{} {
	return map[string]interface{}{
		"intercept":         m.intercept,
		"n_layers":          m.nLayers,
		"res_layers_width":  m.layerWidths,
		"activation":        m.activation,
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

// ApplyHyperparameters restores configuration saved by Hyperparameters.
func (m *ResLogit) ApplyHyperparameters(params map[string]interface{}) error {
	h := hyperReader{params: params}
	m.intercept = h.str("intercept", m.intercept)
	m.nLayers = h.int("n_layers", m.nLayers)
	m.layerWidths = h.intSlice("res_layers_width", m.layerWidths)
	m.activation = h.str("activation", m.activation)
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
func (m *ResLogit) Materialize() error {
	if m.instantiated {
		return nil
	}
	if err := m.Instantiate(m.nItems, m.nSharedFeatures, m.nItemsFeatures); err != nil {
		return err
	}
	m.core.state.SetFitted()
	return nil
}

// activationFuncs returns the activation and its derivative as a
// function of the pre-activation. Unknown names are a configuration
// error.
func activationFuncs(name string) (act, deriv func(float64) float64, err error) {
	switch name {
	case "linear":
		return func(z float64) float64 { return z },
			func(float64) float64 { return 1 },
			nil
	case "relu":
		return func(z float64) float64 { return math.Max(0, z) },
			func(z float64) float64 {
				if z > 0 {
					return 1
				}
				return 0
			}, nil
	case "-relu":
		return func(z float64) float64 { return -math.Max(0, z) },
			func(z float64) float64 {
				if z > 0 {
					return -1
				}
				return 0
			}, nil
	case "tanh":
		return math.Tanh,
			func(z float64) float64 {
				t := math.Tanh(z)
				return 1 - t*t
			}, nil
	case "sigmoid":
		return stableSigmoid,
			func(z float64) float64 {
				s := stableSigmoid(z)
				return s * (1 - s)
			}, nil
	case "softplus":
		return func(z float64) float64 { return math.Max(z, 0) + math.Log1p(math.Exp(-math.Abs(z))) },
			stableSigmoid,
			nil
	default:
		return nil, nil, errors.NewValueError("ResLogit", "unknown activation: "+name)
	}
}

// stableSigmoid computes sigmoid(z) without overflow for large |z|.
func stableSigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
