package models

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/chogo-ml/chogo/core/tensor"
	"github.com/chogo-ml/chogo/dataset"
	"github.com/chogo-ml/chogo/ops"
	"github.com/chogo-ml/chogo/optim"
	"github.com/chogo-ml/chogo/pkg/errors"
)

// responsibilityEpsilon keeps E-step responsibilities strictly positive
// so no class collapses to zero weight.
const responsibilityEpsilon = 1e-10

// Fit strategies for the latent-class mixture.
const (
	// FitMLE estimates all class parameters and the class prior jointly
	// by maximizing the mixture likelihood.
	FitMLE = "mle"
	// FitEM alternates posterior class responsibilities (E) with
	// per-class weighted refits (M).
	FitEM = "em"
)

// LatentClassModel mixes N independently parameterized choice models.
// The mixture probability of an item is the prior-weighted sum of each
// class's availability-masked softmax. The prior over classes is
// derived from Q-1 free logits with class 0 anchored at logit 0, so it
// always sums to 1 and stays strictly positive.
//
// Unlike the single models, the mixture does not instantiate lazily:
// Instantiate must be called before Fit so the number of classes and
// the data dimensions are fixed up front.
type LatentClassModel struct {
	core      *Core
	nClasses  int
	factory   func() ChoiceModel
	fitMethod string

	classes      []ChoiceModel
	latentLogits *mat.Dense
	params       *tensor.NamedTensors
	instantiated bool

	nItems          int
	nSharedFeatures int
	nItemsFeatures  int
}

// LatentClassOption configures a LatentClassModel.
type LatentClassOption func(*LatentClassModel)

// WithLCFitMethod selects "mle" or "em".
func WithLCFitMethod(method string) LatentClassOption {
	return func(m *LatentClassModel) { m.fitMethod = method }
}

// WithLCOptimizer sets the optimizer for the joint-MLE path; for EM it
// is validated but the class models keep their own configuration.
func WithLCOptimizer(name string) LatentClassOption {
	return func(m *LatentClassModel) { m.core.optimizerName = name }
}

// WithLCLearningRate sets the joint-MLE learning rate.
func WithLCLearningRate(lr float64) LatentClassOption {
	return func(m *LatentClassModel) { m.core.lr = lr }
}

// WithLCEpochs sets the default epoch (or EM iteration) count.
func WithLCEpochs(epochs int) LatentClassOption {
	return func(m *LatentClassModel) { m.core.epochs = epochs }
}

// WithLCBatchSize sets the joint-MLE batch size.
func WithLCBatchSize(size int) LatentClassOption {
	return func(m *LatentClassModel) { m.core.batchSize = size }
}

// WithLCLabelSmoothing sets the label smoothing factor of the joint
// objective.
func WithLCLabelSmoothing(s float64) LatentClassOption {
	return func(m *LatentClassModel) { m.core.labelSmoothing = s }
}

// WithLCTolerance sets the L-BFGS convergence tolerance.
func WithLCTolerance(tol float64) LatentClassOption {
	return func(m *LatentClassModel) { m.core.tolerance = tol }
}

// WithLCRandomState fixes the random seed.
func WithLCRandomState(seed int64) LatentClassOption {
	return func(m *LatentClassModel) { m.core.randomState = seed }
}

// WithLCCallbacks registers training callbacks for the joint-MLE loop.
func WithLCCallbacks(callbacks ...Callback) LatentClassOption {
	return func(m *LatentClassModel) { m.core.callbacks = append(m.core.callbacks, callbacks...) }
}

// NewLatentClassModel creates a mixture of nClasses models produced by
// the factory. The factory is called once per class at Instantiate and
// again for every EM M-step refit.
func NewLatentClassModel(nClasses int, factory func() ChoiceModel, opts ...LatentClassOption) *LatentClassModel {
	m := &LatentClassModel{
		core:      newCore("LatentClassModel"),
		nClasses:  nClasses,
		factory:   factory,
		fitMethod: FitMLE,
	}
	m.core.epochs = 10
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsFitted returns whether the mixture has been fitted.
func (m *LatentClassModel) IsFitted() bool { return m.core.state.IsFitted() }

func classPrefix(q int) string { return fmt.Sprintf("class_%d", q) }

// Instantiate builds every class model and the union parameter set:
// each class's tensors under a class prefix plus the latent logits.
func (m *LatentClassModel) Instantiate(nItems, nSharedFeatures, nItemsFeatures int) error {
	if m.instantiated {
		if nItems != m.nItems || nSharedFeatures != m.nSharedFeatures || nItemsFeatures != m.nItemsFeatures {
			return errors.NewDimensionError("LatentClassModel.Instantiate", m.nItems, nItems, 1)
		}
		return nil
	}
	if m.nClasses < 2 {
		return errors.NewValueError("LatentClassModel", "a mixture needs at least 2 latent classes")
	}
	if m.factory == nil {
		return errors.NewValueError("LatentClassModel", "class model factory is nil")
	}

	classes := make([]ChoiceModel, m.nClasses)
	for q := range classes {
		classes[q] = m.factory()
		if err := classes[q].Instantiate(nItems, nSharedFeatures, nItemsFeatures); err != nil {
			return err
		}
	}

	m.classes = classes
	m.latentLogits = mat.NewDense(1, m.nClasses-1, nil)
	m.nItems = nItems
	m.nSharedFeatures = nSharedFeatures
	m.nItemsFeatures = nItemsFeatures
	m.instantiated = true
	m.rebuildParams()
	return nil
}

// rebuildParams refreshes the union parameter set after class models
// are created or replaced. The tensors are shared, not copied, so the
// optimizer mutates the class models in place.
func (m *LatentClassModel) rebuildParams() {
	params := tensor.NewNamedTensors()
	for q, class := range m.classes {
		// Class prefixes are unique, so the merge cannot collide.
		_ = params.Merge(classPrefix(q), class.Parameters())
	}
	params.MustAdd("latent_logits", m.latentLogits)
	m.params = params
}

// Parameters returns the union of every class's parameters plus the
// latent logits, in class order.
func (m *LatentClassModel) Parameters() *tensor.NamedTensors {
	if m.params == nil {
		return tensor.NewNamedTensors()
	}
	return m.params
}

// Prior returns the class-membership probabilities implied by the
// latent logits.
func (m *LatentClassModel) Prior() []float64 {
	if !m.instantiated {
		return nil
	}
	logits := make([]float64, m.nClasses)
	for q := 1; q < m.nClasses; q++ {
		logits[q] = m.latentLogits.At(0, q-1)
	}
	maxLogit := logits[0]
	for _, l := range logits[1:] {
		if l > maxLogit {
			maxLogit = l
		}
	}
	prior := make([]float64, m.nClasses)
	sum := 0.0
	for q, l := range logits {
		prior[q] = math.Exp(l - maxLogit)
		sum += prior[q]
	}
	for q := range prior {
		prior[q] /= sum
	}
	return prior
}

// setPrior writes a probability vector back as anchored logits,
// l_q = log(p_q / p_0).
func (m *LatentClassModel) setPrior(prior []float64) {
	for q := 1; q < m.nClasses; q++ {
		m.latentLogits.Set(0, q-1, math.Log(prior[q]/prior[0]))
	}
}

// ClassModels exposes the fitted class models.
func (m *LatentClassModel) ClassModels() []ChoiceModel { return m.classes }

// RequestStop sets the external stop flag for the joint gradient loop;
// sampled between epochs.
func (m *LatentClassModel) RequestStop() { m.core.requestStop() }

// Fit estimates the mixture with the configured strategy. The mixture
// must have been instantiated first. The joint-MLE gradient path honors
// the full FitConfig surface including ValDataset and the stop flag;
// the EM path derives its own per-class sample weights from the
// responsibilities and ignores SampleWeight and ValDataset.
func (m *LatentClassModel) Fit(ds *dataset.ChoiceDataset, cfg FitConfig) (History, error) {
	if !m.instantiated {
		return nil, errors.NewNotInstantiatedError("LatentClassModel")
	}
	epochs := m.core.epochs
	if cfg.Epochs > 0 {
		epochs = cfg.Epochs
	}
	switch strings.ToLower(m.fitMethod) {
	case FitMLE:
		if isLBFGSName(m.core.optimizerName) {
			return m.fitJointLBFGS(ds, cfg.SampleWeight, epochs)
		}
		return m.fitJointGradient(ds, cfg, epochs)
	case FitEM:
		if !knownEMOptimizer(m.core.optimizerName) {
			return nil, errors.NewValueError("LatentClassModel.Fit",
				"unknown optimizer for EM: "+m.core.optimizerName)
		}
		return m.fitEM(ds, epochs)
	default:
		return nil, errors.NewValueError("LatentClassModel.Fit",
			"unknown fit method: "+m.fitMethod)
	}
}

func knownEMOptimizer(name string) bool {
	switch strings.ToLower(name) {
	case "sgd", "adam", "adamax":
		return true
	}
	return isLBFGSName(name)
}

// mixtureForward computes each class's masked-softmax probabilities and
// their prior-weighted sum for one batch.
func (m *LatentClassModel) mixtureForward(b *dataset.Batch) (pmix *mat.Dense, classProbs []*mat.Dense, err error) {
	prior := m.Prior()
	n := b.Size()
	pmix = mat.NewDense(n, m.nItems, nil)
	classProbs = make([]*mat.Dense, m.nClasses)
	for q, class := range m.classes {
		utilities, err := class.ComputeBatchUtility(b)
		if err != nil {
			return nil, nil, err
		}
		probs, err := ops.SoftmaxWithAvailabilities(utilities, b.Avail, m.core.normalizeExit)
		if err != nil {
			return nil, nil, err
		}
		classProbs[q] = probs
		for i := 0; i < n; i++ {
			for j := 0; j < m.nItems; j++ {
				pmix.Set(i, j, pmix.At(i, j)+prior[q]*probs.At(i, j))
			}
		}
	}
	return pmix, classProbs, nil
}

// mixtureGradients backpropagates the smoothed cross-entropy through
// the mixture: onto every class's utilities (then through each class's
// own gradient capability) and onto the free latent logits.
func (m *LatentClassModel) mixtureGradients(b *dataset.Batch, pmix *mat.Dense, classProbs []*mat.Dense, ysmooth *mat.Dense) (*tensor.NamedTensors, error) {
	prior := m.Prior()
	n := b.Size()

	weightSum := float64(n)
	if b.SampleWeight != nil {
		weightSum = 0
		for _, w := range b.SampleWeight {
			weightSum += w
		}
	}

	grads := m.params.ZeroLike()
	logitGrads := grads.Get("latent_logits")

	// priorGrad[q] accumulates sum_i w_i * dL_i/dprior_q.
	priorGrad := make([]float64, m.nClasses)

	for q, probs := range classProbs {
		dU := mat.NewDense(n, m.nItems, nil)
		for i := 0; i < n; i++ {
			w := 1.0
			if b.SampleWeight != nil {
				w = b.SampleWeight[i]
			}
			w /= weightSum

			// inner = sum_j Ys_ij * P^q_ij / Pmix_ij, shared by the
			// utility and prior gradients of this row.
			inner := 0.0
			for j := 0; j < m.nItems; j++ {
				y := ysmooth.At(i, j)
				if y == 0 {
					continue
				}
				pm := pmix.At(i, j)
				if pm <= 0 {
					continue
				}
				inner += y * probs.At(i, j) / pm
			}
			priorGrad[q] += w * -inner

			for k := 0; k < m.nItems; k++ {
				if b.Avail.At(i, k) == 0 {
					continue
				}
				yk := ysmooth.At(i, k)
				ratio := 0.0
				if pm := pmix.At(i, k); pm > 0 {
					ratio = yk / pm
				}
				dU.Set(i, k, w*prior[q]*probs.At(i, k)*(inner-ratio))
			}
		}

		classGrads, err := m.classes[q].UtilityGradients(b, dU)
		if err != nil {
			return nil, err
		}
		for _, name := range classGrads.Names() {
			grads.Get(classPrefix(q) + "/" + name).Copy(classGrads.Get(name))
		}
	}

	// Chain through the softmax over logits; logit 0 is anchored so
	// only classes 1..Q-1 receive a gradient.
	dot := 0.0
	for q := range priorGrad {
		dot += priorGrad[q] * prior[q]
	}
	for q := 1; q < m.nClasses; q++ {
		logitGrads.Set(0, q-1, prior[q]*(priorGrad[q]-dot))
	}
	return grads, nil
}

// jointBatchLoss computes the smoothed mixture objective and its
// gradient for one batch.
func (m *LatentClassModel) jointBatchLoss(b *dataset.Batch) (float64, *tensor.NamedTensors, error) {
	pmix, classProbs, err := m.mixtureForward(b)
	if err != nil {
		return 0, nil, err
	}
	y, err := ops.OneHot(b.Choices, m.nItems)
	if err != nil {
		return 0, nil, err
	}
	ysmooth, err := ops.SmoothLabels(y, m.core.labelSmoothing)
	if err != nil {
		return 0, nil, err
	}
	loss, err := ops.CategoricalCrossEntropy(pmix, ysmooth, b.SampleWeight, 0)
	if err != nil {
		return 0, nil, err
	}
	grads, err := m.mixtureGradients(b, pmix, classProbs, ysmooth)
	if err != nil {
		return 0, nil, err
	}
	return loss, grads, nil
}

// fitJointGradient runs the mini-batch gradient loop on the union
// parameter set.
func (m *LatentClassModel) fitJointGradient(ds *dataset.ChoiceDataset, cfg FitConfig, epochs int) (History, error) {
	batchSize := m.core.batchSize
	if cfg.BatchSize != 0 {
		batchSize = cfg.BatchSize
	}
	opt := optim.NewByName(m.core.optimizerName, m.core.lr)
	cb := newCallbackList(m.core.callbacks)
	history := History{"train_loss": nil}
	m.core.stopTraining = false
	rng := m.core.ensureRNG()

	cb.trainBegin(nil)
	var epochLogs map[string]float64
	for epoch := 0; epoch < epochs; epoch++ {
		cb.epochBegin(epoch, nil)

		it, err := ds.IterBatch(dataset.BatchOptions{
			BatchSize:    batchSize,
			Shuffle:      true,
			SampleWeight: cfg.SampleWeight,
			Seed:         rng.Int64(),
		})
		if err != nil {
			return nil, err
		}

		var batchLosses []float64
		var batchSizes []int
		runningSum := 0.0
		for b, ok := it.Next(); ok; b, ok = it.Next() {
			cb.trainBatchBegin(b.Index, nil)
			loss, grads, err := m.jointBatchLoss(b)
			if err != nil {
				return nil, err
			}
			if err := opt.Step(m.params, grads); err != nil {
				return nil, err
			}
			batchLosses = append(batchLosses, loss)
			batchSizes = append(batchSizes, b.Size())
			runningSum += loss
			cb.trainBatchEnd(b.Index, map[string]float64{
				"train_loss": runningSum / float64(len(batchLosses)),
			})
		}

		epochLoss := aggregateLosses(batchLosses, batchSizes, ds.Len(), batchSize == dataset.FullBatch)
		history["train_loss"] = append(history["train_loss"], epochLoss)
		epochLogs = map[string]float64{"train_loss": epochLoss}

		if cfg.ValDataset != nil {
			testLoss, err := m.mixtureValidationPass(cfg.ValDataset, batchSize, cb)
			if err != nil {
				return nil, err
			}
			history["test_loss"] = append(history["test_loss"], testLoss)
			epochLogs["test_loss"] = testLoss
		}

		cb.epochEnd(epoch, epochLogs)
		if m.core.stopTraining {
			m.core.logger.Info("early stopping requested, ending fit", "epoch", epoch)
			break
		}
	}
	cb.trainEnd(epochLogs)

	m.core.state.SetFitted()
	return history, nil
}

// mixtureValidationPass computes the optimized mixture loss over the
// validation set in inference mode, firing test-batch callbacks.
func (m *LatentClassModel) mixtureValidationPass(val *dataset.ChoiceDataset, batchSize int, cb *callbackList) (float64, error) {
	it, err := val.IterBatch(dataset.BatchOptions{BatchSize: batchSize})
	if err != nil {
		return 0, err
	}
	var losses []float64
	var sizes []int
	runningSum := 0.0
	for b, ok := it.Next(); ok; b, ok = it.Next() {
		cb.testBatchBegin(b.Index, nil)
		pmix, _, err := m.mixtureForward(b)
		if err != nil {
			return 0, err
		}
		y, err := ops.OneHot(b.Choices, m.nItems)
		if err != nil {
			return 0, err
		}
		loss, err := ops.CategoricalCrossEntropy(pmix, y, b.SampleWeight, m.core.labelSmoothing)
		if err != nil {
			return 0, err
		}
		losses = append(losses, loss)
		sizes = append(sizes, b.Size())
		runningSum += loss
		cb.testBatchEnd(b.Index, map[string]float64{
			"test_loss": runningSum / float64(len(losses)),
		})
	}
	return aggregateLosses(losses, sizes, val.Len(), batchSize == dataset.FullBatch), nil
}

// fitJointLBFGS estimates the union parameter set with the quasi-Newton
// path: every class's parameters and the latent logits share one
// flattened vector.
func (m *LatentClassModel) fitJointLBFGS(ds *dataset.ChoiceDataset, sampleWeight []float64, maxIterations int) (History, error) {
	eval := func() (float64, *tensor.NamedTensors, error) {
		it, err := ds.IterBatch(dataset.BatchOptions{
			BatchSize:    dataset.FullBatch,
			SampleWeight: sampleWeight,
		})
		if err != nil {
			return 0, nil, err
		}
		b, _ := it.Next()
		return m.jointBatchLoss(b)
	}

	adapter, err := optim.NewLBFGSAdapter(m.params, eval, maxIterations, m.core.tolerance)
	if err != nil {
		return nil, err
	}
	losses, err := adapter.Minimize()
	if err != nil {
		return nil, err
	}
	m.core.state.SetFitted()
	return History{"train_loss": losses}, nil
}

// fitEM runs expectation-maximization. Each iteration snapshots the
// responsibility matrix from the current classes and prior (E), then
// refits fresh class models against the responsibility columns and
// replaces the prior with the normalized responsibility mass (M).
func (m *LatentClassModel) fitEM(ds *dataset.ChoiceDataset, epochs int) (History, error) {
	rng := m.core.ensureRNG()
	n := ds.Len()

	// Random-weight init fits break the symmetry between classes.
	for _, class := range m.classes {
		weights := make([]float64, n)
		for i := range weights {
			weights[i] = rng.Float64()
		}
		if _, err := class.Fit(ds, FitConfig{SampleWeight: weights}); err != nil {
			return nil, err
		}
	}

	history := History{"em_log_likelihood": nil}
	for epoch := 0; epoch < epochs; epoch++ {
		resp, logLik, err := m.eStep(ds)
		if err != nil {
			return nil, err
		}
		history["em_log_likelihood"] = append(history["em_log_likelihood"], logLik)

		prior := make([]float64, m.nClasses)
		total := 0.0
		for q := 0; q < m.nClasses; q++ {
			for i := 0; i < n; i++ {
				prior[q] += resp.At(i, q)
			}
			total += prior[q]
		}
		finite := true
		for q := range prior {
			prior[q] /= total
			if math.IsNaN(prior[q]) || math.IsInf(prior[q], 0) {
				finite = false
			}
		}
		if !finite {
			m.core.logger.Error("non-finite class prior, stopping EM and keeping last valid state",
				"epoch", epoch)
			break
		}

		refit := make([]ChoiceModel, m.nClasses)
		for q := range refit {
			refit[q] = m.factory()
			if err := refit[q].Instantiate(m.nItems, m.nSharedFeatures, m.nItemsFeatures); err != nil {
				return nil, err
			}
			weights := make([]float64, n)
			for i := range weights {
				weights[i] = resp.At(i, q)
			}
			if _, err := refit[q].Fit(ds, FitConfig{SampleWeight: weights}); err != nil {
				return nil, err
			}
		}

		m.classes = refit
		m.setPrior(prior)
		m.rebuildParams()
	}

	m.core.state.SetFitted()
	return history, nil
}

// eStep computes per-instance posterior class responsibilities and the
// joint log-likelihood of the current mixture.
func (m *LatentClassModel) eStep(ds *dataset.ChoiceDataset) (*mat.Dense, float64, error) {
	it, err := ds.IterBatch(dataset.BatchOptions{BatchSize: dataset.FullBatch})
	if err != nil {
		return nil, 0, err
	}
	b, _ := it.Next()

	_, classProbs, err := m.mixtureForward(b)
	if err != nil {
		return nil, 0, err
	}
	prior := m.Prior()
	n := b.Size()

	resp := mat.NewDense(n, m.nClasses, nil)
	logLik := 0.0
	for i := 0; i < n; i++ {
		chosen := b.Choices[i]
		rowSum := 0.0
		for q := 0; q < m.nClasses; q++ {
			mass := prior[q]*classProbs[q].At(i, chosen) + responsibilityEpsilon
			resp.Set(i, q, mass)
			rowSum += mass
		}
		logLik += math.Log(rowSum)
		for q := 0; q < m.nClasses; q++ {
			resp.Set(i, q, resp.At(i, q)/rowSum)
		}
	}
	return resp, logLik, nil
}

// Evaluate computes the mixture loss over the dataset: raw NLL in
// "eval" mode, the smoothed objective in "optim" mode.
func (m *LatentClassModel) Evaluate(ds *dataset.ChoiceDataset, sampleWeight []float64, batchSize int, mode EvalMode) (float64, error) {
	if !m.instantiated {
		return 0, errors.NewNotInstantiatedError("LatentClassModel")
	}
	if mode != ModeEval && mode != ModeOptim {
		return 0, errors.NewValueError("Evaluate", "unknown mode: "+string(mode))
	}
	it, err := ds.IterBatch(dataset.BatchOptions{BatchSize: batchSize, SampleWeight: sampleWeight})
	if err != nil {
		return 0, err
	}
	var losses []float64
	var sizes []int
	for b, ok := it.Next(); ok; b, ok = it.Next() {
		pmix, _, err := m.mixtureForward(b)
		if err != nil {
			return 0, err
		}
		y, err := ops.OneHot(b.Choices, m.nItems)
		if err != nil {
			return 0, err
		}
		smoothing := 0.0
		if mode == ModeOptim {
			smoothing = m.core.labelSmoothing
		}
		loss, err := ops.CategoricalCrossEntropy(pmix, y, b.SampleWeight, smoothing)
		if err != nil {
			return 0, err
		}
		losses = append(losses, loss)
		sizes = append(sizes, b.Size())
	}
	return aggregateLosses(losses, sizes, ds.Len(), batchSize == dataset.FullBatch), nil
}

// PredictProbas returns the mixture choice probabilities for every
// instance.
func (m *LatentClassModel) PredictProbas(ds *dataset.ChoiceDataset, batchSize int) (*mat.Dense, error) {
	if !m.instantiated {
		return nil, errors.NewNotInstantiatedError("LatentClassModel")
	}
	it, err := ds.IterBatch(dataset.BatchOptions{BatchSize: batchSize})
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(ds.Len(), m.nItems, nil)
	row := 0
	for b, ok := it.Next(); ok; b, ok = it.Next() {
		pmix, _, err := m.mixtureForward(b)
		if err != nil {
			return nil, err
		}
		for i := 0; i < b.Size(); i++ {
			out.SetRow(row, mat.Row(nil, i, pmix))
			row++
		}
	}
	return out, nil
}
