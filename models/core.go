package models

import (
	"math/rand/v2"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/chogo-ml/chogo/core/model"
	"github.com/chogo-ml/chogo/core/tensor"
	"github.com/chogo-ml/chogo/dataset"
	"github.com/chogo-ml/chogo/ops"
	"github.com/chogo-ml/chogo/optim"
	"github.com/chogo-ml/chogo/pkg/errors"
	"github.com/chogo-ml/chogo/pkg/log"
)

// Core is the training engine shared by all choice models. Concrete
// estimators hold one by composition and pass themselves in as the
// UtilityModel.
//
// Execution is single-threaded and synchronous: the optimizer step and
// the L-BFGS adapter's assignment are the only writers of parameter
// state, each strictly after the corresponding forward/backward pass.
type Core struct {
	state  *model.StateManager
	logger log.Logger

	labelSmoothing float64
	normalizeExit  bool
	optimizerName  string
	lr             float64
	epochs         int
	batchSize      int
	tolerance      float64
	callbacks      []Callback
	randomState    int64

	rng          *rand.Rand
	stopTraining bool
}

func newCore(name string) *Core {
	return &Core{
		state:         model.NewStateManager(),
		logger:        log.GetLoggerWithName(name),
		optimizerName: "adam",
		lr:            0.001,
		epochs:        1,
		batchSize:     32,
		tolerance:     1e-8,
		randomState:   -1,
	}
}

func (c *Core) ensureRNG() *rand.Rand {
	if c.rng == nil {
		seed := c.randomState
		if seed < 0 {
			seed = time.Now().UnixNano()
		}
		c.rng = rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0xdeadbeef))
	}
	return c.rng
}

// requestStop sets the external stop flag. It is sampled once per
// epoch, after the epoch completes, so a stop request may still wait
// out the remainder of the current epoch.
func (c *Core) requestStop() {
	c.stopTraining = true
}

func isLBFGSName(name string) bool {
	switch strings.ToLower(name) {
	case "lbfgs", "l-bfgs":
		return true
	}
	return false
}

// fit runs the gradient-descent training loop, or routes to the L-BFGS
// path when the configured optimizer is "lbfgs".
func (c *Core) fit(um UtilityModel, ds *dataset.ChoiceDataset, cfg FitConfig) (History, error) {
	epochs := c.epochs
	if cfg.Epochs > 0 {
		epochs = cfg.Epochs
	}
	batchSize := c.batchSize
	if cfg.BatchSize != 0 {
		batchSize = cfg.BatchSize
	}

	if isLBFGSName(c.optimizerName) {
		return c.fitLBFGS(um, ds, cfg.SampleWeight, epochs)
	}

	opt := optim.NewByName(c.optimizerName, c.lr)
	cb := newCallbackList(c.callbacks)
	history := History{"train_loss": nil}
	c.stopTraining = false
	rng := c.ensureRNG()

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
			loss, err := c.trainStep(um, opt, b)
			if err != nil {
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
			testLoss, err := c.validationPass(um, cfg.ValDataset, batchSize, cb)
			if err != nil {
				return nil, err
			}
			history["test_loss"] = append(history["test_loss"], testLoss)
			epochLogs["test_loss"] = testLoss
		}

		cb.epochEnd(epoch, epochLogs)
		if c.stopTraining {
			c.logger.Info("early stopping requested, ending fit", "epoch", epoch)
			break
		}
	}
	cb.trainEnd(epochLogs)

	c.state.SetFitted()
	return history, nil
}

// trainStep runs one forward/backward pass and one optimizer step for a
// single batch, returning the batch loss.
func (c *Core) trainStep(um UtilityModel, opt optim.Optimizer, b *dataset.Batch) (float64, error) {
	probs, ysmooth, err := c.forward(um, b)
	if err != nil {
		return 0, err
	}
	loss, err := ops.CategoricalCrossEntropy(probs, ysmooth, b.SampleWeight, 0)
	if err != nil {
		return 0, err
	}
	dU, err := ops.SoftmaxCrossEntropyGrad(probs, ysmooth, b.Avail, b.SampleWeight)
	if err != nil {
		return 0, err
	}
	grads, err := um.UtilityGradients(b, dU)
	if err != nil {
		return 0, err
	}
	if err := opt.Step(um.Parameters(), grads); err != nil {
		return 0, err
	}
	return loss, nil
}

// forward computes masked-softmax probabilities and the smoothed target
// matrix for a batch.
func (c *Core) forward(um UtilityModel, b *dataset.Batch) (probs, ysmooth *mat.Dense, err error) {
	utilities, err := um.ComputeBatchUtility(b)
	if err != nil {
		return nil, nil, err
	}
	ur, uc := utilities.Dims()
	_, nItems := b.Avail.Dims()
	if ur != b.Size() || uc != nItems {
		return nil, nil, errors.NewDimensionError("Core.forward", b.Size()*nItems, ur*uc, 0)
	}
	probs, err = ops.SoftmaxWithAvailabilities(utilities, b.Avail, c.normalizeExit)
	if err != nil {
		return nil, nil, err
	}
	y, err := ops.OneHot(b.Choices, nItems)
	if err != nil {
		return nil, nil, err
	}
	ysmooth, err = ops.SmoothLabels(y, c.labelSmoothing)
	if err != nil {
		return nil, nil, err
	}
	return probs, ysmooth, nil
}

func (c *Core) validationPass(um UtilityModel, val *dataset.ChoiceDataset, batchSize int, cb *callbackList) (float64, error) {
	it, err := val.IterBatch(dataset.BatchOptions{BatchSize: batchSize})
	if err != nil {
		return 0, err
	}
	var losses []float64
	var sizes []int
	runningSum := 0.0
	for b, ok := it.Next(); ok; b, ok = it.Next() {
		cb.testBatchBegin(b.Index, nil)
		bl, _, err := c.batchPredict(um, b)
		if err != nil {
			return 0, err
		}
		losses = append(losses, bl.Optimized)
		sizes = append(sizes, b.Size())
		runningSum += bl.Optimized
		cb.testBatchEnd(b.Index, map[string]float64{
			"test_loss": runningSum / float64(len(losses)),
		})
	}
	return aggregateLosses(losses, sizes, val.Len(), batchSize == dataset.FullBatch), nil
}

// batchPredict computes probabilities and both losses for one batch
// without touching parameters.
func (c *Core) batchPredict(um UtilityModel, b *dataset.Batch) (BatchLosses, *mat.Dense, error) {
	probs, _, err := c.forward(um, b)
	if err != nil {
		return BatchLosses{}, nil, err
	}
	_, nItems := b.Avail.Dims()
	y, err := ops.OneHot(b.Choices, nItems)
	if err != nil {
		return BatchLosses{}, nil, err
	}
	optimized, err := ops.CategoricalCrossEntropy(probs, y, b.SampleWeight, c.labelSmoothing)
	if err != nil {
		return BatchLosses{}, nil, err
	}
	nll, err := ops.CategoricalCrossEntropy(probs, y, b.SampleWeight, 0)
	if err != nil {
		return BatchLosses{}, nil, err
	}
	return BatchLosses{Optimized: optimized, NLL: nll}, probs, nil
}

// evaluate computes the dataset loss in the requested mode, aggregated
// by the same rule as epoch losses.
func (c *Core) evaluate(um UtilityModel, ds *dataset.ChoiceDataset, sampleWeight []float64, batchSize int, mode EvalMode) (float64, error) {
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
		bl, _, err := c.batchPredict(um, b)
		if err != nil {
			return 0, err
		}
		if mode == ModeOptim {
			losses = append(losses, bl.Optimized)
		} else {
			losses = append(losses, bl.NLL)
		}
		sizes = append(sizes, b.Size())
	}
	return aggregateLosses(losses, sizes, ds.Len(), batchSize == dataset.FullBatch), nil
}

// predictProbas stacks batch probabilities over a full pass.
func (c *Core) predictProbas(um UtilityModel, ds *dataset.ChoiceDataset, batchSize int) (*mat.Dense, error) {
	it, err := ds.IterBatch(dataset.BatchOptions{BatchSize: batchSize})
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(ds.Len(), ds.NItems(), nil)
	row := 0
	for b, ok := it.Next(); ok; b, ok = it.Next() {
		_, probs, err := c.batchPredict(um, b)
		if err != nil {
			return nil, err
		}
		for i := 0; i < b.Size(); i++ {
			out.SetRow(row, mat.Row(nil, i, probs))
			row++
		}
	}
	return out, nil
}

// fitLBFGS estimates parameters with the quasi-Newton path: the
// adapter flattens the model's full parameter set and evaluates the
// whole-dataset optimized loss and its gradient per iteration.
func (c *Core) fitLBFGS(um UtilityModel, ds *dataset.ChoiceDataset, sampleWeight []float64, maxIterations int) (History, error) {
	eval := func() (float64, *tensor.NamedTensors, error) {
		it, err := ds.IterBatch(dataset.BatchOptions{BatchSize: dataset.FullBatch, SampleWeight: sampleWeight})
		if err != nil {
			return 0, nil, err
		}
		b, _ := it.Next()
		probs, ysmooth, err := c.forward(um, b)
		if err != nil {
			return 0, nil, err
		}
		loss, err := ops.CategoricalCrossEntropy(probs, ysmooth, b.SampleWeight, 0)
		if err != nil {
			return 0, nil, err
		}
		dU, err := ops.SoftmaxCrossEntropyGrad(probs, ysmooth, b.Avail, b.SampleWeight)
		if err != nil {
			return 0, nil, err
		}
		grads, err := um.UtilityGradients(b, dU)
		if err != nil {
			return 0, nil, err
		}
		return loss, grads, nil
	}

	adapter, err := optim.NewLBFGSAdapter(um.Parameters(), eval, maxIterations, c.tolerance)
	if err != nil {
		return nil, err
	}
	losses, err := adapter.Minimize()
	if err != nil {
		return nil, err
	}
	c.state.SetFitted()
	return History{"train_loss": losses}, nil
}

// aggregateLosses computes the batch-size-weighted mean of batch
// losses; a whole-dataset pass is a plain mean over its single batch.
func aggregateLosses(losses []float64, sizes []int, total int, fullBatch bool) float64 {
	if len(losses) == 0 {
		return 0
	}
	if fullBatch {
		sum := 0.0
		for _, l := range losses {
			sum += l
		}
		return sum / float64(len(losses))
	}
	sum := 0.0
	for i, l := range losses {
		sum += l * float64(sizes[i])
	}
	return sum / float64(total)
}
