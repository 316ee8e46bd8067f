package optim

import (
	"gonum.org/v1/gonum/optimize"

	"github.com/chogo-ml/chogo/core/tensor"
	"github.com/chogo-ml/chogo/pkg/errors"
	"github.com/chogo-ml/chogo/pkg/log"
)

// Evaluator computes the full-dataset objective for the current state
// of the live parameter tensors, returning the scalar loss and the
// gradient for every named parameter. The adapter assigns the
// candidate flat vector into the parameters before each call.
type Evaluator func() (loss float64, grads *tensor.NamedTensors, err error)

// LBFGSAdapter flattens a named parameter set (possibly spanning
// several models) into a single vector so gonum's quasi-Newton
// minimizer can drive it as a black-box scalar+gradient function.
//
// The adapter owns the deterministic flatten order (the parameter
// set's enumeration order), the in-place assignment back into the
// tensors, an iteration counter and an append-only loss history. After
// Minimize returns, the minimizer's best-found position has been
// assigned into the model exactly once more, so the live parameters
// always match the reported result.
type LBFGSAdapter struct {
	params *tensor.NamedTensors
	eval   Evaluator

	// MaxIterations bounds the number of major L-BFGS iterations.
	MaxIterations int
	// Tolerance is the gradient-norm convergence threshold.
	Tolerance float64

	iter    int
	history []float64
	logger  log.Logger
}

// NewLBFGSAdapter builds an adapter over params driven by eval.
func NewLBFGSAdapter(params *tensor.NamedTensors, eval Evaluator, maxIterations int, tolerance float64) (*LBFGSAdapter, error) {
	if params == nil || params.Len() == 0 {
		return nil, errors.NewValueError("NewLBFGSAdapter", "parameter set cannot be empty")
	}
	if eval == nil {
		return nil, errors.NewValueError("NewLBFGSAdapter", "evaluator cannot be nil")
	}
	return &LBFGSAdapter{
		params:        params,
		eval:          eval,
		MaxIterations: maxIterations,
		Tolerance:     tolerance,
		logger:        log.GetLoggerWithName("LBFGSAdapter"),
	}, nil
}

// Read flattens the live parameter tensors into a single vector in the
// adapter's flatten order.
func (a *LBFGSAdapter) Read() []float64 {
	flat := make([]float64, 0, a.params.NumValues())
	for _, name := range a.params.Names() {
		t := a.params.Get(name)
		r, c := t.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				flat = append(flat, t.At(i, j))
			}
		}
	}
	return flat
}

// Assign writes a flat vector back into the live parameter tensors in
// place, inverting Read.
func (a *LBFGSAdapter) Assign(flat []float64) error {
	if len(flat) != a.params.NumValues() {
		return errors.NewDimensionError("LBFGSAdapter.Assign", a.params.NumValues(), len(flat), 0)
	}
	pos := 0
	for _, name := range a.params.Names() {
		t := a.params.Get(name)
		r, c := t.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				t.Set(i, j, flat[pos])
				pos++
			}
		}
	}
	return nil
}

// Evaluate assigns flat into the model, evaluates the objective and
// returns the loss together with the flat gradient. The loss is
// recorded into the adapter's history.
func (a *LBFGSAdapter) Evaluate(flat []float64) (float64, []float64, error) {
	if err := a.Assign(flat); err != nil {
		return 0, nil, err
	}
	loss, grads, err := a.eval()
	if err != nil {
		return 0, nil, err
	}
	flatGrad := make([]float64, 0, a.params.NumValues())
	for _, name := range a.params.Names() {
		g := grads.Get(name)
		if g == nil {
			return 0, nil, errors.NewValueError("LBFGSAdapter.Evaluate",
				"missing gradient for parameter "+name)
		}
		r, c := g.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				flatGrad = append(flatGrad, g.At(i, j))
			}
		}
	}
	a.iter++
	a.history = append(a.history, loss)
	return loss, flatGrad, nil
}

// History returns the losses recorded at each evaluation.
func (a *LBFGSAdapter) History() []float64 {
	return append([]float64{}, a.history...)
}

// Iterations returns the number of objective evaluations performed.
func (a *LBFGSAdapter) Iterations() int { return a.iter }

// Minimize drives gonum's L-BFGS from the current parameter values.
//
// The minimizer's own convergence or divergence is not fatal: on a
// solver error the adapter logs the condition, assigns the best-found
// position into the model and returns the history collected so far. An
// error is returned only when the objective itself fails.
func (a *LBFGSAdapter) Minimize() ([]float64, error) {
	// gonum calls Func and Grad separately; evaluate once per distinct
	// point and serve the cached pair.
	var (
		lastX    []float64
		lastLoss float64
		lastGrad []float64
		evalErr  error
	)
	ensure := func(x []float64) {
		if evalErr != nil {
			return
		}
		if lastX != nil && len(x) == len(lastX) {
			same := true
			for i := range x {
				if x[i] != lastX[i] {
					same = false
					break
				}
			}
			if same {
				return
			}
		}
		loss, grad, err := a.Evaluate(x)
		if err != nil {
			evalErr = err
			return
		}
		lastX = append(lastX[:0], x...)
		lastLoss = loss
		lastGrad = grad
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			ensure(x)
			return lastLoss
		},
		Grad: func(grad, x []float64) {
			ensure(x)
			copy(grad, lastGrad)
		},
	}

	settings := optimize.Settings{
		GradientThreshold: a.Tolerance,
		MajorIterations:   a.MaxIterations,
	}
	method := &optimize.LBFGS{}

	result, err := optimize.Minimize(problem, a.Read(), &settings, method)
	if evalErr != nil {
		return a.History(), evalErr
	}
	if err != nil {
		a.logger.Warn("L-BFGS stopped without clean convergence", "error", err.Error())
	}

	final := a.Read()
	if result != nil && result.X != nil {
		final = result.X
	}
	// Re-assign once so the live parameters match the reported
	// best-found position even if the last objective call probed a
	// different point.
	if err := a.Assign(final); err != nil {
		return a.History(), err
	}
	return a.History(), nil
}
