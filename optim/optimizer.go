// Package optim implements the optimizers used by the chogo training
// engine: first-order methods (SGD, Adam, Adamax) updating named
// parameter sets in place, and an L-BFGS adapter that exposes a model's
// full parameter set to gonum's quasi-Newton minimizer as a single flat
// vector.
package optim

import (
	"strings"

	"github.com/chogo-ml/chogo/core/tensor"
	"github.com/chogo-ml/chogo/pkg/errors"
	"github.com/chogo-ml/chogo/pkg/log"
)

// Optimizer applies one gradient step to a named parameter set.
//
// Step mutates params in place. grads must carry the same names, order
// and shapes as params; a gradient tensor missing from grads is a
// configuration error.
type Optimizer interface {
	Step(params, grads *tensor.NamedTensors) error
	Name() string
}

// NewByName builds an optimizer from its lower-cased name: "sgd",
// "adam" or "adamax". An unrecognized name is not an error: it falls
// back to Adam with a logged warning. This is a deliberate exception to
// the fatal-configuration-error rule, kept from the original training
// engine behaviour.
//
// The "lbfgs" name is handled one level up by the training engine,
// which routes Fit through the L-BFGS adapter instead of a stepwise
// optimizer.
func NewByName(name string, lr float64) Optimizer {
	switch strings.ToLower(name) {
	case "sgd":
		return NewSGD(lr)
	case "adam":
		return NewAdam(lr)
	case "adamax":
		return NewAdamax(lr)
	default:
		log.GetLoggerWithName("optim").Warn("unknown optimizer, falling back to Adam",
			"optimizer", name)
		return NewAdam(lr)
	}
}

// SGD is plain stochastic gradient descent: p <- p - lr*g.
type SGD struct {
	lr float64
}

// NewSGD creates an SGD optimizer with the given learning rate.
func NewSGD(lr float64) *SGD {
	return &SGD{lr: lr}
}

// Name returns "sgd".
func (s *SGD) Name() string { return "sgd" }

// Step applies one descent step to every parameter tensor.
func (s *SGD) Step(params, grads *tensor.NamedTensors) error {
	return eachParam(params, grads, func(name string, p, g []float64) {
		for i := range p {
			p[i] -= s.lr * g[i]
		}
	})
}

// eachParam walks params and grads in enumeration order and hands the
// raw backing slices to fn. It validates that grads mirrors params.
func eachParam(params, grads *tensor.NamedTensors, fn func(name string, p, g []float64)) error {
	for _, name := range params.Names() {
		p := params.Get(name)
		g := grads.Get(name)
		if g == nil {
			return errors.NewValueError("optim.Step", "missing gradient for parameter "+name)
		}
		pr, pc := p.Dims()
		gr, gc := g.Dims()
		if pr != gr || pc != gc {
			return errors.NewDimensionError("optim.Step", pr*pc, gr*gc, 0)
		}
		fn(name, p.RawMatrix().Data, g.RawMatrix().Data)
	}
	return nil
}
