package optim_test

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/chogo-ml/chogo/core/tensor"
	"github.com/chogo-ml/chogo/optim"
)

const epsilon = 1e-10

func singleParam(t *testing.T, name string, values []float64) *tensor.NamedTensors {
	t.Helper()
	p := tensor.NewNamedTensors()
	p.MustAdd(name, mat.NewDense(1, len(values), values))
	return p
}

func TestSGD_Step(t *testing.T) {
	params := singleParam(t, "w", []float64{1.0, -2.0})
	grads := singleParam(t, "w", []float64{0.5, -1.0})

	sgd := optim.NewSGD(0.1)
	if err := sgd.Step(params, grads); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := params.Get("w")
	if math.Abs(w.At(0, 0)-0.95) > epsilon {
		t.Errorf("w[0] = %f, want 0.95", w.At(0, 0))
	}
	if math.Abs(w.At(0, 1)-(-1.9)) > epsilon {
		t.Errorf("w[1] = %f, want -1.9", w.At(0, 1))
	}
}

func TestStep_MissingGradient(t *testing.T) {
	params := singleParam(t, "w", []float64{1.0})
	grads := singleParam(t, "other", []float64{1.0})

	if err := optim.NewSGD(0.1).Step(params, grads); err == nil {
		t.Error("expected error for missing gradient, got nil")
	}
}

func TestStep_ShapeMismatch(t *testing.T) {
	params := singleParam(t, "w", []float64{1.0, 2.0})
	grads := singleParam(t, "w", []float64{1.0})

	if err := optim.NewAdam(0.1).Step(params, grads); err == nil {
		t.Error("expected error for shape mismatch, got nil")
	}
}

// minimizeQuadratic runs steps of p -> loss 0.5*sum(p^2), whose
// gradient is p itself, and returns the final squared norm.
func minimizeQuadratic(t *testing.T, opt optim.Optimizer, steps int) float64 {
	t.Helper()
	params := singleParam(t, "w", []float64{3.0, -4.0})

	for s := 0; s < steps; s++ {
		w := params.Get("w")
		grads := singleParam(t, "w", []float64{w.At(0, 0), w.At(0, 1)})
		if err := opt.Step(params, grads); err != nil {
			t.Fatalf("step %d: %v", s, err)
		}
	}

	w := params.Get("w")
	return w.At(0, 0)*w.At(0, 0) + w.At(0, 1)*w.At(0, 1)
}

func TestOptimizers_ReduceQuadratic(t *testing.T) {
	start := 3.0*3.0 + 4.0*4.0

	tests := []struct {
		name string
		opt  optim.Optimizer
	}{
		{"sgd", optim.NewSGD(0.1)},
		{"adam", optim.NewAdam(0.1)},
		{"adamax", optim.NewAdamax(0.1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			final := minimizeQuadratic(t, tt.opt, 200)
			if final >= start {
				t.Errorf("%s: squared norm %f did not decrease from %f", tt.name, final, start)
			}
			if final > 1.0 {
				t.Errorf("%s: squared norm %f still far from the optimum", tt.name, final)
			}
		})
	}
}

func TestNewByName(t *testing.T) {
	tests := []struct {
		requested string
		wantName  string
	}{
		{"sgd", "sgd"},
		{"SGD", "sgd"},
		{"adam", "adam"},
		{"adamax", "adamax"},
		{"definitely-not-an-optimizer", "adam"}, // soft fallback
	}

	for _, tt := range tests {
		t.Run(tt.requested, func(t *testing.T) {
			opt := optim.NewByName(tt.requested, 0.01)
			if opt.Name() != tt.wantName {
				t.Errorf("NewByName(%q).Name() = %q, want %q", tt.requested, opt.Name(), tt.wantName)
			}
		})
	}
}
