package tensor_test

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/chogo-ml/chogo/core/tensor"
)

func TestNamedTensors_AddAndOrder(t *testing.T) {
	p := tensor.NewNamedTensors()
	p.MustAdd("b", mat.NewDense(1, 2, []float64{1, 2}))
	p.MustAdd("a", mat.NewDense(2, 1, []float64{3, 4}))

	names := p.Names()
	if len(names) != 2 || names[0] != "b" || names[1] != "a" {
		t.Errorf("Names() = %v, want insertion order [b a]", names)
	}
	if p.Len() != 2 {
		t.Errorf("Len() = %d, want 2", p.Len())
	}
	if p.NumValues() != 4 {
		t.Errorf("NumValues() = %d, want 4", p.NumValues())
	}
	if p.Get("missing") != nil {
		t.Error("Get on an unknown name must return nil")
	}
}

func TestNamedTensors_DuplicateName(t *testing.T) {
	p := tensor.NewNamedTensors()
	if err := p.Add("w", mat.NewDense(1, 1, []float64{1})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Add("w", mat.NewDense(1, 1, []float64{2})); err == nil {
		t.Error("expected error for duplicate name, got nil")
	}
	if err := p.Add("x", nil); err == nil {
		t.Error("expected error for nil tensor, got nil")
	}
}

func TestNamedTensors_CloneIsDeep(t *testing.T) {
	p := tensor.NewNamedTensors()
	p.MustAdd("w", mat.NewDense(1, 2, []float64{1, 2}))

	clone := p.Clone()
	clone.Get("w").Set(0, 0, 99)

	if p.Get("w").At(0, 0) != 1 {
		t.Error("mutating a clone leaked into the original")
	}
}

func TestNamedTensors_ZeroLike(t *testing.T) {
	p := tensor.NewNamedTensors()
	p.MustAdd("w", mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6}))

	z := p.ZeroLike()
	r, c := z.Get("w").Dims()
	if r != 2 || c != 3 {
		t.Errorf("ZeroLike shape = (%d, %d), want (2, 3)", r, c)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if z.Get("w").At(i, j) != 0 {
				t.Errorf("ZeroLike[%d,%d] = %f, want 0", i, j, z.Get("w").At(i, j))
			}
		}
	}
}

func TestNamedTensors_CopyFrom(t *testing.T) {
	p := tensor.NewNamedTensors()
	p.MustAdd("w", mat.NewDense(1, 2, []float64{0, 0}))

	src := tensor.NewNamedTensors()
	src.MustAdd("w", mat.NewDense(1, 2, []float64{7, 8}))

	if err := p.CopyFrom(src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Get("w").At(0, 1) != 8 {
		t.Errorf("CopyFrom did not assign values: %f", p.Get("w").At(0, 1))
	}

	other := tensor.NewNamedTensors()
	other.MustAdd("v", mat.NewDense(1, 2, []float64{1, 2}))
	if err := p.CopyFrom(other); err == nil {
		t.Error("expected error for name mismatch, got nil")
	}
}

func TestNamedTensors_MergeSharesStorage(t *testing.T) {
	inner := tensor.NewNamedTensors()
	inner.MustAdd("w", mat.NewDense(1, 1, []float64{1}))

	union := tensor.NewNamedTensors()
	if err := union.Merge("class_0", inner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if union.Get("class_0/w") == nil {
		t.Fatal("merged name class_0/w missing")
	}

	// Mutation through the union must be visible through the inner set:
	// the mixture optimizer updates class models in place this way.
	union.Get("class_0/w").Set(0, 0, 42)
	if inner.Get("w").At(0, 0) != 42 {
		t.Error("merged set does not share storage with the source set")
	}
}
