package errors_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	chogoErrors "github.com/chogo-ml/chogo/pkg/errors"
)

func TestErrorWrappingCompatibility(t *testing.T) {
	originalErr := chogoErrors.NewNotFittedError("TestModel", "PredictProbas")

	wrappedErr := fmt.Errorf("pipeline step failed: %w", originalErr)

	if !errors.Is(wrappedErr, originalErr) {
		t.Errorf("errors.Is failed to identify wrapped error")
	}

	var notFittedErr *chogoErrors.NotFittedError
	if !errors.As(wrappedErr, &notFittedErr) {
		t.Fatalf("errors.As failed to extract NotFittedError")
	}
	if notFittedErr.ModelName != "TestModel" {
		t.Errorf("ModelName = %q, want %q", notFittedErr.ModelName, "TestModel")
	}
	if notFittedErr.Method != "PredictProbas" {
		t.Errorf("Method = %q, want %q", notFittedErr.Method, "PredictProbas")
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{
			name: "not fitted",
			err:  chogoErrors.NewNotFittedError("SimpleMNL", "Evaluate"),
			want: []string{"SimpleMNL", "fitted", "Evaluate"},
		},
		{
			name: "not instantiated",
			err:  chogoErrors.NewNotInstantiatedError("LatentClassModel"),
			want: []string{"LatentClassModel", "Instantiate"},
		},
		{
			name: "dimension",
			err:  chogoErrors.NewDimensionError("Fit", 3, 5, 1),
			want: []string{"Fit", "axis 1", "expected 3", "got 5"},
		},
		{
			name: "value",
			err:  chogoErrors.NewValueError("IterBatch", "batch size must be positive"),
			want: []string{"IterBatch", "batch size must be positive"},
		},
		{
			name: "validation",
			err:  chogoErrors.NewValidationError("choices", "index out of range", 7),
			want: []string{"choices", "index out of range"},
		},
		{
			name: "convergence",
			err:  chogoErrors.NewConvergenceWarning("SimpleMNL", 100, "gradient norm still large"),
			want: []string{"SimpleMNL", "100", "gradient norm still large"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, fragment := range tt.want {
				if !strings.Contains(msg, fragment) {
					t.Errorf("message %q missing fragment %q", msg, fragment)
				}
			}
		})
	}
}

func TestTypedExtraction(t *testing.T) {
	dimErr := chogoErrors.NewDimensionError("ComputeBatchUtility", 4, 2, 1)
	wrapped := chogoErrors.Wrap(dimErr, "forward pass")

	var extracted *chogoErrors.DimensionError
	if !chogoErrors.As(wrapped, &extracted) {
		t.Fatalf("As failed to extract DimensionError through Wrap")
	}
	if extracted.Expected != 4 || extracted.Got != 2 || extracted.Axis != 1 {
		t.Errorf("extracted = %+v, want Expected=4 Got=2 Axis=1", extracted)
	}
}

func TestWarnDoesNotPanic(t *testing.T) {
	chogoErrors.Warn(nil)
	chogoErrors.Warn(chogoErrors.NewConvergenceWarning("SimpleMNL", 10, "stopped early"))
}
