package models_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/chogo-ml/chogo/dataset"
	"github.com/chogo-ml/chogo/metrics"
	"github.com/chogo-ml/chogo/models"
)

const epsilon = 1e-9

// syntheticDataset generates n instances over 2 items with one shared
// feature drawn from [0.5, 1.5]. Item 0 is always chosen, so a linear
// model must learn a higher coefficient for item 0.
func syntheticDataset(t *testing.T, n int, seed uint64) *dataset.ChoiceDataset {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed^0xbeef))

	shared := mat.NewDense(n, 1, nil)
	items := make([]*mat.Dense, n)
	avail := mat.NewDense(n, 2, nil)
	choices := make([]int, n)
	for i := 0; i < n; i++ {
		shared.Set(i, 0, 0.5+rng.Float64())
		items[i] = mat.NewDense(2, 1, []float64{1, 0})
		avail.Set(i, 0, 1)
		avail.Set(i, 1, 1)
		choices[i] = 0
	}

	ds, err := dataset.New(shared, items, avail, choices)
	if err != nil {
		t.Fatalf("failed to build dataset: %v", err)
	}
	return ds
}

func TestSimpleMNL_FitImprovesLoss(t *testing.T) {
	ds := syntheticDataset(t, 100, 1)

	tests := []struct {
		name      string
		optimizer string
	}{
		{"sgd", "sgd"},
		{"adam", "adam"},
		{"adamax", "adamax"},
		{"lbfgs", "lbfgs"},
		{"unknown name falls back to adam", "no-such-optimizer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := models.NewSimpleMNL(
				models.WithMNLOptimizer(tt.optimizer),
				models.WithMNLLearningRate(0.05),
				models.WithMNLEpochs(20),
				models.WithMNLRandomState(7),
			)

			before, err := m.Evaluate(ds, nil, dataset.FullBatch, models.ModeEval)
			if err != nil {
				t.Fatalf("pre-fit evaluate: %v", err)
			}

			history, err := m.Fit(ds, models.FitConfig{})
			if err != nil {
				t.Fatalf("fit: %v", err)
			}
			if len(history["train_loss"]) == 0 {
				t.Fatal("fit recorded no train_loss history")
			}
			if !m.IsFitted() {
				t.Error("model not marked fitted after Fit")
			}

			after, err := m.Evaluate(ds, nil, dataset.FullBatch, models.ModeEval)
			if err != nil {
				t.Fatalf("post-fit evaluate: %v", err)
			}
			if after > before+epsilon {
				t.Errorf("loss went up: before %f, after %f", before, after)
			}
		})
	}
}

func TestSimpleMNL_EndToEndAccuracy(t *testing.T) {
	train := syntheticDataset(t, 100, 2)
	held := syntheticDataset(t, 50, 3)

	m := models.NewSimpleMNL(
		models.WithMNLOptimizer("adam"),
		models.WithMNLLearningRate(0.05),
		models.WithMNLEpochs(50),
		models.WithMNLRandomState(11),
	)
	if _, err := m.Fit(train, models.FitConfig{}); err != nil {
		t.Fatalf("fit: %v", err)
	}

	probas, err := m.PredictProbas(held, dataset.FullBatch)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	acc, err := metrics.TopOneAccuracy(probas, held.Choices())
	if err != nil {
		t.Fatalf("accuracy: %v", err)
	}
	if acc <= 0.9 {
		t.Errorf("held-out accuracy = %f, want > 0.9", acc)
	}
}

func TestSimpleMNL_PredictProbasInvariants(t *testing.T) {
	ds := syntheticDataset(t, 30, 4)

	m := models.NewSimpleMNL(models.WithMNLRandomState(5))
	probas, err := m.PredictProbas(ds, 8)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}

	rows, cols := probas.Dims()
	if rows != ds.Len() || cols != ds.NItems() {
		t.Fatalf("probas shape = (%d, %d), want (%d, %d)", rows, cols, ds.Len(), ds.NItems())
	}
	for i := 0; i < rows; i++ {
		sum := 0.0
		for j := 0; j < cols; j++ {
			sum += probas.At(i, j)
		}
		if math.Abs(sum-1) > 1e-6 {
			t.Errorf("row %d sums to %f, want 1", i, sum)
		}
	}
}

func TestSimpleMNL_InterceptShapes(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		wantWidth int
	}{
		{"anchored item intercept", models.InterceptItem, 1},
		{"full item intercept", models.InterceptItemFull, 2},
		{"unrecognized mode behaves as item", "whatever", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := models.NewSimpleMNL(models.WithMNLIntercept(tt.mode), models.WithMNLRandomState(1))
			if err := m.Instantiate(2, 1, 1); err != nil {
				t.Fatalf("instantiate: %v", err)
			}
			ic := m.Parameters().Get("intercept")
			if ic == nil {
				t.Fatal("intercept parameter missing")
			}
			_, width := ic.Dims()
			if width != tt.wantWidth {
				t.Errorf("intercept width = %d, want %d", width, tt.wantWidth)
			}
		})
	}

	m := models.NewSimpleMNL(models.WithMNLRandomState(1))
	if err := m.Instantiate(2, 1, 1); err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if m.Parameters().Get("intercept") != nil {
		t.Error("default model should have no intercept parameter")
	}
}

func TestSimpleMNL_InstantiateErrors(t *testing.T) {
	m := models.NewSimpleMNL(models.WithMNLRandomState(1))
	if err := m.Instantiate(1, 1, 1); err == nil {
		t.Error("expected error for a single-item choice set, got nil")
	}

	m = models.NewSimpleMNL(models.WithMNLRandomState(1))
	if err := m.Instantiate(2, 1, 1); err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if err := m.Instantiate(2, 1, 1); err != nil {
		t.Errorf("re-instantiating with identical dimensions must be a no-op, got %v", err)
	}
	if err := m.Instantiate(3, 1, 1); err == nil {
		t.Error("expected error for re-instantiating with different dimensions, got nil")
	}
}

func TestSimpleMNL_SampleWeightsSteerFit(t *testing.T) {
	// Half the instances choose item 0, half item 1, at identical
	// features. Weighting the item-0 instances must tilt predictions
	// towards item 0.
	n := 40
	shared := mat.NewDense(n, 1, nil)
	items := make([]*mat.Dense, n)
	avail := mat.NewDense(n, 2, nil)
	choices := make([]int, n)
	weights := make([]float64, n)
	for i := 0; i < n; i++ {
		shared.Set(i, 0, 1)
		items[i] = mat.NewDense(2, 1, []float64{0, 0})
		avail.Set(i, 0, 1)
		avail.Set(i, 1, 1)
		choices[i] = i % 2
		if choices[i] == 0 {
			weights[i] = 9
		} else {
			weights[i] = 1
		}
	}
	ds, err := dataset.New(shared, items, avail, choices)
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}

	m := models.NewSimpleMNL(
		models.WithMNLOptimizer("adam"),
		models.WithMNLLearningRate(0.05),
		models.WithMNLEpochs(50),
		models.WithMNLRandomState(9),
	)
	if _, err := m.Fit(ds, models.FitConfig{SampleWeight: weights}); err != nil {
		t.Fatalf("fit: %v", err)
	}

	probas, err := m.PredictProbas(ds, dataset.FullBatch)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if probas.At(0, 0) <= probas.At(0, 1) {
		t.Errorf("item 0 probability %f not above item 1 %f despite 9:1 weighting",
			probas.At(0, 0), probas.At(0, 1))
	}
}

func TestSimpleMNL_ExitOptionLowersInSetMass(t *testing.T) {
	ds := syntheticDataset(t, 10, 6)

	plain := models.NewSimpleMNL(models.WithMNLRandomState(3))
	exit := models.NewSimpleMNL(models.WithMNLRandomState(3), models.WithMNLNormalizeExit(true))

	p1, err := plain.PredictProbas(ds, dataset.FullBatch)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	p2, err := exit.PredictProbas(ds, dataset.FullBatch)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}

	for i := 0; i < ds.Len(); i++ {
		sumPlain := p1.At(i, 0) + p1.At(i, 1)
		sumExit := p2.At(i, 0) + p2.At(i, 1)
		if math.Abs(sumPlain-1) > 1e-6 {
			t.Errorf("row %d without exit sums to %f, want 1", i, sumPlain)
		}
		if sumExit >= sumPlain {
			t.Errorf("row %d with exit sums to %f, want below 1", i, sumExit)
		}
	}
}
