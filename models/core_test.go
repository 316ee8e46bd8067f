package models_test

import (
	"testing"

	"github.com/chogo-ml/chogo/dataset"
	"github.com/chogo-ml/chogo/models"
)

// recordingCallback logs the order of lifecycle events it receives.
type recordingCallback struct {
	models.BaseCallback
	events []string
}

func (r *recordingCallback) OnTrainBegin(map[string]float64)      { r.events = append(r.events, "train_begin") }
func (r *recordingCallback) OnTrainEnd(map[string]float64)        { r.events = append(r.events, "train_end") }
func (r *recordingCallback) OnEpochBegin(int, map[string]float64) { r.events = append(r.events, "epoch_begin") }
func (r *recordingCallback) OnEpochEnd(int, map[string]float64)   { r.events = append(r.events, "epoch_end") }
func (r *recordingCallback) OnTrainBatchEnd(int, map[string]float64) {
	r.events = append(r.events, "batch_end")
}

func TestFit_CallbackLifecycle(t *testing.T) {
	ds := syntheticDataset(t, 10, 21)
	rec := &recordingCallback{}

	m := models.NewSimpleMNL(
		models.WithMNLEpochs(2),
		models.WithMNLBatchSize(5),
		models.WithMNLRandomState(1),
		models.WithMNLCallbacks(rec),
	)
	if _, err := m.Fit(ds, models.FitConfig{}); err != nil {
		t.Fatalf("fit: %v", err)
	}

	want := []string{
		"train_begin",
		"epoch_begin", "batch_end", "batch_end", "epoch_end",
		"epoch_begin", "batch_end", "batch_end", "epoch_end",
		"train_end",
	}
	if len(rec.events) != len(want) {
		t.Fatalf("got %d events %v, want %d", len(rec.events), rec.events, len(want))
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, rec.events[i], want[i])
		}
	}
}

func TestFit_HistoryKeys(t *testing.T) {
	train := syntheticDataset(t, 20, 22)
	val := syntheticDataset(t, 10, 23)

	m := models.NewSimpleMNL(
		models.WithMNLEpochs(3),
		models.WithMNLRandomState(1),
	)
	history, err := m.Fit(train, models.FitConfig{ValDataset: val})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	if got := len(history["train_loss"]); got != 3 {
		t.Errorf("train_loss has %d entries, want 3", got)
	}
	if got := len(history["test_loss"]); got != 3 {
		t.Errorf("test_loss has %d entries, want 3", got)
	}
}

func TestFit_HistoryCallbackMirrorsHistory(t *testing.T) {
	ds := syntheticDataset(t, 20, 24)
	hc := &models.HistoryCallback{}

	m := models.NewSimpleMNL(
		models.WithMNLEpochs(2),
		models.WithMNLRandomState(1),
		models.WithMNLCallbacks(hc),
	)
	history, err := m.Fit(ds, models.FitConfig{})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	if len(hc.Epochs) != 2 {
		t.Fatalf("callback recorded %d epochs, want 2", len(hc.Epochs))
	}
	for i, snapshot := range hc.Epochs {
		if snapshot["train_loss"] != history["train_loss"][i] {
			t.Errorf("epoch %d: callback loss %f != history loss %f",
				i, snapshot["train_loss"], history["train_loss"][i])
		}
	}
}

// stopAfterEpoch requests a training stop once the given epoch ends.
type stopAfterEpoch struct {
	models.BaseCallback
	stopAt int
	model  *models.SimpleMNL
}

func (s *stopAfterEpoch) OnEpochEnd(epoch int, _ map[string]float64) {
	if epoch == s.stopAt {
		s.model.RequestStop()
	}
}

func TestFit_StopRequestEndsTraining(t *testing.T) {
	ds := syntheticDataset(t, 20, 25)

	stopper := &stopAfterEpoch{stopAt: 1}
	m := models.NewSimpleMNL(
		models.WithMNLEpochs(10),
		models.WithMNLRandomState(1),
		models.WithMNLCallbacks(stopper),
	)
	stopper.model = m

	history, err := m.Fit(ds, models.FitConfig{})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if got := len(history["train_loss"]); got != 2 {
		t.Errorf("trained %d epochs, want stop after 2", got)
	}
	if !m.IsFitted() {
		t.Error("model must still be marked fitted after an early stop")
	}
}

func TestEvaluate_Modes(t *testing.T) {
	ds := syntheticDataset(t, 20, 26)

	m := models.NewSimpleMNL(
		models.WithMNLLabelSmoothing(0.1),
		models.WithMNLRandomState(1),
	)

	nll, err := m.Evaluate(ds, nil, dataset.FullBatch, models.ModeEval)
	if err != nil {
		t.Fatalf("eval mode: %v", err)
	}
	optim, err := m.Evaluate(ds, nil, dataset.FullBatch, models.ModeOptim)
	if err != nil {
		t.Fatalf("optim mode: %v", err)
	}
	if nll < 0 || optim < 0 {
		t.Errorf("losses must be non-negative: nll=%f optim=%f", nll, optim)
	}
	if nll == optim {
		t.Error("with label smoothing the optimized loss must differ from the raw NLL")
	}

	if _, err := m.Evaluate(ds, nil, dataset.FullBatch, models.EvalMode("bogus")); err == nil {
		t.Error("expected error for unknown evaluation mode, got nil")
	}
}

func TestFit_EpochAndBatchOverrides(t *testing.T) {
	ds := syntheticDataset(t, 10, 27)

	m := models.NewSimpleMNL(
		models.WithMNLEpochs(1),
		models.WithMNLRandomState(1),
	)
	history, err := m.Fit(ds, models.FitConfig{Epochs: 4, BatchSize: dataset.FullBatch})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if got := len(history["train_loss"]); got != 4 {
		t.Errorf("train_loss has %d entries, want the overridden 4", got)
	}
}
