// Package model provides core abstractions shared by all chogo
// estimators: fitted-state tracking and model persistence.
//
// Estimators hold a StateManager by composition and mark themselves
// fitted at the end of a successful Fit:
//
//	type MyModel struct {
//		state *model.StateManager
//		// model-specific fields
//	}
//
//	func (m *MyModel) Fit(ds *dataset.ChoiceDataset) error {
//		// training logic
//		m.state.SetFitted()
//		return nil
//	}
package model

// EstimatorState represents the learning state of a model.
type EstimatorState int

const (
	// NotFitted indicates the model is not yet trained.
	NotFitted EstimatorState = iota
	// Fitted indicates the model has been trained.
	Fitted
)

// StateManager tracks whether an estimator has been fitted. It is held
// by composition rather than embedding so that estimators expose only
// the methods they choose to.
type StateManager struct {
	state EstimatorState
}

// NewStateManager creates a StateManager in the NotFitted state.
func NewStateManager() *StateManager {
	return &StateManager{state: NotFitted}
}

// IsFitted returns whether the model has been fitted with training data.
func (s *StateManager) IsFitted() bool {
	return s.state == Fitted
}

// SetFitted marks the estimator as fitted. Called by model
// implementations after a successful Fit, not by end users.
func (s *StateManager) SetFitted() {
	s.state = Fitted
}

// Reset returns the estimator to its initial untrained state.
func (s *StateManager) Reset() {
	s.state = NotFitted
}
