package models

// Callback receives lifecycle notifications from the training engine.
// Every hook is handed the current aggregated metrics; the map must be
// treated as read-only and is only valid for the duration of the call.
type Callback interface {
	OnTrainBegin(logs map[string]float64)
	OnTrainEnd(logs map[string]float64)
	OnEpochBegin(epoch int, logs map[string]float64)
	OnEpochEnd(epoch int, logs map[string]float64)
	OnTrainBatchBegin(batch int, logs map[string]float64)
	OnTrainBatchEnd(batch int, logs map[string]float64)
	OnTestBatchBegin(batch int, logs map[string]float64)
	OnTestBatchEnd(batch int, logs map[string]float64)
}

// BaseCallback is a no-op Callback for embedding, so implementations
// only override the hooks they care about.
type BaseCallback struct{}

func (BaseCallback) OnTrainBegin(map[string]float64)           {}
func (BaseCallback) OnTrainEnd(map[string]float64)             {}
func (BaseCallback) OnEpochBegin(int, map[string]float64)      {}
func (BaseCallback) OnEpochEnd(int, map[string]float64)        {}
func (BaseCallback) OnTrainBatchBegin(int, map[string]float64) {}
func (BaseCallback) OnTrainBatchEnd(int, map[string]float64)   {}
func (BaseCallback) OnTestBatchBegin(int, map[string]float64)  {}
func (BaseCallback) OnTestBatchEnd(int, map[string]float64)    {}

// HistoryCallback records the logs passed to OnEpochEnd. One is always
// appended to the engine's callback list, mirroring the returned fit
// history.
type HistoryCallback struct {
	BaseCallback
	// Epochs holds one metrics snapshot per completed epoch.
	Epochs []map[string]float64
}

// OnEpochEnd stores a copy of the epoch metrics.
func (h *HistoryCallback) OnEpochEnd(_ int, logs map[string]float64) {
	snapshot := make(map[string]float64, len(logs))
	for k, v := range logs {
		snapshot[k] = v
	}
	h.Epochs = append(h.Epochs, snapshot)
}

// callbackList fans lifecycle events out to registered callbacks in
// order.
type callbackList struct {
	callbacks []Callback
	history   *HistoryCallback
}

func newCallbackList(callbacks []Callback) *callbackList {
	h := &HistoryCallback{}
	return &callbackList{callbacks: append(append([]Callback{}, callbacks...), h), history: h}
}

func (l *callbackList) trainBegin(logs map[string]float64) {
	for _, c := range l.callbacks {
		c.OnTrainBegin(logs)
	}
}

func (l *callbackList) trainEnd(logs map[string]float64) {
	for _, c := range l.callbacks {
		c.OnTrainEnd(logs)
	}
}

func (l *callbackList) epochBegin(epoch int, logs map[string]float64) {
	for _, c := range l.callbacks {
		c.OnEpochBegin(epoch, logs)
	}
}

func (l *callbackList) epochEnd(epoch int, logs map[string]float64) {
	for _, c := range l.callbacks {
		c.OnEpochEnd(epoch, logs)
	}
}

func (l *callbackList) trainBatchBegin(batch int, logs map[string]float64) {
	for _, c := range l.callbacks {
		c.OnTrainBatchBegin(batch, logs)
	}
}

func (l *callbackList) trainBatchEnd(batch int, logs map[string]float64) {
	for _, c := range l.callbacks {
		c.OnTrainBatchEnd(batch, logs)
	}
}

func (l *callbackList) testBatchBegin(batch int, logs map[string]float64) {
	for _, c := range l.callbacks {
		c.OnTestBatchBegin(batch, logs)
	}
}

func (l *callbackList) testBatchEnd(batch int, logs map[string]float64) {
	for _, c := range l.callbacks {
		c.OnTestBatchEnd(batch, logs)
	}
}
