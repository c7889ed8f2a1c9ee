package align

import (
	"log"
	"sync"
	"time"
)

// StateTracker holds the latest alignment state for HTTP and MQTT readers.
// Pick status is only written through the pipeline's picks-changed callback.
type StateTracker struct {
	mu         sync.RWMutex
	sourcePath string
	source     *LabeledPointSet
	status     PickStatus
	run        *AlignmentRun
	adjust     SimilarityParams
	lastError  string
	updatedAt  time.Time
	cachePath  string // empty disables persistence
}

// NewStateTracker creates a tracker with an identity adjustment.
func NewStateTracker() *StateTracker {
	return &StateTracker{
		adjust: IdentitySimilarity(),
		status: NewPickSession(nil).Status(),
	}
}

// NewStateTrackerWithCache creates a tracker that persists every completed
// run to cachePath. An existing cache seeds the adjustment.
func NewStateTrackerWithCache(cachePath string) *StateTracker {
	st := NewStateTracker()
	st.cachePath = cachePath
	if cachePath != "" {
		if rec, err := LoadAlignment(cachePath); err != nil {
			log.Printf("[CACHE] ignoring %s: %v", cachePath, err)
		} else if rec != nil && rec.Adjustment.Scale > 0 {
			st.adjust = rec.Adjustment
		}
	}
	return st
}

// SetSource records the electrode set being aligned.
func (st *StateTracker) SetSource(path string, set *LabeledPointSet) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sourcePath = path
	st.source = set
	st.updatedAt = time.Now()
}

// Source returns the electrode set being aligned and its origin.
func (st *StateTracker) Source() (string, *LabeledPointSet) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sourcePath, st.source
}

// UpdateStatus stores a pick status snapshot. It is meant to be used as the
// pipeline's OnPicksChanged callback.
func (st *StateTracker) UpdateStatus(status PickStatus) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status = status
	st.updatedAt = time.Now()
}

// Status returns the latest pick status.
func (st *StateTracker) Status() PickStatus {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.status
}

// SetRun stores a completed run and persists it when a cache path is set.
func (st *StateTracker) SetRun(run *AlignmentRun) {
	st.mu.Lock()
	st.run = run
	st.lastError = ""
	st.updatedAt = time.Now()
	st.mu.Unlock()

	st.persist()
}

// persist writes the current run and adjustment to the cache file, if any.
func (st *StateTracker) persist() {
	st.mu.RLock()
	run, source, adjust, cachePath := st.run, st.sourcePath, st.adjust, st.cachePath
	st.mu.RUnlock()

	if cachePath == "" || run == nil {
		return
	}
	if err := SaveAlignment(cachePath, NewAlignmentRecord(source, run, adjust)); err != nil {
		log.Printf("[CACHE] warning: failed to save alignment cache: %v", err)
	}
}

// Run returns the latest completed run, or nil.
func (st *StateTracker) Run() *AlignmentRun {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.run
}

// HasRun reports whether an alignment has completed.
func (st *StateTracker) HasRun() bool {
	return st.Run() != nil
}

// SetAdjustment replaces the manual adjustment and persists it alongside the
// latest run.
func (st *StateTracker) SetAdjustment(params SimilarityParams) {
	st.mu.Lock()
	st.adjust = params
	st.updatedAt = time.Now()
	st.mu.Unlock()

	st.persist()
}

// Adjustment returns the current manual adjustment.
func (st *StateTracker) Adjustment() SimilarityParams {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.adjust
}

// SetError records the latest alignment failure for status readers.
func (st *StateTracker) SetError(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if err == nil {
		st.lastError = ""
		return
	}
	st.lastError = err.Error()
	st.updatedAt = time.Now()
}

// Output returns the aligned set with the current adjustment applied, or nil
// before the first completed run. With excludeFiducials the nas, lhj and rhj
// points are dropped.
func (st *StateTracker) Output(excludeFiducials bool) *LabeledPointSet {
	st.mu.RLock()
	run, adjust := st.run, st.adjust
	st.mu.RUnlock()

	if run == nil {
		return nil
	}
	out := run.Aligned
	if !adjust.IsIdentity() {
		out = run.Adjust(adjust)
	}
	if excludeFiducials {
		out = out.WithoutFiducials()
	}
	return out
}

// Snapshot is the JSON view served on /status.
type Snapshot struct {
	Source     string           `json:"source,omitempty"`
	Electrodes int              `json:"electrodes"`
	Pick       StatusMessage    `json:"pick"`
	Aligned    bool             `json:"aligned"`
	Flip       *AxisFlip        `json:"flip,omitempty"`
	Residual   *float64         `json:"residual,omitempty"`
	Adjustment SimilarityParams `json:"adjustment"`
	LastError  string           `json:"lastError,omitempty"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// Snapshot returns a consistent copy of the state.
func (st *StateTracker) Snapshot() Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()

	snap := Snapshot{
		Source:     st.sourcePath,
		Electrodes: st.source.Len(),
		Pick:       NewStatusMessage(st.status, st.updatedAt),
		Aligned:    st.run != nil,
		Adjustment: st.adjust,
		LastError:  st.lastError,
		UpdatedAt:  st.updatedAt,
	}
	if st.run != nil {
		flip := st.run.Alignment.Flip
		residual := st.run.Alignment.Residual
		snap.Flip = &flip
		snap.Residual = &residual
	}
	return snap
}
