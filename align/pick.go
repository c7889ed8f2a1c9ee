package align

import (
	"fmt"

	"github.com/golang/geo/r3"
)

// PickState is the coarse state of a PickSession.
type PickState int

const (
	PickEmpty PickState = iota
	PickAccumulating
	PickComplete
)

func (s PickState) String() string {
	switch s {
	case PickEmpty:
		return "empty"
	case PickAccumulating:
		return "accumulating"
	case PickComplete:
		return "complete"
	}
	return "unknown"
}

// MarshalText encodes the state by name for JSON payloads.
func (s PickState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *PickState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "empty":
		*s = PickEmpty
	case "accumulating":
		*s = PickAccumulating
	case "complete":
		*s = PickComplete
	default:
		return fmt.Errorf("unknown pick state %q", text)
	}
	return nil
}

// PickStatus is a snapshot of a session for display.
type PickStatus struct {
	State PickState `json:"state"`
	Count int       `json:"count"`
	// Next is the label of the next fiducial to pick; empty once complete.
	Next  string `json:"next,omitempty"`
	Ready bool   `json:"ready"`
	// Picks holds a copy of the picked points so observers can draw markers.
	Picks []r3.Vector `json:"-"`
}

// Message returns the prompt shown to the operator.
func (s PickStatus) Message() string {
	if s.Ready {
		return "Picked all. Click 'Done'."
	}
	return "Pick: " + s.Next
}

// PickSession collects the target fiducials one at a time in FiducialRoles
// order. It is owned by a single goroutine and is not safe for concurrent use.
type PickSession struct {
	picks    []r3.Vector
	onChange func(PickStatus)
}

// NewPickSession returns an empty session. onChange, if non-nil, is called
// after every accepted pick or undo.
func NewPickSession(onChange func(PickStatus)) *PickSession {
	return &PickSession{
		picks:    make([]r3.Vector, 0, len(FiducialRoles)),
		onChange: onChange,
	}
}

// OnPick records p as the next fiducial. It is a no-op once the session is
// complete and reports whether the pick was accepted.
func (s *PickSession) OnPick(p r3.Vector) bool {
	if !s.PickingEnabled() {
		return false
	}
	s.picks = append(s.picks, p)
	s.notify()
	return true
}

// OnUndo removes the most recent pick, re-enabling picking if the session was
// complete. It is a no-op on an empty session and reports whether anything changed.
func (s *PickSession) OnUndo() bool {
	if len(s.picks) == 0 {
		return false
	}
	s.picks = s.picks[:len(s.picks)-1]
	s.notify()
	return true
}

// Reset discards all picks.
func (s *PickSession) Reset() {
	if len(s.picks) == 0 {
		return
	}
	s.picks = s.picks[:0]
	s.notify()
}

// PickingEnabled reports whether further picks are accepted.
func (s *PickSession) PickingEnabled() bool {
	return len(s.picks) < len(FiducialRoles)
}

// Count returns the number of picks held.
func (s *PickSession) Count() int {
	return len(s.picks)
}

// State returns the current state.
func (s *PickSession) State() PickState {
	switch {
	case len(s.picks) == 0:
		return PickEmpty
	case len(s.picks) < len(FiducialRoles):
		return PickAccumulating
	default:
		return PickComplete
	}
}

// Status returns the next expected label, or Ready once all fiducials are picked.
func (s *PickSession) Status() PickStatus {
	st := PickStatus{State: s.State(), Count: len(s.picks), Picks: s.Picks()}
	if st.State == PickComplete {
		st.Ready = true
	} else {
		st.Next = FiducialRoles[len(s.picks)]
	}
	return st
}

// Picks returns a copy of the picked points in order.
func (s *PickSession) Picks() []r3.Vector {
	out := make([]r3.Vector, len(s.picks))
	copy(out, s.picks)
	return out
}

// Targets returns the picked triple, or *IncompletePickError before completion.
func (s *PickSession) Targets() (FiducialTriple, error) {
	if s.State() != PickComplete {
		return FiducialTriple{}, &IncompletePickError{Have: len(s.picks), Want: len(FiducialRoles)}
	}
	var t FiducialTriple
	copy(t[:], s.picks)
	return t, nil
}

func (s *PickSession) notify() {
	if s.onChange != nil {
		s.onChange(s.Status())
	}
}
