package align

import (
	"fmt"

	"github.com/golang/geo/r3"
)

// LabeledPointSet maps unique labels to 3D points and remembers insertion order
// so that output files are deterministic. A set is never modified after
// construction; transforms produce a new set.
type LabeledPointSet struct {
	labels []string
	points map[string]r3.Vector
}

// NewLabeledPointSet builds a set from electrodes, rejecting duplicate or empty labels.
func NewLabeledPointSet(electrodes []Electrode) (*LabeledPointSet, error) {
	s := &LabeledPointSet{
		labels: make([]string, 0, len(electrodes)),
		points: make(map[string]r3.Vector, len(electrodes)),
	}
	for i, e := range electrodes {
		if e.Label == "" {
			return nil, fmt.Errorf("electrode %d: empty label", i)
		}
		if _, dup := s.points[e.Label]; dup {
			return nil, fmt.Errorf("electrode %d: duplicate label %q", i, e.Label)
		}
		s.labels = append(s.labels, e.Label)
		s.points[e.Label] = e.Position
	}
	return s, nil
}

// Len returns the number of labeled points. A nil set is empty.
func (s *LabeledPointSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.labels)
}

// Labels returns the labels in insertion order.
func (s *LabeledPointSet) Labels() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.labels))
	copy(out, s.labels)
	return out
}

// Get returns the point for label.
func (s *LabeledPointSet) Get(label string) (r3.Vector, bool) {
	p, ok := s.points[label]
	return p, ok
}

// Points returns the coordinates in insertion order.
func (s *LabeledPointSet) Points() []r3.Vector {
	if s == nil {
		return nil
	}
	out := make([]r3.Vector, len(s.labels))
	for i, l := range s.labels {
		out[i] = s.points[l]
	}
	return out
}

// Electrodes returns the labeled points in insertion order.
func (s *LabeledPointSet) Electrodes() []Electrode {
	if s == nil {
		return nil
	}
	out := make([]Electrode, len(s.labels))
	for i, l := range s.labels {
		out[i] = Electrode{Label: l, Position: s.points[l]}
	}
	return out
}

// Fiducials extracts the nas/lhj/rhj triple by label.
func (s *LabeledPointSet) Fiducials() (FiducialTriple, error) {
	var triple FiducialTriple
	var missing []string
	for i, role := range FiducialRoles {
		p, ok := s.points[role]
		if !ok {
			missing = append(missing, role)
			continue
		}
		triple[i] = p
	}
	if len(missing) > 0 {
		return FiducialTriple{}, &MissingFiducialError{Labels: missing}
	}
	return triple, nil
}

// Map returns a new set with fn applied to every point. Labels and order are kept.
func (s *LabeledPointSet) Map(fn func(r3.Vector) r3.Vector) *LabeledPointSet {
	out := &LabeledPointSet{
		labels: s.Labels(),
		points: make(map[string]r3.Vector, len(s.points)),
	}
	for l, p := range s.points {
		out.points[l] = fn(p)
	}
	return out
}

// Without returns a new set that omits the given labels.
func (s *LabeledPointSet) Without(labels ...string) *LabeledPointSet {
	drop := make(map[string]bool, len(labels))
	for _, l := range labels {
		drop[l] = true
	}
	out := &LabeledPointSet{points: make(map[string]r3.Vector)}
	for _, l := range s.labels {
		if drop[l] {
			continue
		}
		out.labels = append(out.labels, l)
		out.points[l] = s.points[l]
	}
	return out
}

// WithoutFiducials drops the nas/lhj/rhj entries.
func (s *LabeledPointSet) WithoutFiducials() *LabeledPointSet {
	return s.Without(FiducialRoles[:]...)
}

// Centroid returns the mean of all points.
func (s *LabeledPointSet) Centroid() r3.Vector {
	return Centroid(s.Points())
}
