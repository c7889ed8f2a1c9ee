package align

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/geo/r3"
)

// DefaultAlignmentCachePath is the default location of the last alignment.
const DefaultAlignmentCachePath = ".alignment-cache.json"

// AlignmentRecord is the persisted outcome of an alignment run. It carries
// enough to re-apply the transform to the same source without re-picking.
type AlignmentRecord struct {
	Source         string           `json:"source,omitempty"`
	Flip           AxisFlip         `json:"flip"`
	Rotation       Matrix3          `json:"rotation"`
	Translation    r3.Vector        `json:"translation"`
	Residual       float64          `json:"residual"`
	FiducialErrors [3]float64       `json:"fiducialErrors"`
	Targets        FiducialTriple   `json:"targets"`
	Adjustment     SimilarityParams `json:"adjustment"`
	LastUpdated    int64            `json:"lastUpdated"`
}

// NewAlignmentRecord captures run and the adjustment applied on top of it.
func NewAlignmentRecord(source string, run *AlignmentRun, adjust SimilarityParams) *AlignmentRecord {
	a := run.Alignment
	return &AlignmentRecord{
		Source:         source,
		Flip:           a.Flip,
		Rotation:       a.Transform.Rotation,
		Translation:    a.Transform.Translation,
		Residual:       a.Residual,
		FiducialErrors: a.FiducialErrors,
		Targets:        run.TargetFiducials,
		Adjustment:     adjust,
	}
}

// Alignment rebuilds the rigid alignment stored in the record.
func (r *AlignmentRecord) Alignment() Alignment {
	return Alignment{
		Transform:      RigidTransform{Rotation: r.Rotation, Translation: r.Translation},
		Flip:           r.Flip,
		Residual:       r.Residual,
		FiducialErrors: r.FiducialErrors,
	}
}

// Apply re-applies the cached rigid transform and adjustment to set. The
// adjustment pivot is the centroid of the cached target fiducials.
func (r *AlignmentRecord) Apply(set *LabeledPointSet) *LabeledPointSet {
	aligned := r.Alignment().ApplyAll(set)
	if r.Adjustment.Scale == 0 || r.Adjustment.IsIdentity() {
		return aligned
	}
	return ApplySimilarityToSet(aligned, r.Adjustment, r.Targets.Centroid())
}

// Validate rejects records whose rotation is not proper or whose flip is malformed.
func (r *AlignmentRecord) Validate() error {
	if !r.Flip.Valid() {
		return fmt.Errorf("invalid flip %v", r.Flip)
	}
	if !IsProperRotation(r.Rotation, 1e-6) {
		return fmt.Errorf("cached rotation is not a proper rotation")
	}
	return nil
}

// Age returns how long ago the record was saved.
func (r *AlignmentRecord) Age() time.Duration {
	if r == nil || r.LastUpdated == 0 {
		return 0
	}
	return time.Since(time.Unix(r.LastUpdated, 0))
}

// LoadAlignment reads a cached record. A missing file is not an error: it
// returns nil, nil.
func LoadAlignment(path string) (*AlignmentRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading alignment cache: %w", err)
	}

	var rec AlignmentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing alignment cache: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("alignment cache %s: %w", path, err)
	}
	return &rec, nil
}

// SaveAlignment writes rec as indented JSON, stamping LastUpdated.
func SaveAlignment(path string, rec *AlignmentRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	rec.LastUpdated = time.Now().Unix()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling alignment record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing alignment cache: %w", err)
	}
	return nil
}
