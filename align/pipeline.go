package align

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/golang/geo/r3"
)

// ErrConfirmPicks is returned by a Picker when the operator presses "Done".
var ErrConfirmPicks = errors.New("confirm picks")

// Pipeline drives one alignment interaction: it collects target fiducials
// through a Picker, solves the rigid transform and applies it to the whole set.
type Pipeline struct {
	// SearchFlips enables the eight-way axis flip search.
	SearchFlips bool

	// RequireConfirm keeps the session open after the third pick until the
	// picker returns ErrConfirmPicks, so the operator can still undo.
	RequireConfirm bool

	// OnPicksChanged is notified with the session status whenever picks change,
	// so renderers can add or remove their markers.
	OnPicksChanged func(PickStatus)
}

// NewPipeline returns a pipeline with flip search enabled.
func NewPipeline() *Pipeline {
	return &Pipeline{SearchFlips: true}
}

// AlignmentRun is the result of one completed interaction.
type AlignmentRun struct {
	Source          *LabeledPointSet
	SourceFiducials FiducialTriple
	TargetFiducials FiducialTriple
	Alignment       Alignment
	Aligned         *LabeledPointSet
}

// Pivot is the anchor for manual adjustments: the centroid of the picked fiducials.
func (r *AlignmentRun) Pivot() r3.Vector {
	return r.TargetFiducials.Centroid()
}

// Adjust applies manual fine tuning to the aligned set about Pivot.
// The aligned set itself is left untouched.
func (r *AlignmentRun) Adjust(params SimilarityParams) *LabeledPointSet {
	return ApplySimilarityToSet(r.Aligned, params, r.Pivot())
}

// Run validates the source fiducials, collects three target picks and aligns.
// It fails with *MissingFiducialError before any picking if the source lacks
// nas, lhj or rhj. Cancelling ctx abandons the session.
func (p *Pipeline) Run(ctx context.Context, source *LabeledPointSet, picker Picker) (*AlignmentRun, error) {
	if _, err := source.Fiducials(); err != nil {
		return nil, err
	}

	session := NewPickSession(p.OnPicksChanged)
	if p.OnPicksChanged != nil {
		p.OnPicksChanged(session.Status())
	}

	for {
		if session.State() == PickComplete && !p.RequireConfirm {
			break
		}

		pt, err := picker.PickPoint(ctx)
		switch {
		case errors.Is(err, ErrUndoPick):
			if session.OnUndo() {
				log.Printf("[PICK] undo, %d pick(s) remain", session.Count())
			}
			continue
		case errors.Is(err, ErrResetSession):
			session.Reset()
			log.Printf("[PICK] session reset")
			continue
		case errors.Is(err, ErrConfirmPicks):
			if session.State() == PickComplete {
				return p.Resolve(source, session)
			}
			_, incomplete := session.Targets()
			log.Printf("[PICK] done ignored: %v", incomplete)
			continue
		case err != nil:
			return nil, fmt.Errorf("picking fiducials: %w", err)
		}

		label := session.Status().Next
		if !session.OnPick(pt) {
			log.Printf("[PICK] picking disabled, ignoring (%.4f, %.4f, %.4f)", pt.X, pt.Y, pt.Z)
			continue
		}
		log.Printf("[PICK] %s = (%.4f, %.4f, %.4f)", label, pt.X, pt.Y, pt.Z)
	}

	return p.Resolve(source, session)
}

// Resolve aligns source onto the session's picks. It fails with
// *IncompletePickError if the session is not complete.
func (p *Pipeline) Resolve(source *LabeledPointSet, session *PickSession) (*AlignmentRun, error) {
	targets, err := session.Targets()
	if err != nil {
		return nil, err
	}
	return p.Align(source, targets)
}

// Align solves for the transform mapping the source fiducials onto targets and
// applies it to every point of source.
func (p *Pipeline) Align(source *LabeledPointSet, targets FiducialTriple) (*AlignmentRun, error) {
	srcFid, err := source.Fiducials()
	if err != nil {
		return nil, err
	}

	alignment, err := SolveRigid(srcFid, targets, p.SearchFlips)
	if err != nil {
		return nil, err
	}

	log.Printf("[ALIGN] flip=(%+.0f,%+.0f,%+.0f) rotation=%.2f° residual=%.6f",
		alignment.Flip.X, alignment.Flip.Y, alignment.Flip.Z,
		RotationAngle(alignment.Transform.Rotation), alignment.Residual)

	return &AlignmentRun{
		Source:          source,
		SourceFiducials: srcFid,
		TargetFiducials: targets,
		Alignment:       alignment,
		Aligned:         alignment.ApplyAll(source),
	}, nil
}
