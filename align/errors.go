package align

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUndoPick is returned by a Picker to request removal of the most recent pick.
var ErrUndoPick = errors.New("undo last pick")

// ErrPickerClosed is returned by a Picker whose event source has shut down.
var ErrPickerClosed = errors.New("picker closed")

// DegenerateInputError reports a fiducial triple that is collinear or coincident,
// which leaves the rotation underdetermined.
type DegenerateInputError struct {
	Which string // "source" or "target"
	Rank  int
}

func (e *DegenerateInputError) Error() string {
	return fmt.Sprintf("degenerate %s fiducials: rank %d, need 3 non-collinear points", e.Which, e.Rank)
}

// MissingFiducialError reports fiducial role labels absent from a point set.
type MissingFiducialError struct {
	Labels []string
}

func (e *MissingFiducialError) Error() string {
	return fmt.Sprintf("missing fiducial label(s): %s", strings.Join(e.Labels, ", "))
}

// IncompletePickError reports a request for target fiducials before picking finished.
type IncompletePickError struct {
	Have int
	Want int
}

func (e *IncompletePickError) Error() string {
	return fmt.Sprintf("pick session incomplete: %d of %d fiducials picked", e.Have, e.Want)
}

// MalformedRecordError reports an electrode file line that could not be parsed.
type MalformedRecordError struct {
	Line    int
	Content string
	Reason  string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Reason, e.Content)
}

// ErrResetSession is returned by a Picker to discard all picks and start over.
var ErrResetSession = errors.New("reset pick session")
