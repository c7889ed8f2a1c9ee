package align

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/geo/r3"
)

// Picker supplies target fiducials one at a time, typically the nearest point
// on a scanned surface to where the operator clicked. PickPoint blocks until a
// point is available; it returns ErrUndoPick or ErrResetSession to request
// those session transitions instead of a point.
type Picker interface {
	PickPoint(ctx context.Context) (r3.Vector, error)
}

// StaticPicker replays a fixed list of points, e.g. fiducials loaded from a file.
type StaticPicker struct {
	points []r3.Vector
	next   int
}

// NewStaticPicker returns a picker that yields points in order.
func NewStaticPicker(points ...r3.Vector) *StaticPicker {
	return &StaticPicker{points: points}
}

// StaticPickerFromSet yields the nas/lhj/rhj points of set in role order.
func StaticPickerFromSet(set *LabeledPointSet) (*StaticPicker, error) {
	f, err := set.Fiducials()
	if err != nil {
		return nil, fmt.Errorf("target fiducials: %w", err)
	}
	return NewStaticPicker(f.Points()...), nil
}

// PickPoint returns the next stored point, or ErrPickerClosed when exhausted.
func (p *StaticPicker) PickPoint(ctx context.Context) (r3.Vector, error) {
	if err := ctx.Err(); err != nil {
		return r3.Vector{}, err
	}
	if p.next >= len(p.points) {
		return r3.Vector{}, ErrPickerClosed
	}
	pt := p.points[p.next]
	p.next++
	return pt, nil
}

// PickEventKind distinguishes operator actions.
type PickEventKind int

const (
	EventPick PickEventKind = iota
	EventUndo
	EventReset
	EventDone
)

func (k PickEventKind) String() string {
	switch k {
	case EventPick:
		return "pick"
	case EventUndo:
		return "undo"
	case EventReset:
		return "reset"
	case EventDone:
		return "done"
	}
	return "unknown"
}

// ParsePickEventKind maps an action name to its kind.
func ParsePickEventKind(name string) (PickEventKind, error) {
	for _, k := range []PickEventKind{EventPick, EventUndo, EventReset, EventDone} {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown pick action %q", name)
}

// PickEvent is one operator action from an external picking source.
// Normal and Camera are optional and only used for front-face filtering.
type PickEvent struct {
	Kind   PickEventKind
	Point  r3.Vector
	Normal *r3.Vector
	Camera *r3.Vector
}

// FrontFacing reports whether the surface at point, with the given outward
// normal, faces a camera located at camera.
func FrontFacing(point, normal, camera r3.Vector) bool {
	toCamera := camera.Sub(point)
	if toCamera.Norm() == 0 {
		return true
	}
	return toCamera.Normalize().Dot(normal) >= 0
}

// Visible reports whether the event should be treated as a pick on the
// visible side of the surface. Events without a normal or camera are visible.
func (e PickEvent) Visible() bool {
	if e.Normal == nil || e.Camera == nil {
		return true
	}
	return FrontFacing(e.Point, *e.Normal, *e.Camera)
}

// DefaultEventBuffer is the queue length of an EventPicker.
const DefaultEventBuffer = 16

// EventPicker turns asynchronously submitted events (HTTP, MQTT) into a
// sequential PickPoint stream consumed by one pipeline goroutine.
type EventPicker struct {
	events    chan PickEvent
	done      chan struct{}
	closeOnce sync.Once
}

// NewEventPicker creates a picker with the given queue length.
func NewEventPicker(buffer int) *EventPicker {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &EventPicker{
		events: make(chan PickEvent, buffer),
		done:   make(chan struct{}),
	}
}

// Submit enqueues an event without blocking. It fails if the queue is full or
// the picker is closed.
func (p *EventPicker) Submit(ev PickEvent) error {
	select {
	case <-p.done:
		return ErrPickerClosed
	default:
	}
	select {
	case p.events <- ev:
		return nil
	default:
		return fmt.Errorf("pick queue full (%d events pending)", len(p.events))
	}
}

// PickPoint blocks for the next event. Undo, reset and done events are
// reported as ErrUndoPick, ErrResetSession and ErrConfirmPicks.
func (p *EventPicker) PickPoint(ctx context.Context) (r3.Vector, error) {
	select {
	case <-ctx.Done():
		return r3.Vector{}, ctx.Err()
	case <-p.done:
		return r3.Vector{}, ErrPickerClosed
	case ev := <-p.events:
		switch ev.Kind {
		case EventUndo:
			return r3.Vector{}, ErrUndoPick
		case EventReset:
			return r3.Vector{}, ErrResetSession
		case EventDone:
			return r3.Vector{}, ErrConfirmPicks
		default:
			return ev.Point, nil
		}
	}
}

// Close stops the picker; pending and future PickPoint calls return ErrPickerClosed.
func (p *EventPicker) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}
