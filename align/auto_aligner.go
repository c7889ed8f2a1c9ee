package align

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// AutoAligner runs pick sessions back to back against an EventPicker. After
// each completed session it stores the run, writes the output file and
// publishes the result.
type AutoAligner struct {
	config     *Config
	pipeline   *Pipeline
	picker     *EventPicker
	state      *StateTracker
	publisher  *Publisher
	outputPath string

	mu sync.Mutex // serializes output writes between the loop and adjustments
}

// NewAutoAligner wires a service loop. publisher may be nil when MQTT is off;
// outputPath may be empty to skip writing files.
func NewAutoAligner(config *Config, state *StateTracker, picker *EventPicker, publisher *Publisher, outputPath string) *AutoAligner {
	a := &AutoAligner{
		config:     config,
		picker:     picker,
		state:      state,
		publisher:  publisher,
		outputPath: outputPath,
	}
	a.pipeline = &Pipeline{
		SearchFlips:    config.Alignment.SearchFlips,
		RequireConfirm: true,
		OnPicksChanged: a.onPicksChanged,
	}
	return a
}

func (a *AutoAligner) onPicksChanged(status PickStatus) {
	a.state.UpdateStatus(status)
	log.Printf("[PICK] %s", status.Message())
	if a.publisher != nil {
		if err := a.publisher.PublishStatus(status); err != nil {
			log.Printf("[MQTT] status not published: %v", err)
		}
	}
}

// Run loops until ctx is cancelled or the picker is closed. A session that
// fails on degenerate picks is reported and a fresh session starts; a source
// without fiducials stops the loop.
func (a *AutoAligner) Run(ctx context.Context) error {
	for {
		path, source := a.state.Source()
		if source == nil {
			return fmt.Errorf("no electrode set loaded")
		}
		log.Printf("[ALIGN] waiting for fiducial picks on %s (%d electrodes)", path, source.Len())

		run, err := a.pipeline.Run(ctx, source, a.picker)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrPickerClosed) {
				log.Println("[ALIGN] picker closed, stopping")
				return nil
			}
			a.state.SetError(err)

			var degenerate *DegenerateInputError
			if errors.As(err, &degenerate) {
				log.Printf("[ALIGN] %v, starting a new session", err)
				continue
			}
			return err
		}

		a.state.SetRun(run)
		if err := a.emit(); err != nil {
			log.Printf("[ALIGN] %v", err)
		}
	}
}

// Adjust replaces the manual adjustment and re-emits the current output.
func (a *AutoAligner) Adjust(params SimilarityParams) error {
	if !(params.Scale > 0) {
		return fmt.Errorf("scale must be positive, got %v", params.Scale)
	}
	a.state.SetAdjustment(params)
	if !a.state.HasRun() {
		return nil
	}
	return a.emit()
}

// emit writes the output file and publishes the latest run.
func (a *AutoAligner) emit() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	run := a.state.Run()
	out := a.state.Output(a.config.Output.ExcludeFiducials)
	if run == nil || out == nil {
		return nil
	}

	if a.outputPath != "" {
		if err := SaveElectrodes(a.outputPath, out); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		log.Printf("[ALIGN] wrote %d electrodes to %s", out.Len(), a.outputPath)
	}

	if a.publisher != nil {
		if err := a.publisher.PublishAlignment(NewAlignedMessage(run.Alignment, out)); err != nil {
			log.Printf("[MQTT] alignment not published: %v", err)
		}
	}
	return nil
}
