package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/geo/r3"

	"github.com/kwv/electroalign/align"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *align.Config
	State      *align.StateTracker
	MQTTClient *align.MQTTClient
	Publisher  *align.Publisher
	Picker     *align.EventPicker
	Aligner    *align.AutoAligner

	// CLI Flags (effectively dependencies)
	ConfigFile  string
	Input       string
	Output      string
	Targets     string
	NoFlips     bool
	Adjust      string
	CachePath   string
	Reuse       bool
	GeoJSONFile string
	PreviewFile string
	MqttMode    bool
	HttpMode    bool
	HttpPort    int

	out      io.Writer
	httpAddr string

	// mqttClient replaces the broker connection made by InitMQTT when set.
	mqttClient mqtt.Client
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		State: align.NewStateTracker(),
		out:   os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.Input = opts.Input
	a.Output = opts.Output
	a.Targets = opts.Targets
	a.NoFlips = opts.NoFlips
	a.Adjust = opts.Adjust
	a.CachePath = opts.CachePath
	a.Reuse = opts.Reuse
	a.GeoJSONFile = opts.GeoJSONFile
	a.PreviewFile = opts.PreviewFile
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
	a.HttpPort = opts.HttpPort
}

// loadConfig reads the config file if present and applies flag overrides.
func (a *App) loadConfig() (*align.Config, error) {
	config := align.DefaultConfig()
	if a.ConfigFile != "" {
		if _, err := os.Stat(a.ConfigFile); err == nil {
			loaded, err := align.LoadConfig(a.ConfigFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
			config = loaded
			log.Printf("Loaded config from %s", a.ConfigFile)
		} else {
			log.Printf("No config at %s, using defaults", a.ConfigFile)
		}
	}

	if a.NoFlips {
		config.Alignment.SearchFlips = false
	}
	if a.Adjust != "" {
		sliders, err := align.ParseSliders(a.Adjust)
		if err != nil {
			return nil, fmt.Errorf("invalid --adjust: %w", err)
		}
		config.Adjust = sliders.Params()
	}

	a.Config = config
	return config, nil
}

// loadSource reads the electrode set named by --input, local or remote.
func (a *App) loadSource(ctx context.Context) (*align.LabeledPointSet, error) {
	if a.Input == "" {
		return nil, fmt.Errorf("no electrode file given (use --input)")
	}
	scale := a.Config.Units.InputScale

	var (
		set *align.LabeledPointSet
		err error
	)
	if align.IsRemote(a.Input) {
		set, err = align.FetchElectrodes(ctx, a.Input, scale)
	} else {
		set, err = align.LoadElectrodes(a.Input, scale)
	}
	if err != nil {
		return nil, err
	}
	log.Printf("[ALIGN] loaded %d electrodes from %s", set.Len(), a.Input)
	return set, nil
}

// RunAlign aligns the input against fiducials read from the --targets file.
func (a *App) RunAlign(ctx context.Context) error {
	config, err := a.loadConfig()
	if err != nil {
		return err
	}
	source, err := a.loadSource(ctx)
	if err != nil {
		return err
	}

	// Targets are picks in the same instrument units as the input.
	targets, err := align.LoadElectrodes(a.Targets, config.Units.InputScale)
	if err != nil {
		return fmt.Errorf("reading targets: %w", err)
	}
	picker, err := align.StaticPickerFromSet(targets)
	if err != nil {
		return fmt.Errorf("targets %s: %w", a.Targets, err)
	}

	a.State = align.NewStateTrackerWithCache(a.CachePath)
	a.State.SetSource(a.Input, source)
	a.State.SetAdjustment(config.Adjust)

	pipeline := &align.Pipeline{
		SearchFlips:    config.Alignment.SearchFlips,
		OnPicksChanged: a.State.UpdateStatus,
	}
	run, err := pipeline.Run(ctx, source, picker)
	if err != nil {
		return err
	}
	a.State.SetRun(run)

	a.printSummary(run.Alignment, config.Adjust)
	out := a.State.Output(config.Output.ExcludeFiducials)
	return a.writeOutputs(source, out, run.TargetFiducials.Points())
}

// RunReuse re-applies the cached alignment to the input without picking.
func (a *App) RunReuse(ctx context.Context) error {
	config, err := a.loadConfig()
	if err != nil {
		return err
	}

	rec, err := align.LoadAlignment(a.CachePath)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no cached alignment at %s (run with --targets or --serve first)", a.CachePath)
	}
	log.Printf("[CACHE] using alignment from %s (age %s)", a.CachePath, rec.Age().Round(time.Second))

	if rec.Source != "" && rec.Source != a.Input {
		log.Printf("[CACHE] warning: alignment was computed for %s, applying to %s", rec.Source, a.Input)
	}

	source, err := a.loadSource(ctx)
	if err != nil {
		return err
	}

	if a.Adjust != "" {
		rec.Adjustment = config.Adjust
		if err := align.SaveAlignment(a.CachePath, rec); err != nil {
			log.Printf("[CACHE] warning: failed to save adjustment: %v", err)
		}
	}

	out := rec.Apply(source)
	if config.Output.ExcludeFiducials {
		out = out.WithoutFiducials()
	}

	a.printSummary(rec.Alignment(), rec.Adjustment)
	return a.writeOutputs(source, out, rec.Targets.Points())
}

func (a *App) printSummary(al align.Alignment, adjust align.SimilarityParams) {
	fmt.Fprintln(a.out, "\nAlignment")
	fmt.Fprintln(a.out, "=========")
	fmt.Fprintf(a.out, "Flip: (%+.0f, %+.0f, %+.0f)\n", al.Flip.X, al.Flip.Y, al.Flip.Z)
	fmt.Fprintf(a.out, "Rotation: %.2f°\n", align.RotationAngle(al.Transform.Rotation))
	t := al.Transform.Translation
	fmt.Fprintf(a.out, "Translation: (%.4f, %.4f, %.4f)\n", t.X, t.Y, t.Z)
	fmt.Fprintf(a.out, "Residual: %.6f\n", al.Residual)
	for i, role := range align.FiducialRoles {
		fmt.Fprintf(a.out, "  %s error: %.6f\n", role, al.FiducialErrors[i])
	}
	if adjust.Scale > 0 && !adjust.IsIdentity() {
		fmt.Fprintf(a.out, "Adjustment: rot=(%.0f, %.0f, %.0f) offset=(%.3f, %.3f, %.3f) scale=%.2f\n",
			adjust.Rotation.X, adjust.Rotation.Y, adjust.Rotation.Z,
			adjust.Translation.X, adjust.Translation.Y, adjust.Translation.Z, adjust.Scale)
	}
}

// writeOutputs writes the electrode file and the optional GeoJSON and preview.
func (a *App) writeOutputs(source, out *align.LabeledPointSet, picks []r3.Vector) error {
	if a.Output != "" {
		if err := align.SaveElectrodes(a.Output, out); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Wrote %d electrodes to %s\n", out.Len(), a.Output)
	}

	if a.GeoJSONFile != "" {
		fc, err := align.ProjectToGeoJSON(out, a.Config.Render.Projection)
		if err != nil {
			return err
		}
		data, err := fc.MarshalJSON()
		if err != nil {
			return fmt.Errorf("encoding GeoJSON: %w", err)
		}
		if err := os.WriteFile(a.GeoJSONFile, data, 0644); err != nil {
			return fmt.Errorf("writing GeoJSON: %w", err)
		}
		fmt.Fprintf(a.out, "Wrote GeoJSON to %s\n", a.GeoJSONFile)
	}

	if a.PreviewFile != "" {
		if err := a.writePreview(align.NewPreview(a.Config.Render.Projection, source, out, picks)); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Wrote preview to %s\n", a.PreviewFile)
	}
	return nil
}

func (a *App) writePreview(preview *align.Preview) error {
	switch strings.ToLower(filepath.Ext(a.PreviewFile)) {
	case ".svg":
		r := align.NewVectorRenderer(preview)
		r.ApplyConfig(a.Config.Render)
		f, err := os.Create(a.PreviewFile)
		if err != nil {
			return fmt.Errorf("creating preview: %w", err)
		}
		defer func() { _ = f.Close() }()
		return r.RenderToSVG(f)
	case ".png":
		return align.NewProjectionRenderer(preview).SavePNG(a.PreviewFile)
	}
	return fmt.Errorf("unsupported preview format %q (use .svg or .png)", filepath.Ext(a.PreviewFile))
}

// RunService runs the interactive picking service until ctx is cancelled.
func (a *App) RunService(ctx context.Context) error {
	fmt.Fprintln(a.out, "Starting electroalign service...")
	if err := a.setupService(ctx); err != nil {
		return err
	}
	return a.serve(ctx)
}

// setupService loads the source and wires picker, MQTT and the aligner loop.
func (a *App) setupService(ctx context.Context) error {
	config, err := a.loadConfig()
	if err != nil {
		return err
	}
	source, err := a.loadSource(ctx)
	if err != nil {
		return err
	}
	if _, err := source.Fiducials(); err != nil {
		return err
	}

	a.State = align.NewStateTrackerWithCache(a.CachePath)
	a.State.SetSource(a.Input, source)
	if a.Adjust != "" || !config.Adjust.IsIdentity() {
		a.State.SetAdjustment(config.Adjust)
	}

	a.Picker = align.NewEventPicker(align.DefaultEventBuffer)
	submit := func(ev align.PickEvent) {
		if err := a.Picker.Submit(ev); err != nil {
			log.Printf("[PICK] dropped %s: %v", ev.Kind, err)
		}
	}

	if a.MqttMode {
		if a.mqttClient != nil {
			a.MQTTClient = align.AttachMQTT(a.mqttClient, config, submit)
		} else {
			client, err := align.InitMQTT(config, submit)
			if err != nil {
				return fmt.Errorf("failed to initialize MQTT: %w", err)
			}
			if client == nil {
				return fmt.Errorf("MQTT broker not configured in %s", a.ConfigFile)
			}
			a.MQTTClient = client
		}
		a.Publisher = align.NewPublisher(a.MQTTClient.GetClient(), a.MQTTClient.Prefix())
		fmt.Fprintln(a.out, "MQTT publisher initialized")
	}

	a.Aligner = align.NewAutoAligner(config, a.State, a.Picker, a.Publisher, a.Output)

	a.restoreRun(source)
	return nil
}

// restoreRun re-solves the cached picks so the service starts with the last result.
func (a *App) restoreRun(source *align.LabeledPointSet) {
	rec, err := align.LoadAlignment(a.CachePath)
	if err != nil {
		log.Printf("[CACHE] warning: %v", err)
		return
	}
	if rec == nil || rec.Source != a.Input {
		return
	}
	pipeline := &align.Pipeline{SearchFlips: a.Config.Alignment.SearchFlips}
	run, err := pipeline.Align(source, rec.Targets)
	if err != nil {
		log.Printf("[CACHE] cached picks no longer align: %v", err)
		return
	}
	a.State.SetRun(run)
	log.Printf("[CACHE] restored alignment from %s", a.CachePath)
}

// serve starts HTTP and the aligner loop and blocks until shutdown.
func (a *App) serve(ctx context.Context) error {
	if !a.MqttMode && !a.HttpMode {
		a.HttpMode = true
	}

	var srv *http.Server
	if a.HttpMode {
		srv = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a.State, a.Picker, a.Aligner, a.Config),
			ReadHeaderTimeout: 10 * time.Second,
		}
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			return fmt.Errorf("[HTTP] listen: %w", err)
		}
		a.httpAddr = ln.Addr().String()
		go func() {
			log.Printf("[HTTP] Starting server on %s", a.httpAddr)
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[HTTP] Server error: %v", err)
			}
		}()
	}

	loopErr := make(chan error, 1)
	go func() { loopErr <- a.Aligner.Run(ctx) }()

	a.printServiceInfo()

	var err error
	select {
	case <-ctx.Done():
	case err = <-loopErr:
	}

	fmt.Fprintln(a.out, "\nShutting down service...")
	a.Picker.Close()
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			log.Printf("[HTTP] shutdown: %v", serr)
		}
	}
	fmt.Fprintln(a.out, "Service stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) printServiceInfo() {
	fmt.Fprintln(a.out, "\nService Running")
	fmt.Fprintln(a.out, "===============")
	fmt.Fprintf(a.out, "Source: %s\n", a.Input)

	if a.MqttMode {
		prefix := a.MQTTClient.Prefix()
		fmt.Fprintln(a.out, "\nMQTT:")
		fmt.Fprintf(a.out, "  Actions: %s/{pick,undo,reset,done}\n", prefix)
		fmt.Fprintf(a.out, "  Status:  %s/status\n", prefix)
		fmt.Fprintf(a.out, "  Result:  %s/aligned\n", prefix)
	}

	if a.HttpMode {
		fmt.Fprintf(a.out, "\nHTTP endpoints (%s):\n", a.httpAddr)
		fmt.Fprintln(a.out, "  GET  /health             - Health check")
		fmt.Fprintln(a.out, "  GET  /status             - Pick session and alignment state")
		fmt.Fprintln(a.out, "  POST /pick               - Add a fiducial pick {x,y,z}")
		fmt.Fprintln(a.out, "  POST /undo, /reset, /done")
		fmt.Fprintln(a.out, "  GET|POST /adjust         - Manual adjustment")
		fmt.Fprintln(a.out, "  GET  /electrodes.txt     - Aligned electrodes")
		fmt.Fprintln(a.out, "  GET  /electrodes.geojson - Projected electrodes")
		fmt.Fprintln(a.out, "  GET  /preview.svg, /preview.png")
	}

	fmt.Fprintln(a.out, "\nPress Ctrl+C to stop")
}
