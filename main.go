package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kwv/electroalign/align"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line.
type AppOptions struct {
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
	Serve       bool
	MqttMode    bool
	HttpMode    bool
	HttpPort    int
}

// Runner is implemented by App; tests substitute a recorder.
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunAlign(ctx context.Context) error
	RunReuse(ctx context.Context) error
	RunService(ctx context.Context) error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("electroalign", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.Input, "input", "", "Electrode file (label x y z) or http(s) URL")
	fs.StringVar(&opts.Output, "output", "aligned-electrodes.txt", "Output file for aligned electrodes")
	fs.StringVar(&opts.Targets, "targets", "", "File with the picked nas/lhj/rhj target fiducials (batch mode)")
	fs.BoolVar(&opts.NoFlips, "no-flips", false, "Disable the axis flip search")
	fs.StringVar(&opts.Adjust, "adjust", "", "Manual adjustment sliders: rx,ry,rz (deg),tx,ty,tz (mm),scale (%)")
	fs.StringVar(&opts.CachePath, "cache", align.DefaultAlignmentCachePath, "Path to alignment cache file")
	fs.BoolVar(&opts.Reuse, "reuse", false, "Re-apply the cached alignment without picking")
	fs.StringVar(&opts.GeoJSONFile, "geojson", "", "Also write the aligned electrodes as projected GeoJSON")
	fs.StringVar(&opts.PreviewFile, "preview", "", "Also write a preview image (.svg or .png)")
	fs.BoolVar(&opts.Serve, "serve", false, "Run the interactive picking service")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Accept picks and publish results over MQTT")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable the HTTP API")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "electroalign version: %s\n", Version)
	app.ApplyOptions(opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case opts.Serve || opts.MqttMode || opts.HttpMode:
		return app.RunService(ctx)
	case opts.Reuse:
		return app.RunReuse(ctx)
	case opts.Targets != "":
		return app.RunAlign(ctx)
	}

	fmt.Fprintln(out, "Nothing to do.")
	fmt.Fprintln(out, "Use --input FILE --targets FILE to align against picked fiducials")
	fmt.Fprintln(out, "Use --input FILE --reuse to re-apply the cached alignment")
	fmt.Fprintln(out, "Use --input FILE --serve to pick fiducials over HTTP")
	fmt.Fprintln(out, "Use --input FILE --mqtt to pick fiducials over MQTT")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - units, flip search, MQTT and render settings")
	fmt.Fprintf(out, "  %s - last alignment (cached)\n", align.DefaultAlignmentCachePath)
	return nil
}
