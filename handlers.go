package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/kwv/electroalign/align"
)

const maxRequestBody = 1 << 16

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(state *align.StateTracker, picker *align.EventPicker, aligner *align.AutoAligner, config *align.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		writeJSON(w, http.StatusOK, struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Aligned   bool      `json:"aligned"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Aligned:   state.HasRun(),
		})
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, state.Snapshot())
	})

	// Operator actions are queued for the aligner loop and answered with 202.
	mux.HandleFunc("POST /pick", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			http.Error(w, "reading body", http.StatusBadRequest)
			return
		}
		ev, err := align.ParsePickPayload(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if config.Alignment.RejectBackFacing && !ev.Visible() {
			http.Error(w, "pick is on a back-facing surface", http.StatusUnprocessableEntity)
			return
		}
		submitEvent(w, picker, ev)
	})
	for _, kind := range []align.PickEventKind{align.EventUndo, align.EventReset, align.EventDone} {
		ev := align.PickEvent{Kind: kind}
		mux.HandleFunc("POST /"+kind.String(), func(w http.ResponseWriter, r *http.Request) {
			submitEvent(w, picker, ev)
		})
	}

	mux.HandleFunc("GET /adjust", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, state.Adjustment())
	})

	// Accepts either ?sliders=rx,ry,rz,tx,ty,tz,scale or a SimilarityParams body.
	mux.HandleFunc("POST /adjust", func(w http.ResponseWriter, r *http.Request) {
		params := align.IdentitySimilarity()
		if s := r.URL.Query().Get("sliders"); s != "" {
			sliders, err := align.ParseSliders(s)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			params = sliders.Params()
		} else if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&params); err != nil {
			http.Error(w, fmt.Sprintf("decoding adjustment: %v", err), http.StatusBadRequest)
			return
		}

		if err := aligner.Adjust(params); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("[HTTP] adjustment set: rot=(%.0f,%.0f,%.0f) scale=%.2f",
			params.Rotation.X, params.Rotation.Y, params.Rotation.Z, params.Scale)
		writeJSON(w, http.StatusOK, state.Adjustment())
	})

	mux.HandleFunc("GET /electrodes.txt", func(w http.ResponseWriter, r *http.Request) {
		out := state.Output(config.Output.ExcludeFiducials)
		if out == nil {
			http.Error(w, "No alignment available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := align.WriteElectrodes(w, out); err != nil {
			log.Printf("[HTTP] Error writing electrodes: %v", err)
		}
	})

	mux.HandleFunc("GET /electrodes.geojson", func(w http.ResponseWriter, r *http.Request) {
		out := state.Output(config.Output.ExcludeFiducials)
		if out == nil {
			http.Error(w, "No alignment available", http.StatusServiceUnavailable)
			return
		}
		proj := projectionParam(r, config)
		fc, err := align.ProjectToGeoJSON(out, proj)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, err := fc.MarshalJSON()
		if err != nil {
			http.Error(w, "encoding GeoJSON", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(data)
	})

	mux.HandleFunc("GET /preview.svg", func(w http.ResponseWriter, r *http.Request) {
		preview, ok := currentPreview(w, r, state, config)
		if !ok {
			return
		}
		renderer := align.NewVectorRenderer(preview)
		renderer.ApplyConfig(config.Render)
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w); err != nil {
			log.Printf("[HTTP] Error rendering SVG preview: %v", err)
		}
	})

	// Raster preview; ?style=vector renders through the vector pipeline instead.
	mux.HandleFunc("GET /preview.png", func(w http.ResponseWriter, r *http.Request) {
		preview, ok := currentPreview(w, r, state, config)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")

		var err error
		if r.URL.Query().Get("style") == "vector" {
			renderer := align.NewVectorRenderer(preview)
			renderer.ApplyConfig(config.Render)
			err = renderer.RenderToPNG(w)
		} else {
			err = align.NewProjectionRenderer(preview).EncodePNG(w)
		}
		if err != nil {
			log.Printf("[HTTP] Error encoding preview PNG: %v", err)
		}
	})

	return mux
}

func submitEvent(w http.ResponseWriter, picker *align.EventPicker, ev align.PickEvent) {
	if err := picker.Submit(ev); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, align.ErrPickerClosed) {
			status = http.StatusGone
		}
		http.Error(w, err.Error(), status)
		return
	}
	log.Printf("[HTTP] queued %s", ev.Kind)
	writeJSON(w, http.StatusAccepted, map[string]string{"queued": ev.Kind.String()})
}

func projectionParam(r *http.Request, config *align.Config) align.Projection {
	if p := r.URL.Query().Get("projection"); p != "" {
		return align.Projection(p)
	}
	return config.Render.Projection
}

// currentPreview builds the preview for the latest state, answering 400 or
// 503 itself when there is nothing to draw.
func currentPreview(w http.ResponseWriter, r *http.Request, state *align.StateTracker, config *align.Config) (*align.Preview, bool) {
	proj := projectionParam(r, config)
	if !proj.Valid() {
		http.Error(w, fmt.Sprintf("unknown projection %q", proj), http.StatusBadRequest)
		return nil, false
	}

	_, source := state.Source()
	preview := align.NewPreview(proj, source, state.Output(config.Output.ExcludeFiducials), state.Status().Picks)
	if !preview.HasDrawableContent() {
		log.Printf("Warning: no drawable content; endpoint=%s", r.URL.Path)
		http.Error(w, "No drawable content", http.StatusServiceUnavailable)
		return nil, false
	}
	return preview, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Error encoding response: %v", err)
	}
}
