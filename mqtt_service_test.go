package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/kwv/electroalign/align"
)

// startMQTTService runs the service against a connected mock broker client.
func startMQTTService(t *testing.T) (*App, *align.MockClient, context.CancelFunc, <-chan error) {
	t.Helper()
	app, _, _ := newTestApp(t)
	app.MqttMode = true

	mock := align.NewMockClient()
	mock.SetConnected(true)
	app.mqttClient = mock

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.RunService(ctx) }()

	waitFor(t, func() bool { return mock.Subscribed("electroalign/pick") })
	return app, mock, cancel, done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func stopService(t *testing.T, cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunService: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

// TestMQTTService_PickFlow drives a full session over MQTT and checks the
// written file and the published result.
func TestMQTTService_PickFlow(t *testing.T) {
	app, mock, cancel, done := startMQTTService(t)
	output := app.Output

	for _, payload := range []string{
		`{"x":0,"y":0.1,"z":0.05}`,
		`{"x":1,"y":1,"z":1}`,
	} {
		mock.SimulateMessage("electroalign/pick", []byte(payload))
	}
	mock.SimulateMessage("electroalign/undo", nil)
	mock.SimulateMessage("electroalign/pick", []byte(`{"x":-0.08,"y":0,"z":0.05}`))
	mock.SimulateMessage("electroalign/pick", []byte(`{"x":0.08,"y":0,"z":0.05}`))
	mock.SimulateMessage("electroalign/done", nil)

	waitFor(t, func() bool {
		_, ok := mock.LastPublished("electroalign/aligned")
		return ok
	})

	msg, _ := mock.LastPublished("electroalign/aligned")
	var aligned align.AlignedMessage
	if err := json.Unmarshal(msg.Payload, &aligned); err != nil {
		t.Fatalf("decode aligned message: %v", err)
	}
	if len(aligned.Electrodes) != 5 {
		t.Errorf("published %d electrodes, want 5", len(aligned.Electrodes))
	}
	if !msg.Retain {
		t.Error("aligned message should be retained")
	}

	if _, ok := mock.LastPublished("electroalign/status"); !ok {
		t.Error("no status published")
	}

	stopService(t, cancel, done)

	assertPoint(t, readAligned(t, output), "Cz", 0, 0, 0.15)
	if mock.IsConnected() {
		t.Error("client should be disconnected on shutdown")
	}
}

// TestMQTTService_StatusTracksPicks checks the retained status follows undo.
func TestMQTTService_StatusTracksPicks(t *testing.T) {
	_, mock, cancel, done := startMQTTService(t)
	defer stopService(t, cancel, done)

	pickCount := func() int {
		msg, ok := mock.LastPublished("electroalign/status")
		if !ok {
			return -1
		}
		var status struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(msg.Payload, &status); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		return status.Count
	}

	mock.SimulateMessage("electroalign/pick", []byte(`{"x":0,"y":0.1,"z":0.05}`))
	waitFor(t, func() bool { return pickCount() == 1 })

	mock.SimulateMessage("electroalign/undo", nil)
	waitFor(t, func() bool { return pickCount() == 0 })
}

func TestMQTTService_BrokerNotConfigured(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	app, out, _ := newTestApp(t)
	app.MqttMode = true

	err := app.RunService(context.Background())
	if err == nil || !strings.Contains(err.Error(), "MQTT broker not configured") {
		t.Fatalf("expected broker error, got %v", err)
	}
	if strings.Contains(out.String(), "Service Running") {
		t.Error("service should not start without a broker")
	}
}

func TestMQTTService_ConfigPrefix(t *testing.T) {
	app, _, dir := newTestApp(t)
	writeFile(t, dir, "config.yaml", "mqtt:\n  topicPrefix: lab/cap1\n")
	app.MqttMode = true
	mock := align.NewMockClient()
	mock.SetConnected(true)
	app.mqttClient = mock
	app.out = &bytes.Buffer{}

	if err := app.setupService(context.Background()); err != nil {
		t.Fatalf("setupService: %v", err)
	}
	if !mock.Subscribed("lab/cap1/done") {
		t.Error("expected subscription under the configured prefix")
	}
	if app.Publisher == nil {
		t.Error("publisher not initialized")
	}
}
