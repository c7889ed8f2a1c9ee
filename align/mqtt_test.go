package align

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMQTT_Disabled(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	client, err := InitMQTT(DefaultConfig(), func(PickEvent) {})
	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestInitMQTT_NoHandler(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	config := DefaultConfig()
	config.MQTT.Broker = "tcp://localhost:1883"

	_, err := InitMQTT(config, nil)
	assert.Error(t, err)
}

func TestEnvOr(t *testing.T) {
	t.Setenv("ELECTROALIGN_TEST_VAR", "")
	assert.Equal(t, "fallback", envOr("ELECTROALIGN_TEST_VAR", "", "fallback"))
	assert.Equal(t, "", envOr("ELECTROALIGN_TEST_VAR"))

	t.Setenv("ELECTROALIGN_TEST_VAR", "from-env")
	assert.Equal(t, "from-env", envOr("ELECTROALIGN_TEST_VAR", "fallback"))
}

func TestMQTTClient_IsConnected(t *testing.T) {
	client := &MQTTClient{}
	assert.False(t, client.IsConnected(), "New client should not be connected")

	client.setConnected(true)
	assert.True(t, client.IsConnected())

	client.setConnected(false)
	assert.False(t, client.IsConnected())
}

func TestMQTTClient_ActionTopics(t *testing.T) {
	config := DefaultConfig()
	config.MQTT.TopicPrefix = "lab/scanner1/"

	client := newMQTTClientWithMock(NewMockClient(), config, func(PickEvent) {})
	assert.Equal(t, "lab/scanner1/pick", client.ActionTopic(EventPick))
	assert.Equal(t, "lab/scanner1/done", client.ActionTopic(EventDone))
	assert.Equal(t, "lab/scanner1", client.Prefix())
}

// eventRecorder collects events delivered by the MQTT handlers.
type eventRecorder struct {
	mu     sync.Mutex
	events []PickEvent
}

func (r *eventRecorder) handle(ev PickEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []PickEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PickEvent(nil), r.events...)
}

func connectedMockClient(t *testing.T, config *Config) (*MockClient, *MQTTClient, *eventRecorder) {
	t.Helper()
	mock := NewMockClient()
	mock.SetConnected(true)
	rec := &eventRecorder{}
	client := newMQTTClientWithMock(mock, config, rec.handle)
	client.onConnect(mock)
	return mock, client, rec
}

func TestMQTTClient_SubscribesActionTopics(t *testing.T) {
	mock, client, _ := connectedMockClient(t, DefaultConfig())

	assert.True(t, client.IsConnected())
	for _, topic := range []string{"electroalign/pick", "electroalign/undo", "electroalign/reset", "electroalign/done"} {
		assert.True(t, mock.Subscribed(topic), "expected subscription to %s", topic)
	}
}

func TestMQTTClient_SubscribeError(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	mock.SetSubscribeError(errors.New("not authorized"))

	client := newMQTTClientWithMock(mock, DefaultConfig(), func(PickEvent) {})
	client.onConnect(mock)

	assert.False(t, mock.Subscribed("electroalign/pick"))
	assert.True(t, client.IsConnected())
}

func TestMQTTClient_MessageHandling(t *testing.T) {
	mock, _, rec := connectedMockClient(t, DefaultConfig())

	mock.SimulateMessage("electroalign/pick", []byte(`{"x":0.01,"y":0.1,"z":-0.02}`))
	mock.SimulateMessage("electroalign/pick", []byte(`not json`))
	mock.SimulateMessage("electroalign/undo", nil)
	mock.SimulateMessage("electroalign/reset", []byte(`{}`))
	mock.SimulateMessage("electroalign/done", nil)

	events := rec.all()
	require.Len(t, events, 4, "malformed pick should be dropped")
	assert.Equal(t, EventPick, events[0].Kind)
	assert.Equal(t, vec(0.01, 0.1, -0.02), events[0].Point)
	assert.Equal(t, EventUndo, events[1].Kind)
	assert.Equal(t, EventReset, events[2].Kind)
	assert.Equal(t, EventDone, events[3].Kind)
}

func TestMQTTClient_RejectBackFacing(t *testing.T) {
	front := []byte(`{"x":0,"y":0,"z":0,"normal":{"x":0,"y":0,"z":1},"camera":{"x":0,"y":0,"z":5}}`)
	back := []byte(`{"x":0,"y":0,"z":0,"normal":{"x":0,"y":0,"z":1},"camera":{"x":0,"y":0,"z":-5}}`)

	t.Run("enabled", func(t *testing.T) {
		config := DefaultConfig()
		config.Alignment.RejectBackFacing = true
		mock, _, rec := connectedMockClient(t, config)

		mock.SimulateMessage("electroalign/pick", back)
		mock.SimulateMessage("electroalign/pick", front)
		assert.Len(t, rec.all(), 1)
	})

	t.Run("disabled", func(t *testing.T) {
		mock, _, rec := connectedMockClient(t, DefaultConfig())

		mock.SimulateMessage("electroalign/pick", back)
		assert.Len(t, rec.all(), 1)
	})
}

func TestParsePickPayload(t *testing.T) {
	ev, err := ParsePickPayload([]byte(`{"x":1,"y":2,"z":3,"normal":{"x":0,"y":1,"z":0}}`))
	require.NoError(t, err)
	assert.Equal(t, EventPick, ev.Kind)
	assert.Equal(t, vec(1, 2, 3), ev.Point)
	require.NotNil(t, ev.Normal)
	assert.Equal(t, vec(0, 1, 0), *ev.Normal)
	assert.Nil(t, ev.Camera)
	assert.True(t, ev.Visible(), "events without a camera are visible")

	_, err = ParsePickPayload([]byte(`[1,2,3]`))
	assert.Error(t, err)
}

func TestMQTTClient_Disconnect(t *testing.T) {
	mock, client, _ := connectedMockClient(t, DefaultConfig())

	client.Disconnect()
	assert.False(t, client.IsConnected())
	assert.False(t, mock.IsConnected())
}

func TestAttachMQTT(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	rec := &eventRecorder{}

	client := AttachMQTT(mock, DefaultConfig(), rec.handle)
	assert.True(t, client.IsConnected())
	assert.True(t, mock.Subscribed("electroalign/undo"))

	mock.SimulateMessage("electroalign/undo", nil)
	assert.Len(t, rec.all(), 1)

	offline := NewMockClient()
	AttachMQTT(offline, DefaultConfig(), rec.handle)
	assert.False(t, offline.Subscribed("electroalign/pick"))
}
