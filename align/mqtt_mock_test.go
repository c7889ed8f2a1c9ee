package align

import (
	"errors"
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient_ConnectRunsOnConnect(t *testing.T) {
	mock := NewMockClient()
	rec := &eventRecorder{}
	client := newMQTTClientWithMock(mock, DefaultConfig(), rec.handle)
	mock.SetOnConnect(client.onConnect)

	require.NoError(t, mock.Connect().Error())
	assert.True(t, client.IsConnected())
	assert.True(t, mock.Subscribed("electroalign/reset"))
}

func TestMockClient_ConnectError(t *testing.T) {
	mock := NewMockClient()
	called := false
	mock.SetOnConnect(func(mqtt.Client) { called = true })
	mock.SetConnectError(errors.New("refused"))

	assert.EqualError(t, mock.Connect().Error(), "refused")
	assert.False(t, mock.IsConnected())
	assert.False(t, called)
}

func TestMockClient_PublishRequiresConnection(t *testing.T) {
	mock := NewMockClient()
	assert.ErrorIs(t, mock.Publish("a", 0, false, "x").Error(), mqtt.ErrNotConnected)
	assert.ErrorIs(t, mock.Subscribe("a", 0, nil).Error(), mqtt.ErrNotConnected)

	mock.SetConnected(true)
	require.NoError(t, mock.Publish("a", 1, true, "x").Error())
	require.NoError(t, mock.Publish("b", 0, false, []byte("y")).Error())

	all := mock.Published()
	require.Len(t, all, 2)
	assert.Equal(t, PublishedMessage{Topic: "a", Payload: []byte("x"), QoS: 1, Retain: true}, all[0])

	_, ok := mock.LastPublished("c")
	assert.False(t, ok)
}

func TestMockClient_SubscribeMultipleAndUnsubscribe(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	var got []string
	handler := func(_ mqtt.Client, msg mqtt.Message) { got = append(got, msg.Topic()) }
	require.NoError(t, mock.SubscribeMultiple(map[string]byte{"x/pick": 1, "x/undo": 1}, handler).Error())

	mock.SimulateMessage("x/pick", nil)
	mock.SimulateMessage("x/other", nil)
	assert.Equal(t, []string{"x/pick"}, got)

	mock.Unsubscribe("x/pick")
	assert.False(t, mock.Subscribed("x/pick"))
	assert.True(t, mock.Subscribed("x/undo"))
}
