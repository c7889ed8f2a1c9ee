package align

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/geo/r3"
)

// PointPayload is the JSON form of a point: {"x":..,"y":..,"z":..}.
type PointPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// NewPointPayload converts v.
func NewPointPayload(v r3.Vector) PointPayload {
	return PointPayload{X: v.X, Y: v.Y, Z: v.Z}
}

// Vector converts the payload back to an r3.Vector.
func (p PointPayload) Vector() r3.Vector {
	return vec(p.X, p.Y, p.Z)
}

// PickPayload is the body of a pick request over MQTT or HTTP.
type PickPayload struct {
	PointPayload
	Normal *PointPayload `json:"normal,omitempty"`
	Camera *PointPayload `json:"camera,omitempty"`
}

// ParsePickPayload decodes a pick request into an EventPick event.
func ParsePickPayload(data []byte) (PickEvent, error) {
	var p PickPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return PickEvent{}, fmt.Errorf("decoding pick payload: %w", err)
	}
	ev := PickEvent{Kind: EventPick, Point: p.Vector()}
	if p.Normal != nil {
		n := p.Normal.Vector()
		ev.Normal = &n
	}
	if p.Camera != nil {
		c := p.Camera.Vector()
		ev.Camera = &c
	}
	return ev, nil
}

// PickHandler receives operator events decoded from MQTT.
type PickHandler func(ev PickEvent)

// MQTTClient subscribes to the pick action topics under the configured prefix.
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	prefix      string
	handler     PickHandler
	isConnected bool
	mu          sync.RWMutex
}

// InitMQTT creates and connects the MQTT client. The broker comes from
// MQTT_BROKER or the config; if neither is set MQTT is disabled and this
// returns nil, nil.
func InitMQTT(config *Config, handler PickHandler) (*MQTTClient, error) {
	if config == nil {
		config = DefaultConfig()
	}

	broker := envOr("MQTT_BROKER", config.MQTT.Broker)
	if broker == "" {
		log.Println("[MQTT] disabled: MQTT_BROKER not set")
		return nil, nil
	}
	if handler == nil {
		return nil, fmt.Errorf("MQTT enabled but no pick handler provided")
	}

	c := &MQTTClient{
		config:  config,
		prefix:  envOr("MQTT_TOPIC_PREFIX", config.MQTT.TopicPrefix),
		handler: handler,
	}
	if c.prefix == "" {
		c.prefix = DefaultTopicPrefix
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(envOr("MQTT_CLIENT_ID", config.MQTT.ClientID, DefaultTopicPrefix))

	if username := envOr("MQTT_USERNAME", config.MQTT.Username); username != "" {
		opts.SetUsername(username)
		opts.SetPassword(envOr("MQTT_PASSWORD", config.MQTT.Password))
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	// Picks must reach the session in the order they were made.
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Println("[MQTT] reconnecting...")
	})

	c.client = mqtt.NewClient(opts)
	go c.connectWithRetry()

	return c, nil
}

// envOr returns the first non-empty value among the environment variable key
// and the fallbacks.
func envOr(key string, fallbacks ...string) string {
	if key != "" {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	for _, f := range fallbacks {
		if f != "" {
			return f
		}
	}
	return ""
}

// connectWithRetry connects with exponential backoff capped at one minute.
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] connected")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] retrying in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// ActionTopic returns the topic for a pick action, e.g. "electroalign/undo".
func (c *MQTTClient) ActionTopic(kind PickEventKind) string {
	return c.prefix + "/" + kind.String()
}

// onConnect (re)subscribes to every action topic.
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	for _, kind := range []PickEventKind{EventPick, EventUndo, EventReset, EventDone} {
		topic := c.ActionTopic(kind)
		token := client.Subscribe(topic, 1, c.createMessageHandler(kind))
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("[MQTT] error subscribing to %s: %v", topic, token.Error())
			continue
		}
		log.Printf("[MQTT] subscribed to %s", topic)
	}
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

// createMessageHandler decodes messages on one action topic into PickEvents.
func (c *MQTTClient) createMessageHandler(kind PickEventKind) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		ev := PickEvent{Kind: kind}
		if kind == EventPick {
			var err error
			ev, err = ParsePickPayload(msg.Payload())
			if err != nil {
				log.Printf("[MQTT] %s: %v", msg.Topic(), err)
				return
			}
			if c.config.Alignment.RejectBackFacing && !ev.Visible() {
				log.Printf("[MQTT] dropping back-facing pick at (%.4f, %.4f, %.4f)",
					ev.Point.X, ev.Point.Y, ev.Point.Z)
				return
			}
		}
		c.handler(ev)
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// Prefix returns the topic prefix in use.
func (c *MQTTClient) Prefix() string {
	return c.prefix
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// AttachMQTT wraps an already created client, e.g. one shared with another
// component, and subscribes immediately if it is connected.
func AttachMQTT(client mqtt.Client, config *Config, handler PickHandler) *MQTTClient {
	c := newMQTTClientWithMock(client, config, handler)
	if client.IsConnected() {
		c.onConnect(client)
	}
	return c
}

// newMQTTClientWithMock wires an MQTTClient around an existing mqtt.Client.
func newMQTTClientWithMock(client mqtt.Client, config *Config, handler PickHandler) *MQTTClient {
	prefix := strings.TrimSuffix(config.MQTT.TopicPrefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &MQTTClient{
		client:  client,
		config:  config,
		prefix:  prefix,
		handler: handler,
	}
}
