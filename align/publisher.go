package align

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// StatusMessage is published on <prefix>/status whenever the picks change.
type StatusMessage struct {
	PickStatus
	Message   string         `json:"message"`
	Picks     []PointPayload `json:"picks"`
	Timestamp int64          `json:"timestamp"`
}

// ElectrodePayload is one labeled point in JSON form.
type ElectrodePayload struct {
	Label string `json:"label"`
	PointPayload
}

// AlignedMessage is published on <prefix>/aligned after every completed run.
type AlignedMessage struct {
	Flip           AxisFlip           `json:"flip"`
	Rotation       Matrix3            `json:"rotation"`
	Translation    PointPayload       `json:"translation"`
	Residual       float64            `json:"residual"`
	FiducialErrors [3]float64         `json:"fiducialErrors"`
	Electrodes     []ElectrodePayload `json:"electrodes"`
	Timestamp      int64              `json:"timestamp"`
}

// NewAlignedMessage describes a run with the (possibly adjusted) output set.
func NewAlignedMessage(a Alignment, output *LabeledPointSet) AlignedMessage {
	msg := AlignedMessage{
		Flip:           a.Flip,
		Rotation:       a.Transform.Rotation,
		Translation:    NewPointPayload(a.Transform.Translation),
		Residual:       a.Residual,
		FiducialErrors: a.FiducialErrors,
		Electrodes:     make([]ElectrodePayload, 0, output.Len()),
		Timestamp:      time.Now().Unix(),
	}
	for _, e := range output.Electrodes() {
		msg.Electrodes = append(msg.Electrodes, ElectrodePayload{Label: e.Label, PointPayload: NewPointPayload(e.Position)})
	}
	return msg
}

// Publisher publishes pick status and alignment results as retained JSON.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool

	mu   sync.RWMutex
	last *StatusMessage
}

// NewPublisher creates a publisher under prefix (DefaultTopicPrefix if empty).
// A nil client disables publishing.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           1,
		retain:        true,
	}
}

// NewStatusMessage wraps status with its prompt and JSON-friendly picks.
func NewStatusMessage(status PickStatus, at time.Time) StatusMessage {
	msg := StatusMessage{
		PickStatus: status,
		Message:    status.Message(),
		Picks:      make([]PointPayload, 0, len(status.Picks)),
		Timestamp:  at.Unix(),
	}
	for _, pt := range status.Picks {
		msg.Picks = append(msg.Picks, NewPointPayload(pt))
	}
	return msg
}

// PublishStatus publishes the session status and the picks so far.
func (p *Publisher) PublishStatus(status PickStatus) error {
	m := NewStatusMessage(status, time.Now())
	msg := &m

	p.mu.Lock()
	p.last = msg
	p.mu.Unlock()

	return p.publish("status", msg)
}

// PublishAlignment publishes a completed alignment.
func (p *Publisher) PublishAlignment(msg AlignedMessage) error {
	if err := p.publish("aligned", msg); err != nil {
		return err
	}
	log.Printf("[MQTT] published alignment: %d electrodes, residual=%.6f", len(msg.Electrodes), msg.Residual)
	return nil
}

func (p *Publisher) publish(suffix string, v any) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	topic := fmt.Sprintf("%s/%s", p.publishPrefix, suffix)
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", suffix, err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// LastStatus returns the most recently published status, if any.
func (p *Publisher) LastStatus() (*StatusMessage, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return nil, false
	}
	cp := *p.last
	return &cp, true
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
