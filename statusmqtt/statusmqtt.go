package statusmqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"ringflex/devicestate"
)

// Publisher delivers one payload to topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
	Close()
}

// Source is read on every poll. *devicestate.Machine satisfies it.
type Source interface {
	Snapshot() devicestate.Snapshot
}

// Status is the JSON document published on the status topic.
type Status struct {
	State    string   `json:"state"`
	Value    *float32 `json:"value,omitempty"`
	Stretch  uint8    `json:"stretch"`
	Center   uint8    `json:"center,omitempty"`
	Min      uint8    `json:"min,omitempty"`
	Max      uint8    `json:"max,omitempty"`
	Attempts int      `json:"attempts"`
	Probes   int      `json:"probes"`
	Reason   string   `json:"reason,omitempty"`
}

// FromSnapshot converts a machine snapshot to its published form.
func FromSnapshot(s devicestate.Snapshot) Status {
	st := Status{
		State:    s.State.String(),
		Stretch:  s.Stretch,
		Attempts: s.Attempts,
		Probes:   s.Probes,
		Reason:   s.Reason,
	}
	if s.HasValue {
		v := s.Value
		st.Value = &v
	}
	if s.HasProfile {
		st.Center = s.Profile.Center
		st.Min = s.Profile.Min
		st.Max = s.Profile.Max
	}
	return st
}

// Mirror publishes the machine status whenever it changes.
type Mirror struct {
	pub      Publisher
	topic    string
	interval time.Duration
	last     []byte
}

// New creates a Mirror polling every interval.
func New(pub Publisher, topic string, interval time.Duration) *Mirror {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Mirror{pub: pub, topic: topic, interval: interval}
}

// Run polls src until ctx is done. Publish failures are logged and retried
// on the next change.
func (m *Mirror) Run(ctx context.Context, src Source) error {
	defer m.pub.Close()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		m.Poll(src)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll publishes the current status if it differs from the last one sent.
func (m *Mirror) Poll(src Source) bool {
	payload, err := json.Marshal(FromSnapshot(src.Snapshot()))
	if err != nil {
		return false
	}
	if string(payload) == string(m.last) {
		return false
	}
	if err := m.pub.Publish(m.topic, payload); err != nil {
		log.Warn().Str("component", "mqtt").Err(err).Msg("status publish failed")
		return false
	}
	m.last = payload
	return true
}

type pahoPublisher struct {
	client mqtt.Client
}

// Dial connects to broker and returns a Publisher sending retained QoS 1
// messages.
func Dial(broker, clientID string) (Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	log.Info().Str("component", "mqtt").Str("broker", broker).Msg("connected")
	return &pahoPublisher{client: client}, nil
}

func (p *pahoPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("mqtt publish %s: timed out", topic)
	}
	return token.Error()
}

func (p *pahoPublisher) Close() {
	p.client.Disconnect(250)
}
