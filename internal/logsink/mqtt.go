package logsink

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Publisher is the part of an MQTT client the sink needs
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Message is the JSON document published for one tick of plugin logs
type Message struct {
	Plugin string    `json:"plugin"`
	Lines  []string  `json:"lines"`
	Time   time.Time `json:"time"`
}

// MQTT publishes plugin log lines to a broker topic. Publishing is fire and
// forget; the driver never waits on the broker.
type MQTT struct {
	client Publisher
	topic  string
	logger zerolog.Logger
	now    func() time.Time
}

// MQTTConfig holds the broker connection settings
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
}

// DialMQTT connects to the broker and returns a sink plus a function that
// disconnects it.
func DialMQTT(cfg MQTTConfig, logger zerolog.Logger) (*MQTT, func(), error) {
	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, nil, fmt.Errorf("mqtt connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}

	return NewMQTT(client, cfg.Topic, logger), func() { client.Disconnect(250) }, nil
}

// NewMQTT creates a sink publishing on topic through client
func NewMQTT(client Publisher, topic string, logger zerolog.Logger) *MQTT {
	return &MQTT{
		client: client,
		topic:  topic,
		logger: logger.With().Str("component", "mqtt").Logger(),
		now:    time.Now,
	}
}

// Log implements Sink
func (m *MQTT) Log(plugin string, lines []string) {
	payload, err := json.Marshal(Message{Plugin: plugin, Lines: lines, Time: m.now().UTC()})
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to encode plugin log")
		return
	}
	token := m.client.Publish(m.topic, 1, false, payload)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			m.logger.Warn().Err(token.Error()).Str("plugin", plugin).Msg("failed to publish plugin log")
		}
	}()
}
