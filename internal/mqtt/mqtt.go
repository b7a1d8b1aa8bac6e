package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/daemonp/visonic2mqtt/internal/config"
	"github.com/daemonp/visonic2mqtt/internal/log"
)

const (
	offlinePayload = "offline"
	onlinePayload  = "online"
)

var _ MQTTClient = (*MQTT)(nil)

type MQTT struct {
	config *config.MQTTConfig
	log    *log.Logger
	client mqtt.Client
	topics *Topics

	mu            sync.Mutex
	subscriptions map[string]func([]byte)
}

func NewMQTT(cfg *config.MQTTConfig, logger *log.Logger) *MQTT {
	return &MQTT{
		config:        cfg,
		log:           logger,
		topics:        NewTopics(cfg.Prefix),
		subscriptions: make(map[string]func([]byte)),
	}
}

func (m *MQTT) GetPrefix() string {
	return m.config.Prefix
}

func (m *MQTT) Topics() *Topics {
	return m.topics
}

func (m *MQTT) Connect() error {
	opts := m.clientOptions()
	m.client = mqtt.NewClient(opts)

	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	m.log.Info("Connected to MQTT broker: %s", opts.Servers[0])
	return nil
}

func (m *MQTT) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(m.config.Host, m.config.Port))
	opts.SetClientID(m.config.ClientID)
	opts.SetUsername(m.config.Username)
	opts.SetPassword(m.config.Password)
	opts.SetCleanSession(m.config.Clean)
	opts.SetKeepAlive(keepalive(m.config.Keepalive))
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(m.onConnect)
	opts.SetConnectionLostHandler(m.onDisconnect)

	opts.SetWill(m.topics.Status(), offlinePayload, byte(m.config.QOS), m.config.Retain)
	return opts
}

// onConnect also runs after every automatic reconnect, so it restores the
// command subscriptions the broker may have dropped.
func (m *MQTT) onConnect(client mqtt.Client) {
	m.log.Info("MQTT connection established")
	m.publish(m.topics.Status(), onlinePayload, m.config.Retain)

	m.mu.Lock()
	subs := make(map[string]func([]byte), len(m.subscriptions))
	for topic, handler := range m.subscriptions {
		subs[topic] = handler
	}
	m.mu.Unlock()

	for topic, handler := range subs {
		if err := m.subscribe(topic, handler); err != nil {
			m.log.Error("%v", err)
		}
	}
}

func (m *MQTT) onDisconnect(client mqtt.Client, err error) {
	m.log.Error("MQTT connection lost: %v", err)
}

func (m *MQTT) Subscribe(topic string, handler func(payload []byte)) error {
	m.mu.Lock()
	m.subscriptions[topic] = handler
	m.mu.Unlock()

	if m.client == nil || !m.client.IsConnected() {
		return nil
	}
	return m.subscribe(topic, handler)
}

func (m *MQTT) subscribe(topic string, handler func([]byte)) error {
	token := m.client.Subscribe(topic, byte(m.config.QOS), func(_ mqtt.Client, msg mqtt.Message) {
		m.log.Debug("Received message on topic %s: %s", msg.Topic(), msg.Payload())
		handler(msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}
	m.log.Debug("Subscribed to topic: %s", topic)
	return nil
}

func (m *MQTT) Unsubscribe(topic string) {
	m.mu.Lock()
	delete(m.subscriptions, topic)
	m.mu.Unlock()

	if m.client == nil || !m.client.IsConnected() {
		return
	}
	if token := m.client.Unsubscribe(topic); token.Wait() && token.Error() != nil {
		m.log.Error("Failed to unsubscribe from topic %s: %v", topic, token.Error())
	}
}

// Publish sends strings and byte slices as they are and anything else as
// JSON.
func (m *MQTT) Publish(topic string, payload interface{}, retain bool) {
	m.publish(topic, payload, retain)
}

func (m *MQTT) publish(topic string, message interface{}, retain bool) {
	payload, err := encode(message)
	if err != nil {
		m.log.Error("Failed to marshal message for topic %s: %v", topic, err)
		return
	}
	if m.client == nil {
		m.log.Warn("Dropping message to %s: not connected", topic)
		return
	}

	token := m.client.Publish(topic, byte(m.config.QOS), retain, payload)
	if token.Wait() && token.Error() != nil {
		m.log.Error("Failed to publish message to topic %s: %v", topic, token.Error())
	} else {
		m.log.Debug("Published message to topic: %s", topic)
	}
}

func (m *MQTT) Close() {
	if m.client != nil && m.client.IsConnected() {
		m.publish(m.topics.Status(), offlinePayload, m.config.Retain)
		m.client.Disconnect(250)
	}
}

func encode(message interface{}) ([]byte, error) {
	switch v := message.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}
