package mqtt

// MQTTClient is the part of the broker connection the bridge and the
// discovery publisher use.
type MQTTClient interface {
	GetPrefix() string
	Topics() *Topics
	Publish(topic string, payload interface{}, retain bool)
	Subscribe(topic string, handler func(payload []byte)) error
	Unsubscribe(topic string)
}
