package store

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTBroker adapts an MQTT client to the Broker interface. Snapshots are
// published retained at QoS 1 so a late subscriber immediately sees the
// latest fleet state.
type MQTTBroker struct {
	client mqtt.Client
}

// NewMQTTBroker connects to the broker at the given URL.
func NewMQTTBroker(brokerURL, clientID string) (*MQTTBroker, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout: %s", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &MQTTBroker{client: client}, nil
}

// Publish sends a retained snapshot to the topic.
func (b *MQTTBroker) Publish(topic string, payload []byte) error {
	token := b.client.Publish(topic, 1, true, payload)
	token.Wait()
	return token.Error()
}

// Subscribe registers a handler for the topic.
func (b *MQTTBroker) Subscribe(topic string, handler func(payload []byte)) error {
	token := b.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	token.Wait()
	return token.Error()
}

// Unsubscribe releases the topic.
func (b *MQTTBroker) Unsubscribe(topic string) error {
	token := b.client.Unsubscribe(topic)
	token.Wait()
	return token.Error()
}

// Close disconnects from the broker.
func (b *MQTTBroker) Close() {
	b.client.Disconnect(250)
}
