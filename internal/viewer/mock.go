package viewer

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/sweepscan/internal/fusion"
)

// MockController counts commands and returns a fixed snapshot.
type MockController struct {
	mu       sync.Mutex
	counts   map[string]int
	Snap     fusion.Snapshot
	done     chan struct{}
	stopOnce sync.Once
}

// NewMockController returns a running mock controller.
func NewMockController() *MockController {
	return &MockController{counts: make(map[string]int), done: make(chan struct{})}
}

func (m *MockController) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name]++
}

func (m *MockController) Reset()      { m.record(CommandReset) }
func (m *MockController) ToggleMode() { m.record(CommandToggle) }
func (m *MockController) Advance()    { m.record(CommandAdvance) }

// Count returns how many times the named command was received.
func (m *MockController) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

func (m *MockController) Snapshot() fusion.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Snap
}

func (m *MockController) Done() <-chan struct{} { return m.done }

// Stop makes Done report the loop as exited.
func (m *MockController) Stop() { m.stopOnce.Do(func() { close(m.done) }) }

// MockToken is a completed mqtt.Token.
type MockToken struct {
	err error
}

func (t *MockToken) Wait() bool                     { return true }
func (t *MockToken) WaitTimeout(time.Duration) bool { return true }
func (t *MockToken) Error() error                   { return t.err }

func (t *MockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// MockMessage is a published MQTT message.
type MockMessage struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// MockMQTTClient records publishes and lets tests deliver messages to
// subscribers.
type MockMQTTClient struct {
	mu         sync.Mutex
	connected  bool
	PublishErr error
	published  []MockMessage
	handlers   map[string]mqtt.MessageHandler
}

// NewMockMQTTClient returns a connected mock client.
func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *MockMQTTClient) SetConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
}

func (c *MockMQTTClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return &MockToken{err: mqtt.ErrNotConnected}
	}
	if c.PublishErr != nil {
		return &MockToken{err: c.PublishErr}
	}
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}
	c.published = append(c.published, MockMessage{Topic: topic, Payload: b, QoS: qos, Retained: retained})
	return &MockToken{}
}

func (c *MockMQTTClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return &MockToken{err: mqtt.ErrNotConnected}
	}
	c.handlers[topic] = callback
	return &MockToken{}
}

// Published returns every message published so far.
func (c *MockMQTTClient) Published() []MockMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]MockMessage(nil), c.published...)
}

// Deliver hands payload to the subscriber of topic, if any.
func (c *MockMQTTClient) Deliver(topic string, payload []byte) {
	c.mu.Lock()
	h := c.handlers[topic]
	c.mu.Unlock()
	if h != nil {
		h(nil, &mockMessage{topic: topic, payload: payload})
	}
}

type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 1 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}
