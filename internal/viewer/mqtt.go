package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/banshee-data/sweepscan/internal/cloud"
	"github.com/banshee-data/sweepscan/internal/monitoring"
)

// DefaultTopicPrefix is used when no MQTT topic prefix is configured.
const DefaultTopicPrefix = "sweepscan"

// publishTimeout bounds each wait for the broker.
const publishTimeout = 2 * time.Second

// MQTTClient is the subset of mqtt.Client the publisher needs.
type MQTTClient interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// CloudMessage is the retained payload published on <prefix>/cloud.
type CloudMessage struct {
	Timestamp int64        `json:"timestamp"`
	Count     int          `json:"count"`
	Points    [][3]float64 `json:"points"`
}

// MQTTViewer publishes every rendered cloud as a retained message. Render
// only records the latest cloud; Run does the publishing so a slow broker
// never holds up the fusion loop.
type MQTTViewer struct {
	client MQTTClient
	prefix string

	mu      sync.Mutex
	latest  []cloud.Point3D
	dirty   bool
	notify  chan struct{}
	sent    uint64
	skipped uint64

	now func() time.Time
}

// NewMQTTViewer returns a publisher writing under prefix.
func NewMQTTViewer(client MQTTClient, prefix string) *MQTTViewer {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &MQTTViewer{
		client: client,
		prefix: prefix,
		notify: make(chan struct{}, 1),
		now:    time.Now,
	}
}

// CloudTopic is where clouds are published.
func (v *MQTTViewer) CloudTopic() string { return v.prefix + "/cloud" }

// CommandTopic is where reset, toggle and advance commands are accepted.
func (v *MQTTViewer) CommandTopic() string { return v.prefix + "/cmd" }

// Render records points for the next publish.
func (v *MQTTViewer) Render(points []cloud.Point3D) {
	v.mu.Lock()
	if v.dirty {
		v.skipped++
	}
	v.latest, v.dirty = points, true
	v.mu.Unlock()

	select {
	case v.notify <- struct{}{}:
	default:
	}
}

// Stats returns published clouds and clouds replaced before publishing.
func (v *MQTTViewer) Stats() (sent, skipped uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sent, v.skipped
}

// Subscribe routes payloads on the command topic to cmd.
func (v *MQTTViewer) Subscribe(cmd Commander) error {
	token := v.client.Subscribe(v.CommandTopic(), 1, func(_ mqtt.Client, msg mqtt.Message) {
		name := strings.ToLower(strings.TrimSpace(string(msg.Payload())))
		if !dispatch(cmd, name) {
			monitoring.Logf("mqtt: unknown command %q on %s", name, msg.Topic())
		}
	})
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		return fmt.Errorf("subscribing to %s: %w", v.CommandTopic(), token.Error())
	}
	return nil
}

// Run publishes the latest cloud whenever one is rendered, until ctx is done.
func (v *MQTTViewer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-v.notify:
			if err := v.publishLatest(); err != nil {
				monitoring.Logf("mqtt: %v", err)
			}
		}
	}
}

func (v *MQTTViewer) publishLatest() error {
	v.mu.Lock()
	points, dirty := v.latest, v.dirty
	v.dirty = false
	v.mu.Unlock()
	if !dirty {
		return nil
	}

	if !v.client.IsConnected() {
		return fmt.Errorf("not connected, dropped cloud of %d points", len(points))
	}
	payload, err := json.Marshal(CloudMessage{
		Timestamp: v.now().Unix(),
		Count:     len(points),
		Points:    pointTriples(points),
	})
	if err != nil {
		return fmt.Errorf("marshaling cloud: %w", err)
	}

	token := v.client.Publish(v.CloudTopic(), 0, true, payload)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", v.CloudTopic(), token.Error())
	}
	v.mu.Lock()
	v.sent++
	v.mu.Unlock()
	return nil
}

// NewMQTTClient builds a paho client for broker that reconnects on its own.
// onConnect, if set, runs after every (re)connection; subscriptions belong
// there. The caller connects the client.
func NewMQTTClient(broker, clientID string, onConnect func()) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	if clientID == "" {
		clientID = DefaultTopicPrefix + "-" + uuid.NewString()[:8]
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		monitoring.Logf("mqtt: connected to %s", broker)
		if onConnect != nil {
			onConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		monitoring.Logf("mqtt: connection to %s lost: %v", broker, err)
	})
	return mqtt.NewClient(opts)
}
