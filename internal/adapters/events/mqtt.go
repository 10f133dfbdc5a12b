// Package events publishes persisted annotations and notes to an MQTT broker.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dkeye/fieldlink/internal/domain"
)

const (
	writeTimeout   = 1 * time.Second
	pingTimeout    = 10 * time.Second
	publishTimeout = 2 * time.Second
)

var ErrNotConnected = errors.New("mqtt not connected")

type Options struct {
	Server      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// Payload encodings.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// Publisher sends events to <prefix>/sites/<site>/<kind>.
type Publisher struct {
	client mqtt.Client
	prefix string
	qos    byte
	// Encoding is EncodingJSON unless set to EncodingMsgpack.
	Encoding string
}

func NewClient(o Options) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Server)
	opts.SetClientID(o.ClientID + "-" + uuid.NewString())
	opts.SetOrderMatters(false)
	opts.SetUsername(o.Username)
	opts.SetPassword(o.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.WriteTimeout = writeTimeout
	opts.PingTimeout = pingTimeout

	opts.OnConnect = func(mqtt.Client) {
		log.Info().Str("module", "events").Str("broker", o.Server).Msg("mqtt connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("module", "events").Msg("mqtt connection lost, will auto-reconnect")
	}
	opts.OnReconnecting = func(mqtt.Client, *mqtt.ClientOptions) {
		log.Info().Str("module", "events").Msg("mqtt reconnecting")
	}
	return mqtt.NewClient(opts)
}

// Connect dials the broker and waits up to timeout for the first connection.
func Connect(client mqtt.Client, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

func NewPublisher(client mqtt.Client, prefix string, qos byte) *Publisher {
	return &Publisher{client: client, prefix: prefix, qos: qos}
}

type annotationEvent struct {
	Type   string                `json:"type"`
	Object domain.EmbeddedObject `json:"object"`
}

type noteEvent struct {
	Type string      `json:"type"`
	Note domain.Note `json:"note"`
}

func (p *Publisher) PublishAnnotation(ctx context.Context, obj domain.EmbeddedObject) error {
	// crops are large; consumers fetch them from the persistence API
	obj.CropImage = ""
	return p.publish(ctx, p.Topic(obj.SiteID, "annotations"), annotationEvent{Type: "embedded_object", Object: obj})
}

func (p *Publisher) PublishNote(ctx context.Context, note domain.Note) error {
	note.AudioClip = ""
	return p.publish(ctx, p.Topic(note.SiteID, "notes"), noteEvent{Type: "note", Note: note})
}

func (p *Publisher) Topic(siteID, kind string) string {
	if siteID == "" {
		siteID = "_"
	}
	return fmt.Sprintf("%s/sites/%s/%s", p.prefix, siteID, kind)
}

func (p *Publisher) publish(ctx context.Context, topic string, v any) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	payload, err := p.encode(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	token := p.client.Publish(topic, p.qos, false, payload)
	wait := publishTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < wait {
		wait = time.Until(dl)
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	log.Debug().Str("module", "events").Str("topic", topic).Int("size", len(payload)).Msg("event published")
	return nil
}

// encode renders v as JSON, or as msgpack of the same document so both
// encodings carry identical field names.
func (p *Publisher) encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil || p.Encoding != EncodingMsgpack {
		return b, err
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return msgpack.Marshal(doc)
}

// Close disconnects with a short grace period.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) PublishAnnotation(context.Context, domain.EmbeddedObject) error { return nil }
func (Nop) PublishNote(context.Context, domain.Note) error                 { return nil }
