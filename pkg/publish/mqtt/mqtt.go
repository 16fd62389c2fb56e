package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/NWU-FAE/analogRead-SEK/pkg/config"
	"github.com/NWU-FAE/analogRead-SEK/pkg/publish"
	"github.com/NWU-FAE/analogRead-SEK/pkg/sample"
)

const (
	// Name identifies the sink in logs and metrics.
	Name = "mqtt"

	DefaultTopic = "analogread"
	qos          = 0
)

var _ publish.Publisher = (*Publisher)(nil)

// Client is the part of paho.Client used by Publisher.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Publisher sends each reading as JSON to <topic>/<channel>.
type Publisher struct {
	client Client
	topic  string
}

// Dial connects to the broker in cfg.
func Dial(cfg config.MQTTConfig) (*Publisher, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)

	client := paho.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	return New(client, cfg.Topic), nil
}

// New wraps a connected client.
func New(client Client, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{client: client, topic: topic}
}

func (p *Publisher) Name() string {
	return Name
}

// Topic returns the topic readings of channel are published to.
func (p *Publisher) Topic(channel string) string {
	return p.topic + "/" + channel
}

// Publish sends one message per reading and waits for each to complete.
func (p *Publisher) Publish(ctx context.Context, s sample.Sample) error {
	for _, r := range s.Readings {
		payload, err := json.Marshal(publish.NewReading(s.Time, r))
		if err != nil {
			return err
		}

		token := p.client.Publish(p.Topic(r.Channel), qos, false, payload)
		select {
		case <-token.Done():
		case <-ctx.Done():
			return fmt.Errorf("mqtt publish %s: %w", r.Channel, ctx.Err())
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish %s: %w", r.Channel, err)
		}
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	if p.client != nil {
		p.client.Disconnect(250)
	}
	return nil
}
