package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/NWU-FAE/analogRead-SEK/pkg/config"
	"github.com/NWU-FAE/analogRead-SEK/pkg/publish"
	"github.com/NWU-FAE/analogRead-SEK/pkg/sample"
)

// Name identifies the sink in logs and metrics.
const Name = "redis"

var _ publish.Publisher = (*Publisher)(nil)

// Client is the part of goredis.Client used by Publisher.
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
	Close() error
}

// Publisher sends every sample as one JSON message on a pub/sub channel.
type Publisher struct {
	client  Client
	channel string
}

// Dial connects to the server in cfg and checks it with PING.
func Dial(ctx context.Context, cfg config.RedisConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	return New(client, cfg.Channel), nil
}

// New wraps a connected client.
func New(client Client, channel string) *Publisher {
	if channel == "" {
		channel = "analogread"
	}
	return &Publisher{client: client, channel: channel}
}

func (p *Publisher) Name() string {
	return Name
}

func (p *Publisher) Publish(ctx context.Context, s sample.Sample) error {
	data, err := json.Marshal(publish.NewMessage(s))
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
