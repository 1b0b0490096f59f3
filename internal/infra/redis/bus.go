package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"live-classroom-service/internal/domain"
	"live-classroom-service/internal/metrics"
)

// Bus is an app.Bus over Redis Pub/Sub, one channel per session code.
// Redis Pub/Sub is fire-and-forget, which matches the at-most-once contract.
type Bus struct {
	client  *redis.Client
	prefix  string
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewBus(client *redis.Client, log zerolog.Logger) *Bus {
	return &Bus{client: client, prefix: "live:bus:", log: log}
}

// WithMetrics counts dropped payloads on m.
func (b *Bus) WithMetrics(m *metrics.Metrics) *Bus {
	b.metrics = m
	return b
}

func (b *Bus) Publish(ctx context.Context, topic string, msg domain.Message) error {
	payload, err := domain.EncodeMessage(msg)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel(topic), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan domain.Message, error) {
	ps := b.client.Subscribe(ctx, b.channel(topic))
	// Wait for the subscription confirmation so nothing published after return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	raw := ps.Channel()
	out := make(chan domain.Message, 64)
	go func() {
		defer close(out)
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case rm, ok := <-raw:
				if !ok {
					return
				}
				msg, err := domain.DecodeMessage([]byte(rm.Payload))
				if err != nil {
					b.log.Debug().Err(err).Str("topic", topic).Msg("dropping undecodable message")
					b.metrics.MessageRejected(metrics.ReasonDecode)
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *Bus) channel(topic string) string {
	return b.prefix + topic
}
