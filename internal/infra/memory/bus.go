package memory

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"live-classroom-service/internal/domain"
	"live-classroom-service/internal/metrics"
)

// Bus is an in-process app.Bus backed by a watermill GoChannel. Every subscriber
// gets its own copy of each message; delivery across publishes is not ordered.
type Bus struct {
	pubsub  *gochannel.GoChannel
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, NewWatermillLogger(log)),
		log: log,
	}
}

// WithMetrics counts dropped payloads on m.
func (b *Bus) WithMetrics(m *metrics.Metrics) *Bus {
	b.metrics = m
	return b
}

func (b *Bus) Publish(_ context.Context, topic string, msg domain.Message) error {
	payload, err := domain.EncodeMessage(msg)
	if err != nil {
		return err
	}
	if err := b.pubsub.Publish(topic, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan domain.Message, error) {
	raw, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	out := make(chan domain.Message, 64)
	go func() {
		defer close(out)
		for wm := range raw {
			// At-most-once: ack before handling so nothing is redelivered.
			wm.Ack()
			msg, err := domain.DecodeMessage(wm.Payload)
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
	}()
	return out, nil
}

// Close shuts down the underlying GoChannel and ends every subscription.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
