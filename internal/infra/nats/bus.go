package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"live-classroom-service/internal/domain"
	"live-classroom-service/internal/metrics"
)

const (
	subjectPrefix = "classroom.session."
	flushTimeout  = 2 * time.Second
)

// Connect opens a NATS connection that keeps reconnecting and logs state changes.
func Connect(url string, log zerolog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("live-classroom-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Bus is an app.Bus over core NATS subjects (no JetStream): one subject per session
// code, at-most-once delivery, slow subscribers drop messages.
type Bus struct {
	nc      *nats.Conn
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewBus(nc *nats.Conn, log zerolog.Logger) *Bus {
	return &Bus{nc: nc, log: log}
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
	if err := b.nc.Publish(subjectPrefix+topic, payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan domain.Message, error) {
	raw := make(chan *nats.Msg, 64)
	sub, err := b.nc.ChanSubscribe(subjectPrefix+topic, raw)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", topic, err)
	}
	// Make sure the server registered the interest before we report success.
	if err := b.nc.FlushTimeout(flushTimeout); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats flush %s: %w", topic, err)
	}

	out := make(chan domain.Message, 64)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case <-ctx.Done():
				return
			case nm := <-raw:
				msg, err := domain.DecodeMessage(nm.Data)
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
