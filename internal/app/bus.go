package app

import (
	"context"

	"live-classroom-service/internal/domain"
)

// Bus is a topic-scoped broadcast channel; the topic is the session code.
// Delivery is at-most-once and unordered, and reaches every subscriber of the
// topic including the publisher itself. Messages never leak across topics.
type Bus interface {
	Publish(ctx context.Context, topic string, msg domain.Message) error
	// Subscribe delivers messages until ctx is cancelled, then closes the channel.
	Subscribe(ctx context.Context, topic string) (<-chan domain.Message, error)
}
