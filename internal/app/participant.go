package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"live-classroom-service/internal/domain"
)

// ParticipantOptions configures a ParticipantClient.
type ParticipantOptions struct {
	Clock  clockwork.Clock
	Logger zerolog.Logger
	// Questions lets the client grade option choices locally. Optional.
	Questions []domain.Question
}

// ParticipantClient is a read-only replica of a session. It renders host
// snapshots and publishes join and answer events, but never derives state itself.
type ParticipantClient struct {
	bus       Bus
	clock     clockwork.Clock
	log       zerolog.Logger
	code      string
	id        string
	questions []domain.Question

	cancel  context.CancelFunc
	done    chan struct{}
	updates chan domain.Snapshot

	mu         sync.Mutex
	joined     bool
	snap       domain.Snapshot
	hasSnap    bool
	terminated bool
	submitted  map[int]bool
}

// ConnectParticipant subscribes to the session topic for participant id.
// Call Join to actually enter the session.
func ConnectParticipant(parent context.Context, bus Bus, code, id string, opts ParticipantOptions) (*ParticipantClient, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(parent)
	msgs, err := bus.Subscribe(ctx, code)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to session %s: %w", code, err)
	}
	c := &ParticipantClient{
		bus:       bus,
		clock:     opts.Clock,
		log:       opts.Logger.With().Str("session", code).Str("participant", id).Logger(),
		code:      code,
		id:        id,
		questions: opts.Questions,
		cancel:    cancel,
		done:      make(chan struct{}),
		updates:   make(chan domain.Snapshot, 1),
		submitted: make(map[int]bool),
	}
	go c.pump(msgs)
	return c, nil
}

func (c *ParticipantClient) ID() string { return c.id }

// Updates yields the latest applied snapshot; stale ones are dropped if the reader lags.
// The channel is closed when the client stops.
func (c *ParticipantClient) Updates() <-chan domain.Snapshot { return c.updates }

// Done is closed when the session disconnects or the client leaves.
func (c *ParticipantClient) Done() <-chan struct{} { return c.done }

// Snapshot returns the last applied snapshot.
func (c *ParticipantClient) Snapshot() (domain.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap, c.hasSnap
}

// Terminated reports whether the host has disconnected the session.
func (c *ParticipantClient) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

// Join publishes a Join event. Calling it again is harmless.
func (c *ParticipantClient) Join(ctx context.Context, displayName string) error {
	if c.Terminated() {
		return domain.ErrSessionClosed
	}
	if err := c.bus.Publish(ctx, c.code, domain.Join{ParticipantID: c.id, DisplayName: displayName}); err != nil {
		return fmt.Errorf("publish join: %w", err)
	}
	c.mu.Lock()
	c.joined = true
	c.mu.Unlock()
	return nil
}

// SubmitAnswer publishes an Answer for the active question. It refuses locally when the
// replica already shows the window as closed; the host re-validates regardless.
func (c *ParticipantClient) SubmitAnswer(ctx context.Context, correct bool, latency time.Duration) error {
	c.mu.Lock()
	index, err := c.answerableLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.submitted[index] = true
	c.mu.Unlock()

	msg := domain.Answer{
		ParticipantID: c.id,
		QuestionIndex: index,
		IsCorrect:     correct,
		LatencyMs:     latency.Milliseconds(),
	}
	if err := c.bus.Publish(ctx, c.code, msg); err != nil {
		return fmt.Errorf("publish answer: %w", err)
	}
	return nil
}

// SubmitOption grades the chosen option against the client's copy of the quiz and
// derives latency from the snapshot deadline.
func (c *ParticipantClient) SubmitOption(ctx context.Context, optionIndex int) error {
	c.mu.Lock()
	index, err := c.answerableLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if index >= len(c.questions) {
		c.mu.Unlock()
		return fmt.Errorf("question %d not available locally: %w", index, domain.ErrInvalidOption)
	}
	q := c.questions[index]
	if optionIndex < 0 || optionIndex >= len(q.Options) {
		c.mu.Unlock()
		return domain.ErrInvalidOption
	}
	window := time.Duration(c.snap.WindowMs) * time.Millisecond
	started := c.snap.Deadline.Add(-window)
	c.mu.Unlock()

	latency := c.clock.Now().Sub(started)
	return c.SubmitAnswer(ctx, optionIndex == q.CorrectIndex, latency)
}

// Heartbeat tells the host this participant is still present.
func (c *ParticipantClient) Heartbeat(ctx context.Context) error {
	c.mu.Lock()
	terminated, joined := c.terminated, c.joined
	c.mu.Unlock()
	if terminated {
		return domain.ErrSessionClosed
	}
	if !joined {
		return domain.ErrNotJoined
	}
	return c.bus.Publish(ctx, c.code, domain.Heartbeat{ParticipantID: c.id})
}

// Leave stops the subscription. The host keeps the participant's score.
func (c *ParticipantClient) Leave() {
	c.cancel()
	<-c.done
}

func (c *ParticipantClient) answerableLocked() (int, error) {
	if c.terminated {
		return 0, domain.ErrSessionClosed
	}
	if !c.joined {
		return 0, domain.ErrNotJoined
	}
	if !c.hasSnap || c.snap.Phase != domain.PhaseQuestion || c.snap.RoundClosed {
		return 0, domain.ErrAnswerWindowClosed
	}
	me, ok := c.snap.Participant(c.id)
	if !ok {
		// The host has not registered our join yet and would drop the answer.
		return 0, domain.ErrNotJoined
	}
	index := c.snap.QuestionIndex
	if c.submitted[index] || me.Status.Terminal() {
		return 0, domain.ErrAnswerWindowClosed
	}
	return index, nil
}

func (c *ParticipantClient) pump(msgs <-chan domain.Message) {
	defer close(c.done)
	defer close(c.updates)
	for msg := range msgs {
		switch m := msg.(type) {
		case domain.Snapshot:
			c.apply(m)
		case domain.Disconnect:
			c.mu.Lock()
			c.terminated = true
			c.mu.Unlock()
			c.log.Info().Msg("session disconnected by host")
			c.cancel()
			return
		}
	}
}

func (c *ParticipantClient) apply(snap domain.Snapshot) {
	c.mu.Lock()
	if c.hasSnap && snap.Seq <= c.snap.Seq {
		c.mu.Unlock()
		return
	}
	c.snap = snap
	c.hasSnap = true
	c.mu.Unlock()

	select {
	case c.updates <- snap:
	default:
		select {
		case <-c.updates:
		default:
		}
		select {
		case c.updates <- snap:
		default:
		}
	}
}
