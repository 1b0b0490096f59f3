package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"live-classroom-service/internal/domain"
	"live-classroom-service/internal/metrics"
)

// fakeBus delivers synchronously and in publish order.
type fakeBus struct {
	mu        sync.Mutex
	subs      map[string][]chan domain.Message
	published map[string][]domain.Message
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		subs:      make(map[string][]chan domain.Message),
		published: make(map[string][]domain.Message),
	}
}

func (b *fakeBus) Publish(_ context.Context, topic string, msg domain.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[topic] = append(b.published[topic], msg)
	for _, ch := range b.subs[topic] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, topic string) (<-chan domain.Message, error) {
	ch := make(chan domain.Message, 256)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[topic]
		for i, c := range subs {
			if c == ch {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (b *fakeBus) messages(topic string) []domain.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Message(nil), b.published[topic]...)
}

func testQuiz(questions int) domain.Quiz {
	quiz := domain.Quiz{ID: "quiz-1", Title: "Test"}
	for i := 0; i < questions; i++ {
		quiz.Questions = append(quiz.Questions, domain.Question{
			Prompt:       "question",
			Options:      []string{"a", "b", "c"},
			CorrectIndex: 1,
			Explanation:  "b is right",
		})
	}
	return quiz
}

func testConfig() SessionConfig {
	return SessionConfig{
		QuestionWindow: 10 * time.Second,
		GracePeriod:    3 * time.Second,
		BaseScore:      1000,
	}
}

type hostFixture struct {
	host    *HostSession
	bus     *fakeBus
	clock   *clockwork.FakeClock
	results chan domain.Result
}

func openHost(t *testing.T, quiz domain.Quiz, cfg SessionConfig) *hostFixture {
	t.Helper()
	return openHostWithMetrics(t, quiz, cfg, nil)
}

func openHostWithMetrics(t *testing.T, quiz domain.Quiz, cfg SessionConfig, m *metrics.Metrics) *hostFixture {
	t.Helper()
	f := &hostFixture{
		bus:     newFakeBus(),
		clock:   clockwork.NewFakeClock(),
		results: make(chan domain.Result, 1),
	}
	host, err := OpenHostSession(context.Background(), "ABC123", quiz, cfg, HostDeps{
		Bus:      f.bus,
		Clock:    f.clock,
		Logger:   zerolog.Nop(),
		Metrics:  m,
		OnFinish: func(r domain.Result) { f.results <- r },
	})
	if err != nil {
		t.Fatalf("open host: %v", err)
	}
	t.Cleanup(func() { _ = host.Close(context.Background()) })
	f.host = host
	return f
}

func (f *hostFixture) deliver(t *testing.T, msgs ...domain.Message) {
	t.Helper()
	for _, msg := range msgs {
		if err := f.host.Deliver(context.Background(), msg); err != nil {
			t.Fatalf("deliver %s: %v", msg.Kind(), err)
		}
	}
}

func (f *hostFixture) view(t *testing.T) domain.Snapshot {
	t.Helper()
	snap, err := f.host.View(context.Background())
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	return snap
}

// waitView polls the host until cond holds; timer firings are asynchronous.
func (f *hostFixture) waitView(t *testing.T, cond func(domain.Snapshot) bool) domain.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := f.view(t)
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met, last snapshot: %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func join(id, name string) domain.Join {
	return domain.Join{ParticipantID: id, DisplayName: name}
}

func answer(id string, index int, correct bool, latency time.Duration) domain.Answer {
	return domain.Answer{ParticipantID: id, QuestionIndex: index, IsCorrect: correct, LatencyMs: latency.Milliseconds()}
}

func mustParticipant(t *testing.T, snap domain.Snapshot, id string) domain.ParticipantView {
	t.Helper()
	p, ok := snap.Participant(id)
	if !ok {
		t.Fatalf("participant %s missing from snapshot %+v", id, snap.Participants)
	}
	return p
}

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}
