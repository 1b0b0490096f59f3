package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"live-classroom-service/internal/domain"
)

func connect(t *testing.T, bus Bus, f *hostFixture, id string, questions []domain.Question) *ParticipantClient {
	t.Helper()
	c, err := ConnectParticipant(context.Background(), bus, "ABC123", id, ParticipantOptions{
		Clock:     f.clock,
		Logger:    zerolog.Nop(),
		Questions: questions,
	})
	if err != nil {
		t.Fatalf("connect %s: %v", id, err)
	}
	t.Cleanup(c.Leave)
	return c
}

func waitClient(t *testing.T, c *ParticipantClient, cond func(domain.Snapshot) bool) domain.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if snap, ok := c.Snapshot(); ok && cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			snap, _ := c.Snapshot()
			t.Fatalf("client %s never saw expected state, last %+v", c.ID(), snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestParticipantKeepsNewestSnapshot(t *testing.T) {
	bus := newFakeBus()
	c, err := ConnectParticipant(context.Background(), bus, "ABC123", "a", ParticipantOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Leave()

	ctx := context.Background()
	_ = bus.Publish(ctx, "ABC123", domain.Snapshot{Code: "ABC123", Seq: 5, Phase: domain.PhaseLeaderboard})
	_ = bus.Publish(ctx, "ABC123", domain.Snapshot{Code: "ABC123", Seq: 3, Phase: domain.PhaseQuestion})
	_ = bus.Publish(ctx, "OTHER", domain.Snapshot{Code: "OTHER", Seq: 9, Phase: domain.PhaseFinished})
	_ = bus.Publish(ctx, "ABC123", domain.Snapshot{Code: "ABC123", Seq: 6, Phase: domain.PhaseQuestion, QuestionIndex: 1})

	snap := waitClient(t, c, func(s domain.Snapshot) bool { return s.Seq == 6 })
	if snap.Phase != domain.PhaseQuestion || snap.QuestionIndex != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	select {
	case got := <-c.Updates():
		if got.Seq < 5 {
			t.Fatalf("update channel delivered an outdated snapshot seq %d", got.Seq)
		}
	case <-time.After(time.Second):
		t.Fatalf("no update delivered")
	}
}

func TestParticipantRefusesAnswersOutsideWindow(t *testing.T) {
	bus := newFakeBus()
	ctx := context.Background()
	c, err := ConnectParticipant(ctx, bus, "ABC123", "a", ParticipantOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Leave()

	if err := c.SubmitAnswer(ctx, true, 0); !errors.Is(err, domain.ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}
	if err := c.Heartbeat(ctx); !errors.Is(err, domain.ErrNotJoined) {
		t.Fatalf("heartbeat before join: expected ErrNotJoined, got %v", err)
	}
	if err := c.Join(ctx, "Ada"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := c.SubmitAnswer(ctx, true, 0); !errors.Is(err, domain.ErrAnswerWindowClosed) {
		t.Fatalf("answer without snapshot: expected ErrAnswerWindowClosed, got %v", err)
	}

	_ = bus.Publish(ctx, "ABC123", domain.Snapshot{Seq: 1, Phase: domain.PhaseQuestion, RoundClosed: true})
	waitClient(t, c, func(s domain.Snapshot) bool { return s.Seq == 1 })
	if err := c.SubmitAnswer(ctx, true, 0); !errors.Is(err, domain.ErrAnswerWindowClosed) {
		t.Fatalf("answer after round closed: expected ErrAnswerWindowClosed, got %v", err)
	}

	// The join has not reached the host yet.
	_ = bus.Publish(ctx, "ABC123", domain.Snapshot{Seq: 2, Phase: domain.PhaseQuestion})
	waitClient(t, c, func(s domain.Snapshot) bool { return s.Seq == 2 })
	if err := c.SubmitAnswer(ctx, true, time.Second); !errors.Is(err, domain.ErrNotJoined) {
		t.Fatalf("answer before the host saw the join: expected ErrNotJoined, got %v", err)
	}

	_ = bus.Publish(ctx, "ABC123", domain.Snapshot{
		Seq:          3,
		Phase:        domain.PhaseQuestion,
		Participants: []domain.ParticipantView{{ID: "a", DisplayName: "Ada", Status: domain.StatusJoined}},
	})
	waitClient(t, c, func(s domain.Snapshot) bool { return s.Seq == 3 })
	if err := c.SubmitAnswer(ctx, true, time.Second); err != nil {
		t.Fatalf("answer in window: %v", err)
	}
	if err := c.SubmitAnswer(ctx, true, time.Second); !errors.Is(err, domain.ErrAnswerWindowClosed) {
		t.Fatalf("second answer: expected ErrAnswerWindowClosed, got %v", err)
	}

	_ = bus.Publish(ctx, "ABC123", domain.Disconnect{})
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatalf("client did not stop on disconnect")
	}
	if !c.Terminated() {
		t.Fatalf("client should report termination")
	}
	if err := c.Join(ctx, "Ada"); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("join after disconnect: expected ErrSessionClosed, got %v", err)
	}
	drained := make(chan struct{})
	go func() {
		for range c.Updates() {
		}
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatalf("updates channel should be closed")
	}
}

func TestParticipantPlaysSessionAgainstHost(t *testing.T) {
	f := openHost(t, testQuiz(2), testConfig())
	ctx := context.Background()
	questions := f.host.Quiz().Questions

	ada := connect(t, f.bus, f, "a", questions)
	bo := connect(t, f.bus, f, "b", questions)
	if err := ada.Join(ctx, "Ada"); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if err := bo.Join(ctx, "Bo"); err != nil {
		t.Fatalf("join b: %v", err)
	}
	f.waitView(t, func(s domain.Snapshot) bool { return len(s.Participants) == 2 })

	if err := f.host.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitClient(t, ada, func(s domain.Snapshot) bool { return s.Phase == domain.PhaseQuestion })
	waitClient(t, bo, func(s domain.Snapshot) bool { return s.Phase == domain.PhaseQuestion })

	if err := ada.SubmitOption(ctx, 7); !errors.Is(err, domain.ErrInvalidOption) {
		t.Fatalf("out of range option: expected ErrInvalidOption, got %v", err)
	}

	f.clock.Advance(3 * time.Second)
	if err := ada.SubmitOption(ctx, 1); err != nil {
		t.Fatalf("a answers: %v", err)
	}
	if err := bo.SubmitOption(ctx, 0); err != nil {
		t.Fatalf("b answers: %v", err)
	}

	snap := waitClient(t, ada, func(s domain.Snapshot) bool { return s.Phase == domain.PhaseLeaderboard })
	if p := mustParticipant(t, snap, "a"); p.Score != 700 || p.LastAnswerCorrect == nil || !*p.LastAnswerCorrect {
		t.Fatalf("unexpected result for a: %+v", p)
	}
	if p := mustParticipant(t, snap, "b"); p.Score != 0 || p.LastAnswerCorrect == nil || *p.LastAnswerCorrect {
		t.Fatalf("unexpected result for b: %+v", p)
	}
	if err := ada.SubmitOption(ctx, 1); !errors.Is(err, domain.ErrAnswerWindowClosed) {
		t.Fatalf("answer on leaderboard: expected ErrAnswerWindowClosed, got %v", err)
	}

	if err := f.host.Close(ctx); err != nil {
		t.Fatalf("close host: %v", err)
	}
	for _, c := range []*ParticipantClient{ada, bo} {
		select {
		case <-c.Done():
		case <-time.After(time.Second):
			t.Fatalf("client %s not disconnected", c.ID())
		}
		if !c.Terminated() {
			t.Fatalf("client %s should be terminated", c.ID())
		}
	}
}
