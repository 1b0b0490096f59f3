package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"live-classroom-service/internal/domain"
	"live-classroom-service/internal/metrics"
)

const publishTimeout = 2 * time.Second

// SessionConfig holds the timing and scoring parameters of a live session.
type SessionConfig struct {
	QuestionWindow time.Duration
	GracePeriod    time.Duration
	BaseScore      int
	// ParticipantTimeout enables heartbeat eviction when positive.
	ParticipantTimeout time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		QuestionWindow: 15 * time.Second,
		GracePeriod:    3 * time.Second,
		BaseScore:      DefaultBaseScore,
	}
}

// HostDeps are the collaborators of a HostSession.
type HostDeps struct {
	Bus      Bus
	Clock    clockwork.Clock
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
	OnFinish func(domain.Result)
}

type hostCmd interface{ isHostCmd() }

type deliverCmd struct{ msg domain.Message }

type startCmd struct{ reply chan error }

type advanceCmd struct{ reply chan error }

type viewCmd struct{ reply chan domain.Snapshot }

type timerCmd struct{ tag timerTag }

type closeCmd struct{}

func (deliverCmd) isHostCmd() {}
func (startCmd) isHostCmd()   {}
func (advanceCmd) isHostCmd() {}
func (viewCmd) isHostCmd()    {}
func (timerCmd) isHostCmd()   {}
func (closeCmd) isHostCmd()   {}

// HostSession is the single writer of a live session. All state below the
// channel fields is owned by the loop goroutine; callers talk to it through the inbox.
type HostSession struct {
	code     string
	quiz     domain.Quiz
	cfg      SessionConfig
	bus      Bus
	clock    clockwork.Clock
	log      zerolog.Logger
	metrics  *metrics.Metrics
	onFinish func(domain.Result)

	inbox  chan hostCmd
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	phase       domain.Phase
	index       int
	deadline    time.Time
	roundClosed bool
	seq         uint64
	last        domain.Snapshot
	registry    *Registry
	timers      *TimerController
}

// OpenHostSession subscribes to the session topic, publishes the lobby snapshot and
// starts the host loop. The session lives until Close is called or parent is cancelled.
func OpenHostSession(parent context.Context, code string, quiz domain.Quiz, cfg SessionConfig, deps HostDeps) (*HostSession, error) {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if cfg.QuestionWindow <= 0 {
		cfg.QuestionWindow = DefaultSessionConfig().QuestionWindow
	}
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = 0
	}
	if cfg.BaseScore <= 0 {
		cfg.BaseScore = DefaultBaseScore
	}

	ctx, cancel := context.WithCancel(parent)
	msgs, err := deps.Bus.Subscribe(ctx, code)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to session %s: %w", code, err)
	}

	h := &HostSession{
		code:     code,
		quiz:     quiz,
		cfg:      cfg,
		bus:      deps.Bus,
		clock:    deps.Clock,
		log:      deps.Logger.With().Str("session", code).Logger(),
		metrics:  deps.Metrics,
		onFinish: deps.OnFinish,
		inbox:    make(chan hostCmd, 64),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		phase:    domain.PhaseLobby,
		registry: NewRegistry(),
	}
	h.timers = NewTimerController(h.clock, h.fireTimer)

	h.broadcast()
	if cfg.ParticipantTimeout > 0 {
		h.timers.Arm(timerTag{kind: timerSweep}, h.sweepInterval())
	}
	h.metrics.SessionOpened()
	go h.loop(msgs)
	return h, nil
}

func (h *HostSession) Code() string { return h.code }

func (h *HostSession) Quiz() domain.Quiz { return h.quiz }

// Done is closed once the host loop has exited.
func (h *HostSession) Done() <-chan struct{} { return h.done }

// Start moves the session from the lobby to the first question.
func (h *HostSession) Start(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := h.send(ctx, startCmd{reply: reply}); err != nil {
		return err
	}
	return h.awaitErr(ctx, reply)
}

// Advance moves from a leaderboard to the next question, or to finished after the last one.
func (h *HostSession) Advance(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := h.send(ctx, advanceCmd{reply: reply}); err != nil {
		return err
	}
	return h.awaitErr(ctx, reply)
}

// View returns the latest snapshot the host broadcast.
func (h *HostSession) View(ctx context.Context) (domain.Snapshot, error) {
	reply := make(chan domain.Snapshot, 1)
	if err := h.send(ctx, viewCmd{reply: reply}); err != nil {
		return domain.Snapshot{}, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-h.done:
		return domain.Snapshot{}, domain.ErrSessionClosed
	case <-ctx.Done():
		return domain.Snapshot{}, ctx.Err()
	}
}

// Deliver feeds a message into the host loop as if it arrived from the bus.
func (h *HostSession) Deliver(ctx context.Context, msg domain.Message) error {
	return h.send(ctx, deliverCmd{msg: msg})
}

// Close publishes Disconnect, cancels timers and stops the loop. It is safe to call twice.
func (h *HostSession) Close(ctx context.Context) error {
	select {
	case h.inbox <- closeCmd{}:
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *HostSession) send(ctx context.Context, cmd hostCmd) error {
	select {
	case <-h.done:
		return domain.ErrSessionClosed
	default:
	}
	select {
	case h.inbox <- cmd:
		return nil
	case <-h.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *HostSession) awaitErr(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-h.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *HostSession) fireTimer(tag timerTag) {
	select {
	case h.inbox <- timerCmd{tag: tag}:
	case <-h.done:
	}
}

func (h *HostSession) loop(msgs <-chan domain.Message) {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return
		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			h.handleMessage(msg)
		case cmd := <-h.inbox:
			switch c := cmd.(type) {
			case deliverCmd:
				h.handleMessage(c.msg)
			case startCmd:
				c.reply <- h.start()
			case advanceCmd:
				c.reply <- h.advance()
			case viewCmd:
				c.reply <- h.last
			case timerCmd:
				h.handleTimer(c.tag)
			case closeCmd:
				h.shutdown()
				return
			}
		}
	}
}

func (h *HostSession) shutdown() {
	h.timers.CancelAll()
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.bus.Publish(ctx, h.code, domain.Disconnect{}); err != nil {
		h.log.Warn().Err(err).Msg("publish disconnect failed")
	}
	h.cancel()
	h.metrics.SessionClosed()
	h.log.Info().Str("phase", string(h.phase)).Msg("session closed")
}

func (h *HostSession) handleMessage(msg domain.Message) {
	switch m := msg.(type) {
	case domain.Join:
		h.handleJoin(m)
	case domain.Answer:
		h.handleAnswer(m)
	case domain.Heartbeat:
		h.handleHeartbeat(m)
	case domain.Snapshot, domain.Disconnect:
		// Our own broadcasts echoed back by the bus.
	}
}

func (h *HostSession) handleJoin(m domain.Join) {
	if m.ParticipantID == "" {
		h.reject(metrics.ReasonMalformed, m.ParticipantID, "join without participant id")
		return
	}
	if h.phase == domain.PhaseFinished {
		h.reject(metrics.ReasonStale, m.ParticipantID, "join after finish")
		return
	}
	if !h.registry.UpsertJoin(m.ParticipantID, m.DisplayName, h.clock.Now()) {
		h.metrics.MessageRejected(metrics.ReasonDuplicate)
		h.log.Debug().Str("participant", m.ParticipantID).Msg("duplicate join")
	} else {
		h.log.Info().Str("participant", m.ParticipantID).Str("name", m.DisplayName).Msg("participant joined")
		// Late joiners sit out a round that is already closed.
		if h.roundClosed || h.phase == domain.PhaseLeaderboard {
			h.registry.LockUnanswered(h.index)
		}
	}
	// Rebroadcast even for duplicates so a reconnecting client gets the current state.
	h.broadcast()
}

func (h *HostSession) handleHeartbeat(m domain.Heartbeat) {
	_, known := h.registry.Status(m.ParticipantID)
	if !known {
		h.reject(metrics.ReasonUnknown, m.ParticipantID, "heartbeat from unknown participant")
		return
	}
	if h.registry.Touch(m.ParticipantID, h.clock.Now()) {
		h.broadcast()
	}
}

func (h *HostSession) handleAnswer(m domain.Answer) {
	if h.phase != domain.PhaseQuestion || m.QuestionIndex != h.index {
		h.reject(metrics.ReasonStale, m.ParticipantID, "stale answer")
		return
	}
	status, known := h.registry.Status(m.ParticipantID)
	switch {
	case !known:
		h.reject(metrics.ReasonUnknown, m.ParticipantID, "answer from unknown participant")
		return
	case h.roundClosed || status == domain.StatusLocked:
		h.reject(metrics.ReasonLate, m.ParticipantID, "late answer")
		return
	case status == domain.StatusAnswered:
		h.reject(metrics.ReasonDuplicate, m.ParticipantID, "duplicate answer")
		return
	}

	latency := time.Duration(m.LatencyMs) * time.Millisecond
	points := Award(m.IsCorrect, latency, h.cfg.QuestionWindow, h.cfg.BaseScore)
	h.registry.RecordAnswer(m.ParticipantID, m.IsCorrect, points, h.clock.Now())
	h.metrics.AnswerAccepted()
	h.log.Debug().
		Str("participant", m.ParticipantID).
		Int("question", m.QuestionIndex).
		Bool("correct", m.IsCorrect).
		Int("points", points).
		Msg("answer recorded")
	h.broadcast()

	if h.registry.AllResolved() {
		h.closeRoundEarly()
	}
}

func (h *HostSession) handleTimer(tag timerTag) {
	switch tag.kind {
	case timerDeadline:
		if h.phase != tag.phase || h.index != tag.questionIndex || h.roundClosed {
			h.metrics.TimerDiscarded(tag.kind.String())
			return
		}
		h.timers.Cancel(timerDeadline)
		locked := h.registry.LockUnanswered(h.index)
		h.roundClosed = true
		h.metrics.RoundClosed(metrics.CloseTimeout)
		h.log.Info().Int("question", h.index).Int("locked", locked).Msg("answer window closed")
		h.broadcast()
		h.timers.Arm(timerTag{kind: timerGrace, phase: domain.PhaseQuestion, questionIndex: h.index}, h.cfg.GracePeriod)
	case timerGrace:
		if h.phase != tag.phase || h.index != tag.questionIndex || !h.roundClosed {
			h.metrics.TimerDiscarded(tag.kind.String())
			return
		}
		h.timers.Cancel(timerGrace)
		h.enterLeaderboard()
	case timerSweep:
		h.sweep()
	}
}

func (h *HostSession) sweep() {
	if h.phase == domain.PhaseFinished {
		h.timers.Cancel(timerSweep)
		return
	}
	defer h.timers.Arm(timerTag{kind: timerSweep}, h.sweepInterval())
	cutoff := h.clock.Now().Add(-h.cfg.ParticipantTimeout)
	if n := h.registry.MarkStale(cutoff); n > 0 {
		h.log.Info().Int("count", n).Msg("participants marked disconnected")
		h.broadcast()
		if h.phase == domain.PhaseQuestion && !h.roundClosed && h.registry.AllResolved() {
			h.closeRoundEarly()
		}
	}
}

func (h *HostSession) sweepInterval() time.Duration {
	interval := h.cfg.ParticipantTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

func (h *HostSession) start() error {
	if h.phase != domain.PhaseLobby {
		return fmt.Errorf("start in %s: %w", h.phase, domain.ErrInvalidPhase)
	}
	if len(h.quiz.Questions) == 0 {
		return domain.ErrNoQuestions
	}
	h.log.Info().Int("participants", h.registry.Len()).Msg("session started")
	h.enterQuestion(0)
	return nil
}

func (h *HostSession) advance() error {
	if h.phase != domain.PhaseLeaderboard {
		return fmt.Errorf("advance in %s: %w", h.phase, domain.ErrInvalidPhase)
	}
	if h.index+1 < len(h.quiz.Questions) {
		h.enterQuestion(h.index + 1)
		return nil
	}
	h.finish()
	return nil
}

func (h *HostSession) enterQuestion(index int) {
	h.phase = domain.PhaseQuestion
	h.index = index
	h.roundClosed = false
	h.deadline = h.clock.Now().Add(h.cfg.QuestionWindow)
	h.registry.ResetRound(index)
	h.timers.Cancel(timerGrace)
	h.timers.Arm(timerTag{kind: timerDeadline, phase: domain.PhaseQuestion, questionIndex: index}, h.cfg.QuestionWindow)
	h.broadcast()
}

func (h *HostSession) closeRoundEarly() {
	h.timers.Cancel(timerDeadline)
	h.roundClosed = true
	h.metrics.RoundClosed(metrics.CloseEarly)
	h.log.Info().Int("question", h.index).Msg("all participants answered")
	h.enterLeaderboard()
}

func (h *HostSession) enterLeaderboard() {
	h.registry.LockUnanswered(h.index)
	h.phase = domain.PhaseLeaderboard
	h.deadline = time.Time{}
	h.broadcast()
}

func (h *HostSession) finish() {
	h.phase = domain.PhaseFinished
	h.deadline = time.Time{}
	h.timers.CancelAll()
	h.broadcast()

	result := domain.Result{
		Code:       h.code,
		QuizID:     h.quiz.ID,
		FinishedAt: h.clock.Now(),
		Ranking:    h.last.Ranking(),
	}
	h.log.Info().Int("participants", len(result.Ranking)).Msg("session finished")
	if h.onFinish != nil {
		h.onFinish(result)
	}
}

func (h *HostSession) reject(reason, participantID, msg string) {
	h.metrics.MessageRejected(reason)
	h.log.Debug().
		Str("participant", participantID).
		Str("phase", string(h.phase)).
		Int("question", h.index).
		Msg(msg)
}

// broadcast stamps a new snapshot and publishes it. Publish failures are logged only.
func (h *HostSession) broadcast() {
	h.seq++
	h.last = h.buildSnapshot()
	ctx, cancel := context.WithTimeout(h.ctx, publishTimeout)
	defer cancel()
	if err := h.bus.Publish(ctx, h.code, h.last); err != nil {
		h.log.Warn().Err(err).Uint64("seq", h.seq).Msg("publish snapshot failed")
		return
	}
	h.metrics.SnapshotPublished()
}

func (h *HostSession) buildSnapshot() domain.Snapshot {
	snap := domain.Snapshot{
		Code:           h.code,
		Seq:            h.seq,
		Phase:          h.phase,
		QuestionIndex:  h.index,
		TotalQuestions: len(h.quiz.Questions),
		Deadline:       h.deadline,
		WindowMs:       h.cfg.QuestionWindow.Milliseconds(),
		RoundClosed:    h.roundClosed,
		Participants:   h.registry.Snapshot(),
	}
	if h.phase == domain.PhaseQuestion || h.phase == domain.PhaseLeaderboard {
		q := h.quiz.Questions[h.index]
		view := &domain.QuestionView{
			Prompt:  q.Prompt,
			Options: append([]string(nil), q.Options...),
		}
		if h.phase == domain.PhaseLeaderboard {
			correct := q.CorrectIndex
			view.CorrectIndex = &correct
			view.Explanation = q.Explanation
		}
		snap.Question = view
	}
	return snap
}
