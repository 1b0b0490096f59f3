package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"live-classroom-service/internal/domain"
	"live-classroom-service/internal/metrics"
)

const (
	codeAlphabet      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	defaultCodeLength = 6
	codeAttempts      = 5
	resultTimeout     = 10 * time.Second
)

// SessionRepository tracks hosted sessions. Get only sees sessions hosted by this
// process; Lookup may also see sessions hosted elsewhere (e.g. through Redis).
type SessionRepository interface {
	Put(ctx context.Context, session *HostSession) error
	Get(code string) (*HostSession, bool)
	Lookup(ctx context.Context, code string) (quizID string, ok bool, err error)
	Delete(ctx context.Context, code string)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// ResultSink consumes the final ranking of finished sessions.
type ResultSink interface {
	RecordResult(ctx context.Context, result domain.Result) error
}

// LiveService creates, finds and tears down live sessions.
type LiveService struct {
	ctx        context.Context
	sessions   SessionRepository
	quizzes    QuizRepository
	bus        Bus
	results    ResultSink
	cfg        SessionConfig
	clock      clockwork.Clock
	log        zerolog.Logger
	metrics    *metrics.Metrics
	codeLength int

	wg sync.WaitGroup
}

type ServiceOption func(*LiveService)

func WithSessionConfig(cfg SessionConfig) ServiceOption {
	return func(s *LiveService) { s.cfg = cfg }
}

func WithClock(clock clockwork.Clock) ServiceOption {
	return func(s *LiveService) { s.clock = clock }
}

func WithLogger(log zerolog.Logger) ServiceOption {
	return func(s *LiveService) { s.log = log }
}

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *LiveService) { s.metrics = m }
}

func WithResultSink(sink ResultSink) ServiceOption {
	return func(s *LiveService) { s.results = sink }
}

func WithCodeLength(n int) ServiceOption {
	return func(s *LiveService) {
		if n > 0 {
			s.codeLength = n
		}
	}
}

// NewLiveService wires the service. Sessions it hosts are closed when ctx is cancelled.
func NewLiveService(ctx context.Context, sessions SessionRepository, quizzes QuizRepository, bus Bus, opts ...ServiceOption) *LiveService {
	s := &LiveService{
		ctx:        ctx,
		sessions:   sessions,
		quizzes:    quizzes,
		bus:        bus,
		cfg:        DefaultSessionConfig(),
		clock:      clockwork.NewRealClock(),
		log:        zerolog.Nop(),
		codeLength: defaultCodeLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession loads the quiz and opens a host session in the lobby.
func (s *LiveService) CreateSession(ctx context.Context, quizID string) (*HostSession, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if err := validateQuiz(quiz); err != nil {
		return nil, err
	}

	code, err := s.allocateCode(ctx)
	if err != nil {
		return nil, err
	}

	host, err := OpenHostSession(s.ctx, code, quiz, s.cfg, HostDeps{
		Bus:      s.bus,
		Clock:    s.clock,
		Logger:   s.log,
		Metrics:  s.metrics,
		OnFinish: s.recordResult,
	})
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Put(ctx, host); err != nil {
		_ = host.Close(ctx)
		return nil, fmt.Errorf("register session %s: %w", code, err)
	}
	go func() {
		<-host.Done()
		s.sessions.Delete(context.Background(), code)
	}()

	s.log.Info().Str("session", code).Str("quiz", quiz.ID).Int("questions", len(quiz.Questions)).Msg("session created")
	return host, nil
}

// Session returns a session hosted by this process.
func (s *LiveService) Session(code string) (*HostSession, error) {
	host, ok := s.sessions.Get(code)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return host, nil
}

func (s *LiveService) Start(ctx context.Context, code string) error {
	host, err := s.Session(code)
	if err != nil {
		return err
	}
	return host.Start(ctx)
}

func (s *LiveService) Advance(ctx context.Context, code string) error {
	host, err := s.Session(code)
	if err != nil {
		return err
	}
	return host.Advance(ctx)
}

func (s *LiveService) View(ctx context.Context, code string) (domain.Snapshot, error) {
	host, err := s.Session(code)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return host.View(ctx)
}

// CloseSession disconnects every participant and forgets the session.
func (s *LiveService) CloseSession(ctx context.Context, code string) error {
	host, err := s.Session(code)
	if err != nil {
		return err
	}
	if err := host.Close(ctx); err != nil {
		return err
	}
	s.sessions.Delete(ctx, code)
	return nil
}

// Connect attaches a participant client to an existing session, which may be hosted
// by another instance sharing the bus.
func (s *LiveService) Connect(ctx context.Context, code, participantID string) (*ParticipantClient, error) {
	quizID, ok, err := s.sessions.Lookup(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("lookup session %s: %w", code, err)
	}
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	var questions []domain.Question
	if host, local := s.sessions.Get(code); local {
		questions = host.Quiz().Questions
	} else {
		quiz, err := s.quizzes.GetQuiz(ctx, quizID)
		if err != nil {
			return nil, err
		}
		questions = quiz.Questions
	}

	return ConnectParticipant(ctx, s.bus, code, participantID, ParticipantOptions{
		Clock:     s.clock,
		Logger:    s.log,
		Questions: questions,
	})
}

// Wait blocks until pending result deliveries have finished.
func (s *LiveService) Wait() {
	s.wg.Wait()
}

func (s *LiveService) recordResult(result domain.Result) {
	if s.results == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), resultTimeout)
		defer cancel()
		if err := s.results.RecordResult(ctx, result); err != nil {
			s.log.Error().Err(err).Str("session", result.Code).Msg("record result failed")
		}
	}()
}

func (s *LiveService) allocateCode(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := newSessionCode(s.codeLength)
		if err != nil {
			return "", err
		}
		_, taken, err := s.sessions.Lookup(ctx, code)
		if err != nil {
			return "", fmt.Errorf("lookup session %s: %w", code, err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", errors.New("could not allocate a free session code")
}

func newSessionCode(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session code: %w", err)
	}
	for i := range buf {
		buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(buf), nil
}

func validateQuiz(quiz domain.Quiz) error {
	if len(quiz.Questions) == 0 {
		return domain.ErrNoQuestions
	}
	for i, q := range quiz.Questions {
		if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
			return fmt.Errorf("question %d of quiz %s: %w", i, quiz.ID, domain.ErrInvalidOption)
		}
	}
	return nil
}
