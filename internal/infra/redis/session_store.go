package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"live-classroom-service/internal/app"
)

const refreshTimeout = 2 * time.Second

// SessionStore is a Redis-aware implementation of SessionRepository.
// Notes:
//   - Host sessions are actors living in this process, so a local map still owns them.
//   - Redis holds a directory key per session code (value: quiz id) so instances that
//     share the bus can tell participants whether a code is live.
//   - Keys expire after ttl; the owning instance refreshes them every ttl/3 while
//     the host is running, so only crashed hosts leave keys behind until expiry.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	clock    clockwork.Clock
	mu       sync.RWMutex
	sessions map[string]*app.HostSession
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return NewSessionStoreWithClock(client, ttl, clockwork.NewRealClock())
}

func NewSessionStoreWithClock(client *redis.Client, ttl time.Duration, clock clockwork.Clock) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		clock:    clock,
		sessions: make(map[string]*app.HostSession),
	}
}

func (s *SessionStore) Put(ctx context.Context, session *app.HostSession) error {
	if err := s.client.Set(ctx, s.key(session.Code()), session.Quiz().ID, s.ttl).Err(); err != nil {
		return fmt.Errorf("register session: %w", err)
	}
	s.mu.Lock()
	s.sessions[session.Code()] = session
	s.mu.Unlock()
	if s.ttl > 0 {
		go s.keepAlive(session)
	}
	return nil
}

// keepAlive refreshes the directory key until the host loop exits.
func (s *SessionStore) keepAlive(session *app.HostSession) {
	ticker := s.clock.NewTicker(s.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-session.Done():
			return
		case <-ticker.Chan():
			ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			_ = s.client.Expire(ctx, s.key(session.Code()), s.ttl).Err()
			cancel()
		}
	}
}

func (s *SessionStore) Get(code string) (*app.HostSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[code]
	return session, ok
}

func (s *SessionStore) Lookup(ctx context.Context, code string) (string, bool, error) {
	if session, ok := s.Get(code); ok {
		return session.Quiz().ID, true, nil
	}
	quizID, err := s.client.Get(ctx, s.key(code)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup session: %w", err)
	}
	return quizID, true, nil
}

func (s *SessionStore) Delete(ctx context.Context, code string) {
	s.mu.Lock()
	_, local := s.sessions[code]
	delete(s.sessions, code)
	s.mu.Unlock()
	if local {
		_ = s.client.Del(ctx, s.key(code)).Err()
	}
}

func (s *SessionStore) key(code string) string {
	return "live:session:" + code
}
