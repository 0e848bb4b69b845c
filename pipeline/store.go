package pipeline

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ayushj62/Snapshrinkstool/utils"
)

// SessionStore 进程内的活动会话
type SessionStore struct {
	orch  *Orchestrator
	cache MaskCache
	cfg   SessionConfig
	ttl   time.Duration
	log   *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionStore(orch *Orchestrator, cache MaskCache, cfg SessionConfig, ttl time.Duration, log *zap.Logger) *SessionStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionStore{
		orch:     orch,
		cache:    cache,
		cfg:      cfg,
		ttl:      ttl,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

func (st *SessionStore) Create(source *SourceImage) *Session {
	s := NewSession(utils.GenerateID(), source, st.orch, st.cache, st.cfg, st.log)
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	st.log.Info("session created", zap.String("session_id", s.ID))
	return s
}

func (st *SessionStore) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (st *SessionStore) Delete(id string) error {
	st.mu.Lock()
	s, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Dispose()
	return nil
}

func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep 释放空闲超过 TTL 的会话并返回数量，TTL 不大于 0 时不过期
func (st *SessionStore) Sweep(now time.Time) int {
	if st.ttl <= 0 {
		return 0
	}
	var expired []*Session
	st.mu.Lock()
	for id, s := range st.sessions {
		if s.IdleSince(now) > st.ttl {
			expired = append(expired, s)
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()

	for _, s := range expired {
		s.Dispose()
	}
	if len(expired) > 0 {
		st.log.Info("expired sessions removed", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Close 释放所有会话
func (st *SessionStore) Close() {
	st.mu.Lock()
	sessions := st.sessions
	st.sessions = make(map[string]*Session)
	st.mu.Unlock()
	for _, s := range sessions {
		s.Dispose()
	}
}
