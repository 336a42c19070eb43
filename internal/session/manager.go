package session

import (
	"sync"
	"time"

	"query-sphere/internal/logger"
	"query-sphere/internal/scheduler"
	"query-sphere/models"

	"github.com/google/uuid"
)

const sweepJobTag = "session-sweep"

type ManagerOptions struct {
	TTL         time.Duration
	SweepEvery  time.Duration
	MaxSessions int
}

// Manager owns every live session. Sessions share only the pipeline
// collaborators, never document or index state.
type Manager struct {
	pipeline *Pipeline
	opts     ManagerOptions

	mu       sync.RWMutex
	sessions map[string]*Session

	scheduler *scheduler.Scheduler
	now       func() time.Time
}

func NewManager(p *Pipeline, opts ManagerOptions) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Minute
	}
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = time.Minute
	}
	return &Manager{
		pipeline: p,
		opts:     opts,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Start schedules the idle-session sweep.
func (m *Manager) Start() error {
	m.scheduler = scheduler.New()
	if err := m.scheduler.ScheduleInterval(sweepJobTag, m.opts.SweepEvery, func() error {
		if n := m.Sweep(); n > 0 {
			logger.Info("Expired idle sessions", "count", n, "remaining", m.Len())
		}
		return nil
	}); err != nil {
		return err
	}
	m.scheduler.Start()
	return nil
}

// Close stops the sweep and releases every session.
func (m *Manager) Close() {
	if m.scheduler != nil {
		m.scheduler.Stop()
	}

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.release()
		m.pipeline.Metrics.SessionClosed()
	}
}

func (m *Manager) TTL() time.Duration { return m.opts.TTL }

func (m *Manager) Create() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opts.MaxSessions > 0 && len(m.sessions) >= m.opts.MaxSessions {
		return nil, models.ErrSessionLimit
	}

	s := newSession(uuid.NewString(), m.pipeline, m.now())
	m.sessions[s.id] = s
	m.pipeline.Metrics.SessionOpened()
	return s, nil
}

// Get returns the session and marks it as active.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	s.touch(m.now())
	return s, nil
}

func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return models.ErrSessionNotFound
	}
	s.release()
	m.pipeline.Metrics.SessionClosed()
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep removes sessions idle for longer than the TTL. Sessions with a
// running upload or question are kept until they finish.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.opts.TTL)

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		lastSeen, running := s.idleSince()
		if !running && lastSeen.Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.release()
		m.pipeline.Metrics.SessionClosed()
	}
	return len(expired)
}
