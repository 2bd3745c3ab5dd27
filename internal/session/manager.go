package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/clawdesk/internal/backend"
	"github.com/ent0n29/clawdesk/internal/device"
	"github.com/ent0n29/clawdesk/internal/observability"
	"github.com/ent0n29/clawdesk/internal/speech"
)

// Options carries the collaborators shared by every session.
type Options struct {
	Backend    backend.Client
	Microphone device.Microphone
	Speaker    speech.Speaker
	Metrics    *observability.Metrics
	Logger     zerolog.Logger

	StreamDefault     bool
	Greeting          string
	InactivityTimeout time.Duration
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	opts              Options
	inactivityTimeout time.Duration
	onExpire          func(Info)
}

func NewManager(opts Options) *Manager {
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		opts:              opts,
		inactivityTimeout: opts.InactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(Info)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create opens a session. A nil stream uses the configured default.
func (m *Manager) Create(stream *bool) *Session {
	streamDefault := m.opts.StreamDefault
	if stream != nil {
		streamDefault = *stream
	}
	s := newSession(m.opts, m.inactivityTimeout, streamDefault)
	if m.opts.Greeting != "" {
		s.transcript.AppendSystemNotice(m.opts.Greeting)
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.opts.Metrics.SessionOpened()
	s.log.Info().Bool("stream", streamDefault).Msg("session created")
	return s
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// End finishes a session, aborting any voice turn it holds.
func (m *Manager) End(sessionID string) (Info, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return Info{}, err
	}
	if s.end("ended by client") {
		m.opts.Metrics.SessionClosed("ended")
	}
	return s.Info(false), nil
}

// EndAll ends every active session, e.g. on shutdown.
func (m *Manager) EndAll(reason string) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		if s.end(reason) {
			m.opts.Metrics.SessionClosed("ended")
		}
	}
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.checkActive() == nil {
			count++
		}
	}
	return count
}

// expireInactive ends idle sessions and forgets sessions that ended more
// than one timeout ago.
func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		since, active := s.idleSince(now)
		if !active {
			if now.Sub(s.Info(false).LastActivityAt) >= m.inactivityTimeout {
				delete(m.sessions, id)
			}
			continue
		}
		if now.Sub(since) < m.inactivityTimeout {
			continue
		}
		expired = append(expired, s)
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, s := range expired {
		if !s.end("inactivity timeout") {
			continue
		}
		m.opts.Metrics.SessionClosed("expired")
		if hook != nil {
			hook(s.Info(false))
		}
	}
}
