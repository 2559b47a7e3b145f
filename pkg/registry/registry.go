// Package registry tracks question-answering sessions. Each session owns one
// agent with its own conversation memory; sessions are created on demand and
// live until explicitly deleted.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/raglab/docqa/internal/observability"
	"github.com/raglab/docqa/pkg/agent"
	"github.com/raglab/docqa/pkg/vectorstore"
)

// Session is one conversation with its agent.
type Session struct {
	ID        string
	Agent     *agent.Agent
	CreatedAt time.Time

	// private is the session-scoped document index, nil when the session
	// reads the shared index.
	private *vectorstore.Store
}

// Info is a read-only snapshot of a session for listings.
type Info struct {
	ID        string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Messages  int       `json:"message_count"`
}

// Factory builds a fresh agent for a new session, with the shared document
// index already attached.
type Factory func() (*agent.Agent, error)

// Registry is the concurrency-safe session table.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	factory  Factory
	logger   zerolog.Logger
}

// New creates an empty registry.
func New(factory Factory, logger zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		factory:  factory,
		logger:   logger,
	}
}

// NewID returns a fresh session identifier.
func (r *Registry) NewID() string {
	return uuid.NewString()
}

// GetOrCreate returns the session with the given id, creating it if missing.
// The check and the insert happen under one lock: concurrent callers with the
// same id get the same session.
func (r *Registry) GetOrCreate(id string) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s, false, nil
	}

	a, err := r.factory()
	if err != nil {
		return nil, false, fmt.Errorf("create agent for session %s: %w", id, err)
	}

	s := &Session{ID: id, Agent: a, CreatedAt: time.Now()}
	r.sessions[id] = s

	observability.RecordSessionCreated()
	observability.SetActiveSessions(len(r.sessions))
	r.logger.Info().Str("session_id", id).Msg("session created")
	return s, true, nil
}

// Get returns the session with the given id, if it exists.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Delete removes a session and releases its private index, if any. It reports
// whether the session existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	delete(r.sessions, id)
	observability.SetActiveSessions(len(r.sessions))

	if s.private != nil {
		if err := s.private.Close(); err != nil {
			r.logger.Warn().Err(err).Str("session_id", id).Msg("failed to close private index")
		}
	}
	r.logger.Info().Str("session_id", id).Msg("session deleted")
	return true
}

// List returns snapshots of all sessions, ordered by creation time.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, Info{
			ID:        s.ID,
			CreatedAt: s.CreatedAt,
			Messages:  len(s.Agent.History()),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// AttachPrivate gives a session its own document index, replacing any
// previous one. The session stops following the shared index.
func (r *Registry) AttachPrivate(id string, store *vectorstore.Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}

	if s.private != nil && s.private != store {
		if err := s.private.Close(); err != nil {
			r.logger.Warn().Err(err).Str("session_id", id).Msg("failed to close previous private index")
		}
	}
	s.private = store
	s.Agent.AttachStore(store)
	return nil
}

// RefreshShared points every session without a private index at the given
// shared index. Called after the shared index has been rebuilt.
func (r *Registry) RefreshShared(shared *vectorstore.Store) {
	r.mu.Lock()
	defer r.mu.Unlock()

	refreshed := 0
	for _, s := range r.sessions {
		if s.private != nil {
			continue
		}
		s.Agent.AttachStore(shared)
		refreshed++
	}
	r.logger.Debug().Int("sessions", refreshed).Msg("shared index refreshed")
}
