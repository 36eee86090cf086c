package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/polls"
	"github.com/aura-webinar/livesession/internal/questions"
	"github.com/aura-webinar/livesession/internal/store"
	"github.com/aura-webinar/livesession/pkg/apperr"
)

// Manager is the registry of live coordinators. Sessions are loaded from the document store on
// first use and torn down with Close.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Coordinator
	deps     Deps
	cfg      Config
	logger   *zap.Logger
}

// NewManager creates a session manager.
func NewManager(deps Deps, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MaxOnStage <= 0 {
		cfg.MaxOnStage = def.MaxOnStage
	}
	if cfg.CommitRetries < 0 {
		cfg.CommitRetries = 0
	}
	if cfg.AsyncTimeout <= 0 {
		cfg.AsyncTimeout = def.AsyncTimeout
	}
	return &Manager{
		sessions: make(map[string]*Coordinator),
		deps:     deps,
		cfg:      cfg,
		logger:   logger,
	}
}

// Create stores a new scheduled session.
func (m *Manager) Create(ctx context.Context, s models.Session) (models.Session, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if !store.ValidID(s.ID) {
		return models.Session{}, fmt.Errorf("%w: invalid session id %q", apperr.ErrInvalidOperation, s.ID)
	}
	var existing models.Session
	err := m.deps.Store.Get(ctx, store.SessionPath(s.ID), &existing)
	if err == nil {
		return models.Session{}, fmt.Errorf("%w: session %s already exists", apperr.ErrInvalidOperation, s.ID)
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return models.Session{}, fmt.Errorf("%w: %v", apperr.ErrPersistenceFailure, err)
	}
	s.Phase = models.PhaseScheduled
	s.CreatedAt = time.Now()
	s.StartedAt, s.EndedAt, s.ArchivedAt = nil, nil, nil
	if err := m.deps.Store.Set(ctx, store.SessionPath(s.ID), s); err != nil {
		return models.Session{}, fmt.Errorf("%w: %v", apperr.ErrPersistenceFailure, err)
	}
	m.logger.Info("session created", zap.String("session_id", s.ID), zap.String("group_id", s.GroupID))
	return s, nil
}

// Open returns the coordinator of a session, loading it from the store if needed.
func (m *Manager) Open(ctx context.Context, sessionID string) (*Coordinator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.sessions[sessionID]; ok {
		return c, nil
	}
	if !store.ValidID(sessionID) {
		return nil, fmt.Errorf("%w: session %q", apperr.ErrNotFound, sessionID)
	}

	var s models.Session
	if err := m.deps.Store.Get(ctx, store.SessionPath(sessionID), &s); err != nil {
		return nil, err
	}
	requests, err := m.loadHandRaises(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load hand raises: %w", err)
	}
	pollList, votes, err := polls.NewRepository(m.deps.Store).ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load polls: %w", err)
	}
	questionList, err := questions.NewRepository(m.deps.Store).ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	c := newCoordinator(s, requests, pollList, votes, questionList, m.deps, m.cfg, m.logger, m.retire)
	m.sessions[sessionID] = c
	if s.Phase == models.PhaseEnded {
		m.retire(c)
	}
	m.logger.Debug("session opened", zap.String("session_id", sessionID),
		zap.Int("hand_raises", len(requests)), zap.Int("polls", len(pollList)), zap.Int("questions", len(questionList)))
	return c, nil
}

// Get returns an already open coordinator.
func (m *Manager) Get(sessionID string) (*Coordinator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.sessions[sessionID]
	return c, ok
}

// Close tears down a session coordinator.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	c, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if ok {
		c.Close()
	}
}

// retire tears an ended session down after the linger period, unless it was replaced meanwhile.
func (m *Manager) retire(c *Coordinator) {
	time.AfterFunc(m.cfg.EndedLinger, func() {
		m.mu.Lock()
		cur, ok := m.sessions[c.id]
		owned := ok && cur == c
		if owned {
			delete(m.sessions, c.id)
		}
		m.mu.Unlock()
		if owned {
			m.logger.Debug("ended session torn down", zap.String("session_id", c.id))
			c.Close()
		}
	})
}

// Shutdown closes every coordinator.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Coordinator)
	m.mu.Unlock()
	for _, c := range all {
		c.Close()
	}
}

// HandleTransportEvent routes an RTC event to its session.
func (m *Manager) HandleTransportEvent(ctx context.Context, sessionID string, evt TransportEvent) error {
	c, err := m.Open(ctx, sessionID)
	if err != nil {
		return err
	}
	return c.HandleTransportEvent(ctx, evt)
}

// Snapshot returns the stored session with its hand raises and polls, for archiving.
func (m *Manager) Snapshot(ctx context.Context, sessionID string) (*Archive, error) {
	var a Archive
	if err := m.deps.Store.Get(ctx, store.SessionPath(sessionID), &a.Session); err != nil {
		return nil, err
	}
	var err error
	if a.HandRaises, err = m.loadHandRaises(ctx, sessionID); err != nil {
		return nil, err
	}
	if a.Polls, a.Votes, err = polls.NewRepository(m.deps.Store).ListBySession(ctx, sessionID); err != nil {
		return nil, err
	}
	if a.Questions, err = questions.NewRepository(m.deps.Store).ListBySession(ctx, sessionID); err != nil {
		return nil, err
	}
	for _, p := range a.Polls {
		e := polls.NewEngine(sessionID)
		e.Load([]models.Poll{p}, a.Votes)
		if t, err := e.Tally(p.ID); err == nil {
			a.Tallies = append(a.Tallies, t)
		}
	}
	return &a, nil
}

// Stored reads the session document directly from the store.
func (m *Manager) Stored(ctx context.Context, sessionID string) (models.Session, error) {
	var s models.Session
	if !store.ValidID(sessionID) {
		return s, fmt.Errorf("%w: session %q", apperr.ErrNotFound, sessionID)
	}
	err := m.deps.Store.Get(ctx, store.SessionPath(sessionID), &s)
	return s, err
}

// MarkArchived records where the archive of an ended session was stored.
func (m *Manager) MarkArchived(ctx context.Context, sessionID, key string) error {
	return m.deps.Store.Update(ctx, store.SessionPath(sessionID), map[string]interface{}{
		"archived_at": time.Now().UTC(),
		"archive_key": key,
	})
}

// Archive is the persisted record of a finished session.
type Archive struct {
	Session    models.Session            `json:"session"`
	HandRaises []models.HandRaiseRequest `json:"hand_raises"`
	Polls      []models.Poll             `json:"polls"`
	Votes      []models.Vote             `json:"votes"`
	Tallies    []models.Tally            `json:"tallies"`
	Questions  []models.Question         `json:"questions"`
}

func (m *Manager) loadHandRaises(ctx context.Context, sessionID string) ([]models.HandRaiseRequest, error) {
	docs, err := m.deps.Store.List(ctx, store.HandRaisesPath(sessionID))
	if err != nil {
		return nil, err
	}
	out := make([]models.HandRaiseRequest, 0, len(docs))
	for _, d := range docs {
		var r models.HandRaiseRequest
		if err := d.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
