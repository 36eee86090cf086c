// Package session reconciles RTC, messaging and document-store events for live sessions.
//
// Each session is owned by a Coordinator running one goroutine that applies commands in the
// order they arrive. A command mutates the roster, hand-raise or poll state in memory,
// publishes the optimistic view, persists the change with retries and then confirms it, or
// rolls the in-memory change back and reports a persistence failure.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/handraise"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/polls"
	"github.com/aura-webinar/livesession/internal/questions"
	"github.com/aura-webinar/livesession/internal/roster"
	"github.com/aura-webinar/livesession/internal/store"
	"github.com/aura-webinar/livesession/pkg/apperr"
)

const (
	commandBuffer = 64
	// EventSessionUpdate carries notifications to clients through the Messenger.
	EventSessionUpdate = "session_update"
)

type command struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Coordinator owns the live state of one session.
type Coordinator struct {
	id     string
	cfg    Config
	deps   Deps
	logger *zap.Logger

	// owned by the run goroutine
	session  models.Session
	roster   *roster.Roster
	hands    *handraise.Machine
	polls    *polls.Engine
	queue    *questions.Queue
	timers   map[string]*time.Timer
	version  uint64
	pollRepo *polls.Repository
	qRepo    *questions.Repository
	// hand raises reset in memory whose write has not landed yet
	unsaved  map[string]struct{}
	retry    *time.Timer
	// ended is called once the session reaches the ended phase
	ended    func(c *Coordinator)

	cmds      chan command
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	unwatch   func()

	view    atomic.Pointer[View]
	subMu   sync.RWMutex
	subs    map[int]func(Notification)
	nextSub int
}

func newCoordinator(s models.Session, requests []models.HandRaiseRequest, pollList []models.Poll, votes []models.Vote,
	questionList []models.Question, deps Deps, cfg Config, logger *zap.Logger, ended func(*Coordinator)) *Coordinator {
	c := &Coordinator{
		id:       s.ID,
		cfg:      cfg,
		deps:     deps,
		logger:   logger.With(zap.String("session_id", s.ID)),
		session:  s,
		roster:   roster.New(),
		hands:    handraise.New(cfg.MaxOnStage, s.HandRaiseEnabled),
		polls:    polls.NewEngine(s.ID),
		queue:    questions.NewQueue(s.ID),
		timers:   make(map[string]*time.Timer),
		unsaved:  make(map[string]struct{}),
		pollRepo: polls.NewRepository(deps.Store),
		qRepo:    questions.NewRepository(deps.Store),
		cmds:     make(chan command, commandBuffer),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		subs:     make(map[int]func(Notification)),
		ended:    ended,
	}
	c.hands.Load(requests)
	c.polls.Load(pollList, votes)
	c.queue.Load(questionList)
	v := c.buildView(false)
	c.view.Store(&v)
	c.unwatch = deps.Store.Subscribe(store.SessionPath(s.ID), c.HandleDocumentChange)
	go c.run()
	return c
}

// ID returns the session id.
func (c *Coordinator) ID() string { return c.id }

// View returns the latest published snapshot.
func (c *Coordinator) View() View { return *c.view.Load() }

// Subscribe registers fn for notifications. fn runs on the session goroutine and must not block.
func (c *Coordinator) Subscribe(fn func(Notification)) (cancel func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

// Close stops the session goroutine and its timers. Pending callers get an error.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		if c.unwatch != nil {
			c.unwatch()
		}
		close(c.quit)
	})
	<-c.stopped
}

func (c *Coordinator) run() {
	defer close(c.stopped)
	var sweep <-chan time.Time
	if c.cfg.PresenceTimeout > 0 {
		t := time.NewTicker(sweepInterval(c.cfg.PresenceTimeout))
		defer t.Stop()
		sweep = t.C
	}
	for {
		select {
		case <-c.quit:
			c.stopTimers()
			if c.retry != nil {
				c.retry.Stop()
			}
			return
		case cmd := <-c.cmds:
			err := c.runCommand(cmd)
			if cmd.done != nil {
				cmd.done <- err
			} else if err != nil {
				c.logger.Warn("async session command failed", zap.Error(err))
			}
		case now := <-sweep:
			c.flushUnsaved(context.Background())
			c.sweep(now)
		}
	}
}

func (c *Coordinator) runCommand(cmd command) error {
	ctx := cmd.ctx
	if cmd.done == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.AsyncTimeout)
		defer cancel()
	}
	c.flushUnsaved(ctx)
	return cmd.fn(ctx)
}

// exec runs fn on the session goroutine and waits for its result.
func (c *Coordinator) exec(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	select {
	case c.cmds <- command{ctx: ctx, fn: fn, done: done}:
	case <-c.quit:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-c.stopped:
		return c.closedErr()
	}
}

// post queues fn without waiting. Safe to call from any goroutine, including store callbacks.
func (c *Coordinator) post(fn func(ctx context.Context) error) {
	cmd := command{ctx: context.Background(), fn: fn}
	select {
	case c.cmds <- cmd:
	case <-c.quit:
	default:
		go func() {
			select {
			case c.cmds <- cmd:
			case <-c.quit:
			}
		}()
	}
}

func (c *Coordinator) closedErr() error {
	return fmt.Errorf("%w: session %s is closed", apperr.ErrInvalidOperation, c.id)
}

// commit publishes the optimistic view, persists with retries and confirms or rolls back.
func (c *Coordinator) commit(ctx context.Context, kind Kind, subject string, write func(ctx context.Context) error, undo func()) error {
	c.version++
	c.publish(Notification{Kind: kind, Subject: subject}, true)
	if err := c.persist(ctx, kind, subject, write); err != nil {
		undo()
		c.version++
		c.publish(Notification{Kind: KindRollback, Subject: subject, Error: apperr.Reason(apperr.ErrPersistenceFailure)}, false)
		c.logger.Error("commit failed, rolled back", zap.String("kind", string(kind)), zap.String("subject", subject), zap.Error(err))
		return fmt.Errorf("%w: save %s %s: %v", apperr.ErrPersistenceFailure, kind, subject, err)
	}
	c.publish(Notification{Kind: kind, Subject: subject}, false)
	return nil
}

func (c *Coordinator) persist(ctx context.Context, kind Kind, subject string, write func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.CommitBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.CommitRetries)), ctx)
	attempt := 0
	return backoff.RetryNotify(func() error { return write(ctx) }, policy, func(err error, wait time.Duration) {
		attempt++
		c.logger.Warn("commit failed, retrying",
			zap.String("kind", string(kind)),
			zap.String("subject", subject),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
		c.publish(Notification{Kind: KindSavingRetry, Subject: subject, Attempt: attempt, Error: "couldn't save, retrying"}, true)
	})
}

// changed publishes a state change that needs no persistence.
func (c *Coordinator) changed(kind Kind, subject string) {
	c.version++
	c.publish(Notification{Kind: kind, Subject: subject}, false)
}

func (c *Coordinator) publish(n Notification, pending bool) {
	v := c.buildView(pending)
	c.view.Store(&v)
	n.Version = v.Version
	n.Pending = pending
	n.View = v

	c.subMu.RLock()
	fns := make([]func(Notification), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.RUnlock()
	for _, fn := range fns {
		fn(n)
	}
	if c.deps.Messenger != nil {
		if err := c.deps.Messenger.SendMessage(c.id, EventSessionUpdate, n); err != nil {
			c.logger.Debug("send session update", zap.Error(err))
		}
	}
}

func (c *Coordinator) buildView(pending bool) View {
	v := View{
		SessionID:        c.id,
		Session:          c.session,
		Version:          c.version,
		Pending:          pending,
		Participants:     c.roster.Snapshot(),
		Count:            c.roster.Count(),
		HandRaiseEnabled: c.hands.Enabled(),
		MaxOnStage:       c.hands.MaxOnStage(),
		HandRaises:       c.hands.List(),
		Polls:            c.polls.List(),
		Questions:        c.queue.List(),
	}
	v.Session.HandRaiseEnabled = v.HandRaiseEnabled
	for _, p := range v.Polls {
		if t, err := c.polls.Tally(p.ID); err == nil {
			v.Tallies = append(v.Tallies, t)
		}
	}
	return v
}

func (c *Coordinator) stopTimers() {
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}

func (c *Coordinator) cancelTimer(participantID string) {
	if t, ok := c.timers[participantID]; ok {
		t.Stop()
		delete(c.timers, participantID)
	}
}

func (c *Coordinator) sweep(now time.Time) {
	for _, id := range c.roster.Stale(now, c.cfg.PresenceTimeout) {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.AsyncTimeout)
		if err := c.finalizeLeave(ctx, id); err != nil {
			c.logger.Warn("finalize stale participant", zap.String("participant_id", id), zap.Error(err))
		}
		cancel()
	}
}

func sweepInterval(timeout time.Duration) time.Duration {
	if d := timeout / 3; d > time.Second {
		return d
	}
	return time.Second
}

func (c *Coordinator) requireModerator(a Actor) error {
	if !a.Role.CanModerate() {
		return fmt.Errorf("%w: only the host or a co-host can do this", apperr.ErrForbidden)
	}
	if !a.Moderates(c.session.GroupID) {
		return fmt.Errorf("%w: session %s belongs to another group", apperr.ErrForbidden, c.id)
	}
	return nil
}

func (c *Coordinator) requireOpen() error {
	if c.session.Phase == models.PhaseEnded {
		return fmt.Errorf("%w: session %s has ended", apperr.ErrInvalidOperation, c.id)
	}
	return nil
}

func (c *Coordinator) requireLive() error {
	if c.session.Phase != models.PhaseLive {
		return fmt.Errorf("%w: session %s is not live", apperr.ErrInvalidOperation, c.id)
	}
	return nil
}
