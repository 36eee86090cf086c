package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/handraise"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/store"
	"github.com/aura-webinar/livesession/pkg/apperr"
)

// Start moves a scheduled session live.
func (c *Coordinator) Start(ctx context.Context, actor Actor) (models.Session, error) {
	var out models.Session
	err := c.exec(ctx, func(ctx context.Context) error {
		if err := c.requireModerator(actor); err != nil {
			return err
		}
		if c.session.Phase != models.PhaseScheduled {
			return fmt.Errorf("%w: cannot start a session that is %s", apperr.ErrInvalidStateTransition, c.session.Phase)
		}
		prev := c.session
		now := time.Now()
		c.session.Phase = models.PhaseLive
		c.session.StartedAt = &now
		write := func(ctx context.Context) error {
			return c.deps.Store.Update(ctx, store.SessionPath(c.id), map[string]interface{}{
				"phase":      models.PhaseLive,
				"started_at": now,
			})
		}
		if err := c.commit(ctx, KindPhase, c.id, write, func() { c.session = prev }); err != nil {
			return err
		}
		out = c.session
		if h := c.deps.Hooks.OnStart; h != nil {
			h(c.session)
		}
		return nil
	})
	return out, err
}

// End finishes a live session: hand-raises are reset, the current poll is closed, timers stop
// and the archive job is queued.
func (c *Coordinator) End(ctx context.Context, actor Actor) (models.Session, error) {
	var out models.Session
	err := c.exec(ctx, func(ctx context.Context) error {
		if err := c.requireModerator(actor); err != nil {
			return err
		}
		if c.session.Phase != models.PhaseLive {
			return fmt.Errorf("%w: cannot end a session that is %s", apperr.ErrInvalidStateTransition, c.session.Phase)
		}
		prev := c.session
		now := time.Now()
		resets := c.hands.ResetAll()
		closed, hadCurrent := c.polls.CloseCurrent()
		c.session.Phase = models.PhaseEnded
		c.session.EndedAt = &now

		write := func(ctx context.Context) error {
			for _, t := range resets {
				if err := c.saveHandRaise(ctx, t.After); err != nil {
					return err
				}
			}
			if hadCurrent {
				if err := c.pollRepo.Apply(ctx, c.id, closed); err != nil {
					return err
				}
			}
			return c.deps.Store.Update(ctx, store.SessionPath(c.id), map[string]interface{}{
				"phase":    models.PhaseEnded,
				"ended_at": now,
			})
		}
		undo := func() {
			c.session = prev
			undoResets(c.hands, resets)
			if hadCurrent {
				closed.Undo()
			}
		}
		if err := c.commit(ctx, KindPhase, c.id, write, undo); err != nil {
			return err
		}
		for _, t := range resets {
			c.afterHandRaise(t)
		}
		c.stopTimers()
		out = c.session
		if c.deps.Archiver != nil {
			if err := c.deps.Archiver.EnqueueArchive(ctx, c.id); err != nil {
				c.logger.Error("enqueue session archive", zap.Error(err))
			}
		}
		if h := c.deps.Hooks.OnEnd; h != nil {
			h(c.session)
		}
		c.retire()
		return nil
	})
	return out, err
}

func (c *Coordinator) retire() {
	if c.ended != nil {
		c.ended(c)
	}
}

// Session returns the session record as last published.
func (c *Coordinator) Session() models.Session { return c.View().Session }

func undoResets(m *handraise.Machine, resets []handraise.Transition) {
	for i := len(resets) - 1; i >= 0; i-- {
		m.Restore(resets[i].Before)
	}
}
