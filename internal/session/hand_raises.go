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

// SetHandRaiseEnabled toggles hand-raise mode. Disabling resets every request.
func (c *Coordinator) SetHandRaiseEnabled(ctx context.Context, actor Actor, enabled bool) error {
	return c.exec(ctx, func(ctx context.Context) error {
		if err := c.requireModerator(actor); err != nil {
			return err
		}
		if err := c.requireOpen(); err != nil {
			return err
		}
		if c.hands.Enabled() == enabled {
			return nil
		}
		prevSession := c.session
		prevRequests := c.hands.List()
		resets := c.hands.SetEnabled(enabled)
		c.session.HandRaiseEnabled = enabled

		write := func(ctx context.Context) error {
			if err := c.deps.Store.Update(ctx, store.SessionPath(c.id), map[string]interface{}{"hand_raise_enabled": enabled}); err != nil {
				return err
			}
			for _, t := range resets {
				if err := c.saveHandRaise(ctx, t.After); err != nil {
					return err
				}
			}
			return nil
		}
		undo := func() {
			c.session = prevSession
			c.hands.SetEnabled(prevSession.HandRaiseEnabled)
			c.hands.Load(prevRequests)
		}
		if err := c.commit(ctx, KindHandRaiseMode, "", write, undo); err != nil {
			return err
		}
		for _, t := range resets {
			c.afterHandRaise(t)
		}
		return nil
	})
}

// RequestHandRaise raises the participant's hand.
func (c *Coordinator) RequestHandRaise(ctx context.Context, participantID string, ifVersion uint64) (models.HandRaiseRequest, error) {
	return c.handRaise(ctx, func() (handraise.Transition, error) {
		if err := c.requireLive(); err != nil {
			return handraise.Transition{}, err
		}
		name := ""
		if p, ok := c.roster.Get(participantID); ok {
			name = p.Name
		}
		return c.hands.Request(participantID, name, ifVersion)
	})
}

// RespondHandRaise accepts or declines a pending request. Host and co-hosts only.
func (c *Coordinator) RespondHandRaise(ctx context.Context, actor Actor, participantID string, accept bool, ifVersion uint64) (models.HandRaiseRequest, error) {
	return c.handRaise(ctx, func() (handraise.Transition, error) {
		if err := c.requireModerator(actor); err != nil {
			return handraise.Transition{}, err
		}
		if err := c.requireLive(); err != nil {
			return handraise.Transition{}, err
		}
		return c.hands.Respond(participantID, accept, ifVersion)
	})
}

// AcquireMedia starts media acquisition for an invited participant.
func (c *Coordinator) AcquireMedia(ctx context.Context, participantID string, ifVersion uint64) (models.HandRaiseRequest, error) {
	return c.handRaise(ctx, func() (handraise.Transition, error) {
		if err := c.requireLive(); err != nil {
			return handraise.Transition{}, err
		}
		return c.hands.AcquireMedia(participantID, ifVersion)
	})
}

// CancelHandRaise resets a request. Participants cancel their own; moderators may revoke anyone's.
func (c *Coordinator) CancelHandRaise(ctx context.Context, actor Actor, participantID string, ifVersion uint64) (models.HandRaiseRequest, error) {
	return c.handRaise(ctx, func() (handraise.Transition, error) {
		if actor.ID != participantID {
			if err := c.requireModerator(actor); err != nil {
				return handraise.Transition{}, err
			}
		}
		return c.hands.Cancel(participantID, ifVersion)
	})
}

// HandRaise returns the current request of a participant.
func (c *Coordinator) HandRaise(participantID string) models.HandRaiseRequest {
	return c.View().HandRaise(participantID)
}

func (c *Coordinator) handRaise(ctx context.Context, step func() (handraise.Transition, error)) (models.HandRaiseRequest, error) {
	var out models.HandRaiseRequest
	err := c.exec(ctx, func(ctx context.Context) error {
		t, err := step()
		if err != nil {
			return err
		}
		out = t.After
		if !t.Changed {
			return nil
		}
		return c.commitHandRaise(ctx, t)
	})
	return out, err
}

func (c *Coordinator) commitHandRaise(ctx context.Context, t handraise.Transition) error {
	pid := t.After.ParticipantID
	write := func(ctx context.Context) error { return c.saveHandRaise(ctx, t.After) }
	undo := func() { c.hands.Restore(t.Before) }
	if err := c.commit(ctx, KindHandRaise, pid, write, undo); err != nil {
		return err
	}
	delete(c.unsaved, pid)
	c.afterHandRaise(t)
	return nil
}

// forceHandRaise applies a reset that is never rolled back. The participant is gone, so the
// stage slot and the publisher are freed at once and a failed write is retried later.
func (c *Coordinator) forceHandRaise(ctx context.Context, t handraise.Transition) {
	pid := t.After.ParticipantID
	c.version++
	c.publish(Notification{Kind: KindHandRaise, Subject: pid}, true)
	c.afterHandRaise(t)
	if err := c.persist(ctx, KindHandRaise, pid, func(ctx context.Context) error { return c.saveHandRaise(ctx, t.After) }); err != nil {
		c.logger.Warn("forced hand raise reset not saved, will retry", zap.String("participant_id", pid), zap.Error(err))
		c.unsaved[pid] = struct{}{}
		c.scheduleFlush()
	} else {
		delete(c.unsaved, pid)
	}
	c.publish(Notification{Kind: KindHandRaise, Subject: pid}, false)
}

// flushUnsaved writes the current state of every hand raise whose forced reset was not saved.
func (c *Coordinator) flushUnsaved(ctx context.Context) {
	for pid := range c.unsaved {
		if err := c.saveHandRaise(ctx, c.hands.Get(pid)); err != nil {
			c.logger.Debug("retry unsaved hand raise", zap.String("participant_id", pid), zap.Error(err))
			continue
		}
		delete(c.unsaved, pid)
		c.logger.Info("unsaved hand raise written", zap.String("participant_id", pid))
	}
	if len(c.unsaved) > 0 {
		c.scheduleFlush()
	}
}

func (c *Coordinator) scheduleFlush() {
	if c.retry != nil {
		return
	}
	d := 4 * c.cfg.CommitBackoff
	if d < 50*time.Millisecond {
		d = 50 * time.Millisecond
	}
	// every command drains the unsaved set before it runs
	c.retry = time.AfterFunc(d, func() {
		c.post(func(context.Context) error {
			c.retry = nil
			if len(c.unsaved) > 0 {
				c.scheduleFlush()
			}
			return nil
		})
	})
}

func (c *Coordinator) afterHandRaise(t handraise.Transition) {
	pid := t.After.ParticipantID
	if t.ReleasesMedia() && c.deps.Media != nil {
		if err := c.deps.Media.ReleasePublisher(c.id, pid); err != nil {
			c.logger.Warn("release publisher", zap.String("participant_id", pid),
				zap.Error(fmt.Errorf("%w: %v", apperr.ErrTransportFailure, err)))
		}
	}
	if t.After.State == models.HandRaiseConnected {
		if h := c.deps.Hooks.OnStage; h != nil {
			h(c.id, pid)
		}
	}
}

func (c *Coordinator) saveHandRaise(ctx context.Context, r models.HandRaiseRequest) error {
	return c.deps.Store.Set(ctx, store.HandRaisePath(c.id, r.ParticipantID), r)
}

// mediaEvent applies an RTC-driven transition. Events that do not match the participant's
// hand-raise state are ignored; hosts publish without one.
func (c *Coordinator) mediaEvent(ctx context.Context, participantID string, apply func() (handraise.Transition, error)) error {
	t, err := apply()
	if err != nil {
		c.logger.Debug("ignore media event", zap.String("participant_id", participantID), zap.Error(err))
		return nil
	}
	return c.commitHandRaise(ctx, t)
}
