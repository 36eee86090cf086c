package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/models"
)

// Join adds a participant or refreshes a re-join. A pending disconnect is cancelled.
func (c *Coordinator) Join(ctx context.Context, participantID, name string, role models.Role) (models.Participant, error) {
	var out models.Participant
	err := c.exec(ctx, func(ctx context.Context) error {
		if err := c.requireOpen(); err != nil {
			return err
		}
		p, created, err := c.roster.Join(participantID, name, role)
		if err != nil {
			return err
		}
		c.cancelTimer(participantID)
		out = p
		if !created {
			c.changed(KindParticipantUpdated, participantID)
			return nil
		}
		if h := c.deps.Hooks.OnJoin; h != nil {
			h(c.id, p)
		}
		c.changed(KindParticipantJoined, participantID)
		c.audienceChanged()
		return nil
	})
	return out, err
}

// Leave removes a participant at once. Any hand-raise is reset; votes stay.
func (c *Coordinator) Leave(ctx context.Context, participantID string) error {
	return c.exec(ctx, func(ctx context.Context) error {
		return c.finalizeLeave(ctx, participantID)
	})
}

// UpdateMediaState records camera and mic flags.
func (c *Coordinator) UpdateMediaState(ctx context.Context, participantID string, media models.MediaState) error {
	return c.exec(ctx, func(ctx context.Context) error {
		if err := c.roster.UpdateMediaState(participantID, media); err != nil {
			return err
		}
		c.changed(KindParticipantUpdated, participantID)
		return nil
	})
}

// UpdateConnectionQuality records the participant's network signal.
func (c *Coordinator) UpdateConnectionQuality(ctx context.Context, participantID string, q models.ConnectionQuality) error {
	return c.exec(ctx, func(ctx context.Context) error {
		if err := c.roster.UpdateConnectionQuality(participantID, q); err != nil {
			return err
		}
		c.changed(KindParticipantUpdated, participantID)
		return nil
	})
}

// Touch records a heartbeat without waiting.
func (c *Coordinator) Touch(participantID string) {
	c.post(func(context.Context) error {
		if c.roster.MarkSeen(participantID) {
			c.cancelTimer(participantID)
		}
		return nil
	})
}

// Disconnected marks a transport loss. The leave is finalized when the participant has not
// come back within the disconnect grace period.
func (c *Coordinator) Disconnected(ctx context.Context, participantID string) error {
	return c.exec(ctx, func(ctx context.Context) error {
		c.markDisconnected(participantID)
		return nil
	})
}

func (c *Coordinator) markDisconnected(participantID string) {
	if !c.roster.MarkDisconnected(participantID) {
		return
	}
	c.changed(KindParticipantUpdated, participantID)
	if c.cfg.DisconnectGrace <= 0 {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.AsyncTimeout)
		defer cancel()
		if err := c.finalizeLeave(ctx, participantID); err != nil {
			c.logger.Warn("finalize leave", zap.String("participant_id", participantID), zap.Error(err))
		}
		return
	}
	c.cancelTimer(participantID)
	var timer *time.Timer
	timer = time.AfterFunc(c.cfg.DisconnectGrace, func() {
		c.post(func(ctx context.Context) error {
			// a rejoin or a later disconnect may have replaced this timer after it fired
			if c.timers[participantID] != timer {
				return nil
			}
			delete(c.timers, participantID)
			if !c.roster.Disconnected(participantID) {
				return nil
			}
			c.logger.Debug("disconnect grace expired", zap.String("participant_id", participantID))
			return c.finalizeLeave(ctx, participantID)
		})
	})
	c.timers[participantID] = timer
}

func (c *Coordinator) finalizeLeave(ctx context.Context, participantID string) error {
	p, ok := c.roster.Leave(participantID)
	if !ok {
		return nil
	}
	c.cancelTimer(participantID)
	if h := c.deps.Hooks.OnLeave; h != nil {
		h(c.id, p)
	}
	c.changed(KindParticipantLeft, participantID)
	c.audienceChanged()

	if t := c.hands.ForceReset(participantID); t.Changed {
		c.forceHandRaise(ctx, t)
	}
	return nil
}

func (c *Coordinator) audienceChanged() {
	if h := c.deps.Hooks.OnAudience; h != nil {
		h(c.id, c.roster.Count())
	}
}
