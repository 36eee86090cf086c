package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/handraise"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/store"
	"github.com/aura-webinar/livesession/pkg/apperr"
)

// Inbound message events.
const (
	MsgJoin              = "join"
	MsgLeave             = "leave"
	MsgMediaState        = "media_state"
	MsgHeartbeat         = "heartbeat"
	MsgConnectionQuality = "connection_quality"
	MsgEmote             = "emote"
	MsgHandRaiseRequest  = "hand_raise_request"
	MsgHandRaiseCancel   = "hand_raise_cancel"
	MsgHandRaiseAcquire  = "hand_raise_acquire_media"
	MsgHandRaiseRespond  = "hand_raise_respond"
	MsgVote              = "vote"
	MsgQuestionAsk       = "question_ask"
	MsgQuestionUpvote    = "question_upvote"
	MsgQuestionNext      = "question_next"
	MsgQuestionRemove    = "question_remove"
)

// Message is an inbound control message from the messaging channel.
type Message struct {
	Event         string          `json:"event"`
	ParticipantID string          `json:"participant_id"`
	Name          string          `json:"name,omitempty"`
	Role          models.Role     `json:"role"`
	GroupID       string          `json:"group_id,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

type versionedData struct {
	ParticipantID string `json:"participant_id"`
	Accept        bool   `json:"accept"`
	IfVersion     uint64 `json:"if_version"`
}

type questionData struct {
	QuestionID string `json:"question_id"`
	Content    string `json:"content"`
}

type voteData struct {
	PollID   string `json:"poll_id"`
	OptionID string `json:"option_id"`
}

// HandleMessage maps a messaging-channel event onto roster, hand-raise and poll operations.
func (c *Coordinator) HandleMessage(ctx context.Context, msg Message) error {
	actor := Actor{ID: msg.ParticipantID, Role: msg.Role, GroupID: msg.GroupID}
	switch msg.Event {
	case MsgJoin:
		_, err := c.Join(ctx, msg.ParticipantID, msg.Name, msg.Role)
		return err
	case MsgLeave:
		return c.Leave(ctx, msg.ParticipantID)
	case MsgHeartbeat:
		c.Touch(msg.ParticipantID)
		return nil
	case MsgMediaState:
		var media models.MediaState
		if err := decode(msg.Data, &media); err != nil {
			return err
		}
		return c.UpdateMediaState(ctx, msg.ParticipantID, media)
	case MsgConnectionQuality:
		var body struct {
			Quality models.ConnectionQuality `json:"quality"`
		}
		if err := decode(msg.Data, &body); err != nil {
			return err
		}
		return c.UpdateConnectionQuality(ctx, msg.ParticipantID, body.Quality)
	case MsgEmote:
		if c.deps.Messenger == nil {
			return nil
		}
		payload := map[string]interface{}{"participant_id": msg.ParticipantID, "data": msg.Data}
		if err := c.deps.Messenger.SendMessage(c.id, MsgEmote, payload); err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrTransportFailure, err)
		}
		return nil
	case MsgHandRaiseRequest:
		var d versionedData
		if err := decode(msg.Data, &d); err != nil {
			return err
		}
		_, err := c.RequestHandRaise(ctx, msg.ParticipantID, d.IfVersion)
		return err
	case MsgHandRaiseCancel:
		var d versionedData
		if err := decode(msg.Data, &d); err != nil {
			return err
		}
		target := d.ParticipantID
		if target == "" {
			target = msg.ParticipantID
		}
		_, err := c.CancelHandRaise(ctx, actor, target, d.IfVersion)
		return err
	case MsgHandRaiseAcquire:
		var d versionedData
		if err := decode(msg.Data, &d); err != nil {
			return err
		}
		_, err := c.AcquireMedia(ctx, msg.ParticipantID, d.IfVersion)
		return err
	case MsgHandRaiseRespond:
		var d versionedData
		if err := decode(msg.Data, &d); err != nil {
			return err
		}
		_, err := c.RespondHandRaise(ctx, actor, d.ParticipantID, d.Accept, d.IfVersion)
		return err
	case MsgVote:
		var d voteData
		if err := decode(msg.Data, &d); err != nil {
			return err
		}
		_, err := c.CastVote(ctx, msg.ParticipantID, d.PollID, d.OptionID)
		return err
	case MsgQuestionAsk, MsgQuestionUpvote, MsgQuestionNext, MsgQuestionRemove:
		var d questionData
		if err := decode(msg.Data, &d); err != nil {
			return err
		}
		return c.handleQuestion(ctx, actor, msg, d)
	}
	return fmt.Errorf("%w: unknown event %q", apperr.ErrInvalidOperation, msg.Event)
}

func (c *Coordinator) handleQuestion(ctx context.Context, actor Actor, msg Message, d questionData) error {
	var err error
	switch msg.Event {
	case MsgQuestionAsk:
		_, err = c.AskQuestion(ctx, actor, msg.Name, d.Content)
	case MsgQuestionUpvote:
		_, err = c.UpvoteQuestion(ctx, actor, d.QuestionID)
	case MsgQuestionNext:
		_, err = c.NextQuestion(ctx, actor, d.QuestionID)
	case MsgQuestionRemove:
		err = c.RemoveQuestion(ctx, actor, d.QuestionID)
	}
	return err
}

func decode(data json.RawMessage, dst interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: malformed payload: %v", apperr.ErrInvalidOperation, err)
	}
	return nil
}

// TransportEventKind is an RTC connection-state signal.
type TransportEventKind string

const (
	TransportPeerConnected      TransportEventKind = "peer_connected"
	TransportPeerDisconnected   TransportEventKind = "peer_disconnected"
	TransportPublisherOffer     TransportEventKind = "publisher_offer"
	TransportPublisherConnected TransportEventKind = "publisher_connected"
	TransportPublisherFailed    TransportEventKind = "publisher_failed"
)

// TransportEvent is emitted by the RTC adapter.
type TransportEvent struct {
	Kind          TransportEventKind
	ParticipantID string
	Reason        string
}

// HandleTransportEvent applies an RTC connection-state change. Publisher events drive the
// hand-raise negotiation; peer events drive presence.
func (c *Coordinator) HandleTransportEvent(ctx context.Context, evt TransportEvent) error {
	return c.exec(ctx, func(ctx context.Context) error {
		pid := evt.ParticipantID
		switch evt.Kind {
		case TransportPeerConnected:
			if c.roster.MarkSeen(pid) {
				c.cancelTimer(pid)
				c.changed(KindParticipantUpdated, pid)
			}
			return nil
		case TransportPeerDisconnected:
			c.markDisconnected(pid)
			return nil
		case TransportPublisherOffer:
			return c.mediaEvent(ctx, pid, func() (handraise.Transition, error) {
				return c.hands.MediaNegotiating(pid, handraise.AnyVersion)
			})
		case TransportPublisherConnected:
			return c.mediaEvent(ctx, pid, func() (handraise.Transition, error) {
				return c.hands.MediaConnected(pid, handraise.AnyVersion)
			})
		case TransportPublisherFailed:
			reason := evt.Reason
			if reason == "" {
				reason = "media connection failed"
			}
			return c.mediaEvent(ctx, pid, func() (handraise.Transition, error) {
				return c.hands.MediaFailed(pid, reason, handraise.AnyVersion)
			})
		}
		return fmt.Errorf("%w: unknown transport event %q", apperr.ErrInvalidOperation, evt.Kind)
	})
}

// HandleDocumentChange reloads entities written by other instances. Local writes are skipped.
// It is registered as a store subscriber and never blocks.
func (c *Coordinator) HandleDocumentChange(ch store.Change) {
	if ch.Origin == c.deps.Origin {
		return
	}
	c.post(func(ctx context.Context) error {
		return c.reload(ctx, ch.Path)
	})
}

func (c *Coordinator) reload(ctx context.Context, path string) error {
	root := store.SessionPath(c.id)
	if !store.Under(path, root) {
		return nil
	}
	rel := strings.Trim(strings.TrimPrefix(path, root), "/")
	var parts []string
	if rel != "" {
		parts = strings.Split(rel, "/")
	}
	switch {
	case len(parts) == 0:
		var s models.Session
		if err := c.deps.Store.Get(ctx, root, &s); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return nil
			}
			return err
		}
		c.session = s
		c.hands.SetEnabled(s.HandRaiseEnabled)
		if s.Phase == models.PhaseEnded {
			c.stopTimers()
			c.retire()
		}
	case parts[0] == "handRaises" && len(parts) >= 2:
		pid := parts[1]
		if _, ok := c.unsaved[pid]; ok {
			// the forced local reset is still being written and wins
			return nil
		}
		var r models.HandRaiseRequest
		if err := c.deps.Store.Get(ctx, store.HandRaisePath(c.id, pid), &r); err != nil {
			if !errors.Is(err, apperr.ErrNotFound) {
				return err
			}
			r = models.HandRaiseRequest{ParticipantID: pid}
		}
		c.hands.Restore(r)
	case parts[0] == "questions" && len(parts) >= 2:
		questionID := parts[1]
		q, err := c.qRepo.Get(ctx, c.id, questionID)
		if err != nil {
			return err
		}
		c.queue.Replace(questionID, q)
	case parts[0] == "polls" && len(parts) >= 2:
		pollID := parts[1]
		p, votes, err := c.pollRepo.GetPoll(ctx, c.id, pollID)
		if err != nil {
			return err
		}
		c.polls.Replace(pollID, p, votes)
	default:
		return nil
	}
	c.logger.Debug("reloaded remote change", zap.String("path", path))
	c.changed(KindRemoteChange, rel)
	return nil
}
