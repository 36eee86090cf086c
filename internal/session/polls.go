package session

import (
	"context"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/polls"
)

// CreatePoll adds a poll. Host and co-hosts only.
func (c *Coordinator) CreatePoll(ctx context.Context, actor Actor, question string, options []string, draft bool) (models.Poll, error) {
	return c.pollCommand(ctx, actor, func() (models.Poll, polls.Mutation, error) {
		return c.polls.CreatePoll(question, options, draft)
	})
}

// UpdatePoll edits a draft or upcoming poll.
func (c *Coordinator) UpdatePoll(ctx context.Context, actor Actor, pollID, question string, options []string) (models.Poll, error) {
	return c.pollCommand(ctx, actor, func() (models.Poll, polls.Mutation, error) {
		return c.polls.UpdatePoll(pollID, question, options)
	})
}

// PublishPoll moves a draft to upcoming.
func (c *Coordinator) PublishPoll(ctx context.Context, actor Actor, pollID string) (models.Poll, error) {
	return c.pollCommand(ctx, actor, func() (models.Poll, polls.Mutation, error) {
		return c.polls.PublishPoll(pollID)
	})
}

// OpenPoll makes a poll current.
func (c *Coordinator) OpenPoll(ctx context.Context, actor Actor, pollID string) (models.Poll, error) {
	return c.pollCommand(ctx, actor, func() (models.Poll, polls.Mutation, error) {
		return c.polls.OpenPoll(pollID)
	})
}

// ClosePoll stops voting.
func (c *Coordinator) ClosePoll(ctx context.Context, actor Actor, pollID string) (models.Poll, error) {
	return c.pollCommand(ctx, actor, func() (models.Poll, polls.Mutation, error) {
		return c.polls.ClosePoll(pollID)
	})
}

// ReopenPoll resumes voting on a closed poll, keeping its votes.
func (c *Coordinator) ReopenPoll(ctx context.Context, actor Actor, pollID string) (models.Poll, error) {
	return c.pollCommand(ctx, actor, func() (models.Poll, polls.Mutation, error) {
		return c.polls.ReopenPoll(pollID)
	})
}

// DeletePoll removes a poll that is not current, together with its votes.
func (c *Coordinator) DeletePoll(ctx context.Context, actor Actor, pollID string) error {
	_, err := c.pollCommand(ctx, actor, func() (models.Poll, polls.Mutation, error) {
		m, err := c.polls.DeletePoll(pollID)
		return models.Poll{ID: pollID}, m, err
	})
	return err
}

// CastVote records a vote, replacing the participant's previous vote on the poll.
func (c *Coordinator) CastVote(ctx context.Context, participantID, pollID, optionID string) (models.Vote, error) {
	var out models.Vote
	err := c.exec(ctx, func(ctx context.Context) error {
		if err := c.requireOpen(); err != nil {
			return err
		}
		firstVote := !c.polls.HasVoted(pollID, participantID)
		v, m, err := c.polls.CastVote(pollID, participantID, optionID)
		if err != nil {
			return err
		}
		write := func(ctx context.Context) error { return c.pollRepo.Apply(ctx, c.id, m) }
		if err := c.commit(ctx, KindVote, pollID, write, m.Undo); err != nil {
			return err
		}
		out = v
		if h := c.deps.Hooks.OnVote; h != nil {
			h(c.id, pollID, firstVote)
		}
		return nil
	})
	return out, err
}

// Tally returns the current tally of a poll.
func (c *Coordinator) Tally(ctx context.Context, pollID string) (models.Tally, error) {
	var out models.Tally
	err := c.exec(ctx, func(context.Context) error {
		t, err := c.polls.Tally(pollID)
		out = t
		return err
	})
	return out, err
}

func (c *Coordinator) pollCommand(ctx context.Context, actor Actor, step func() (models.Poll, polls.Mutation, error)) (models.Poll, error) {
	var out models.Poll
	err := c.exec(ctx, func(ctx context.Context) error {
		if err := c.requireModerator(actor); err != nil {
			return err
		}
		if err := c.requireOpen(); err != nil {
			return err
		}
		p, m, err := step()
		if err != nil {
			return err
		}
		write := func(ctx context.Context) error { return c.pollRepo.Apply(ctx, c.id, m) }
		if err := c.commit(ctx, KindPoll, p.ID, write, m.Undo); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}
