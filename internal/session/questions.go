package session

import (
	"context"
	"fmt"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/questions"
	"github.com/aura-webinar/livesession/pkg/apperr"
)

// AskQuestion adds an audience question to the Q&A queue.
func (c *Coordinator) AskQuestion(ctx context.Context, actor Actor, name, content string) (models.Question, error) {
	return c.questionCommand(ctx, func() (models.Question, questions.Mutation, error) {
		return c.queue.Ask(actor.ID, name, content)
	})
}

// UpvoteQuestion adds the actor's vote to a question. Voting twice is a no-op.
func (c *Coordinator) UpvoteQuestion(ctx context.Context, actor Actor, questionID string) (models.Question, error) {
	return c.questionCommand(ctx, func() (models.Question, questions.Mutation, error) {
		return c.queue.Upvote(questionID, actor.ID)
	})
}

// NextQuestion makes a question current and marks the previous one done. An empty id picks the
// most upvoted open question. Host and co-hosts only.
func (c *Coordinator) NextQuestion(ctx context.Context, actor Actor, questionID string) (models.Question, error) {
	return c.questionCommand(ctx, func() (models.Question, questions.Mutation, error) {
		if err := c.requireModerator(actor); err != nil {
			return models.Question{}, questions.Mutation{}, err
		}
		if err := c.requireLive(); err != nil {
			return models.Question{}, questions.Mutation{}, err
		}
		return c.queue.Next(questionID)
	})
}

// RemoveQuestion hides a question. Authors remove their own; moderators remove any.
func (c *Coordinator) RemoveQuestion(ctx context.Context, actor Actor, questionID string) error {
	_, err := c.questionCommand(ctx, func() (models.Question, questions.Mutation, error) {
		q, ok := c.queue.Get(questionID)
		if !ok {
			return models.Question{}, questions.Mutation{}, fmt.Errorf("%w: question %s", apperr.ErrNotFound, questionID)
		}
		if q.AuthorID != actor.ID {
			if err := c.requireModerator(actor); err != nil {
				return models.Question{}, questions.Mutation{}, err
			}
		}
		return c.queue.Remove(questionID)
	})
	return err
}

// Questions returns the Q&A queue as last published.
func (c *Coordinator) Questions() []models.Question { return c.View().Questions }

func (c *Coordinator) questionCommand(ctx context.Context, step func() (models.Question, questions.Mutation, error)) (models.Question, error) {
	var out models.Question
	err := c.exec(ctx, func(ctx context.Context) error {
		if err := c.requireOpen(); err != nil {
			return err
		}
		q, m, err := step()
		if err != nil {
			return err
		}
		out = q
		if m.Empty() {
			return nil
		}
		write := func(ctx context.Context) error { return c.qRepo.Apply(ctx, m) }
		return c.commit(ctx, KindQuestion, q.ID, write, m.Undo)
	})
	return out, err
}
