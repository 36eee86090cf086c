package polls

import (
	"context"
	"errors"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/store"
	"github.com/aura-webinar/livesession/pkg/apperr"
)

// Repository persists polls and votes in the document store.
type Repository struct {
	docs store.Store
}

// NewRepository creates a polls repository.
func NewRepository(docs store.Store) *Repository {
	return &Repository{docs: docs}
}

// SavePoll writes the poll document.
func (r *Repository) SavePoll(ctx context.Context, p *models.Poll) error {
	return r.docs.Set(ctx, store.PollPath(p.SessionID, p.ID), p)
}

// SaveVote writes a participant's vote, replacing the previous one.
func (r *Repository) SaveVote(ctx context.Context, sessionID string, v *models.Vote) error {
	return r.docs.Set(ctx, store.VoterPath(sessionID, v.PollID, v.ParticipantID), v)
}

// DeletePoll removes a poll together with its voters.
func (r *Repository) DeletePoll(ctx context.Context, sessionID, pollID string) error {
	return r.docs.Delete(ctx, store.PollPath(sessionID, pollID))
}

// Apply persists a mutation produced by the engine.
func (r *Repository) Apply(ctx context.Context, sessionID string, m Mutation) error {
	switch {
	case m.Deleted != "":
		return r.DeletePoll(ctx, sessionID, m.Deleted)
	case m.Vote != nil:
		return r.SaveVote(ctx, sessionID, m.Vote)
	case m.Poll != nil:
		return r.SavePoll(ctx, m.Poll)
	}
	return nil
}

// GetPoll loads one poll and its votes. A missing poll returns a nil poll.
func (r *Repository) GetPoll(ctx context.Context, sessionID, pollID string) (*models.Poll, []models.Vote, error) {
	var p models.Poll
	if err := r.docs.Get(ctx, store.PollPath(sessionID, pollID), &p); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	votes, err := r.listVotes(ctx, sessionID, pollID)
	if err != nil {
		return nil, nil, err
	}
	return &p, votes, nil
}

// ListBySession loads every poll of a session and all their votes.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]models.Poll, []models.Vote, error) {
	docs, err := r.docs.List(ctx, store.PollsPath(sessionID))
	if err != nil {
		return nil, nil, err
	}
	var polls []models.Poll
	var votes []models.Vote
	for _, d := range docs {
		var p models.Poll
		if err := d.Decode(&p); err != nil {
			return nil, nil, err
		}
		polls = append(polls, p)
		vs, err := r.listVotes(ctx, sessionID, p.ID)
		if err != nil {
			return nil, nil, err
		}
		votes = append(votes, vs...)
	}
	return polls, votes, nil
}

func (r *Repository) listVotes(ctx context.Context, sessionID, pollID string) ([]models.Vote, error) {
	docs, err := r.docs.List(ctx, store.VotersPath(sessionID, pollID))
	if err != nil {
		return nil, err
	}
	votes := make([]models.Vote, 0, len(docs))
	for _, d := range docs {
		var v models.Vote
		if err := d.Decode(&v); err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	return votes, nil
}
