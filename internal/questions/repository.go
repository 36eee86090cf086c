package questions

import (
	"context"
	"errors"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/store"
	"github.com/aura-webinar/livesession/pkg/apperr"
)

// Repository persists questions in the document store.
type Repository struct {
	docs store.Store
}

// NewRepository creates a questions repository.
func NewRepository(docs store.Store) *Repository {
	return &Repository{docs: docs}
}

// Save writes a question document.
func (r *Repository) Save(ctx context.Context, q models.Question) error {
	return r.docs.Set(ctx, store.QuestionPath(q.SessionID, q.ID), q)
}

// Apply persists a mutation produced by the queue.
func (r *Repository) Apply(ctx context.Context, m Mutation) error {
	for _, q := range m.Questions {
		if err := r.Save(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Get loads one question. A missing question returns nil.
func (r *Repository) Get(ctx context.Context, sessionID, questionID string) (*models.Question, error) {
	var q models.Question
	if err := r.docs.Get(ctx, store.QuestionPath(sessionID, questionID), &q); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &q, nil
}

// ListBySession loads every question of a session, removed ones included.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]models.Question, error) {
	docs, err := r.docs.List(ctx, store.QuestionsPath(sessionID))
	if err != nil {
		return nil, err
	}
	out := make([]models.Question, 0, len(docs))
	for _, d := range docs {
		var q models.Question
		if err := d.Decode(&q); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}
