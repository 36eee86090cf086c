package progress

import (
	"context"
	"errors"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/store"
	"github.com/aura-webinar/livesession/pkg/apperr"
)

// Repository persists recording checkpoints and the per-livestream aggregate.
type Repository struct {
	docs store.Store
}

// NewRepository creates a progress repository.
func NewRepository(docs store.Store) *Repository {
	return &Repository{docs: docs}
}

// SaveCheckpoint writes the last watched second. The minutes counter is left alone.
func (r *Repository) SaveCheckpoint(ctx context.Context, cp models.RecordingCheckpoint) error {
	return r.docs.Update(ctx, store.ProgressPath(cp.LivestreamID, cp.ParticipantID), map[string]interface{}{
		"livestream_id":       cp.LivestreamID,
		"participant_id":      cp.ParticipantID,
		"last_second_watched": cp.LastSecondWatched,
		"updated_at":          cp.UpdatedAt,
	})
}

// AddMinutes increments the participant's minutes and the livestream aggregate.
func (r *Repository) AddMinutes(ctx context.Context, livestreamID, participantID string, n int) error {
	if err := r.docs.Increment(ctx, store.ProgressPath(livestreamID, participantID), "minutes_watched", int64(n)); err != nil {
		return err
	}
	return r.docs.Increment(ctx, store.RecordingStatsPath(livestreamID), "minutes_watched", int64(n))
}

// CountView increments the livestream view counter.
func (r *Repository) CountView(ctx context.Context, livestreamID string) error {
	return r.docs.Increment(ctx, store.RecordingStatsPath(livestreamID), "views", 1)
}

// Checkpoint returns the stored checkpoint or nil.
func (r *Repository) Checkpoint(ctx context.Context, livestreamID, participantID string) (*models.RecordingCheckpoint, error) {
	var cp models.RecordingCheckpoint
	if err := r.docs.Get(ctx, store.ProgressPath(livestreamID, participantID), &cp); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cp, nil
}

// Stats returns the livestream aggregate.
func (r *Repository) Stats(ctx context.Context, livestreamID string) (models.RecordingStats, error) {
	st := models.RecordingStats{LivestreamID: livestreamID}
	if err := r.docs.Get(ctx, store.RecordingStatsPath(livestreamID), &st); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return st, err
	}
	st.LivestreamID = livestreamID
	return st, nil
}
