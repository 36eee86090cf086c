package streams

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/store"
)

// Repository handles stream_sessions persistence. One row per live session.
type Repository struct {
	db store.DB
}

// NewRepository creates a stream stats repository.
func NewRepository(db store.DB) *Repository {
	return &Repository{db: db}
}

// Start creates the stats row of a session. Starting twice keeps the first row.
func (r *Repository) Start(ctx context.Context, sessionID string) error {
	const q = `INSERT INTO stream_sessions (session_id, started_at, peak_viewers, total_watch_time, poll_participation_count, hand_raises_connected, updated_at)
		VALUES ($1, NOW(), 0, 0, 0, 0, NOW())
		ON CONFLICT (session_id) DO NOTHING`
	_, err := r.db.Exec(ctx, q, sessionID)
	return err
}

// Get returns the stats of a session, or nil if it never went live.
func (r *Repository) Get(ctx context.Context, sessionID string) (*models.StreamStats, error) {
	const q = `SELECT session_id, started_at, ended_at, peak_viewers, total_watch_time, poll_participation_count, hand_raises_connected, updated_at
		FROM stream_sessions WHERE session_id = $1`
	var s models.StreamStats
	err := r.db.QueryRow(ctx, q, sessionID).Scan(&s.SessionID, &s.StartedAt, &s.EndedAt, &s.PeakViewers, &s.TotalWatchTime,
		&s.PollParticipationCount, &s.HandRaisesConnected, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// UpdatePeakViewers raises peak_viewers when count is above the stored peak.
func (r *Repository) UpdatePeakViewers(ctx context.Context, sessionID string, count int) error {
	const q = `UPDATE stream_sessions SET peak_viewers = $2, updated_at = NOW() WHERE session_id = $1 AND $2 > peak_viewers`
	_, err := r.db.Exec(ctx, q, sessionID, count)
	return err
}

// IncrementPollParticipation counts a participant's first vote on a poll.
func (r *Repository) IncrementPollParticipation(ctx context.Context, sessionID string) error {
	const q = `UPDATE stream_sessions SET poll_participation_count = poll_participation_count + 1, updated_at = NOW() WHERE session_id = $1`
	_, err := r.db.Exec(ctx, q, sessionID)
	return err
}

// IncrementHandRaisesConnected counts a hand-raise that reached the stage.
func (r *Repository) IncrementHandRaisesConnected(ctx context.Context, sessionID string) error {
	const q = `UPDATE stream_sessions SET hand_raises_connected = hand_raises_connected + 1, updated_at = NOW() WHERE session_id = $1`
	_, err := r.db.Exec(ctx, q, sessionID)
	return err
}

// AddWatchTime adds to total_watch_time (in seconds).
func (r *Repository) AddWatchTime(ctx context.Context, sessionID string, seconds int64) error {
	const q = `UPDATE stream_sessions SET total_watch_time = total_watch_time + $2, updated_at = NOW() WHERE session_id = $1`
	_, err := r.db.Exec(ctx, q, sessionID, seconds)
	return err
}

// End sets ended_at for a session.
func (r *Repository) End(ctx context.Context, sessionID string) error {
	const q = `UPDATE stream_sessions SET ended_at = NOW(), updated_at = NOW() WHERE session_id = $1 AND ended_at IS NULL`
	_, err := r.db.Exec(ctx, q, sessionID)
	return err
}
