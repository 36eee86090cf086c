package sessionlog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/store"
)

// Repository handles user_session_logs, the attendance log of live sessions.
type Repository struct {
	db store.DB
}

// NewRepository creates a session log repository.
func NewRepository(db store.DB) *Repository {
	return &Repository{db: db}
}

// LogJoin inserts a row when a participant joins a session.
func (r *Repository) LogJoin(ctx context.Context, sessionID string, p models.Participant) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO user_session_logs (session_id, participant_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
		sessionID, p.ID, string(p.Role), p.JoinedAt)
	return err
}

// LogLeave closes the most recent open row of the participant and returns its watch duration.
// A leave without an open row returns 0.
func (r *Repository) LogLeave(ctx context.Context, sessionID, participantID string) (int64, error) {
	var seconds int64
	err := r.db.QueryRow(ctx,
		`UPDATE user_session_logs u SET left_at = NOW(), watch_seconds = GREATEST(0, EXTRACT(EPOCH FROM (NOW() - u.joined_at))::BIGINT)
		 FROM (SELECT id FROM user_session_logs WHERE session_id = $1 AND participant_id = $2 AND left_at IS NULL ORDER BY joined_at DESC LIMIT 1) AS sub
		 WHERE u.id = sub.id
		 RETURNING u.watch_seconds`,
		sessionID, participantID).Scan(&seconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return seconds, err
}

// ListBySession returns the attendance of a session, most recent join first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceLog, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, session_id, participant_id, role, joined_at, left_at, watch_seconds
		 FROM user_session_logs WHERE session_id = $1 ORDER BY joined_at DESC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.AttendanceLog
	for rows.Next() {
		var row models.AttendanceLog
		var role string
		if err := rows.Scan(&row.ID, &row.SessionID, &row.ParticipantID, &role, &row.JoinedAt, &row.LeftAt, &row.WatchSeconds); err != nil {
			return nil, err
		}
		row.Role = models.Role(role)
		list = append(list, row)
	}
	return list, rows.Err()
}

// CountAttendees returns the number of distinct participants who joined a session.
func (r *Repository) CountAttendees(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(DISTINCT participant_id) FROM user_session_logs WHERE session_id = $1`,
		sessionID).Scan(&n)
	return n, err
}
