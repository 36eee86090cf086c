package models

import "time"

// StreamStats tracks audience metrics for one live session.
type StreamStats struct {
	SessionID              string     `json:"session_id"`
	StartedAt              time.Time  `json:"started_at"`
	EndedAt                *time.Time `json:"ended_at,omitempty"`
	PeakViewers            int        `json:"peak_viewers"`
	TotalWatchTime         int64      `json:"total_watch_time"`
	PollParticipationCount int        `json:"poll_participation_count"`
	HandRaisesConnected    int        `json:"hand_raises_connected"`
	UpdatedAt              time.Time  `json:"updated_at"`
}
