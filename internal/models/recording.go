package models

import "time"

// RecordingCheckpoint is a participant's last persisted watch position for a recorded session.
// Stored at sessions/{sid}/recordingProgress/{pid}.
type RecordingCheckpoint struct {
	LivestreamID      string    `json:"livestream_id"`
	ParticipantID     string    `json:"participant_id"`
	LastSecondWatched int       `json:"last_second_watched"`
	MinutesWatched    int       `json:"minutes_watched"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// RecordingStats is the per-livestream aggregate at sessions/{sid}/recordingStats/stats.
type RecordingStats struct {
	LivestreamID   string `json:"livestream_id"`
	MinutesWatched int    `json:"minutes_watched"`
	Views          int    `json:"views"`
}
