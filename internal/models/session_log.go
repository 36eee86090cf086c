package models

import "time"

// AttendanceLog tracks join/leave and watch duration per participant.
type AttendanceLog struct {
	ID            int64      `json:"id"`
	SessionID     string     `json:"session_id"`
	ParticipantID string     `json:"participant_id"`
	Role          Role       `json:"role"`
	JoinedAt      time.Time  `json:"joined_at"`
	LeftAt        *time.Time `json:"left_at,omitempty"`
	WatchSeconds  int64      `json:"watch_seconds"`
}
