package models

import "time"

// Phase is the lifecycle phase of a live session.
type Phase string

const (
	PhaseScheduled Phase = "scheduled"
	PhaseLive      Phase = "live"
	PhaseEnded     Phase = "ended"
)

// Session is one live-streamed event. Sessions are archived at the end, never deleted.
type Session struct {
	ID               string     `json:"id"`
	GroupID          string     `json:"group_id"`
	Title            string     `json:"title,omitempty"`
	Phase            Phase      `json:"phase"`
	HandRaiseEnabled bool       `json:"hand_raise_enabled"`
	ScheduledStart   time.Time  `json:"scheduled_start"`
	ScheduledEnd     time.Time  `json:"scheduled_end"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	ArchivedAt       *time.Time `json:"archived_at,omitempty"`
	ArchiveKey       string     `json:"archive_key,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}
