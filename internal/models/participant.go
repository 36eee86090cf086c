package models

import "time"

// Role of a session member.
type Role string

const (
	RoleHost   Role = "host"
	RoleCoHost Role = "co-host"
	RoleViewer Role = "viewer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleHost || r == RoleCoHost || r == RoleViewer
}

// CanModerate reports whether the role may run host actions (polls, hand-raise responses).
func (r Role) CanModerate() bool {
	return r == RoleHost || r == RoleCoHost
}

// ConnectionQuality is the last reported network quality signal.
type ConnectionQuality string

const (
	QualityUnknown ConnectionQuality = "unknown"
	QualityGood    ConnectionQuality = "good"
	QualityPoor    ConnectionQuality = "poor"
	QualityBad     ConnectionQuality = "bad"
)

// MediaState holds the publish flags of a participant.
type MediaState struct {
	CameraOn bool `json:"camera_on"`
	MicOn    bool `json:"mic_on"`
}

// Participant is one connected session member.
type Participant struct {
	ID             string            `json:"id"`
	Name           string            `json:"name,omitempty"`
	Role           Role              `json:"role"`
	Media          MediaState        `json:"media"`
	Quality        ConnectionQuality `json:"connection_quality"`
	JoinedAt       time.Time         `json:"joined_at"`
	LastSeen       time.Time         `json:"last_seen"`
	DisconnectedAt *time.Time        `json:"disconnected_at,omitempty"`
}
