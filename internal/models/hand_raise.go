package models

import "time"

// HandRaiseState is the state of a viewer's request to join with media.
type HandRaiseState string

const (
	HandRaiseUnrequested  HandRaiseState = "unrequested"
	HandRaiseRequested    HandRaiseState = "requested"
	HandRaiseDenied       HandRaiseState = "denied"
	HandRaiseInvited      HandRaiseState = "invited"
	HandRaiseAcquireMedia HandRaiseState = "acquire_media"
	HandRaiseConnecting   HandRaiseState = "connecting"
	HandRaiseConnected    HandRaiseState = "connected"
)

// OnStage reports whether the request holds one of the limited media slots.
func (s HandRaiseState) OnStage() bool {
	switch s {
	case HandRaiseInvited, HandRaiseAcquireMedia, HandRaiseConnecting, HandRaiseConnected:
		return true
	}
	return false
}

// Negotiating reports whether media acquisition is in flight.
func (s HandRaiseState) Negotiating() bool {
	return s == HandRaiseAcquireMedia || s == HandRaiseConnecting
}

// HandRaiseRequest is one participant's hand-raise record. Stored at sessions/{sid}/handRaises/{pid}.
type HandRaiseRequest struct {
	ParticipantID string         `json:"participant_id"`
	Name          string         `json:"name,omitempty"`
	State         HandRaiseState `json:"state"`
	Reason        string         `json:"reason,omitempty"`
	Version       uint64         `json:"version"`
	RequestedAt   time.Time      `json:"requested_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
