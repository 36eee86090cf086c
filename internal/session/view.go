package session

import "github.com/aura-webinar/livesession/internal/models"

// View is a read-only snapshot of a session.
type View struct {
	SessionID        string                    `json:"session_id"`
	Session          models.Session            `json:"session"`
	Version          uint64                    `json:"version"`
	Pending          bool                      `json:"pending"`
	Participants     []models.Participant      `json:"participants"`
	Count            int                       `json:"count"`
	HandRaiseEnabled bool                      `json:"hand_raise_enabled"`
	MaxOnStage       int                       `json:"max_on_stage"`
	HandRaises       []models.HandRaiseRequest `json:"hand_raises"`
	Polls            []models.Poll             `json:"polls"`
	Tallies          []models.Tally            `json:"tallies"`
	Questions        []models.Question         `json:"questions"`
}

// HandRaise returns the request of a participant, unrequested if unknown.
func (v View) HandRaise(participantID string) models.HandRaiseRequest {
	for _, r := range v.HandRaises {
		if r.ParticipantID == participantID {
			return r
		}
	}
	return models.HandRaiseRequest{ParticipantID: participantID, State: models.HandRaiseUnrequested}
}

// Tally returns the tally of a poll.
func (v View) Tally(pollID string) (models.Tally, bool) {
	for _, t := range v.Tallies {
		if t.PollID == pollID {
			return t, true
		}
	}
	return models.Tally{}, false
}

// Question returns a question that is not removed.
func (v View) Question(id string) (models.Question, bool) {
	for _, q := range v.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return models.Question{}, false
}

// Participant returns a roster entry.
func (v View) Participant(id string) (models.Participant, bool) {
	for _, p := range v.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return models.Participant{}, false
}

// Kind classifies a notification.
type Kind string

const (
	KindSnapshot           Kind = "snapshot"
	KindParticipantJoined  Kind = "participant_joined"
	KindParticipantLeft    Kind = "participant_left"
	KindParticipantUpdated Kind = "participant_updated"
	KindHandRaise          Kind = "hand_raise"
	KindHandRaiseMode      Kind = "hand_raise_mode"
	KindPoll               Kind = "poll"
	KindVote               Kind = "vote"
	KindQuestion           Kind = "question"
	KindPhase              Kind = "phase"
	KindSavingRetry        Kind = "saving_retry"
	KindRollback           Kind = "rollback"
	KindRemoteChange       Kind = "remote_change"
)

// Notification is delivered to observers after every state change.
type Notification struct {
	Kind    Kind   `json:"kind"`
	Subject string `json:"subject,omitempty"`
	Version uint64 `json:"version"`
	Pending bool   `json:"pending"`
	Attempt int    `json:"attempt,omitempty"`
	Error   string `json:"error,omitempty"`
	View    View   `json:"view"`
}
