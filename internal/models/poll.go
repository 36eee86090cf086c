package models

import "time"

// PollState is the lifecycle state of a poll.
type PollState string

const (
	PollDraft    PollState = "draft"
	PollUpcoming PollState = "upcoming"
	PollCurrent  PollState = "current"
	PollClosed   PollState = "closed"
)

// PollOption is one choice of a poll.
type PollOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Poll is a poll in a live session. Stored at sessions/{sid}/polls/{pollId}.
type Poll struct {
	ID        string       `json:"id"`
	SessionID string       `json:"session_id"`
	Question  string       `json:"question"`
	Options   []PollOption `json:"options"`
	State     PollState    `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
}

// Vote is one participant's vote. Stored at sessions/{sid}/polls/{pollId}/voters/{pid}.
type Vote struct {
	PollID        string    `json:"poll_id"`
	ParticipantID string    `json:"participant_id"`
	OptionID      string    `json:"option_id"`
	CastAt        time.Time `json:"cast_at"`
}

// OptionTally is the aggregated count of one option.
type OptionTally struct {
	OptionID string `json:"option_id"`
	Text     string `json:"text"`
	Votes    int    `json:"votes"`
	Percent  int    `json:"percent"`
}

// Tally is the aggregated result of a poll.
type Tally struct {
	PollID  string        `json:"poll_id"`
	State   PollState     `json:"state"`
	Total   int           `json:"total"`
	Options []OptionTally `json:"options"`
}
