package models

import "time"

// QuestionState is where a question sits in the Q&A queue.
type QuestionState string

const (
	QuestionNew     QuestionState = "new"
	QuestionCurrent QuestionState = "current"
	QuestionDone    QuestionState = "done"
	QuestionRemoved QuestionState = "removed"
)

// Question is an audience question. Stored at sessions/{sid}/questions/{qid}.
type Question struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	AuthorID   string        `json:"author_id"`
	AuthorName string        `json:"author_name,omitempty"`
	Content    string        `json:"content"`
	State      QuestionState `json:"state"`
	Votes      int           `json:"votes"`
	Voters     []string      `json:"voters,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// HasVoter reports whether the participant already upvoted the question.
func (q Question) HasVoter(participantID string) bool {
	for _, v := range q.Voters {
		if v == participantID {
			return true
		}
	}
	return false
}
