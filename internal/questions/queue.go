// Package questions runs the Q&A queue of a live session.
//
//	new -> current -> done
//	 \________\______> removed
//
// At most one question is current. Moving to the next question marks the previous current one
// done. A participant upvotes a question at most once.
package questions

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/apperr"
)

// MaxContent bounds the length of a question in characters.
const MaxContent = 500

// Mutation lists the question documents a command changed so the caller can persist or undo it.
type Mutation struct {
	Questions []models.Question
	undo      func()
}

// Undo reverts the in-memory change.
func (m Mutation) Undo() {
	if m.undo != nil {
		m.undo()
	}
}

// Empty reports whether nothing needs to be written.
func (m Mutation) Empty() bool { return len(m.Questions) == 0 }

// Queue holds the questions of one session. Not safe for concurrent use.
type Queue struct {
	sessionID string
	questions map[string]*models.Question
	now       func() time.Time
	newID     func() string
}

// NewQueue creates an empty queue for a session.
func NewQueue(sessionID string) *Queue {
	return &Queue{
		sessionID: sessionID,
		questions: make(map[string]*models.Question),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Load replaces the queue with stored questions.
func (q *Queue) Load(list []models.Question) {
	q.questions = make(map[string]*models.Question, len(list))
	for i := range list {
		cp := clone(&list[i])
		q.questions[cp.ID] = &cp
	}
}

// Replace swaps in one question, or drops it when nil.
func (q *Queue) Replace(questionID string, question *models.Question) {
	if question == nil {
		delete(q.questions, questionID)
		return
	}
	cp := clone(question)
	q.questions[questionID] = &cp
}

// Get returns a copy of a question.
func (q *Queue) Get(questionID string) (models.Question, bool) {
	qu, ok := q.questions[questionID]
	if !ok {
		return models.Question{}, false
	}
	return clone(qu), true
}

// List returns the questions that are not removed: the current one first, then the open ones by
// votes, then the answered ones in the order they were asked.
func (q *Queue) List() []models.Question {
	out := make([]models.Question, 0, len(q.questions))
	for _, qu := range q.questions {
		if qu.State != models.QuestionRemoved {
			out = append(out, clone(qu))
		}
	}
	sort.Slice(out, func(i, j int) bool { return ranksBefore(&out[i], &out[j]) })
	return out
}

// Current returns the question being answered, if any.
func (q *Queue) Current() (models.Question, bool) {
	for _, qu := range q.questions {
		if qu.State == models.QuestionCurrent {
			return clone(qu), true
		}
	}
	return models.Question{}, false
}

// Ask adds a new question.
func (q *Queue) Ask(authorID, authorName, content string) (models.Question, Mutation, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Question{}, Mutation{}, fmt.Errorf("%w: question is empty", apperr.ErrInvalidOperation)
	}
	if utf8.RuneCountInString(content) > MaxContent {
		return models.Question{}, Mutation{}, fmt.Errorf("%w: question is longer than %d characters", apperr.ErrInvalidOperation, MaxContent)
	}
	now := q.now()
	qu := &models.Question{
		ID:         q.newID(),
		SessionID:  q.sessionID,
		AuthorID:   authorID,
		AuthorName: authorName,
		Content:    content,
		State:      models.QuestionNew,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	q.questions[qu.ID] = qu
	id := qu.ID
	return clone(qu), Mutation{
		Questions: []models.Question{clone(qu)},
		undo:      func() { delete(q.questions, id) },
	}, nil
}

// Upvote adds the participant's vote. A repeated upvote changes nothing.
func (q *Queue) Upvote(questionID, participantID string) (models.Question, Mutation, error) {
	qu, err := q.lookup(questionID)
	if err != nil {
		return models.Question{}, Mutation{}, err
	}
	if qu.State != models.QuestionNew && qu.State != models.QuestionCurrent {
		return models.Question{}, Mutation{}, fmt.Errorf("%w: question %s is %s", apperr.ErrInvalidOperation, questionID, qu.State)
	}
	if qu.HasVoter(participantID) {
		return clone(qu), Mutation{}, nil
	}
	prev := clone(qu)
	qu.Voters = append(qu.Voters, participantID)
	qu.Votes = len(qu.Voters)
	qu.UpdatedAt = q.now()
	return clone(qu), Mutation{
		Questions: []models.Question{clone(qu)},
		undo:      func() { q.restore(prev) },
	}, nil
}

// Next makes a question current. An empty id picks the open question with the most votes. The
// previous current question is marked done.
func (q *Queue) Next(questionID string) (models.Question, Mutation, error) {
	var target *models.Question
	if questionID == "" {
		for _, qu := range q.questions {
			if qu.State == models.QuestionNew && (target == nil || ranksBefore(qu, target)) {
				target = qu
			}
		}
		if target == nil {
			return models.Question{}, Mutation{}, fmt.Errorf("%w: no open questions", apperr.ErrNotFound)
		}
	} else {
		var err error
		if target, err = q.lookup(questionID); err != nil {
			return models.Question{}, Mutation{}, err
		}
		if target.State != models.QuestionNew {
			return models.Question{}, Mutation{}, fmt.Errorf("%w: question %s is %s", apperr.ErrInvalidStateTransition, questionID, target.State)
		}
	}

	now := q.now()
	var changed, prev []models.Question
	for _, qu := range q.questions {
		if qu.State == models.QuestionCurrent {
			prev = append(prev, clone(qu))
			qu.State = models.QuestionDone
			qu.UpdatedAt = now
			changed = append(changed, clone(qu))
		}
	}
	prev = append(prev, clone(target))
	target.State = models.QuestionCurrent
	target.UpdatedAt = now
	changed = append(changed, clone(target))
	return clone(target), Mutation{
		Questions: changed,
		undo: func() {
			for _, p := range prev {
				q.restore(p)
			}
		},
	}, nil
}

// Remove hides a question. Removing the current question leaves none current.
func (q *Queue) Remove(questionID string) (models.Question, Mutation, error) {
	qu, err := q.lookup(questionID)
	if err != nil {
		return models.Question{}, Mutation{}, err
	}
	if qu.State == models.QuestionRemoved {
		return clone(qu), Mutation{}, nil
	}
	prev := clone(qu)
	qu.State = models.QuestionRemoved
	qu.UpdatedAt = q.now()
	return clone(qu), Mutation{
		Questions: []models.Question{clone(qu)},
		undo:      func() { q.restore(prev) },
	}, nil
}

func (q *Queue) restore(prev models.Question) {
	cp := clone(&prev)
	q.questions[prev.ID] = &cp
}

func (q *Queue) lookup(questionID string) (*models.Question, error) {
	qu, ok := q.questions[questionID]
	if !ok {
		return nil, fmt.Errorf("%w: question %s", apperr.ErrNotFound, questionID)
	}
	return qu, nil
}

func ranksBefore(a, b *models.Question) bool {
	if ra, rb := rank(a.State), rank(b.State); ra != rb {
		return ra < rb
	}
	if a.State == models.QuestionNew && a.Votes != b.Votes {
		return a.Votes > b.Votes
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func rank(s models.QuestionState) int {
	switch s {
	case models.QuestionCurrent:
		return 0
	case models.QuestionNew:
		return 1
	case models.QuestionDone:
		return 2
	}
	return 3
}

func clone(q *models.Question) models.Question {
	cp := *q
	cp.Voters = append([]string(nil), q.Voters...)
	return cp
}
