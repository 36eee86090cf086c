// Package polls manages the poll lifecycle of a live session and aggregates votes.
//
//	draft -> upcoming -> current -> closed
//	                        ^---------'  (reopen keeps votes)
//
// At most one poll is current per session. A participant holds at most one vote per poll; a
// new vote replaces the previous one.
package polls

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/apperr"
)

const (
	// MinOptions is the smallest valid poll.
	MinOptions = 2
	// MaxOptions bounds option ids to single letters.
	MaxOptions = 10
)

// Mutation describes what a command changed so the caller can persist or undo it.
type Mutation struct {
	// Poll is the poll document to write.
	Poll *models.Poll
	// Vote is the vote document to write.
	Vote *models.Vote
	// Deleted is the id of a removed poll. Its votes are gone with it.
	Deleted string

	undo func()
}

// Undo reverts the in-memory change.
func (m Mutation) Undo() {
	if m.undo != nil {
		m.undo()
	}
}

// Engine holds the polls and votes of one session. Not safe for concurrent use.
type Engine struct {
	sessionID string
	polls     map[string]*models.Poll
	votes     map[string]map[string]models.Vote
	now       func() time.Time
	newID     func() string
}

// NewEngine creates an empty engine for a session.
func NewEngine(sessionID string) *Engine {
	return &Engine{
		sessionID: sessionID,
		polls:     make(map[string]*models.Poll),
		votes:     make(map[string]map[string]models.Vote),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Load replaces the engine state with stored polls and votes.
func (e *Engine) Load(polls []models.Poll, votes []models.Vote) {
	e.polls = make(map[string]*models.Poll, len(polls))
	e.votes = make(map[string]map[string]models.Vote, len(polls))
	for i := range polls {
		p := polls[i]
		e.polls[p.ID] = &p
	}
	for _, v := range votes {
		if _, ok := e.polls[v.PollID]; !ok {
			continue
		}
		if e.votes[v.PollID] == nil {
			e.votes[v.PollID] = make(map[string]models.Vote)
		}
		e.votes[v.PollID][v.ParticipantID] = v
	}
}

// Replace swaps in one poll and its votes, or removes it when p is nil.
func (e *Engine) Replace(pollID string, p *models.Poll, votes []models.Vote) {
	if p == nil {
		delete(e.polls, pollID)
		delete(e.votes, pollID)
		return
	}
	cp := *p
	e.polls[pollID] = &cp
	byVoter := make(map[string]models.Vote, len(votes))
	for _, v := range votes {
		byVoter[v.ParticipantID] = v
	}
	e.votes[pollID] = byVoter
}

// Get returns a copy of a poll.
func (e *Engine) Get(pollID string) (models.Poll, bool) {
	p, ok := e.polls[pollID]
	if !ok {
		return models.Poll{}, false
	}
	return clonePoll(p), true
}

// List returns all polls ordered by creation.
func (e *Engine) List() []models.Poll {
	out := make([]models.Poll, 0, len(e.polls))
	for _, p := range e.polls {
		out = append(out, clonePoll(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Current returns the open poll, if any.
func (e *Engine) Current() (models.Poll, bool) {
	for _, p := range e.polls {
		if p.State == models.PollCurrent {
			return clonePoll(p), true
		}
	}
	return models.Poll{}, false
}

// Voters returns the number of participants who voted on a poll.
func (e *Engine) Voters(pollID string) int { return len(e.votes[pollID]) }

// HasVoted reports whether the participant holds a vote on the poll.
func (e *Engine) HasVoted(pollID, participantID string) bool {
	_, ok := e.votes[pollID][participantID]
	return ok
}

// CreatePoll adds a poll in upcoming state, or draft when asked. Blank options are dropped.
func (e *Engine) CreatePoll(question string, options []string, draft bool) (models.Poll, Mutation, error) {
	opts, err := buildOptions(options)
	if err != nil {
		return models.Poll{}, Mutation{}, err
	}
	if cur, ok := e.Current(); ok {
		return models.Poll{}, Mutation{}, fmt.Errorf("%w: poll %s is already current", apperr.ErrInvalidPoll, cur.ID)
	}
	state := models.PollUpcoming
	if draft {
		state = models.PollDraft
	}
	p := &models.Poll{
		ID:        e.newID(),
		SessionID: e.sessionID,
		Question:  strings.TrimSpace(question),
		Options:   opts,
		State:     state,
		CreatedAt: e.now(),
	}
	e.polls[p.ID] = p
	id := p.ID
	out := clonePoll(p)
	return out, Mutation{Poll: &out, undo: func() { delete(e.polls, id) }}, nil
}

// UpdatePoll replaces question and options of a poll nobody could vote on yet.
func (e *Engine) UpdatePoll(pollID, question string, options []string) (models.Poll, Mutation, error) {
	p, err := e.lookup(pollID)
	if err != nil {
		return models.Poll{}, Mutation{}, err
	}
	if p.State != models.PollDraft && p.State != models.PollUpcoming {
		return models.Poll{}, Mutation{}, fmt.Errorf("%w: poll %s can no longer be edited", apperr.ErrInvalidOperation, pollID)
	}
	opts, err := buildOptions(options)
	if err != nil {
		return models.Poll{}, Mutation{}, err
	}
	prev := clonePoll(p)
	if q := strings.TrimSpace(question); q != "" {
		p.Question = q
	}
	p.Options = opts
	out := clonePoll(p)
	return out, Mutation{Poll: &out, undo: func() { *p = prev }}, nil
}

// PublishPoll moves a draft to upcoming.
func (e *Engine) PublishPoll(pollID string) (models.Poll, Mutation, error) {
	return e.transition(pollID, "publish", models.PollUpcoming, models.PollDraft)
}

// OpenPoll moves an upcoming poll to current.
func (e *Engine) OpenPoll(pollID string) (models.Poll, Mutation, error) {
	if err := e.onlyCurrent(pollID); err != nil {
		return models.Poll{}, Mutation{}, err
	}
	return e.transition(pollID, "open", models.PollCurrent, models.PollUpcoming)
}

// ClosePoll stops voting on the current poll.
func (e *Engine) ClosePoll(pollID string) (models.Poll, Mutation, error) {
	return e.transition(pollID, "close", models.PollClosed, models.PollCurrent)
}

// ReopenPoll resumes voting on a closed poll. Prior votes are kept.
func (e *Engine) ReopenPoll(pollID string) (models.Poll, Mutation, error) {
	if err := e.onlyCurrent(pollID); err != nil {
		return models.Poll{}, Mutation{}, err
	}
	return e.transition(pollID, "reopen", models.PollCurrent, models.PollClosed)
}

// CloseCurrent closes the current poll if there is one.
func (e *Engine) CloseCurrent() (Mutation, bool) {
	cur, ok := e.Current()
	if !ok {
		return Mutation{}, false
	}
	_, m, err := e.ClosePoll(cur.ID)
	return m, err == nil
}

// CastVote records a participant's vote, replacing any previous one on the same poll.
func (e *Engine) CastVote(pollID, participantID, optionID string) (models.Vote, Mutation, error) {
	p, err := e.lookup(pollID)
	if err != nil {
		return models.Vote{}, Mutation{}, err
	}
	if p.State != models.PollCurrent {
		return models.Vote{}, Mutation{}, fmt.Errorf("%w: poll %s is not open for voting", apperr.ErrInvalidOperation, pollID)
	}
	if participantID == "" {
		return models.Vote{}, Mutation{}, fmt.Errorf("%w: participant id is required", apperr.ErrInvalidOperation)
	}
	if !hasOption(p, optionID) {
		return models.Vote{}, Mutation{}, fmt.Errorf("%w: poll %s has no option %q", apperr.ErrInvalidOperation, pollID, optionID)
	}
	byVoter := e.votes[pollID]
	if byVoter == nil {
		byVoter = make(map[string]models.Vote)
		e.votes[pollID] = byVoter
	}
	prev, hadPrev := byVoter[participantID]
	v := models.Vote{PollID: pollID, ParticipantID: participantID, OptionID: optionID, CastAt: e.now()}
	byVoter[participantID] = v
	undo := func() {
		if hadPrev {
			byVoter[participantID] = prev
		} else {
			delete(byVoter, participantID)
		}
	}
	return v, Mutation{Vote: &v, undo: undo}, nil
}

// DeletePoll removes a poll and its votes. A current poll must be closed first.
func (e *Engine) DeletePoll(pollID string) (Mutation, error) {
	p, err := e.lookup(pollID)
	if err != nil {
		return Mutation{}, err
	}
	if p.State == models.PollCurrent {
		return Mutation{}, fmt.Errorf("%w: close poll %s before deleting it", apperr.ErrInvalidOperation, pollID)
	}
	votes := e.votes[pollID]
	delete(e.polls, pollID)
	delete(e.votes, pollID)
	undo := func() {
		e.polls[pollID] = p
		if votes != nil {
			e.votes[pollID] = votes
		}
	}
	return Mutation{Deleted: pollID, undo: undo}, nil
}

// Tally counts votes per option. Percentages use largest-remainder rounding and sum to 100 when
// any vote exists.
func (e *Engine) Tally(pollID string) (models.Tally, error) {
	p, err := e.lookup(pollID)
	if err != nil {
		return models.Tally{}, err
	}
	counts := make(map[string]int, len(p.Options))
	for _, v := range e.votes[pollID] {
		counts[v.OptionID]++
	}
	t := models.Tally{PollID: p.ID, State: p.State, Options: make([]models.OptionTally, len(p.Options))}
	for i, o := range p.Options {
		t.Options[i] = models.OptionTally{OptionID: o.ID, Text: o.Text, Votes: counts[o.ID]}
		t.Total += counts[o.ID]
	}
	distributePercent(t.Options, t.Total)
	return t, nil
}

func distributePercent(opts []models.OptionTally, total int) {
	if total == 0 {
		return
	}
	type rem struct {
		idx int
		r   int
	}
	rems := make([]rem, len(opts))
	assigned := 0
	for i := range opts {
		scaled := opts[i].Votes * 100
		opts[i].Percent = scaled / total
		assigned += opts[i].Percent
		rems[i] = rem{idx: i, r: scaled % total}
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].r > rems[j].r })
	for i := 0; assigned < 100 && i < len(rems); i++ {
		opts[rems[i].idx].Percent++
		assigned++
	}
}

func (e *Engine) transition(pollID, op string, to models.PollState, from models.PollState) (models.Poll, Mutation, error) {
	p, err := e.lookup(pollID)
	if err != nil {
		return models.Poll{}, Mutation{}, err
	}
	if p.State != from {
		return models.Poll{}, Mutation{}, fmt.Errorf("%w: cannot %s poll %s from %s", apperr.ErrInvalidOperation, op, pollID, p.State)
	}
	prev := p.State
	p.State = to
	out := clonePoll(p)
	return out, Mutation{Poll: &out, undo: func() { p.State = prev }}, nil
}

func (e *Engine) onlyCurrent(pollID string) error {
	if cur, ok := e.Current(); ok && cur.ID != pollID {
		return fmt.Errorf("%w: poll %s is already current", apperr.ErrInvalidPoll, cur.ID)
	}
	return nil
}

func (e *Engine) lookup(pollID string) (*models.Poll, error) {
	p, ok := e.polls[pollID]
	if !ok {
		return nil, fmt.Errorf("%w: poll %s", apperr.ErrNotFound, pollID)
	}
	return p, nil
}

func buildOptions(texts []string) ([]models.PollOption, error) {
	seen := make(map[string]bool, len(texts))
	opts := make([]models.PollOption, 0, len(texts))
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate option %q", apperr.ErrInvalidPoll, t)
		}
		seen[key] = true
		opts = append(opts, models.PollOption{ID: string(rune('A' + len(opts))), Text: t})
		if len(opts) > MaxOptions {
			return nil, fmt.Errorf("%w: a poll takes at most %d options", apperr.ErrInvalidPoll, MaxOptions)
		}
	}
	if len(opts) < MinOptions {
		return nil, fmt.Errorf("%w: a poll needs at least %d options", apperr.ErrInvalidPoll, MinOptions)
	}
	return opts, nil
}

func hasOption(p *models.Poll, optionID string) bool {
	for _, o := range p.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

func clonePoll(p *models.Poll) models.Poll {
	out := *p
	out.Options = append([]models.PollOption(nil), p.Options...)
	return out
}
