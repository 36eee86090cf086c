package session

import (
	"context"
	"time"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/store"
)

// MediaController is the RTC side the coordinator drives.
type MediaController interface {
	// ReleasePublisher tears down a participant's publisher connection and its tracks.
	ReleasePublisher(sessionID, participantID string) error
}

// Messenger fans session events out to connected clients.
type Messenger interface {
	SendMessage(sessionID, event string, payload interface{}) error
}

// Archiver schedules the archive of an ended session.
type Archiver interface {
	EnqueueArchive(ctx context.Context, sessionID string) error
}

// Hooks observe coordinator activity. They run on the session goroutine and must not block.
type Hooks struct {
	OnJoin     func(sessionID string, p models.Participant)
	OnLeave    func(sessionID string, p models.Participant)
	OnAudience func(sessionID string, count int)
	OnVote     func(sessionID, pollID string, firstVote bool)
	OnStage    func(sessionID, participantID string)
	OnStart    func(s models.Session)
	OnEnd      func(s models.Session)
}

// Deps are the collaborators shared by every coordinator of a Manager.
type Deps struct {
	Store store.Store
	// Origin identifies document changes written by this process; they are not reloaded.
	Origin    string
	Media     MediaController
	Messenger Messenger
	Archiver  Archiver
	Hooks     Hooks
}

// Config tunes session coordination.
type Config struct {
	MaxOnStage      int
	DisconnectGrace time.Duration
	PresenceTimeout time.Duration
	CommitRetries   int
	CommitBackoff   time.Duration
	// AsyncTimeout bounds commands that have no caller waiting (timers, remote changes).
	AsyncTimeout time.Duration
	// EndedLinger keeps an ended session loaded for late readers before it is torn down.
	EndedLinger time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxOnStage:      4,
		DisconnectGrace: 15 * time.Second,
		PresenceTimeout: 90 * time.Second,
		CommitRetries:   3,
		CommitBackoff:   200 * time.Millisecond,
		AsyncTimeout:    10 * time.Second,
		EndedLinger:     30 * time.Second,
	}
}

// Actor is the caller of an operation. GroupID is the group named in the caller's token.
type Actor struct {
	ID      string
	Role    models.Role
	GroupID string
}

// Moderates reports whether the actor may moderate a session owned by groupID. Sessions without
// an owning group accept any host or co-host.
func (a Actor) Moderates(groupID string) bool {
	return a.Role.CanModerate() && (groupID == "" || a.GroupID == groupID)
}
