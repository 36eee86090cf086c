// Package handraise implements the per-participant request-to-join-with-media state machine.
//
//	unrequested -> requested -> {denied | invited} -> acquire_media -> connecting -> connected
//
// denied, cancel and leave reset to unrequested. Failures during media negotiation route to
// denied with a reason. Every transition bumps the request version so callers can guard a
// command with the version they last observed.
package handraise

import (
	"fmt"
	"sort"
	"time"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/apperr"
)

// AnyVersion disables the optimistic-concurrency check of a command.
const AnyVersion uint64 = 0

// DefaultMaxOnStage is the default number of simultaneous hand-raisers holding a media slot.
const DefaultMaxOnStage = 4

// ReasonDeclined is attached when the host declines a request.
const ReasonDeclined = "declined by host"

// Transition is the result of an applied command.
type Transition struct {
	Before models.HandRaiseRequest
	After  models.HandRaiseRequest
	// Changed is false for accepted no-ops (cancel of an unrequested participant).
	Changed bool
}

// ReleasesMedia reports whether the participant held or was acquiring publisher resources that
// must be released.
func (t Transition) ReleasesMedia() bool {
	return t.Changed && (t.Before.State.Negotiating() || t.Before.State == models.HandRaiseConnected) &&
		!t.After.State.OnStage()
}

// Machine holds the hand-raise requests of one session. Not safe for concurrent use.
type Machine struct {
	requests   map[string]*models.HandRaiseRequest
	maxOnStage int
	enabled    bool
	now        func() time.Time
}

// New creates a machine. maxOnStage <= 0 selects DefaultMaxOnStage.
func New(maxOnStage int, enabled bool) *Machine {
	if maxOnStage <= 0 {
		maxOnStage = DefaultMaxOnStage
	}
	return &Machine{
		requests:   make(map[string]*models.HandRaiseRequest),
		maxOnStage: maxOnStage,
		enabled:    enabled,
		now:        time.Now,
	}
}

// Enabled reports whether viewers may raise hands.
func (m *Machine) Enabled() bool { return m.enabled }

// MaxOnStage returns the configured capacity.
func (m *Machine) MaxOnStage() int { return m.maxOnStage }

// Get returns the request of a participant. Unknown participants are unrequested.
func (m *Machine) Get(participantID string) models.HandRaiseRequest {
	if r, ok := m.requests[participantID]; ok {
		return *r
	}
	return models.HandRaiseRequest{ParticipantID: participantID, State: models.HandRaiseUnrequested}
}

// List returns every tracked request ordered by request time.
func (m *Machine) List() []models.HandRaiseRequest {
	out := make([]models.HandRaiseRequest, 0, len(m.requests))
	for _, r := range m.requests {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ParticipantID < out[j].ParticipantID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}

// OnStage counts requests holding a media slot.
func (m *Machine) OnStage() int {
	n := 0
	for _, r := range m.requests {
		if r.State.OnStage() {
			n++
		}
	}
	return n
}

// Load replaces the tracked requests, for reconstruction from the store.
func (m *Machine) Load(reqs []models.HandRaiseRequest) {
	m.requests = make(map[string]*models.HandRaiseRequest, len(reqs))
	for i := range reqs {
		r := reqs[i]
		m.requests[r.ParticipantID] = &r
	}
}

// Restore puts back a previous record. Used to roll back a transition whose commit failed.
func (m *Machine) Restore(prev models.HandRaiseRequest) {
	if prev.Version == 0 {
		delete(m.requests, prev.ParticipantID)
		return
	}
	r := prev
	m.requests[prev.ParticipantID] = &r
}

// SetEnabled toggles hand-raise mode. Disabling resets every request.
func (m *Machine) SetEnabled(enabled bool) []Transition {
	m.enabled = enabled
	if enabled {
		return nil
	}
	var out []Transition
	for _, r := range m.List() {
		if r.State == models.HandRaiseUnrequested {
			continue
		}
		out = append(out, m.apply(r.ParticipantID, models.HandRaiseUnrequested, ""))
	}
	return out
}

// Request raises a participant's hand. Valid from unrequested; a denied request counts as reset.
func (m *Machine) Request(participantID, name string, ifVersion uint64) (Transition, error) {
	if !m.enabled {
		return Transition{}, fmt.Errorf("%w: hand raising is disabled", apperr.ErrInvalidOperation)
	}
	if err := m.guard(participantID, "request", ifVersion, models.HandRaiseUnrequested, models.HandRaiseDenied); err != nil {
		return Transition{}, err
	}
	t := m.apply(participantID, models.HandRaiseRequested, "")
	r := m.requests[participantID]
	r.RequestedAt = r.UpdatedAt
	if name != "" {
		r.Name = name
	}
	t.After = *r
	return t, nil
}

// Respond accepts or declines a pending request. Accepting fails with ErrCapacityExceeded when all
// media slots are taken; the request is left untouched in that case.
func (m *Machine) Respond(participantID string, accept bool, ifVersion uint64) (Transition, error) {
	if err := m.guard(participantID, "respond", ifVersion, models.HandRaiseRequested); err != nil {
		return Transition{}, err
	}
	if !accept {
		return m.apply(participantID, models.HandRaiseDenied, ReasonDeclined), nil
	}
	if n := m.OnStage(); n >= m.maxOnStage {
		return Transition{}, fmt.Errorf("%w: %d of %d hand-raisers are already on stage", apperr.ErrCapacityExceeded, n, m.maxOnStage)
	}
	return m.apply(participantID, models.HandRaiseInvited, ""), nil
}

// AcquireMedia starts media acquisition for an invited participant.
func (m *Machine) AcquireMedia(participantID string, ifVersion uint64) (Transition, error) {
	if err := m.guard(participantID, "acquire media", ifVersion, models.HandRaiseInvited); err != nil {
		return Transition{}, err
	}
	return m.apply(participantID, models.HandRaiseAcquireMedia, ""), nil
}

// MediaNegotiating records that the publisher offer was received.
func (m *Machine) MediaNegotiating(participantID string, ifVersion uint64) (Transition, error) {
	if err := m.guard(participantID, "negotiate media", ifVersion, models.HandRaiseAcquireMedia); err != nil {
		return Transition{}, err
	}
	return m.apply(participantID, models.HandRaiseConnecting, ""), nil
}

// MediaConnected records that the publisher connection is up.
func (m *Machine) MediaConnected(participantID string, ifVersion uint64) (Transition, error) {
	if err := m.guard(participantID, "connect media", ifVersion, models.HandRaiseConnecting); err != nil {
		return Transition{}, err
	}
	return m.apply(participantID, models.HandRaiseConnected, ""), nil
}

// MediaFailed routes a failed negotiation to denied with the failure reason.
func (m *Machine) MediaFailed(participantID, reason string, ifVersion uint64) (Transition, error) {
	if err := m.guard(participantID, "fail media", ifVersion, models.HandRaiseAcquireMedia, models.HandRaiseConnecting); err != nil {
		return Transition{}, err
	}
	if reason == "" {
		reason = "media negotiation failed"
	}
	return m.apply(participantID, models.HandRaiseDenied, reason), nil
}

// Cancel returns the participant to unrequested from any state. Cancelling an unrequested
// participant is an accepted no-op.
func (m *Machine) Cancel(participantID string, ifVersion uint64) (Transition, error) {
	cur := m.Get(participantID)
	if ifVersion != AnyVersion && cur.Version != ifVersion {
		return Transition{}, staleVersion(participantID, "cancel", cur.Version, ifVersion)
	}
	if cur.State == models.HandRaiseUnrequested {
		return Transition{Before: cur, After: cur}, nil
	}
	return m.apply(participantID, models.HandRaiseUnrequested, ""), nil
}

// ForceReset resets a participant without a version check (leave, session end).
func (m *Machine) ForceReset(participantID string) Transition {
	t, _ := m.Cancel(participantID, AnyVersion)
	return t
}

// ResetAll resets every request.
func (m *Machine) ResetAll() []Transition {
	var out []Transition
	for _, r := range m.List() {
		if t := m.ForceReset(r.ParticipantID); t.Changed {
			out = append(out, t)
		}
	}
	return out
}

func (m *Machine) guard(participantID, op string, ifVersion uint64, from ...models.HandRaiseState) error {
	if participantID == "" {
		return fmt.Errorf("%w: participant id is required", apperr.ErrInvalidOperation)
	}
	cur := m.Get(participantID)
	if ifVersion != AnyVersion && cur.Version != ifVersion {
		return staleVersion(participantID, op, cur.Version, ifVersion)
	}
	for _, s := range from {
		if cur.State == s {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot %s from %s", apperr.ErrInvalidStateTransition, op, cur.State)
}

func (m *Machine) apply(participantID string, to models.HandRaiseState, reason string) Transition {
	before := m.Get(participantID)
	r, ok := m.requests[participantID]
	if !ok {
		r = &models.HandRaiseRequest{ParticipantID: participantID}
		m.requests[participantID] = r
	}
	r.State = to
	r.Reason = reason
	r.Version++
	r.UpdatedAt = m.now()
	return Transition{Before: before, After: *r, Changed: true}
}

func staleVersion(participantID, op string, have, want uint64) error {
	return fmt.Errorf("%w: cannot %s for %s, request changed (version %d, expected %d)",
		apperr.ErrInvalidStateTransition, op, participantID, have, want)
}
