// Package roster tracks the connected members of one live session.
package roster

import (
	"fmt"
	"sort"
	"time"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/apperr"
)

// Roster is the member set of one session. It is not safe for concurrent use; the session
// coordinator owns it and serializes access.
type Roster struct {
	members map[string]*models.Participant
	now     func() time.Time
}

// New creates an empty roster.
func New() *Roster {
	return &Roster{members: make(map[string]*models.Participant), now: time.Now}
}

// Join adds a participant or refreshes an existing one. Re-joining updates the role and clears a
// pending disconnect. The bool result reports whether the participant is new.
func (r *Roster) Join(id, name string, role models.Role) (models.Participant, bool, error) {
	if id == "" {
		return models.Participant{}, false, fmt.Errorf("%w: participant id is required", apperr.ErrInvalidOperation)
	}
	if !role.Valid() {
		return models.Participant{}, false, fmt.Errorf("%w: unknown role %q", apperr.ErrInvalidOperation, role)
	}
	now := r.now()
	if p, ok := r.members[id]; ok {
		p.Role = role
		if name != "" {
			p.Name = name
		}
		p.LastSeen = now
		p.DisconnectedAt = nil
		return *p, false, nil
	}
	p := &models.Participant{
		ID:       id,
		Name:     name,
		Role:     role,
		Quality:  models.QualityUnknown,
		JoinedAt: now,
		LastSeen: now,
	}
	r.members[id] = p
	return *p, true, nil
}

// Leave removes a participant and returns the removed record.
func (r *Roster) Leave(id string) (models.Participant, bool) {
	p, ok := r.members[id]
	if !ok {
		return models.Participant{}, false
	}
	delete(r.members, id)
	return *p, true
}

// UpdateMediaState sets camera and mic flags. The role is left unchanged.
func (r *Roster) UpdateMediaState(id string, media models.MediaState) error {
	p, ok := r.members[id]
	if !ok {
		return fmt.Errorf("%w: participant %s is not in the session", apperr.ErrNotFound, id)
	}
	p.Media = media
	p.LastSeen = r.now()
	return nil
}

// UpdateConnectionQuality records the latest network signal.
func (r *Roster) UpdateConnectionQuality(id string, q models.ConnectionQuality) error {
	p, ok := r.members[id]
	if !ok {
		return fmt.Errorf("%w: participant %s is not in the session", apperr.ErrNotFound, id)
	}
	p.Quality = q
	p.LastSeen = r.now()
	return nil
}

// MarkDisconnected flags a transport loss. The participant stays in the roster until the leave
// is finalized.
func (r *Roster) MarkDisconnected(id string) bool {
	p, ok := r.members[id]
	if !ok {
		return false
	}
	if p.DisconnectedAt == nil {
		t := r.now()
		p.DisconnectedAt = &t
	}
	return true
}

// MarkSeen records a heartbeat and clears a pending disconnect.
func (r *Roster) MarkSeen(id string) bool {
	p, ok := r.members[id]
	if !ok {
		return false
	}
	p.LastSeen = r.now()
	p.DisconnectedAt = nil
	return true
}

// Disconnected reports whether the participant is still waiting out a disconnect.
func (r *Roster) Disconnected(id string) bool {
	p, ok := r.members[id]
	return ok && p.DisconnectedAt != nil
}

// Get returns a copy of the participant.
func (r *Roster) Get(id string) (models.Participant, bool) {
	p, ok := r.members[id]
	if !ok {
		return models.Participant{}, false
	}
	return *p, true
}

// Count returns the number of distinct joined participants.
func (r *Roster) Count() int { return len(r.members) }

// Stale lists participants not seen within timeout.
func (r *Roster) Stale(now time.Time, timeout time.Duration) []string {
	var ids []string
	for id, p := range r.members {
		if now.Sub(p.LastSeen) > timeout {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns copies of all participants ordered by join time.
func (r *Roster) Snapshot() []models.Participant {
	out := make([]models.Participant, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}
