package roster

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/apperr"
)

func TestJoinIsIdempotent(t *testing.T) {
	r := New()
	_, created, err := r.Join("alice", "Alice", models.RoleViewer)
	require.NoError(t, err)
	assert.True(t, created)

	p, created, err := r.Join("alice", "", models.RoleCoHost)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, models.RoleCoHost, p.Role)
	assert.Equal(t, "Alice", p.Name)
	assert.Equal(t, 1, r.Count())
}

func TestJoinRejectsUnknownRole(t *testing.T) {
	_, _, err := New().Join("alice", "", models.Role("admin"))
	assert.True(t, errors.Is(err, apperr.ErrInvalidOperation))
}

func TestCountMatchesDistinctMembersUnderDuplicates(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	r := New()
	want := map[string]bool{}
	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("p%d", rng.Intn(20))
		if rng.Intn(3) == 0 {
			r.Leave(id)
			delete(want, id)
			continue
		}
		_, _, err := r.Join(id, "", models.RoleViewer)
		require.NoError(t, err)
		want[id] = true
	}
	assert.Equal(t, len(want), r.Count())
}

func TestMediaStateKeepsRole(t *testing.T) {
	r := New()
	_, _, _ = r.Join("bob", "", models.RoleViewer)
	require.NoError(t, r.UpdateMediaState("bob", models.MediaState{CameraOn: true}))
	p, ok := r.Get("bob")
	require.True(t, ok)
	assert.True(t, p.Media.CameraOn)
	assert.Equal(t, models.RoleViewer, p.Role)

	err := r.UpdateMediaState("ghost", models.MediaState{})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestDisconnectAndReconnect(t *testing.T) {
	r := New()
	_, _, _ = r.Join("carol", "", models.RoleViewer)
	assert.True(t, r.MarkDisconnected("carol"))
	assert.True(t, r.Disconnected("carol"))
	assert.Equal(t, 1, r.Count())

	_, _, _ = r.Join("carol", "", models.RoleViewer)
	assert.False(t, r.Disconnected("carol"))
}

func TestStale(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	now := base
	r := New()
	r.now = func() time.Time { return now }
	_, _, _ = r.Join("a", "", models.RoleViewer)
	now = base.Add(time.Minute)
	_, _, _ = r.Join("b", "", models.RoleViewer)

	assert.Equal(t, []string{"a"}, r.Stale(base.Add(100*time.Second), 90*time.Second))
	r.MarkSeen("a")
	assert.Empty(t, r.Stale(base.Add(100*time.Second), 90*time.Second))
}
