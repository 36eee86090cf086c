package handraise

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/apperr"
)

func TestDenyThenAcceptReachesConnected(t *testing.T) {
	m := New(4, true)
	var seen []models.HandRaiseState
	step := func(tr Transition, err error) {
		t.Helper()
		require.NoError(t, err)
		seen = append(seen, tr.After.State)
	}

	step(m.Request("p", "Pat", AnyVersion))
	step(m.Respond("p", false, AnyVersion))
	assert.Equal(t, ReasonDeclined, m.Get("p").Reason)
	step(m.Request("p", "", AnyVersion))
	step(m.Respond("p", true, AnyVersion))
	step(m.AcquireMedia("p", AnyVersion))
	step(m.MediaNegotiating("p", AnyVersion))
	step(m.MediaConnected("p", AnyVersion))

	assert.Equal(t, []models.HandRaiseState{
		models.HandRaiseRequested,
		models.HandRaiseDenied,
		models.HandRaiseRequested,
		models.HandRaiseInvited,
		models.HandRaiseAcquireMedia,
		models.HandRaiseConnecting,
		models.HandRaiseConnected,
	}, seen)
	assert.Equal(t, "Pat", m.Get("p").Name)
	assert.Empty(t, m.Get("p").Reason)
}

func TestDuplicateRequestRejected(t *testing.T) {
	m := New(4, true)
	_, err := m.Request("p", "", AnyVersion)
	require.NoError(t, err)
	_, err = m.Request("p", "", AnyVersion)
	assert.True(t, errors.Is(err, apperr.ErrInvalidStateTransition))
}

func TestRequestWhileDisabled(t *testing.T) {
	m := New(4, false)
	_, err := m.Request("p", "", AnyVersion)
	assert.True(t, errors.Is(err, apperr.ErrInvalidOperation))
}

func TestCannotSkipFromRequestedToConnected(t *testing.T) {
	m := New(4, true)
	_, _ = m.Request("p", "", AnyVersion)
	_, err := m.MediaConnected("p", AnyVersion)
	assert.True(t, errors.Is(err, apperr.ErrInvalidStateTransition))
	_, err = m.AcquireMedia("p", AnyVersion)
	assert.True(t, errors.Is(err, apperr.ErrInvalidStateTransition))
	assert.Equal(t, models.HandRaiseRequested, m.Get("p").State)
}

func TestCapacityExceededLeavesStateUntouched(t *testing.T) {
	m := New(2, true)
	for _, id := range []string{"a", "b", "c"} {
		_, err := m.Request(id, "", AnyVersion)
		require.NoError(t, err)
	}
	_, err := m.Respond("a", true, AnyVersion)
	require.NoError(t, err)
	_, err = m.Respond("b", true, AnyVersion)
	require.NoError(t, err)

	before := m.Get("c")
	_, err = m.Respond("c", true, AnyVersion)
	assert.True(t, errors.Is(err, apperr.ErrCapacityExceeded))
	assert.Equal(t, before, m.Get("c"))

	// declining is still allowed at capacity
	_, err = m.Respond("c", false, AnyVersion)
	assert.NoError(t, err)
}

func TestMediaFailureRoutesToDeniedWithReason(t *testing.T) {
	m := New(4, true)
	_, _ = m.Request("p", "", AnyVersion)
	_, _ = m.Respond("p", true, AnyVersion)
	_, _ = m.AcquireMedia("p", AnyVersion)
	tr, err := m.MediaFailed("p", "camera permission denied", AnyVersion)
	require.NoError(t, err)
	assert.Equal(t, models.HandRaiseDenied, tr.After.State)
	assert.Equal(t, "camera permission denied", tr.After.Reason)
	assert.True(t, tr.ReleasesMedia())
}

func TestStaleVersionRejected(t *testing.T) {
	m := New(4, true)
	tr, _ := m.Request("p", "", AnyVersion)
	_, _ = m.Respond("p", true, tr.After.Version)
	acq, err := m.AcquireMedia("p", AnyVersion)
	require.NoError(t, err)

	// host cancels while the client is acquiring media
	cancel, err := m.Cancel("p", acq.After.Version)
	require.NoError(t, err)
	assert.True(t, cancel.ReleasesMedia())

	// client progresses using the version it saw before the cancel
	_, err = m.MediaNegotiating("p", acq.After.Version)
	assert.True(t, errors.Is(err, apperr.ErrInvalidStateTransition))
	assert.Equal(t, models.HandRaiseUnrequested, m.Get("p").State)
}

func TestHostDenyDuringAcquireMediaRejected(t *testing.T) {
	m := New(4, true)
	_, _ = m.Request("p", "", AnyVersion)
	_, _ = m.Respond("p", true, AnyVersion)
	_, _ = m.AcquireMedia("p", AnyVersion)
	_, err := m.Respond("p", false, AnyVersion)
	assert.True(t, errors.Is(err, apperr.ErrInvalidStateTransition))
	assert.Equal(t, models.HandRaiseAcquireMedia, m.Get("p").State)
}

func TestCancelUnrequestedIsNoop(t *testing.T) {
	m := New(4, true)
	tr, err := m.Cancel("p", AnyVersion)
	require.NoError(t, err)
	assert.False(t, tr.Changed)
	assert.Empty(t, m.List())
}

func TestRestoreUndoesTransition(t *testing.T) {
	m := New(4, true)
	tr, _ := m.Request("p", "", AnyVersion)
	m.Restore(tr.Before)
	assert.Equal(t, models.HandRaiseUnrequested, m.Get("p").State)
	assert.Empty(t, m.List())

	_, _ = m.Request("p", "", AnyVersion)
	tr, _ = m.Respond("p", true, AnyVersion)
	m.Restore(tr.Before)
	assert.Equal(t, models.HandRaiseRequested, m.Get("p").State)
}

func TestDisableResetsEveryRequest(t *testing.T) {
	m := New(4, true)
	_, _ = m.Request("a", "", AnyVersion)
	_, _ = m.Request("b", "", AnyVersion)
	_, _ = m.Respond("b", true, AnyVersion)

	resets := m.SetEnabled(false)
	assert.Len(t, resets, 2)
	assert.Zero(t, m.OnStage())
	for _, r := range m.List() {
		assert.Equal(t, models.HandRaiseUnrequested, r.State)
	}
}

func TestRandomSequencesStayOnGraph(t *testing.T) {
	edges := map[models.HandRaiseState][]models.HandRaiseState{
		models.HandRaiseUnrequested:  {models.HandRaiseRequested},
		models.HandRaiseRequested:    {models.HandRaiseDenied, models.HandRaiseInvited, models.HandRaiseUnrequested},
		models.HandRaiseDenied:       {models.HandRaiseRequested, models.HandRaiseUnrequested},
		models.HandRaiseInvited:      {models.HandRaiseAcquireMedia, models.HandRaiseUnrequested},
		models.HandRaiseAcquireMedia: {models.HandRaiseConnecting, models.HandRaiseDenied, models.HandRaiseUnrequested},
		models.HandRaiseConnecting:   {models.HandRaiseConnected, models.HandRaiseDenied, models.HandRaiseUnrequested},
		models.HandRaiseConnected:    {models.HandRaiseUnrequested},
	}
	ops := []func(m *Machine) (Transition, error){
		func(m *Machine) (Transition, error) { return m.Request("p", "", AnyVersion) },
		func(m *Machine) (Transition, error) { return m.Respond("p", true, AnyVersion) },
		func(m *Machine) (Transition, error) { return m.Respond("p", false, AnyVersion) },
		func(m *Machine) (Transition, error) { return m.AcquireMedia("p", AnyVersion) },
		func(m *Machine) (Transition, error) { return m.MediaNegotiating("p", AnyVersion) },
		func(m *Machine) (Transition, error) { return m.MediaConnected("p", AnyVersion) },
		func(m *Machine) (Transition, error) { return m.MediaFailed("p", "", AnyVersion) },
		func(m *Machine) (Transition, error) { return m.Cancel("p", AnyVersion) },
	}
	rng := rand.New(rand.NewSource(42))
	m := New(1, true)
	for i := 0; i < 2000; i++ {
		before := m.Get("p").State
		tr, err := ops[rng.Intn(len(ops))](m)
		after := m.Get("p").State
		if err != nil || !tr.Changed {
			assert.Equal(t, before, after)
			continue
		}
		assert.Contains(t, edges[before], after, "%s -> %s", before, after)
	}
}
