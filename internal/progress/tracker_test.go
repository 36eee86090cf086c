package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/store"
)

type fakeCheckpoints struct {
	saved     []models.RecordingCheckpoint
	minutes   int
	views     int
	failSaves int
	failMins  int
}

func (f *fakeCheckpoints) SaveCheckpoint(_ context.Context, cp models.RecordingCheckpoint) error {
	if f.failSaves > 0 {
		f.failSaves--
		return errors.New("store unavailable")
	}
	f.saved = append(f.saved, cp)
	return nil
}

func (f *fakeCheckpoints) AddMinutes(_ context.Context, _, _ string, n int) error {
	if f.failMins > 0 {
		f.failMins--
		return errors.New("store unavailable")
	}
	f.minutes += n
	return nil
}

func (f *fakeCheckpoints) CountView(context.Context, string) error {
	f.views++
	return nil
}

func (f *fakeCheckpoints) Checkpoint(context.Context, string, string) (*models.RecordingCheckpoint, error) {
	if len(f.saved) == 0 {
		return nil, nil
	}
	cp := f.saved[len(f.saved)-1]
	return &cp, nil
}

func play(tr *Tracker, from, to int) []Result {
	var out []Result
	for s := from; s <= to; s++ {
		out = append(out, tr.OnProgress(context.Background(), "ls1", "p1", s))
	}
	return out
}

func TestThreeBoundariesThreeCheckpoints(t *testing.T) {
	repo := &fakeCheckpoints{}
	tr := NewTracker(repo, 0, 0, nil)
	play(tr, 0, 35)

	require.Len(t, repo.saved, 3)
	assert.Equal(t, 10, repo.saved[0].LastSecondWatched)
	assert.Equal(t, 20, repo.saved[1].LastSecondWatched)
	assert.Equal(t, 30, repo.saved[2].LastSecondWatched)
	assert.Zero(t, repo.minutes)
}

func TestDecreaseSignalsVideoEnded(t *testing.T) {
	repo := &fakeCheckpoints{}
	tr := NewTracker(repo, 0, 0, nil)
	var ended []string
	tr.OnVideoEnded(func(ls, p string) { ended = append(ended, ls+"/"+p) })

	play(tr, 38, 45)
	writes := len(repo.saved)

	res := tr.OnProgress(context.Background(), "ls1", "p1", 2)
	assert.True(t, res.VideoEnded)
	assert.Equal(t, []string{"ls1/p1"}, ended)
	assert.Len(t, repo.saved, writes)

	// the next call re-baselines without writing
	res = tr.OnProgress(context.Background(), "ls1", "p1", 3)
	assert.Equal(t, Result{}, res)
	assert.Len(t, repo.saved, writes)
}

func TestMinutesIndependentOfCheckpoints(t *testing.T) {
	repo := &fakeCheckpoints{}
	tr := NewTracker(repo, 0, 0, nil)
	play(tr, 0, 125)

	assert.Equal(t, 2, repo.minutes)
	assert.Len(t, repo.saved, 12)
}

func TestRepeatedSecondIsIgnored(t *testing.T) {
	repo := &fakeCheckpoints{}
	tr := NewTracker(repo, 0, 0, nil)
	for i := 0; i < 30; i++ {
		tr.OnProgress(context.Background(), "ls1", "p1", 9)
	}
	assert.Empty(t, repo.saved)
	res := tr.OnProgress(context.Background(), "ls1", "p1", 10)
	assert.True(t, res.Checkpointed)
}

func TestFailedWritesRetryOnNextBoundary(t *testing.T) {
	repo := &fakeCheckpoints{failSaves: 1, failMins: 1}
	tr := NewTracker(repo, 0, 0, nil)

	play(tr, 0, 10)
	assert.Empty(t, repo.saved)

	play(tr, 11, 20)
	require.Len(t, repo.saved, 1)
	assert.Equal(t, 20, repo.saved[0].LastSecondWatched)

	play(tr, 21, 60)
	assert.Zero(t, repo.minutes)
	play(tr, 61, 70)
	assert.Equal(t, 1, repo.minutes)
}

func TestStopFlushesLatestPosition(t *testing.T) {
	repo := &fakeCheckpoints{}
	tr := NewTracker(repo, 0, 0, nil)
	play(tr, 0, 14)
	tr.Stop(context.Background(), "ls1", "p1")

	require.Len(t, repo.saved, 2)
	assert.Equal(t, 14, repo.saved[1].LastSecondWatched)
}

func TestResumePositionCountsOneView(t *testing.T) {
	repo := &fakeCheckpoints{}
	tr := NewTracker(repo, 0, 0, nil)

	cp, err := tr.ResumePosition(context.Background(), "ls1", "p1")
	require.NoError(t, err)
	assert.Nil(t, cp)

	play(tr, 0, 10)
	cp, err = tr.ResumePosition(context.Background(), "ls1", "p1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 10, cp.LastSecondWatched)
	assert.Equal(t, 1, repo.views)
}

func TestRepositoryOnMemoryStore(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(store.NewMemory(nil))
	tr := NewTracker(repo, 0, 0, nil)

	for s := 0; s <= 61; s++ {
		tr.OnProgress(ctx, "ls1", "p1", s)
	}
	cp, err := tr.ResumePosition(ctx, "ls1", "p1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 60, cp.LastSecondWatched)
	assert.Equal(t, 1, cp.MinutesWatched)

	st, err := repo.Stats(ctx, "ls1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.MinutesWatched)
	assert.Equal(t, 1, st.Views)
}

// slowCheckpoints blocks checkpoint writes of the participant "slow" until released.
type slowCheckpoints struct {
	mu      sync.Mutex
	inner   fakeCheckpoints
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowCheckpoints) SaveCheckpoint(ctx context.Context, cp models.RecordingCheckpoint) error {
	if cp.ParticipantID == "slow" {
		s.once.Do(func() { close(s.entered) })
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.SaveCheckpoint(ctx, cp)
}

func (s *slowCheckpoints) AddMinutes(ctx context.Context, ls, p string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.AddMinutes(ctx, ls, p, n)
}

func (s *slowCheckpoints) CountView(ctx context.Context, ls string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.CountView(ctx, ls)
}

func (s *slowCheckpoints) Checkpoint(ctx context.Context, ls, p string) (*models.RecordingCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Checkpoint(ctx, ls, p)
}

func TestSlowWriteDoesNotBlockOtherViewers(t *testing.T) {
	ctx := context.Background()
	repo := &slowCheckpoints{entered: make(chan struct{}), release: make(chan struct{})}
	tr := NewTracker(repo, 0, 0, nil)

	for s := 0; s < 10; s++ {
		tr.OnProgress(ctx, "ls1", "slow", s)
	}
	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		tr.OnProgress(ctx, "ls1", "slow", 10)
	}()
	<-repo.entered

	fastDone := make(chan Result, 1)
	go func() {
		var last Result
		for s := 0; s <= 10; s++ {
			last = tr.OnProgress(ctx, "ls1", "fast", s)
		}
		fastDone <- last
	}()
	select {
	case res := <-fastDone:
		assert.True(t, res.Checkpointed)
	case <-time.After(time.Second):
		t.Fatal("fast viewer waited on another viewer's write")
	}

	close(repo.release)
	<-slowDone
	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Len(t, repo.inner.saved, 2)
}

func TestSweepEvictsIdleViewers(t *testing.T) {
	ctx := context.Background()
	repo := &fakeCheckpoints{}
	tr := NewTracker(repo, 0, 0, nil)
	clock := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return clock }

	play(tr, 0, 14)
	_, err := tr.ResumePosition(ctx, "ls1", "p2")
	require.NoError(t, err)

	clock = clock.Add(31 * time.Minute)
	tr.OnProgress(ctx, "ls1", "p2", 5)

	assert.Equal(t, 1, tr.Sweep(ctx, 30*time.Minute))
	require.Len(t, repo.saved, 2)
	assert.Equal(t, 14, repo.saved[1].LastSecondWatched, "pending position flushed on eviction")
	tr.mu.Lock()
	assert.Len(t, tr.viewers, 1)
	tr.mu.Unlock()

	assert.Zero(t, tr.Sweep(ctx, 30*time.Minute))
}
