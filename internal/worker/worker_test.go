package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/session"
	"github.com/aura-webinar/livesession/internal/store"
	"github.com/aura-webinar/livesession/pkg/queue"
)

type fakeUploader struct {
	keys   []string
	bodies [][]byte
	err    error
}

func (f *fakeUploader) UploadArchive(_ context.Context, key string, body io.Reader, _ int64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.keys = append(f.keys, key)
	f.bodies = append(f.bodies, b)
	return "https://bucket/" + key, nil
}

type fakeJobs struct {
	jobs    []*queue.Job
	retried []*queue.Job
	cancel  context.CancelFunc
}

func (f *fakeJobs) Dequeue(context.Context) (*queue.Job, string, error) {
	if len(f.jobs) == 0 {
		f.cancel()
		return nil, "", nil
	}
	j := f.jobs[0]
	f.jobs = f.jobs[1:]
	return j, queue.QueueArchives, nil
}

func (f *fakeJobs) Retry(_ context.Context, job *queue.Job) error {
	f.retried = append(f.retried, job)
	return nil
}

func archiveJob(t *testing.T, sessionID string) *queue.Job {
	t.Helper()
	body, err := json.Marshal(queue.ArchivePayload{SessionID: sessionID})
	require.NoError(t, err)
	return &queue.Job{ID: "j-" + sessionID, Type: queue.JobTypeSessionArchive, Payload: body}
}

func newManager(t *testing.T, phase models.Phase) (*session.Manager, store.Store) {
	t.Helper()
	docs := store.NewMemory(nil)
	m := session.NewManager(session.Deps{Store: docs}, session.Config{}, nil)
	t.Cleanup(m.Shutdown)
	now := time.Now()
	require.NoError(t, docs.Set(context.Background(), store.SessionPath("s1"), models.Session{
		ID: "s1", GroupID: "g1", Phase: phase, ScheduledStart: now, ScheduledEnd: now.Add(time.Hour),
	}))
	return m, docs
}

func TestProcessUploadsAndMarksArchived(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, models.PhaseEnded)
	up := &fakeUploader{}
	p := NewArchiveProcessor(m, up, nil, nil)

	require.NoError(t, p.Process(ctx, archiveJob(t, "s1")))
	require.Equal(t, []string{"archives/s1/session.json"}, up.keys)

	var a session.Archive
	require.NoError(t, json.Unmarshal(up.bodies[0], &a))
	assert.Equal(t, "s1", a.Session.ID)

	s, err := m.Stored(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "archives/s1/session.json", s.ArchiveKey)
	require.NotNil(t, s.ArchivedAt)

	require.NoError(t, p.Process(ctx, archiveJob(t, "s1")))
	assert.Len(t, up.keys, 1, "second run is a no-op")
}

func TestProcessSkipsLiveSession(t *testing.T) {
	m, _ := newManager(t, models.PhaseLive)
	up := &fakeUploader{}
	require.NoError(t, NewArchiveProcessor(m, up, nil, nil).Process(context.Background(), archiveJob(t, "s1")))
	assert.Empty(t, up.keys)
}

func TestProcessRejectsUnknownJob(t *testing.T) {
	m, _ := newManager(t, models.PhaseEnded)
	err := NewArchiveProcessor(m, &fakeUploader{}, nil, nil).Process(context.Background(), &queue.Job{Type: "email"})
	assert.Error(t, err)
}

func TestRunRetriesFailedJobs(t *testing.T) {
	m, _ := newManager(t, models.PhaseEnded)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jobs := &fakeJobs{jobs: []*queue.Job{archiveJob(t, "s1"), archiveJob(t, "missing")}, cancel: cancel}
	p := NewArchiveProcessor(m, &fakeUploader{err: errors.New("s3 down")}, jobs, nil)
	p.backoff = time.Millisecond

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Len(t, jobs.retried, 2)
}
