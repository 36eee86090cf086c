// Package progress tracks playback of recorded sessions and persists resume checkpoints.
//
// Two independent cadences apply while a participant watches: the last watched second is
// checkpointed whenever playback crosses a 10 second boundary, and every 60 played seconds add a
// minute to the participant's and the livestream's counters. Writes are best effort: failures
// are logged and retried on the next boundary.
package progress

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/models"
)

const (
	// DefaultCheckpointEvery is the checkpoint cadence in seconds of playback position.
	DefaultCheckpointEvery = 10
	// DefaultMinuteEvery is the number of played seconds that make a watched minute.
	DefaultMinuteEvery = 60
)

// Checkpoints is the persistence used by the tracker.
type Checkpoints interface {
	SaveCheckpoint(ctx context.Context, cp models.RecordingCheckpoint) error
	AddMinutes(ctx context.Context, livestreamID, participantID string, n int) error
	CountView(ctx context.Context, livestreamID string) error
	Checkpoint(ctx context.Context, livestreamID, participantID string) (*models.RecordingCheckpoint, error)
}

// Result reports what one progress report caused.
type Result struct {
	Checkpointed  bool `json:"checkpointed"`
	MinuteCounted bool `json:"minute_counted"`
	VideoEnded    bool `json:"video_ended"`
}

type key struct {
	livestreamID  string
	participantID string
}

type viewer struct {
	// mu orders the reports of one viewer. It is held across store writes, the tracker lock never is.
	mu             sync.Mutex
	started        bool
	last           int
	saved          int
	bucket         int
	played         int
	pendingMinutes int
	dirty          bool
	viewCounted    bool
	seen           atomic.Int64 // unix nanos of the last report
}

// Tracker keeps per-viewer playback state. Safe for concurrent use.
type Tracker struct {
	mu              sync.Mutex
	repo            Checkpoints
	viewers         map[key]*viewer
	checkpointEvery int
	minuteEvery     int
	onVideoEnded    func(livestreamID, participantID string)
	now             func() time.Time
	logger          *zap.Logger
}

// NewTracker creates a tracker. Non-positive cadences select the defaults.
func NewTracker(repo Checkpoints, checkpointEvery, minuteEvery int, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkpointEvery <= 0 {
		checkpointEvery = DefaultCheckpointEvery
	}
	if minuteEvery <= 0 {
		minuteEvery = DefaultMinuteEvery
	}
	return &Tracker{
		repo:            repo,
		viewers:         make(map[key]*viewer),
		checkpointEvery: checkpointEvery,
		minuteEvery:     minuteEvery,
		now:             time.Now,
		logger:          logger,
	}
}

// OnVideoEnded registers a callback fired when playback jumps backwards. fn runs with the
// viewer locked and must not report for the same viewer.
func (t *Tracker) OnVideoEnded(fn func(livestreamID, participantID string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onVideoEnded = fn
}

// lookup returns the state of k, creating it when needed, and marks it as seen.
func (t *Tracker) lookup(k key) (*viewer, func(livestreamID, participantID string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.viewers[k]
	if v == nil {
		v = &viewer{}
		t.viewers[k] = v
	}
	v.seen.Store(t.now().UnixNano())
	return v, t.onVideoEnded
}

// OnProgress reports the current playback second. The caller throttles to at most one call per
// second. Persistence errors are logged, never returned.
func (t *Tracker) OnProgress(ctx context.Context, livestreamID, participantID string, seconds int) Result {
	if seconds < 0 {
		return Result{}
	}
	k := key{livestreamID, participantID}
	v, onEnded := t.lookup(k)
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.started {
		v.started = true
		v.last = seconds
		v.bucket = seconds / t.checkpointEvery
		return Result{}
	}
	switch {
	case seconds == v.last:
		return Result{}
	case seconds < v.last:
		v.started = false
		if onEnded != nil {
			onEnded(livestreamID, participantID)
		}
		return Result{VideoEnded: true}
	}

	v.last = seconds
	v.played++
	var res Result
	minuteDue := false
	if v.played >= t.minuteEvery {
		v.played -= t.minuteEvery
		v.pendingMinutes++
		minuteDue = true
	}
	checkpointDue := false
	if b := seconds / t.checkpointEvery; b > v.bucket {
		v.bucket = b
		checkpointDue = true
	}
	if !checkpointDue && !minuteDue {
		return res
	}
	if checkpointDue || v.dirty {
		res.Checkpointed = t.writeCheckpoint(ctx, k, v)
	}
	if v.pendingMinutes > 0 {
		res.MinuteCounted = t.flushMinutes(ctx, k, v)
	}
	return res
}

// ResumePosition returns the last persisted checkpoint or nil. The first call per viewer counts a
// view on the livestream aggregate.
func (t *Tracker) ResumePosition(ctx context.Context, livestreamID, participantID string) (*models.RecordingCheckpoint, error) {
	v, _ := t.lookup(key{livestreamID, participantID})
	v.mu.Lock()
	countView := !v.viewCounted
	v.viewCounted = true
	v.mu.Unlock()

	if countView {
		if err := t.repo.CountView(ctx, livestreamID); err != nil {
			t.logger.Warn("count recording view", zap.String("livestream_id", livestreamID), zap.Error(err))
		}
	}
	return t.repo.Checkpoint(ctx, livestreamID, participantID)
}

// Stop ends tracking for a viewer and flushes what is pending. A partial minute is dropped.
func (t *Tracker) Stop(ctx context.Context, livestreamID, participantID string) {
	k := key{livestreamID, participantID}
	t.mu.Lock()
	v := t.viewers[k]
	delete(t.viewers, k)
	t.mu.Unlock()
	if v != nil {
		t.flush(ctx, k, v)
	}
}

// Sweep stops every viewer that has not reported for longer than idle and returns how many
// were dropped. Their pending position and minutes are flushed first.
func (t *Tracker) Sweep(ctx context.Context, idle time.Duration) int {
	cutoff := t.now().Add(-idle).UnixNano()
	stale := make(map[key]*viewer)
	t.mu.Lock()
	for k, v := range t.viewers {
		if v.seen.Load() < cutoff {
			stale[k] = v
			delete(t.viewers, k)
		}
	}
	t.mu.Unlock()
	for k, v := range stale {
		t.flush(ctx, k, v)
	}
	if len(stale) > 0 {
		t.logger.Debug("evicted idle recording viewers", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// Run sweeps idle viewers until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context, idle time.Duration) {
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep(ctx, idle)
		}
	}
}

func (t *Tracker) flush(ctx context.Context, k key, v *viewer) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.started && (v.dirty || v.last != v.saved) {
		t.writeCheckpoint(ctx, k, v)
	}
	if v.pendingMinutes > 0 {
		t.flushMinutes(ctx, k, v)
	}
}

func (t *Tracker) writeCheckpoint(ctx context.Context, k key, v *viewer) bool {
	cp := models.RecordingCheckpoint{
		LivestreamID:      k.livestreamID,
		ParticipantID:     k.participantID,
		LastSecondWatched: v.last,
		UpdatedAt:         t.now(),
	}
	if err := t.repo.SaveCheckpoint(ctx, cp); err != nil {
		v.dirty = true
		t.logger.Warn("save recording checkpoint",
			zap.String("livestream_id", k.livestreamID),
			zap.String("participant_id", k.participantID),
			zap.Int("second", v.last),
			zap.Error(err))
		return false
	}
	v.dirty = false
	v.saved = v.last
	return true
}

func (t *Tracker) flushMinutes(ctx context.Context, k key, v *viewer) bool {
	if err := t.repo.AddMinutes(ctx, k.livestreamID, k.participantID, v.pendingMinutes); err != nil {
		t.logger.Warn("add watched minutes",
			zap.String("livestream_id", k.livestreamID),
			zap.String("participant_id", k.participantID),
			zap.Int("pending", v.pendingMinutes),
			zap.Error(err))
		return false
	}
	v.pendingMinutes = 0
	return true
}
