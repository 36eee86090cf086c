package streams

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/session"
)

const writeTimeout = 5 * time.Second

// Stats is the persistence the Recorder writes through.
type Stats interface {
	Start(ctx context.Context, sessionID string) error
	UpdatePeakViewers(ctx context.Context, sessionID string, count int) error
	IncrementPollParticipation(ctx context.Context, sessionID string) error
	IncrementHandRaisesConnected(ctx context.Context, sessionID string) error
	AddWatchTime(ctx context.Context, sessionID string, seconds int64) error
	End(ctx context.Context, sessionID string) error
}

// Recorder turns coordinator hooks into stream stats writes. Writes run off the session goroutine.
type Recorder struct {
	stats  Stats
	logger *zap.Logger

	mu    sync.Mutex
	peaks map[string]int
	wg    sync.WaitGroup
}

// NewRecorder creates a stats recorder.
func NewRecorder(stats Stats, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{stats: stats, logger: logger, peaks: make(map[string]int)}
}

// Hooks returns the coordinator hooks that feed this recorder. Join and leave stay unset.
func (r *Recorder) Hooks() session.Hooks {
	return session.Hooks{
		OnAudience: r.Audience,
		OnVote:     r.Voted,
		OnStage:    r.OnStage,
		OnStart:    r.Started,
		OnEnd:      r.Ended,
	}
}

// Started opens the stats row.
func (r *Recorder) Started(s models.Session) {
	r.write("start", s.ID, func(ctx context.Context) error { return r.stats.Start(ctx, s.ID) })
}

// Ended closes the stats row and forgets the in-memory peak.
func (r *Recorder) Ended(s models.Session) {
	r.mu.Lock()
	delete(r.peaks, s.ID)
	r.mu.Unlock()
	r.write("end", s.ID, func(ctx context.Context) error { return r.stats.End(ctx, s.ID) })
}

// Audience records a new peak audience size.
func (r *Recorder) Audience(sessionID string, count int) {
	r.mu.Lock()
	if count <= r.peaks[sessionID] {
		r.mu.Unlock()
		return
	}
	r.peaks[sessionID] = count
	r.mu.Unlock()
	r.write("peak viewers", sessionID, func(ctx context.Context) error {
		return r.stats.UpdatePeakViewers(ctx, sessionID, count)
	})
}

// Voted counts poll participation once per participant and poll.
func (r *Recorder) Voted(sessionID, _ string, firstVote bool) {
	if !firstVote {
		return
	}
	r.write("poll participation", sessionID, func(ctx context.Context) error {
		return r.stats.IncrementPollParticipation(ctx, sessionID)
	})
}

// OnStage counts a hand-raise whose media connected.
func (r *Recorder) OnStage(sessionID, _ string) {
	r.write("hand raise connected", sessionID, func(ctx context.Context) error {
		return r.stats.IncrementHandRaisesConnected(ctx, sessionID)
	})
}

// WatchTime adds watched seconds, reported by the attendance log on leave.
func (r *Recorder) WatchTime(sessionID string, seconds int64) {
	if seconds <= 0 {
		return
	}
	r.write("watch time", sessionID, func(ctx context.Context) error {
		return r.stats.AddWatchTime(ctx, sessionID, seconds)
	})
}

// Wait blocks until queued writes finished.
func (r *Recorder) Wait() { r.wg.Wait() }

func (r *Recorder) write(what, sessionID string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			r.logger.Warn("stream stats write failed", zap.String("stat", what), zap.String("session_id", sessionID), zap.Error(err))
		}
	}()
}
