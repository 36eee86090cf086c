package sessionlog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/models"
)

const writeTimeout = 5 * time.Second

// Log is the persistence the attendance Logger writes through.
type Log interface {
	LogJoin(ctx context.Context, sessionID string, p models.Participant) error
	LogLeave(ctx context.Context, sessionID, participantID string) (int64, error)
}

// Logger records roster joins and leaves. It is installed as the OnJoin/OnLeave coordinator hooks.
type Logger struct {
	log     Log
	onWatch func(sessionID string, seconds int64)
	logger  *zap.Logger
	async   bool
}

// NewLogger creates an attendance logger. onWatch, when set, receives the watch time of each leave.
func NewLogger(log Log, onWatch func(sessionID string, seconds int64), logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{log: log, onWatch: onWatch, logger: logger, async: true}
}

// Joined logs a join.
func (l *Logger) Joined(sessionID string, p models.Participant) {
	l.run(func(ctx context.Context) {
		if err := l.log.LogJoin(ctx, sessionID, p); err != nil {
			l.logger.Warn("log join", zap.String("session_id", sessionID), zap.String("participant_id", p.ID), zap.Error(err))
		}
	})
}

// Left logs a leave and reports the watch time.
func (l *Logger) Left(sessionID string, p models.Participant) {
	l.run(func(ctx context.Context) {
		seconds, err := l.log.LogLeave(ctx, sessionID, p.ID)
		if err != nil {
			l.logger.Warn("log leave", zap.String("session_id", sessionID), zap.String("participant_id", p.ID), zap.Error(err))
			return
		}
		if l.onWatch != nil {
			l.onWatch(sessionID, seconds)
		}
	})
}

func (l *Logger) run(fn func(ctx context.Context)) {
	exec := func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		fn(ctx)
	}
	if l.async {
		go exec()
		return
	}
	exec()
}
