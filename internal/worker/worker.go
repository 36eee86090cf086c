package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/session"
	"github.com/aura-webinar/livesession/pkg/queue"
	"github.com/aura-webinar/livesession/pkg/storage"
)

// Sessions reads ended sessions and records their archive location.
type Sessions interface {
	Snapshot(ctx context.Context, sessionID string) (*session.Archive, error)
	MarkArchived(ctx context.Context, sessionID, key string) error
}

// Uploader stores archive objects.
type Uploader interface {
	UploadArchive(ctx context.Context, key string, body io.Reader, contentLength int64) (string, error)
}

// Jobs is the job source of the worker loop.
type Jobs interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ArchiveProcessor processes session archive jobs: snapshot the ended session, upload it to S3,
// record the object key on the session.
type ArchiveProcessor struct {
	sessions Sessions
	uploader Uploader
	jobs     Jobs
	backoff  time.Duration
	logger   *zap.Logger
}

// NewArchiveProcessor creates a session archive processor.
func NewArchiveProcessor(sessions Sessions, uploader Uploader, jobs Jobs, logger *zap.Logger) *ArchiveProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveProcessor{sessions: sessions, uploader: uploader, jobs: jobs, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one archive job.
func (p *ArchiveProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeSessionArchive {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	archive, err := p.sessions.Snapshot(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("snapshot session %s: %w", payload.SessionID, err)
	}
	if archive.Session.ArchiveKey != "" {
		p.logger.Info("session already archived", zap.String("session_id", payload.SessionID))
		return nil
	}
	if archive.Session.Phase != models.PhaseEnded {
		p.logger.Warn("skip archive of session that has not ended",
			zap.String("session_id", payload.SessionID), zap.String("phase", string(archive.Session.Phase)))
		return nil
	}

	body, err := json.Marshal(archive)
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}
	key := storage.ArchiveKey(payload.SessionID)
	if _, err := p.uploader.UploadArchive(ctx, key, bytes.NewReader(body), int64(len(body))); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	if err := p.sessions.MarkArchived(ctx, payload.SessionID, key); err != nil {
		p.logger.Error("mark session archived failed", zap.Error(err), zap.String("session_id", payload.SessionID))
		return fmt.Errorf("update session: %w", err)
	}

	p.logger.Info("session archive completed", zap.String("session_id", payload.SessionID), zap.String("s3_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ArchiveProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("archive worker stopping")
			return
		default:
		}

		job, _, err := p.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.jobs.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *ArchiveProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
