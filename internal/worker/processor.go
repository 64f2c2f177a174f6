// Package worker runs background status checks for documents whose batch
// did not wait for completion.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/IteraFlow/internal/export"
	"github.com/dharsanguruparan/IteraFlow/internal/model"
	"github.com/dharsanguruparan/IteraFlow/internal/queue"
)

// StatusChecker is the part of the orchestrator the worker needs.
type StatusChecker interface {
	CheckAndUpdateStatus(ctx context.Context, id string) model.DocumentProcessingStatus
	GetExportResults(ctx context.Context, id string) model.ExportResult
}

// Enqueuer schedules the next check. *queue.Scheduler implements it.
type Enqueuer interface {
	EnqueueCheckStatus(ctx context.Context, payload queue.CheckStatusPayload, delay time.Duration) error
}

// ExportArchiver stores rendered workbooks. *s3storage.Storage implements it.
type ExportArchiver interface {
	ArchiveExport(ctx context.Context, documentID string, workbook []byte) (string, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	checker  StatusChecker
	enqueuer Enqueuer
	archive  ExportArchiver
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// NewProcessor constructs a worker processor. archive may be nil.
func NewProcessor(checker StatusChecker, enqueuer Enqueuer, archive ExportArchiver, interval time.Duration, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		checker:  checker,
		enqueuer: enqueuer,
		archive:  archive,
		interval: interval,
		now:      time.Now,
		log:      logger,
	}
}

// Handler registers the status check handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.CheckStatusTask, p.handleCheckStatus)
	return mux
}

func (p *Processor) handleCheckStatus(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseCheckStatus(task)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return p.Check(ctx, payload)
}

// Check refreshes one document and re-enqueues itself while the document is
// still processing and the deadline has not passed. Only enqueue failures
// return an error, so asynq retries the task instead of losing the chain.
func (p *Processor) Check(ctx context.Context, payload queue.CheckStatusPayload) error {
	status := p.checker.CheckAndUpdateStatus(ctx, payload.DocumentID)
	log := p.log.With("document_id", payload.DocumentID, "attempt", payload.Attempt)

	switch {
	case status.IsSuccess:
		log.Info("worker.check.completed", "rows", status.ExportRows)
		p.archiveExport(ctx, payload.DocumentID)
		return nil
	case !status.IsProcessing:
		log.Info("worker.check.failed", "state", status.State, "message", status.Message)
		return nil
	}

	if !p.now().Add(p.interval).Before(payload.Deadline) {
		log.Warn("worker.check.deadline", "deadline", payload.Deadline, "remote_status", status.RemoteStatus)
		return nil
	}
	next := payload
	next.Attempt++
	if err := p.enqueuer.EnqueueCheckStatus(ctx, next, p.interval); err != nil {
		return fmt.Errorf("reschedule %s: %w", payload.DocumentID, err)
	}
	log.Debug("worker.check.rescheduled", "remote_status", status.RemoteStatus, "in", p.interval)
	return nil
}

// archiveExport renders the stored rows and copies them to the archive.
// Failures are logged only; the rows are already persisted.
func (p *Processor) archiveExport(ctx context.Context, documentID string) {
	if p.archive == nil {
		return
	}
	result := p.checker.GetExportResults(ctx, documentID)
	if !result.IsSuccess {
		return
	}
	data, err := export.WriteXLSX(documentID, result.Records, p.log)
	if err != nil {
		p.log.Warn("worker.export.render_failed", "document_id", documentID, "error", err)
		return
	}
	key, err := p.archive.ArchiveExport(ctx, documentID, data)
	if err != nil {
		p.log.Warn("worker.export.archive_failed", "document_id", documentID, "error", err)
		return
	}
	p.log.Info("worker.export.archived", "document_id", documentID, "key", key)
}
