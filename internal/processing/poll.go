package processing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/IteraFlow/internal/model"
)

// BatchRunner is the part of the Orchestrator the poll loop drives.
type BatchRunner interface {
	ProcessBatch(ctx context.Context, ids []string) (*model.BatchResult, error)
	CheckAndUpdateStatus(ctx context.Context, id string) model.DocumentProcessingStatus
}

// PollOptions controls one Poller.Run call.
type PollOptions struct {
	Wait        bool
	Timeout     time.Duration
	Interval    time.Duration
	Concurrency int
}

// DefaultPollOptions mirrors the configuration defaults.
func DefaultPollOptions() PollOptions {
	return PollOptions{
		Timeout:     300 * time.Second,
		Interval:    10 * time.Second,
		Concurrency: 4,
	}
}

// Poller uploads a batch and optionally waits for it to settle.
type Poller struct {
	runner BatchRunner
	log    *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewPoller returns a Poller over runner.
func NewPoller(runner BatchRunner, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		runner: runner,
		log:    logger,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Run calls ProcessBatch once. With opts.Wait it then re-checks every
// in-progress document each interval until none is left or opts.Timeout has
// elapsed. The wait before the final round is shortened so that no round
// starts after the timeout; a round already running is allowed to finish. Cancelling ctx returns the partial result
// together with ctx.Err().
func (p *Poller) Run(ctx context.Context, ids []string, opts PollOptions) (*model.BatchResult, error) {
	start := p.now()
	result, err := p.runner.ProcessBatch(ctx, ids)
	if err != nil {
		return result, err
	}
	if !opts.Wait || result.ProcessingCount == 0 {
		result.ElapsedMs = p.now().Sub(start).Milliseconds()
		return result, nil
	}

	deadline := start.Add(opts.Timeout)
	for result.ProcessingCount > 0 {
		remaining := deadline.Sub(p.now())
		if remaining <= 0 {
			result.TimedOut = true
			break
		}
		// The last round starts at the deadline, never after it.
		if err := p.sleep(ctx, min(opts.Interval, remaining)); err != nil {
			result.ElapsedMs = p.now().Sub(start).Milliseconds()
			return result, err
		}
		if err := p.round(ctx, result, opts.Concurrency); err != nil {
			result.ElapsedMs = p.now().Sub(start).Milliseconds()
			return result, err
		}
		result.Rounds++
		result.Recount()
		p.log.Debug("processing.poll.round",
			"round", result.Rounds,
			"processing", result.ProcessingCount,
			"success", result.SuccessCount,
			"failed", result.ErrorCount,
		)
	}

	result.ElapsedMs = p.now().Sub(start).Milliseconds()
	result.Message = summarize(result)
	p.log.Info("processing.batch.done",
		"total", result.TotalDocuments,
		"success", result.SuccessCount,
		"failed", result.ErrorCount,
		"processing", result.ProcessingCount,
		"rounds", result.Rounds,
		"timed_out", result.TimedOut,
		"elapsed_ms", result.ElapsedMs,
	)
	return result, nil
}

// round checks every in-progress document once. Each goroutine writes only
// its own slot of DocumentStatuses.
func (p *Poller) round(ctx context.Context, result *model.BatchResult, limit int) error {
	if limit < 1 {
		limit = 1
	}
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for i := range result.DocumentStatuses {
		if !result.DocumentStatuses[i].IsProcessing {
			continue
		}
		slot := &result.DocumentStatuses[i]
		g.Go(func() error {
			next := p.runner.CheckAndUpdateStatus(ctx, slot.DocumentID)
			if next.Filename == "" {
				next.Filename = slot.Filename
			}
			*slot = next
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func summarize(r *model.BatchResult) string {
	msg := fmt.Sprintf("%d succeeded, %d failed, %d still processing after %d rounds",
		r.SuccessCount, r.ErrorCount, r.ProcessingCount, r.Rounds)
	if r.TimedOut {
		msg += " (timed out)"
	}
	return msg
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
