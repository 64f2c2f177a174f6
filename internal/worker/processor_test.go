package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/IteraFlow/internal/model"
	"github.com/dharsanguruparan/IteraFlow/internal/queue"
)

type fakeChecker struct {
	status model.DocumentProcessingStatus
	rows   []model.ExportRow
	calls  int
}

func (f *fakeChecker) CheckAndUpdateStatus(_ context.Context, id string) model.DocumentProcessingStatus {
	f.calls++
	s := f.status
	s.DocumentID = id
	return s
}

func (f *fakeChecker) GetExportResults(_ context.Context, id string) model.ExportResult {
	return model.ExportResult{DocumentID: id, IsSuccess: len(f.rows) > 0, TotalRecords: len(f.rows), Records: f.rows}
}

type fakeEnqueuer struct {
	payloads []queue.CheckStatusPayload
	delays   []time.Duration
	err      error
}

func (f *fakeEnqueuer) EnqueueCheckStatus(_ context.Context, p queue.CheckStatusPayload, d time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, p)
	f.delays = append(f.delays, d)
	return nil
}

type fakeArchive struct{ keys map[string]int }

func (f *fakeArchive) ArchiveExport(_ context.Context, id string, data []byte) (string, error) {
	if f.keys == nil {
		f.keys = map[string]int{}
	}
	f.keys[id] = len(data)
	return "exports/" + id + ".xlsx", nil
}

var now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newProcessor(checker StatusChecker, enq Enqueuer, archive ExportArchiver) *Processor {
	p := NewProcessor(checker, enq, archive, 10*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.now = func() time.Time { return now }
	return p
}

func TestCheckReschedulesWhileProcessing(t *testing.T) {
	checker := &fakeChecker{status: model.DocumentProcessingStatus{State: model.StateProcessing, IsProcessing: true}}
	enq := &fakeEnqueuer{}
	p := newProcessor(checker, enq, nil)

	err := p.Check(context.Background(), queue.CheckStatusPayload{DocumentID: "d1", Deadline: now.Add(time.Minute), Attempt: 1})
	require.NoError(t, err)

	require.Len(t, enq.payloads, 1)
	assert.Equal(t, "d1", enq.payloads[0].DocumentID)
	assert.Equal(t, 2, enq.payloads[0].Attempt)
	assert.Equal(t, 10*time.Second, enq.delays[0])
}

func TestCheckStopsAtDeadline(t *testing.T) {
	checker := &fakeChecker{status: model.DocumentProcessingStatus{IsProcessing: true}}
	enq := &fakeEnqueuer{}
	p := newProcessor(checker, enq, nil)

	require.NoError(t, p.Check(context.Background(), queue.CheckStatusPayload{DocumentID: "d1", Deadline: now.Add(5 * time.Second)}))
	assert.Empty(t, enq.payloads)
	assert.Equal(t, 1, checker.calls)
}

func TestCheckTerminalStates(t *testing.T) {
	t.Run("success archives export", func(t *testing.T) {
		checker := &fakeChecker{
			status: model.DocumentProcessingStatus{State: model.StateSuccess, IsSuccess: true, ExportRows: 1},
			rows:   []model.ExportRow{{Code: "1"}},
		}
		enq := &fakeEnqueuer{}
		archive := &fakeArchive{}
		p := newProcessor(checker, enq, archive)

		require.NoError(t, p.Check(context.Background(), queue.CheckStatusPayload{DocumentID: "d1", Deadline: now.Add(time.Hour)}))
		assert.Empty(t, enq.payloads)
		assert.Positive(t, archive.keys["d1"])
	})

	t.Run("error stops", func(t *testing.T) {
		checker := &fakeChecker{status: model.DocumentProcessingStatus{State: model.StateError, Message: "Rejected"}}
		enq := &fakeEnqueuer{}
		p := newProcessor(checker, enq, nil)

		require.NoError(t, p.Check(context.Background(), queue.CheckStatusPayload{DocumentID: "d1", Deadline: now.Add(time.Hour)}))
		assert.Empty(t, enq.payloads)
	})
}

func TestCheckReturnsEnqueueFailure(t *testing.T) {
	checker := &fakeChecker{status: model.DocumentProcessingStatus{IsProcessing: true}}
	p := newProcessor(checker, &fakeEnqueuer{err: errors.New("redis down")}, nil)

	err := p.Check(context.Background(), queue.CheckStatusPayload{DocumentID: "d1", Deadline: now.Add(time.Hour)})
	assert.ErrorContains(t, err, "redis down")
}

func TestHandlerSkipsRetryOnBadPayload(t *testing.T) {
	p := newProcessor(&fakeChecker{}, &fakeEnqueuer{}, nil)

	err := p.handleCheckStatus(context.Background(), asynq.NewTask(queue.CheckStatusTask, []byte("nope")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
