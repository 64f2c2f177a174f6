package processing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/IteraFlow/internal/model"
)

// fakeClock advances only when the poller sleeps.
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps int
	slept  []time.Duration
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps++
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
	return nil
}

func newTestPoller(runner BatchRunner) (*Poller, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	p := NewPoller(runner, discardLogger())
	p.now = clock.now
	p.sleep = clock.sleep
	return p, clock
}

func TestPollerWaitsUntilDone(t *testing.T) {
	remote := &fakeRemote{
		uploadID: "generate",
		statuses: map[string][]string{
			"remote-1": {"Processando", "Concluido"},
			"remote-2": {"Processando", "Processando", "Erro de leitura"},
		},
		rows: []model.ExportRow{{Code: "1"}},
	}
	o, _ := newOrchestrator(t, remote)
	addDoc(t, o, "d1")
	addDoc(t, o, "d2")
	p, clock := newTestPoller(o)

	result, err := p.Run(context.Background(), []string{"d1", "d2"}, PollOptions{
		Wait:        true,
		Timeout:     time.Minute,
		Interval:    time.Second,
		Concurrency: 2,
	})
	require.NoError(t, err)

	assert.False(t, result.TimedOut)
	assert.Equal(t, 3, result.Rounds)
	assert.Equal(t, 3, clock.sleeps)
	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 1, result.ErrorCount)
	assert.Zero(t, result.ProcessingCount)
	require.Len(t, result.DocumentStatuses, 2)
	assert.Equal(t, model.StateSuccess, result.DocumentStatuses[0].State)
	assert.Equal(t, model.StateError, result.DocumentStatuses[1].State)
	assert.Equal(t, "d2.pdf", result.DocumentStatuses[1].Filename)
}

func TestPollerTimesOut(t *testing.T) {
	remote := &fakeRemote{uploadID: "r-1"}
	o, _ := newOrchestrator(t, remote)
	addDoc(t, o, "d1")
	p, clock := newTestPoller(o)

	result, err := p.Run(context.Background(), []string{"d1"}, PollOptions{
		Wait:     true,
		Timeout:  5 * time.Second,
		Interval: 2 * time.Second,
	})
	require.NoError(t, err)

	assert.True(t, result.TimedOut)
	assert.Equal(t, 1, result.ProcessingCount)
	assert.Equal(t, 3, clock.sleeps)
	assert.Equal(t, 3, result.Rounds)
	assert.Contains(t, result.Message, "timed out")
}

func TestPollerLastRoundStartsAtDeadline(t *testing.T) {
	remote := &fakeRemote{uploadID: "r-1"}
	o, _ := newOrchestrator(t, remote)
	addDoc(t, o, "d1")
	p, clock := newTestPoller(o)
	start := clock.now()

	result, err := p.Run(context.Background(), []string{"d1"}, PollOptions{
		Wait:     true,
		Timeout:  5 * time.Second,
		Interval: 3 * time.Second,
	})
	require.NoError(t, err)

	assert.True(t, result.TimedOut)
	assert.Equal(t, 2, result.Rounds)
	assert.Equal(t, []time.Duration{3 * time.Second, 2 * time.Second}, clock.slept)
	assert.Equal(t, start.Add(5*time.Second), clock.now())
}

func TestPollerWithoutWait(t *testing.T) {
	remote := &fakeRemote{uploadID: "r-1"}
	o, _ := newOrchestrator(t, remote)
	addDoc(t, o, "d1")
	p, clock := newTestPoller(o)

	result, err := p.Run(context.Background(), []string{"d1"}, PollOptions{Timeout: time.Minute, Interval: time.Second})
	require.NoError(t, err)

	assert.Equal(t, 1, result.ProcessingCount)
	assert.Zero(t, result.Rounds)
	assert.Zero(t, clock.sleeps)
	assert.Zero(t, remote.statusCalls)
}

func TestPollerSkipsWaitWhenNothingInProgress(t *testing.T) {
	remote := &fakeRemote{uploadErr: assert.AnError}
	o, _ := newOrchestrator(t, remote)
	addDoc(t, o, "d1")
	p, clock := newTestPoller(o)

	result, err := p.Run(context.Background(), []string{"d1"}, PollOptions{Wait: true, Timeout: time.Minute, Interval: time.Second})
	require.NoError(t, err)

	assert.Equal(t, 1, result.ErrorCount)
	assert.Zero(t, clock.sleeps)
}

func TestPollerCancelled(t *testing.T) {
	remote := &fakeRemote{uploadID: "r-1"}
	o, _ := newOrchestrator(t, remote)
	addDoc(t, o, "d1")
	p, _ := newTestPoller(o)

	ctx, cancel := context.WithCancel(context.Background())
	p.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	result, err := p.Run(ctx, []string{"d1"}, PollOptions{Wait: true, Timeout: time.Minute, Interval: time.Second})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.ProcessingCount)
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
