package queue

import (
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckStatusTaskRoundTrip(t *testing.T) {
	deadline := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	task, err := NewCheckStatusTask(CheckStatusPayload{DocumentID: "d1", Deadline: deadline, Attempt: 2})
	require.NoError(t, err)
	assert.Equal(t, CheckStatusTask, task.Type())

	payload, err := ParseCheckStatus(task)
	require.NoError(t, err)
	assert.Equal(t, "d1", payload.DocumentID)
	assert.True(t, deadline.Equal(payload.Deadline))
	assert.Equal(t, 2, payload.Attempt)
}

func TestParseCheckStatusRejectsBadPayloads(t *testing.T) {
	_, err := ParseCheckStatus(asynq.NewTask(CheckStatusTask, []byte("{")))
	assert.Error(t, err)

	_, err = ParseCheckStatus(asynq.NewTask(CheckStatusTask, []byte(`{"deadline":"2024-05-01T12:00:00Z"}`)))
	assert.Error(t, err)
}
