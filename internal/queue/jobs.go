package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// CheckStatusTask is scheduled for each document left in progress by a
	// batch that did not wait for completion.
	CheckStatusTask = "document:check-status"
)

// CheckStatusPayload is serialized into the task payload so the worker knows
// which document to refresh and when to give up.
type CheckStatusPayload struct {
	DocumentID string    `json:"document_id"`
	Deadline   time.Time `json:"deadline"`
	Attempt    int       `json:"attempt"`
}

// NewCheckStatusTask builds the task for payload.
func NewCheckStatusTask(payload CheckStatusPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(CheckStatusTask, data), nil
}

// ParseCheckStatus decodes a task payload.
func ParseCheckStatus(task *asynq.Task) (CheckStatusPayload, error) {
	var payload CheckStatusPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	if payload.DocumentID == "" {
		return payload, fmt.Errorf("decode payload: missing document id")
	}
	return payload, nil
}

// Scheduler enqueues status checks on an asynq client.
type Scheduler struct {
	client *asynq.Client
}

// NewScheduler wraps client.
func NewScheduler(client *asynq.Client) *Scheduler {
	return &Scheduler{client: client}
}

// EnqueueCheckStatus schedules a status check to run after delay.
func (s *Scheduler) EnqueueCheckStatus(ctx context.Context, payload CheckStatusPayload, delay time.Duration) error {
	task, err := NewCheckStatusTask(payload)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.MaxRetry(5), asynq.Timeout(2 * time.Minute)}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	if _, err := s.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue check status task: %w", err)
	}
	return nil
}
