package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// ErrJobNotFound is returned for ids the queue does not know, including
// jobs whose retention has expired.
var ErrJobNotFound = errors.New("job not found")

const (
	StatusQueued   = "queued"
	StatusStarted  = "started"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

type JobStatus struct {
	JobID  string          `json:"job_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// TaskInspector is satisfied by *asynq.Inspector.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
}

type StatusReader struct {
	inspector TaskInspector
	queue     string
}

func NewStatusReader(inspector TaskInspector, queue string) *StatusReader {
	return &StatusReader{inspector: inspector, queue: queue}
}

func (r *StatusReader) JobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := r.inspector.GetTaskInfo(r.queue, jobID)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("inspect job %s: %w", jobID, err)
	}

	status := &JobStatus{JobID: info.ID, Status: mapState(info.State)}
	if len(info.Result) > 0 && json.Valid(info.Result) {
		status.Result = json.RawMessage(info.Result)
	}
	if status.Status == StatusFailed || info.State == asynq.TaskStateRetry {
		status.Error = info.LastErr
	}
	return status, nil
}

func mapState(state asynq.TaskState) string {
	switch state {
	case asynq.TaskStateActive:
		return StatusStarted
	case asynq.TaskStateCompleted:
		return StatusFinished
	case asynq.TaskStateArchived:
		return StatusFailed
	default:
		// pending, scheduled, retry and aggregating are all still waiting.
		return StatusQueued
	}
}
