// Package queue dispatches indexing work through asynq.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"rag-backend/internal/config"
	"rag-backend/services"
	"rag-backend/utils"
)

const TaskIndexDocument = "rag:index"

// TaskOptions are applied to every enqueued indexing task.
type TaskOptions struct {
	Queue     string
	MaxRetry  int
	Timeout   time.Duration
	Retention time.Duration
}

func OptionsFromConfig(cfg *config.Config) TaskOptions {
	return TaskOptions{
		Queue:     cfg.QueueName,
		MaxRetry:  cfg.JobMaxRetry,
		Timeout:   cfg.JobTimeout,
		Retention: cfg.JobRetention,
	}
}

// NewIndexTask packs an indexing request. Chunk sets can be large, so the
// JSON payload is brotli-compressed.
func NewIndexTask(req services.IndexRequest, opts TaskOptions) (*asynq.Task, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode index payload: %w", err)
	}
	payload, err := utils.Pack(data)
	if err != nil {
		return nil, fmt.Errorf("compress index payload: %w", err)
	}

	return asynq.NewTask(
		TaskIndexDocument,
		payload,
		asynq.Queue(opts.Queue),
		asynq.MaxRetry(opts.MaxRetry),
		asynq.Timeout(opts.Timeout),
		asynq.Retention(opts.Retention),
	), nil
}

// DecodeIndexPayload reverses NewIndexTask.
func DecodeIndexPayload(payload []byte) (services.IndexRequest, error) {
	var req services.IndexRequest
	data, err := utils.Unpack(payload)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("decode index payload: %w", err)
	}
	return req, nil
}

// TaskEnqueuer is satisfied by *asynq.Client.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Dispatcher struct {
	client TaskEnqueuer
	opts   TaskOptions
}

func NewDispatcher(client TaskEnqueuer, opts TaskOptions) *Dispatcher {
	return &Dispatcher{client: client, opts: opts}
}

// EnqueueIndex submits an indexing job and returns its id.
func (d *Dispatcher) EnqueueIndex(ctx context.Context, req services.IndexRequest) (string, error) {
	task, err := NewIndexTask(req, d.opts)
	if err != nil {
		return "", err
	}
	info, err := d.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("enqueue index job: %w", err)
	}
	return info.ID, nil
}
