package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"rag-backend/internal/logger"
	"rag-backend/services"
)

// DocumentIndexer is satisfied by *services.Indexer.
type DocumentIndexer interface {
	Index(ctx context.Context, req services.IndexRequest) (*services.IndexResult, error)
}

type TaskProcessor struct {
	indexer DocumentIndexer
}

func NewTaskProcessor(indexer DocumentIndexer) *TaskProcessor {
	return &TaskProcessor{indexer: indexer}
}

// Register installs the processor's handlers on mux.
func (p *TaskProcessor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskIndexDocument, p.ProcessIndex)
}

// ProcessIndex runs one indexing job. Every attempt reprocesses the full
// chunk set. Failures that cannot succeed on retry skip the retry queue.
func (p *TaskProcessor) ProcessIndex(ctx context.Context, t *asynq.Task) error {
	req, err := DecodeIndexPayload(t.Payload())
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log := logger.With("task_type", t.Type(), "document_id", req.DocumentID)
	log.Infow("processing index job", "chunks", len(req.Chunks))

	result, err := p.indexer.Index(ctx, req)
	if result != nil {
		writeResult(t, result)
	}
	if err != nil {
		log.Errorw("index job failed", "error", err)
		if services.IsTerminal(err) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	log.Infow("index job finished", "chunks_indexed", result.ChunksIndexed)
	return nil
}

func writeResult(t *asynq.Task, result *services.IndexResult) {
	w := t.ResultWriter()
	if w == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		logger.Warn("failed to encode index result", "error", err)
		return
	}
	if _, err := w.Write(data); err != nil {
		logger.Warn("failed to store index result", "task_id", w.TaskID(), "error", err)
	}
}
