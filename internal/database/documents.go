package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"rag-backend/models"
)

type DocumentRepository struct {
	col *mongo.Collection
}

func NewDocumentRepository(db *mongo.Database) *DocumentRepository {
	return &DocumentRepository{col: db.Collection(documentsCollection)}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = models.DocumentUploaded
	}

	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

func (r *DocumentRepository) Get(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find document %s: %w", id, err)
	}
	return &doc, nil
}

// MarkProcessing records the queued indexing job for a document.
func (r *DocumentRepository) MarkProcessing(ctx context.Context, id, jobID, provider, model string, chunks int) error {
	return r.update(ctx, id, bson.M{
		"status":             models.DocumentProcessing,
		"job_id":             jobID,
		"embedding_provider": provider,
		"embedding_model":    model,
		"chunks_count":       chunks,
		"error_message":      "",
	})
}

// UpdateIndexStatus records the outcome of an indexing job.
func (r *DocumentRepository) UpdateIndexStatus(ctx context.Context, id string, status models.DocumentStatus, chunks int, provider, model, errMsg string) error {
	return r.update(ctx, id, bson.M{
		"status":             status,
		"chunks_count":       chunks,
		"embedding_provider": provider,
		"embedding_model":    model,
		"error_message":      errMsg,
	})
}

// MarkStale fails documents stuck in processing for longer than olderThan.
func (r *DocumentRepository) MarkStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := time.Now().UTC()
	res, err := r.col.UpdateMany(ctx,
		bson.M{
			"status":     models.DocumentProcessing,
			"updated_at": bson.M{"$lt": now.Add(-olderThan)},
		},
		bson.M{"$set": bson.M{
			"status":        models.DocumentFailed,
			"error_message": "indexing job did not finish in time",
			"updated_at":    now,
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("mark stale documents: %w", err)
	}
	return res.ModifiedCount, nil
}

func (r *DocumentRepository) update(ctx context.Context, id string, fields bson.M) error {
	fields["updated_at"] = time.Now().UTC()
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("update document %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
