package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rag-backend/models"
)

type ChatLogRepository struct {
	col *mongo.Collection
}

func NewChatLogRepository(db *mongo.Database) *ChatLogRepository {
	return &ChatLogRepository{col: db.Collection(chatLogsCollection)}
}

func (r *ChatLogRepository) Create(ctx context.Context, log *models.ChatLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	if _, err := r.col.InsertOne(ctx, log); err != nil {
		return fmt.Errorf("insert chat log %s: %w", log.ChatID, err)
	}
	return nil
}

func (r *ChatLogRepository) Get(ctx context.Context, chatID string) (*models.ChatLog, error) {
	var log models.ChatLog
	err := r.col.FindOne(ctx, bson.M{"chat_id": chatID}).Decode(&log)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find chat log %s: %w", chatID, err)
	}
	return &log, nil
}

// ListByDocument returns chats for a document, newest first.
func (r *ChatLogRepository) ListByDocument(ctx context.Context, documentID string, limit, offset int) ([]models.ChatLog, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := r.col.Find(ctx, bson.M{"document_id": documentID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list chat logs for %s: %w", documentID, err)
	}
	defer cursor.Close(ctx)

	logs := []models.ChatLog{}
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, fmt.Errorf("decode chat logs for %s: %w", documentID, err)
	}
	return logs, nil
}

func (r *ChatLogRepository) CountByDocument(ctx context.Context, documentID string) (int64, error) {
	n, err := r.col.CountDocuments(ctx, bson.M{"document_id": documentID})
	if err != nil {
		return 0, fmt.Errorf("count chat logs for %s: %w", documentID, err)
	}
	return n, nil
}

// Stats aggregates usage for a document in a single round trip.
func (r *ChatLogRepository) Stats(ctx context.Context, documentID string) (*models.DocumentStats, error) {
	byCount := bson.D{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"document_id": documentID}}},
		{{Key: "$facet", Value: bson.M{
			"summary": bson.A{
				bson.M{"$group": bson.M{
					"_id":         nil,
					"total":       bson.M{"$sum": 1},
					"avg_sources": bson.M{"$avg": "$sources"},
				}},
			},
			"models": bson.A{
				bson.M{"$group": bson.M{"_id": "$model", "count": bson.M{"$sum": 1}}},
				byCount,
			},
			"embedding_models": bson.A{
				bson.M{"$group": bson.M{"_id": "$embedding_model", "count": bson.M{"$sum": 1}}},
				byCount,
			},
		}}},
	}

	cursor, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate chat stats for %s: %w", documentID, err)
	}
	defer cursor.Close(ctx)

	var facets []struct {
		Summary []struct {
			Total      int64   `bson:"total"`
			AvgSources float64 `bson:"avg_sources"`
		} `bson:"summary"`
		Models          []models.ModelUsage `bson:"models"`
		EmbeddingModels []models.ModelUsage `bson:"embedding_models"`
	}
	if err := cursor.All(ctx, &facets); err != nil {
		return nil, fmt.Errorf("decode chat stats for %s: %w", documentID, err)
	}

	stats := &models.DocumentStats{
		DocumentID:          documentID,
		ModelsUsed:          []models.ModelUsage{},
		EmbeddingModelsUsed: []models.ModelUsage{},
	}
	if len(facets) == 0 {
		return stats, nil
	}
	f := facets[0]
	if len(f.Summary) > 0 {
		stats.TotalQueries = f.Summary[0].Total
		stats.AverageSourcesPerQuery = f.Summary[0].AvgSources
	}
	if f.Models != nil {
		stats.ModelsUsed = f.Models
	}
	if f.EmbeddingModels != nil {
		stats.EmbeddingModelsUsed = f.EmbeddingModels
	}
	return stats, nil
}
