// Package database persists document metadata and chat history in MongoDB.
package database

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

const (
	documentsCollection = "documents"
	chatLogsCollection  = "chat_logs"
)

// Store bundles the repositories backed by one database.
type Store struct {
	client    *mongo.Client
	Documents *DocumentRepository
	ChatLogs  *ChatLogRepository
}

func NewStore(client *mongo.Client, dbName string) *Store {
	db := client.Database(dbName)
	return &Store{
		client:    client,
		Documents: NewDocumentRepository(db),
		ChatLogs:  NewChatLogRepository(db),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
