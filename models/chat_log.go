package models

import "time"

// ChatLog is one answered query. Records are written once and never updated.
type ChatLog struct {
	ChatID         string    `bson:"chat_id" json:"chat_id"`
	DocumentID     string    `bson:"document_id" json:"document_id"`
	Query          string    `bson:"query" json:"query"`
	Answer         string    `bson:"answer" json:"answer"`
	Sources        int       `bson:"sources" json:"sources"`
	Model          string    `bson:"model" json:"model"`
	Temperature    float64   `bson:"temperature" json:"temperature"`
	Provider       string    `bson:"provider" json:"provider"`
	EmbeddingModel string    `bson:"embedding_model" json:"embedding_model"`
	WebSearchUsed  bool      `bson:"web_search_used" json:"web_search_used"`
	CustomPrompt   bool      `bson:"custom_prompt" json:"custom_prompt"`
	ParentChatID   string    `bson:"parent_chat_id,omitempty" json:"parent_chat_id,omitempty"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
}

// ModelUsage counts how often a model answered queries for a document.
type ModelUsage struct {
	Model string `bson:"_id" json:"model"`
	Count int    `bson:"count" json:"count"`
}

// DocumentStats summarizes the chat history of one document.
type DocumentStats struct {
	DocumentID             string       `json:"document_id"`
	Filename               string       `json:"filename"`
	TotalQueries           int64        `json:"total_queries"`
	AverageSourcesPerQuery float64      `json:"average_sources_per_query"`
	ModelsUsed             []ModelUsage `json:"models_used"`
	EmbeddingModelsUsed    []ModelUsage `json:"embedding_models_used"`
}
