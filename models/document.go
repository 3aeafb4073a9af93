package models

import "time"

// DocumentStatus tracks a document through upload and indexing.
type DocumentStatus string

const (
	DocumentUploaded   DocumentStatus = "uploaded"
	DocumentProcessing DocumentStatus = "processing"
	DocumentIndexed    DocumentStatus = "indexed"
	DocumentFailed     DocumentStatus = "failed"
)

// Document is the metadata record for an uploaded file. The ID is the
// stored file name, so it doubles as the handle for text extraction.
type Document struct {
	ID                string         `bson:"_id" json:"document_id"`
	Filename          string         `bson:"filename" json:"filename"`
	Size              int64          `bson:"size" json:"size"`
	Checksum          string         `bson:"checksum,omitempty" json:"checksum,omitempty"`
	Pages             int            `bson:"pages" json:"pages"`
	ChunksCount       int            `bson:"chunks_count" json:"chunks_count"`
	EmbeddingProvider string         `bson:"embedding_provider,omitempty" json:"embedding_provider,omitempty"`
	EmbeddingModel    string         `bson:"embedding_model,omitempty" json:"embedding_model,omitempty"`
	Status            DocumentStatus `bson:"status" json:"status"`
	ErrorMessage      string         `bson:"error_message,omitempty" json:"error_message,omitempty"`
	JobID             string         `bson:"job_id,omitempty" json:"job_id,omitempty"`
	CreatedAt         time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `bson:"updated_at" json:"updated_at"`
}

// UploadResponse is returned by the upload endpoint.
type UploadResponse struct {
	DocumentID  string `json:"document_id"`
	Filename    string `json:"filename"`
	Pages       int    `json:"pages"`
	ChunksCount int    `json:"chunks_count"`
}
