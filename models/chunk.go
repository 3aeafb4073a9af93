package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Page is a labelled span of extracted text.
type Page struct {
	Label  string `json:"label"`
	Source string `json:"source"`
	Text   string `json:"text"`
}

// Chunk is a bounded slice of a document's text. Start and End are rune
// offsets within the page the chunk was cut from.
type Chunk struct {
	Text       string `json:"text"`
	DocumentID string `json:"document_id,omitempty"`
	Index      int    `json:"chunk_index"`
	PageLabel  string `json:"page_label,omitempty"`
	Source     string `json:"source,omitempty"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// Input converts a chunk to the submission shape accepted by the indexer.
func (c Chunk) Input() ChunkInput {
	idx := c.Index
	return ChunkInput{
		Text: c.Text,
		Metadata: ChunkMetadata{
			PageLabel:  c.PageLabel,
			Source:     c.Source,
			ChunkIndex: &idx,
		},
	}
}

// ChunkMetadata is the optional metadata attached to a submitted chunk.
type ChunkMetadata struct {
	PageLabel  string `json:"page_label,omitempty"`
	Source     string `json:"source,omitempty"`
	ChunkIndex *int   `json:"chunk_index,omitempty"`
}

// ChunkInput is a submitted chunk. On the wire it is either a bare string or
// an object carrying page_content (or text) plus metadata.
type ChunkInput struct {
	Text     string
	Metadata ChunkMetadata
}

func (c ChunkInput) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PageContent string        `json:"page_content"`
		Metadata    ChunkMetadata `json:"metadata"`
	}{c.Text, c.Metadata})
}

func (c *ChunkInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = ChunkInput{}
		return nil
	}
	if data[0] == '"' {
		*c = ChunkInput{}
		return json.Unmarshal(data, &c.Text)
	}

	var raw struct {
		PageContent *string                    `json:"page_content"`
		Text        *string                    `json:"text"`
		Metadata    map[string]json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("chunk must be a string or an object: %w", err)
	}

	*c = ChunkInput{}
	switch {
	case raw.PageContent != nil:
		c.Text = *raw.PageContent
	case raw.Text != nil:
		c.Text = *raw.Text
	}

	if v, ok := raw.Metadata["page_label"]; ok {
		c.Metadata.PageLabel = scalarString(v)
	} else if v, ok := raw.Metadata["page"]; ok {
		c.Metadata.PageLabel = scalarString(v)
	}
	if v, ok := raw.Metadata["source"]; ok {
		c.Metadata.Source = scalarString(v)
	}
	if v, ok := raw.Metadata["chunk_index"]; ok {
		if n, err := strconv.Atoi(scalarString(v)); err == nil {
			c.Metadata.ChunkIndex = &n
		}
	}
	return nil
}

// scalarString renders a JSON string or number as plain text.
func scalarString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}
