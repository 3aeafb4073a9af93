// Package chunker splits extracted text into overlapping fixed-size windows.
package chunker

import (
	"errors"
	"fmt"

	"rag-backend/models"
)

// ErrInvalidConfig is returned for a window that would not advance.
var ErrInvalidConfig = errors.New("chunker: invalid configuration")

// Chunker cuts text into windows of at most Size characters, consecutive
// windows sharing Overlap characters. Windows never cross page boundaries.
type Chunker struct {
	size    int
	overlap int
}

// New validates size and overlap. overlap must be in [0, size).
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be > 0, got %d", ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap must be >= 0 and < size (%d), got %d", ErrInvalidConfig, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// ChunkText splits a single unlabelled text.
func (c *Chunker) ChunkText(text string) []models.Chunk {
	return c.Chunk([]models.Page{{Text: text}})
}

// Chunk splits pages in order. Chunk indices run across the whole document.
func (c *Chunker) Chunk(pages []models.Page) []models.Chunk {
	var chunks []models.Chunk
	step := c.size - c.overlap

	for _, page := range pages {
		runes := []rune(page.Text)
		for start := 0; start < len(runes); start += step {
			end := start + c.size
			if end > len(runes) {
				end = len(runes)
			}
			chunks = append(chunks, models.Chunk{
				Text:      string(runes[start:end]),
				Index:     len(chunks),
				PageLabel: page.Label,
				Source:    page.Source,
				Start:     start,
				End:       end,
			})
			if end == len(runes) {
				break
			}
		}
	}
	return chunks
}
