package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"rag-backend/internal/ai"
	"rag-backend/internal/vectorindex"
	"rag-backend/models"
)

// vocabulary gives every known word its own axis so similarity is exact.
var vocabulary = []string{"sky", "blue", "grass", "green", "color", "what", "is", "the", "sun", "yellow"}

// keywordEmbedder embeds text as word counts over vocabulary. Models named
// "*-large" get two extra zero axes so tests can switch dimensions.
type keywordEmbedder struct {
	mu      sync.Mutex
	calls   int
	batches []int
}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string, model string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.batches = append(e.batches, len(texts))
	e.mu.Unlock()

	dim := len(vocabulary)
	if strings.HasSuffix(model, "-large") {
		dim += 2
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, dim)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			word = strings.Trim(word, ".,?!")
			for axis, known := range vocabulary {
				if word == known {
					v[axis]++
				}
			}
		}
		// Keep every vector non-zero so cosine is defined.
		v[dim-1] += 0.01
		out[i] = v
	}
	return out, nil
}

// echoLLM answers with its own prompt so tests can see what it was given.
type echoLLM struct {
	mu       sync.Mutex
	requests []ai.GenerateRequest
	err      error
}

func (l *echoLLM) Generate(_ context.Context, req ai.GenerateRequest) (*ai.Generation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, req)
	if l.err != nil {
		return nil, l.err
	}
	return &ai.Generation{Text: req.SystemPrompt + "\nQ: " + req.Query, TokensUsed: 10}, nil
}

func (l *echoLLM) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

type fakeWeb struct {
	result string
	err    error
	calls  int
}

func (w *fakeWeb) Search(context.Context, string) (string, error) {
	w.calls++
	return w.result, w.err
}

type memoryChats struct {
	mu   sync.Mutex
	logs []models.ChatLog
	err  error
}

func (c *memoryChats) Create(_ context.Context, log *models.ChatLog) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.logs = append(c.logs, *log)
	return nil
}

type statusUpdate struct {
	ID       string
	Status   models.DocumentStatus
	Chunks   int
	Provider string
	Model    string
	ErrMsg   string
}

type memoryDocuments struct {
	mu      sync.Mutex
	updates []statusUpdate
	err     error
}

func (d *memoryDocuments) UpdateIndexStatus(_ context.Context, id string, status models.DocumentStatus, chunks int, provider, model, errMsg string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, statusUpdate{id, status, chunks, provider, model, errMsg})
	return d.err
}

func (d *memoryDocuments) last() statusUpdate {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updates[len(d.updates)-1]
}

// racingCollection reports a dimension mismatch on the first insert, as if
// another writer recreated the collection after EnsureForWrite.
type racingCollection struct {
	*vectorindex.Collection
	raced     bool
	recreates int
}

func (c *racingCollection) Insert(ctx context.Context, entries []vectorindex.Entry) (int, error) {
	if !c.raced {
		c.raced = true
		return 0, &vectorindex.DimensionMismatchError{Existing: 1, Requested: len(entries[0].Vector)}
	}
	return c.Collection.Insert(ctx, entries)
}

func (c *racingCollection) Recreate(ctx context.Context, dimension int) error {
	c.recreates++
	return c.Collection.Recreate(ctx, dimension)
}

type pipeline struct {
	registry   *ai.Registry
	embedder   *keywordEmbedder
	llm        *echoLLM
	store      *vectorindex.MemoryStore
	collection *vectorindex.Collection
	documents  *memoryDocuments
	chats      *memoryChats
	web        *fakeWeb
	indexer    *Indexer
	answerer   *Answerer
}

func newPipeline() *pipeline {
	p := &pipeline{
		registry:  ai.NewRegistry(),
		embedder:  &keywordEmbedder{},
		llm:       &echoLLM{},
		store:     vectorindex.NewMemoryStore("rag_collection"),
		documents: &memoryDocuments{},
		chats:     &memoryChats{},
		web:       &fakeWeb{},
	}
	p.registry.Register(ai.ProviderOpenAI, p.embedder, p.llm)
	p.collection = vectorindex.NewCollection(p.store, nil)
	p.indexer = NewIndexer(p.registry, p.collection, p.documents, nil)
	p.answerer = NewAnswerer(p.registry, p.collection, p.web, p.chats, nil, AnswererConfig{TopK: 5})
	return p
}

func textChunks(texts ...string) []models.ChunkInput {
	out := make([]models.ChunkInput, len(texts))
	for i, t := range texts {
		out[i] = models.ChunkInput{Text: t}
	}
	return out
}

var errBoom = errors.New("boom")
