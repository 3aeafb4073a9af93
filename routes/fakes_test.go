package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"rag-backend/internal/ai"
	"rag-backend/internal/chunker"
	"rag-backend/internal/config"
	"rag-backend/internal/crawler"
	"rag-backend/internal/database"
	"rag-backend/internal/queue"
	"rag-backend/models"
	"rag-backend/services"
)

type memoryDocuments struct {
	mu         sync.Mutex
	docs       map[string]*models.Document
	processing map[string]string
}

func newMemoryDocuments() *memoryDocuments {
	return &memoryDocuments{docs: map[string]*models.Document{}, processing: map[string]string{}}
}

func (m *memoryDocuments) Create(ctx context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	return nil
}

func (m *memoryDocuments) Get(ctx context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (m *memoryDocuments) MarkProcessing(ctx context.Context, id, jobID, provider, model string, chunks int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return database.ErrNotFound
	}
	doc.Status = models.DocumentProcessing
	doc.JobID = jobID
	doc.ChunksCount = chunks
	m.processing[id] = jobID
	return nil
}

type memoryChats struct {
	logs  []models.ChatLog
	stats *models.DocumentStats
}

func (m *memoryChats) Get(ctx context.Context, chatID string) (*models.ChatLog, error) {
	for i := range m.logs {
		if m.logs[i].ChatID == chatID {
			return &m.logs[i], nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *memoryChats) byDocument(documentID string) []models.ChatLog {
	var out []models.ChatLog
	for _, l := range m.logs {
		if l.DocumentID == documentID {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memoryChats) ListByDocument(ctx context.Context, documentID string, limit, offset int) ([]models.ChatLog, error) {
	all := m.byDocument(documentID)
	if offset >= len(all) {
		return []models.ChatLog{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *memoryChats) CountByDocument(ctx context.Context, documentID string) (int64, error) {
	return int64(len(m.byDocument(documentID))), nil
}

func (m *memoryChats) Stats(ctx context.Context, documentID string) (*models.DocumentStats, error) {
	if m.stats != nil {
		copied := *m.stats
		return &copied, nil
	}
	return &models.DocumentStats{DocumentID: documentID}, nil
}

type recordingJobs struct {
	requests []services.IndexRequest
	err      error
}

func (r *recordingJobs) EnqueueIndex(ctx context.Context, req services.IndexRequest) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.requests = append(r.requests, req)
	return fmt.Sprintf("job-%d", len(r.requests)), nil
}

type staticStatus map[string]*queue.JobStatus

func (s staticStatus) JobStatus(ctx context.Context, jobID string) (*queue.JobStatus, error) {
	status, ok := s[jobID]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	return status, nil
}

type scriptedAnswerer struct {
	requests []services.QueryRequest
	answer   *services.Answer
	err      error
	// delay simulates a slow generation that stops early if ctx ends.
	delay time.Duration
}

func (s *scriptedAnswerer) Answer(ctx context.Context, req services.QueryRequest) (*services.Answer, error) {
	s.requests = append(s.requests, req)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.answer, nil
}

type scriptedCrawler struct {
	requests []crawler.Request
	result   *crawler.Result
	err      error
}

func (s *scriptedCrawler) Crawl(ctx context.Context, req crawler.Request) (*crawler.Result, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type nopEmbedder struct{}

func (nopEmbedder) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

type harness struct {
	router    *gin.Engine
	documents *memoryDocuments
	chats     *memoryChats
	jobs      *recordingJobs
	status    staticStatus
	answerer  *scriptedAnswerer
	crawler   *scriptedCrawler
	uploadDir string
	ready     map[string]func(ctx context.Context) error
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	chunks, err := chunker.New(40, 10)
	require.NoError(t, err)

	providers := ai.NewRegistry()
	providers.Register("openai", nopEmbedder{}, nil)

	h := &harness{
		documents: newMemoryDocuments(),
		chats:     &memoryChats{},
		jobs:      &recordingJobs{},
		status:    staticStatus{},
		answerer:  &scriptedAnswerer{},
		crawler:   &scriptedCrawler{},
		uploadDir: t.TempDir(),
		ready:     map[string]func(ctx context.Context) error{},
	}
	cfg := &config.Config{
		ServiceName: "rag-backend",
		GinMode:     gin.TestMode,
		CORSOrigins: []string{"*"},
		MaxFileSize: 1 << 20,
	}
	h.router = SetupRouter(Dependencies{
		Config:          cfg,
		Documents:       h.documents,
		ChatLogs:        h.chats,
		Jobs:            h.jobs,
		JobStatus:       h.status,
		Answerer:        h.answerer,
		Extractor:       services.NewExtractor(h.uploadDir),
		Crawler:         h.crawler,
		Chunker:         chunks,
		Providers:       providers,
		ReadinessChecks: h.ready,
	})
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) postJSON(path string, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return h.do(req)
}

func (h *harness) get(path string) *httptest.ResponseRecorder {
	return h.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (h *harness) upload(t *testing.T, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/knowledge/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return h.do(req)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
