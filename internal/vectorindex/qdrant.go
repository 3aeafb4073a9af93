package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// qdrantUpsertBatch bounds the number of points sent per upsert request.
const qdrantUpsertBatch = 256

// documentIDKey is the payload path searches filter on.
const documentIDKey = "metadata.document_id"

var dimensionErrPattern = regexp.MustCompile(`expected dim: (\d+), got (\d+)`)

// ErrUnsupportedVectorLayout is returned for collections that do not hold a
// single unnamed vector, such as ones configured with named vectors. They
// are never recreated automatically.
var ErrUnsupportedVectorLayout = errors.New("collection does not use a single unnamed vector")

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// QdrantStore talks to Qdrant over its REST API. Payloads follow the
// {page_content, metadata} layout so collections stay readable by other
// Qdrant clients.
type QdrantStore struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client
}

func NewQdrantStore(cfg QdrantConfig) *QdrantStore {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &QdrantStore{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *QdrantStore) Name() string { return s.collection }

func (s *QdrantStore) collectionURL(suffix string) string {
	return s.baseURL + "/collections/" + url.PathEscape(s.collection) + suffix
}

func (s *QdrantStore) Describe(ctx context.Context) (CollectionInfo, error) {
	var resp struct {
		Result struct {
			PointsCount int `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors json.RawMessage `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := s.do(ctx, "describe", http.MethodGet, s.collectionURL(""), nil, &resp)
	if errors.Is(err, ErrCollectionNotFound) {
		return CollectionInfo{}, nil
	}
	if err != nil {
		return CollectionInfo{}, err
	}

	raw := resp.Result.Config.Params.Vectors
	var vectors struct {
		Size int `json:"size"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &vectors); err != nil {
			return CollectionInfo{}, fmt.Errorf("decode qdrant vector params: %w", err)
		}
	}
	if vectors.Size <= 0 {
		return CollectionInfo{}, fmt.Errorf("%w: %s has vector params %s", ErrUnsupportedVectorLayout, s.collection, strings.TrimSpace(string(raw)))
	}
	return CollectionInfo{Exists: true, Dimension: vectors.Size, Points: resp.Result.PointsCount}, nil
}

func (s *QdrantStore) Create(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid vector dimension %d", dimension)
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, "create", http.MethodPut, s.collectionURL(""), body, nil); err != nil {
		return err
	}

	index := map[string]any{
		"field_name":   documentIDKey,
		"field_schema": "keyword",
	}
	return s.do(ctx, "create_index", http.MethodPut, s.collectionURL("/index?wait=true"), index, nil)
}

func (s *QdrantStore) Drop(ctx context.Context) error {
	err := s.do(ctx, "drop", http.MethodDelete, s.collectionURL(""), nil, nil)
	if errors.Is(err, ErrCollectionNotFound) {
		return nil
	}
	return err
}

func (s *QdrantStore) Insert(ctx context.Context, entries []Entry) (int, error) {
	inserted := 0
	for start := 0; start < len(entries); start += qdrantUpsertBatch {
		end := start + qdrantUpsertBatch
		if end > len(entries) {
			end = len(entries)
		}

		points := make([]map[string]any, 0, end-start)
		for _, e := range entries[start:end] {
			points = append(points, map[string]any{
				"id":     uuid.NewString(),
				"vector": e.Vector,
				"payload": map[string]any{
					"page_content": e.Text,
					"metadata":     e.Metadata,
				},
			})
		}

		body := map[string]any{"points": points}
		if err := s.do(ctx, "insert", http.MethodPut, s.collectionURL("/points?wait=true"), body, nil); err != nil {
			return inserted, err
		}
		inserted += end - start
	}
	return inserted, nil
}

func (s *QdrantStore) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]Result, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	if filter.DocumentID != "" {
		req["filter"] = map[string]any{
			"must": []map[string]any{
				{"key": documentIDKey, "match": map[string]any{"value": filter.DocumentID}},
			},
		}
	}

	var resp struct {
		Result []struct {
			Score   float32 `json:"score"`
			Payload struct {
				PageContent string   `json:"page_content"`
				Metadata    Metadata `json:"metadata"`
			} `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, "search", http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, Result{
			Text:     r.Payload.PageContent,
			Metadata: r.Payload.Metadata,
			Score:    r.Score,
		})
	}
	return results, nil
}

// do sends one request and classifies failures: transport errors and 5xx are
// UnavailableError, 404 is ErrCollectionNotFound, a dimension complaint is
// DimensionMismatchError.
func (s *QdrantStore) do(ctx context.Context, op, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode qdrant %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build qdrant %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &UnavailableError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &UnavailableError{Op: op, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrCollectionNotFound
	case resp.StatusCode >= 500:
		return &UnavailableError{Op: op, Err: fmt.Errorf("qdrant returned %s: %s", resp.Status, qdrantErrorText(payload))}
	case resp.StatusCode >= 300:
		msg := qdrantErrorText(payload)
		if m := dimensionErrPattern.FindStringSubmatch(msg); m != nil {
			existing, _ := strconv.Atoi(m[1])
			requested, _ := strconv.Atoi(m[2])
			return &DimensionMismatchError{Existing: existing, Requested: requested}
		}
		return fmt.Errorf("qdrant %s failed with %s: %s", op, resp.Status, msg)
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode qdrant %s response: %w", op, err)
		}
	}
	return nil
}

func qdrantErrorText(payload []byte) string {
	var body struct {
		Status struct {
			Error string `json:"error"`
		} `json:"status"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Status.Error != "" {
		return body.Status.Error
	}
	return strings.TrimSpace(string(payload))
}
