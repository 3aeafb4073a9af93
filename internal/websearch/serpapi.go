package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const serpAPIEndpoint = "https://serpapi.com/search.json"

// SerpAPI queries Google through serpapi.com.
type SerpAPI struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func NewSerpAPI(apiKey string, client *http.Client) *SerpAPI {
	if client == nil {
		client = http.DefaultClient
	}
	return &SerpAPI{apiKey: apiKey, endpoint: serpAPIEndpoint, client: client}
}

// Search returns "" without a request when no API key is configured.
func (s *SerpAPI) Search(ctx context.Context, query string) (string, error) {
	if s.apiKey == "" {
		return "", nil
	}

	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("api_key", s.apiKey)
	params.Set("num", strconv.Itoa(DefaultResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build serpapi request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("serpapi request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("serpapi returned %s", resp.Status)
	}

	var body struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
			Link    string `json:"link"`
		} `json:"organic_results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode serpapi response: %w", err)
	}

	hits := make([]Hit, 0, len(body.OrganicResults))
	for _, r := range body.OrganicResults {
		hits = append(hits, Hit{Title: r.Title, Snippet: r.Snippet, Link: r.Link})
	}
	return format(hits), nil
}
