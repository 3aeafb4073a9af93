package websearch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-backend/internal/config"
)

func TestSerpAPIFormatsOrganicResults(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"engine":  q.Get("engine"),
			"q":       q.Get("q"),
			"api_key": q.Get("api_key"),
			"num":     q.Get("num"),
		}
		_, _ = io.WriteString(w, `{"organic_results":[
			{"title":"Sky","snippet":"The sky is blue.","link":"https://a.example"},
			{"title":"Grass","snippet":"Grass is green.","link":"https://b.example"}
		]}`)
	}))
	defer srv.Close()

	s := NewSerpAPI("key", srv.Client())
	s.endpoint = srv.URL

	out, err := s.Search(context.Background(), "what color is the sky")
	require.NoError(t, err)
	assert.Equal(t, "Sky\nThe sky is blue.\nSource: https://a.example\n\nGrass\nGrass is green.\nSource: https://b.example", out)
	assert.Equal(t, map[string]string{
		"engine":  "google",
		"q":       "what color is the sky",
		"api_key": "key",
		"num":     "5",
	}, gotQuery)
}

func TestSerpAPIWithoutKeyMakesNoRequest(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer srv.Close()

	s := NewSerpAPI("", srv.Client())
	s.endpoint = srv.URL

	out, err := s.Search(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, calls)
}

func TestSerpAPIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewSerpAPI("bad", srv.Client())
	s.endpoint = srv.URL

	_, err := s.Search(context.Background(), "q")
	assert.Error(t, err)
}

func TestDuckDuckGoParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "golang generics", r.URL.Query().Get("q"))
		_, _ = io.WriteString(w, `<html><body>
			<div class="result">
				<a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc&amp;rut=x">Go generics</a>
				<a class="result__snippet">Type parameters for Go.</a>
			</div>
			<div class="result"><a class="result__a" href="https://example.com">  </a></div>
			<div class="result">
				<a class="result__a" href="https://pkg.go.dev">pkg.go.dev</a>
				<div class="result__snippet">Package docs.</div>
			</div>
		</body></html>`)
	}))
	defer srv.Close()

	d := NewDuckDuckGo(srv.Client())
	d.endpoint = srv.URL

	out, err := d.Search(context.Background(), "golang generics")
	require.NoError(t, err)
	assert.Equal(t, "Go generics\nType parameters for Go.\nSource: https://go.dev/doc\n\npkg.go.dev\nPackage docs.\nSource: https://pkg.go.dev", out)
}

func TestNewSelectsProvider(t *testing.T) {
	assert.IsType(t, &SerpAPI{}, New(&config.Config{WebSearchProvider: "serpapi"}))
	assert.IsType(t, &DuckDuckGo{}, New(&config.Config{WebSearchProvider: "duckduckgo"}))
	assert.IsType(t, Disabled{}, New(&config.Config{WebSearchProvider: "none"}))

	out, err := Disabled{}.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, out)
}
