// Package websearch fetches free-text snippets for a query from a public
// search engine. An empty string means nothing usable was found.
package websearch

import (
	"context"
	"net/http"
	"strings"
	"time"

	"rag-backend/internal/config"
)

// DefaultResults is the number of hits requested from the engine.
const DefaultResults = 5

// Searcher returns formatted snippets for a query.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Hit is one organic search result.
type Hit struct {
	Title   string
	Snippet string
	Link    string
}

// Disabled never searches.
type Disabled struct{}

func (Disabled) Search(context.Context, string) (string, error) { return "", nil }

// New returns the searcher selected by WEB_SEARCH_PROVIDER.
func New(cfg *config.Config) Searcher {
	client := &http.Client{Timeout: 15 * time.Second}
	switch cfg.WebSearchProvider {
	case "serpapi":
		return NewSerpAPI(cfg.SerpAPIKey, client)
	case "duckduckgo":
		return NewDuckDuckGo(client)
	default:
		return Disabled{}
	}
}

// format renders hits as "title\nsnippet\nSource: link" blocks separated by
// blank lines.
func format(hits []Hit) string {
	blocks := make([]string, 0, len(hits))
	for _, h := range hits {
		blocks = append(blocks, h.Title+"\n"+h.Snippet+"\nSource: "+h.Link)
	}
	return strings.Join(blocks, "\n\n")
}
