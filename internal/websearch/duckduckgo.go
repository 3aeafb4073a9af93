package websearch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const duckDuckGoEndpoint = "https://html.duckduckgo.com/html/"

// DuckDuckGo scrapes the keyless HTML endpoint.
type DuckDuckGo struct {
	endpoint string
	client   *http.Client
}

func NewDuckDuckGo(client *http.Client) *DuckDuckGo {
	if client == nil {
		client = http.DefaultClient
	}
	return &DuckDuckGo{endpoint: duckDuckGoEndpoint, client: client}
}

func (d *DuckDuckGo) Search(ctx context.Context, query string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return "", fmt.Errorf("build duckduckgo request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; rag-backend/1.0)")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("duckduckgo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("duckduckgo returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse duckduckgo results: %w", err)
	}

	var hits []Hit
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		anchor := s.Find("a.result__a").First()
		title := strings.TrimSpace(anchor.Text())
		if title == "" {
			return true
		}
		link, _ := anchor.Attr("href")
		hits = append(hits, Hit{
			Title:   title,
			Snippet: strings.TrimSpace(s.Find(".result__snippet").First().Text()),
			Link:    resolveRedirect(link),
		})
		return len(hits) < DefaultResults
	})
	return format(hits), nil
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= tracking links.
func resolveRedirect(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(link, "//") {
		return "https:" + link
	}
	return link
}
