// Package crawler fetches web pages and reduces them to page-labelled text
// ready for chunking.
package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
	"github.com/chromedp/chromedp"
	colly "github.com/gocolly/colly/v2"
	"golang.org/x/net/html/charset"

	"rag-backend/internal/logger"
	"rag-backend/models"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	// minPageWords drops navigation stubs and empty shells.
	minPageWords = 10
	// maxLinksPerPage bounds how many links one page may enqueue.
	maxLinksPerPage = 20
)

var (
	// ErrInvalidURL is returned when the start URL cannot be crawled.
	ErrInvalidURL = errors.New("invalid crawl url")
	// ErrNoPages is returned when the crawl finished without usable text.
	ErrNoPages = errors.New("no crawlable content found")
)

// FetchError reports a failure to fetch the start URL.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Options are the crawler-wide limits.
type Options struct {
	Timeout       time.Duration
	Delay         time.Duration
	RenderTimeout time.Duration
	MaxPages      int
	AllowRenderJS bool
	UserAgent     string
}

// Request describes one crawl.
type Request struct {
	URL          string
	MaxPages     int
	FollowLinks  bool
	RenderJS     bool
	WaitSelector string
}

// Result holds the pages a crawl produced, start page first.
type Result struct {
	URL   string
	Title string
	Pages []models.Page
}

type Crawler struct {
	opts Options
}

func New(opts Options) *Crawler {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = 45 * time.Second
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	return &Crawler{opts: opts}
}

// Crawl visits req.URL and, when asked, same-site links from it. Each page
// with enough text becomes one models.Page labelled by its title.
func (c *Crawler) Crawl(ctx context.Context, req Request) (*Result, error) {
	startURL, err := startingURL(req.URL)
	if err != nil {
		return nil, err
	}
	start, _ := url.Parse(startURL)
	host := strings.TrimPrefix(strings.ToLower(start.Hostname()), "www.")

	maxPages := req.MaxPages
	if maxPages <= 0 || maxPages > c.opts.MaxPages {
		maxPages = c.opts.MaxPages
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	log := logger.With("url", startURL, "max_pages", maxPages)

	collector := colly.NewCollector(
		colly.Async(true),
		colly.StdlibContext(ctx),
		colly.UserAgent(c.opts.UserAgent),
	)
	collector.SetRequestTimeout(c.opts.Timeout)
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       c.opts.Delay,
	}); err != nil {
		return nil, fmt.Errorf("configure crawl limits: %w", err)
	}

	var (
		mu       sync.Mutex
		pages    []models.Page
		title    string
		seen     = map[string]bool{startURL: true}
		added    = map[string]bool{}
		startErr error
	)

	// addPage reports false once the page budget is spent.
	addPage := func(pageURL, pageTitle, text string) bool {
		mu.Lock()
		defer mu.Unlock()
		if len(pages) >= maxPages {
			return false
		}
		if added[pageURL] {
			return true
		}
		added[pageURL] = true
		label := pageTitle
		if label == "" {
			label = pageURL
		}
		if len(pages) == 0 {
			title = pageTitle
		}
		pages = append(pages, models.Page{Label: label, Source: pageURL, Text: text})
		return true
	}

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Accept-Encoding", "gzip, br")
	})

	// Colly inflates gzip itself; brotli and legacy charsets are ours.
	collector.OnResponse(func(r *colly.Response) {
		contentType := r.Headers.Get("Content-Type")
		if contentType != "" && !strings.Contains(contentType, "html") {
			return
		}

		var body io.Reader = bytes.NewReader(r.Body)
		if strings.Contains(r.Headers.Get("Content-Encoding"), "br") {
			decoded, err := io.ReadAll(brotli.NewReader(body))
			if err != nil {
				log.Warnw("failed to decode brotli body", "page", r.Request.URL.String(), "error", err)
				return
			}
			r.Body = decoded
			body = bytes.NewReader(decoded)
		}

		if len(r.Body) > 0 {
			if utf8Reader, err := charset.NewReader(body, contentType); err == nil {
				if decoded, err := io.ReadAll(utf8Reader); err == nil && len(decoded) > 0 {
					r.Body = decoded
				}
			}
		}
	})

	collector.OnHTML("html", func(e *colly.HTMLElement) {
		pageURL, err := normalizeURL(e.Request.URL.String())
		if err != nil {
			return
		}

		pageTitle := strings.TrimSpace(e.DOM.Find("title").First().Text())
		text := extractMainContent(e.DOM)
		if len(strings.Fields(text)) < minPageWords {
			log.Debugw("skipping thin page", "page", pageURL)
		} else if !addPage(pageURL, pageTitle, text) {
			return
		}

		if !req.FollowLinks {
			return
		}

		var links []string
		mu.Lock()
		e.DOM.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if len(links) >= maxLinksPerPage {
				return false
			}
			href, _ := s.Attr("href")
			link, ok := followableLink(e.Request.AbsoluteURL(href), host)
			if !ok || seen[link] {
				return true
			}
			seen[link] = true
			links = append(links, link)
			return true
		})
		full := len(pages) >= maxPages
		mu.Unlock()

		if full {
			return
		}
		for _, link := range links {
			// Colly reports duplicates as errors; they are expected here.
			_ = collector.Visit(link)
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		requestURL, _ := normalizeURL(r.Request.URL.String())
		log.Warnw("crawl request failed", "page", requestURL, "status", r.StatusCode, "error", err)
		if requestURL != startURL {
			return
		}
		mu.Lock()
		startErr = &FetchError{URL: requestURL, StatusCode: r.StatusCode, Err: err}
		mu.Unlock()
	})

	if req.RenderJS && c.opts.AllowRenderJS {
		c.renderStartPage(ctx, startURL, req.WaitSelector, addPage)
	}

	log.Infow("starting crawl", "follow_links", req.FollowLinks)
	if err := collector.Visit(startURL); err != nil {
		return nil, &FetchError{URL: startURL, Err: err}
	}
	collector.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(pages) == 0 {
		if startErr != nil {
			return nil, startErr
		}
		if ctx.Err() != nil {
			return nil, &FetchError{URL: startURL, Err: ctx.Err()}
		}
		return nil, ErrNoPages
	}

	log.Infow("crawl finished", "pages", len(pages))
	return &Result{URL: startURL, Title: title, Pages: pages}, nil
}

// renderStartPage prerenders the start page in a headless browser so
// script-built content is captured. Failures fall back to the plain fetch.
func (c *Crawler) renderStartPage(ctx context.Context, pageURL, waitSelector string, add func(pageURL, title, text string) bool) {
	html, err := renderPageHTML(ctx, pageURL, c.opts.RenderTimeout, waitSelector, c.opts.UserAgent)
	if err != nil {
		logger.Warn("JS render failed", "url", pageURL, "error", err)
		return
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return
	}
	text := extractMainContent(doc.Selection)
	if len(strings.Fields(text)) >= minPageWords {
		add(pageURL, strings.TrimSpace(doc.Find("title").First().Text()), text)
	}
}

// startingURL defaults the scheme to https and normalizes the result.
func startingURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return normalizeURL(parsed.String())
}

// normalizeURL canonicalizes a URL for duplicate detection: no fragment,
// lowercase scheme and host, no default port, no trailing slash past root.
func normalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	parsed.Fragment = ""
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)

	switch {
	case parsed.Path == "":
		parsed.Path = "/"
	case parsed.Path != "/":
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
		if parsed.Path == "" {
			parsed.Path = "/"
		}
	}

	if (parsed.Scheme == "http" && parsed.Port() == "80") || (parsed.Scheme == "https" && parsed.Port() == "443") {
		parsed.Host = parsed.Hostname()
	}
	return parsed.String(), nil
}

var excludedPatterns = []string{
	"/wp-json/", "/api/", "/ajax/", "/feed/", "/rss/", "/atom/",
	"/wp-admin/", "/wp-includes/", "/search?", "/?s=",
	".pdf", ".jpg", ".jpeg", ".png", ".gif", ".svg", ".css", ".js", ".xml",
}

// followableLink reports whether an absolute link stays on host and looks
// like a content page. It returns the normalized link.
func followableLink(absolute, host string) (string, bool) {
	if absolute == "" {
		return "", false
	}
	lower := strings.ToLower(absolute)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
		return "", false
	}

	normalized, err := normalizeURL(absolute)
	if err != nil {
		return "", false
	}
	parsed, err := url.Parse(normalized)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", false
	}

	linkHost := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	if linkHost != host && !strings.HasSuffix(linkHost, "."+host) {
		return "", false
	}

	path := strings.ToLower(parsed.Path)
	query := strings.ToLower(parsed.RawQuery)
	for _, pattern := range excludedPatterns {
		if strings.Contains(path, pattern) || strings.Contains(query, pattern) {
			return "", false
		}
	}
	return normalized, true
}

var contentSelectors = []string{
	"main", "article", "[role='main']", ".main-content", ".content", "#content", ".post", ".entry", "body",
}

// extractMainContent strips page chrome and returns the text of the first
// semantic container holding a meaningful amount of text.
func extractMainContent(selection *goquery.Selection) string {
	doc := selection.Clone()
	doc.Find("script, style, noscript, nav, footer, header, aside, .nav, .navbar, .footer, .header, .sidebar, .advertisement, .ads, .skip-link").Remove()

	var content strings.Builder
	for _, selector := range contentSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); len(text) > 100 {
				content.WriteString(text)
				content.WriteString("\n\n")
			}
		})
		if content.Len() > 0 {
			break
		}
	}
	if content.Len() == 0 {
		content.WriteString(doc.Find("body").Text())
	}

	lines := strings.Split(content.String(), "\n")
	cleaned := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}

// renderPageHTML loads pageURL in headless Chrome and returns the rendered
// document once the body is ready and the network has settled.
func renderPageHTML(ctx context.Context, pageURL string, timeout time.Duration, waitSelector, userAgent string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.UserAgent(userAgent),
	)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	if err := chromedp.Run(browserCtx, chromedp.Navigate(pageURL)); err != nil {
		return "", err
	}

	// Readiness waits are best effort; whatever rendered is still useful.
	softRun(browserCtx, 10*time.Second, chromedp.WaitReady("body", chromedp.ByQuery))
	if waitSelector != "" {
		softRun(browserCtx, 15*time.Second, chromedp.WaitVisible(waitSelector, chromedp.ByQuery))
	}
	softRun(browserCtx, 3*time.Second, waitForNetworkIdle(1200*time.Millisecond))

	var html string
	if err := chromedp.Run(browserCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func softRun(ctx context.Context, limit time.Duration, action chromedp.Action) {
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	_ = chromedp.Run(stepCtx, action)
}

// waitForNetworkIdle resolves once no resource has loaded for d.
func waitForNetworkIdle(d time.Duration) chromedp.ActionFunc {
	js := `(function(waitMs){
      return new Promise((resolve)=>{
        if (!('PerformanceObserver' in window)) { setTimeout(resolve, waitMs); return; }
        let last = Date.now();
        const obs = new PerformanceObserver(()=>{ last = Date.now(); });
        try { obs.observe({entryTypes:['resource','navigation']}); } catch(e) {}
        const tick = () => {
          if (Date.now()-last >= waitMs) { try { obs.disconnect(); } catch(e){} resolve(); return; }
          setTimeout(tick, 100);
        };
        tick();
      });
    })(%d);`
	return func(ctx context.Context) error {
		return chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf(js, int(d.Milliseconds())), nil))
	}
}
