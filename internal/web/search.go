package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/leonardcser/memocache/internal/cache"
)

const (
	DefaultSearchEndpoint = "https://html.duckduckgo.com/html/"
	defaultLimit          = 10
	maxResults            = 20
)

var ErrEmptyQuery = errors.New("empty query")

type SearchResult struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
}

// Searcher queries the DuckDuckGo HTML endpoint. Result pages are memoized
// per normalized query, so different limits share one cached page.
type Searcher struct {
	client   *http.Client
	endpoint string
	search   func(context.Context, string) ([]SearchResult, error)
}

type SearcherOption func(*Searcher)

// WithEndpoint points the searcher at another DuckDuckGo-compatible page.
func WithEndpoint(endpoint string) SearcherOption {
	return func(s *Searcher) { s.endpoint = endpoint }
}

func WithHTTPClient(c *http.Client) SearcherOption {
	return func(s *Searcher) { s.client = c }
}

func NewSearcher(m *cache.Manager, ttl time.Duration, opts ...SearcherOption) *Searcher {
	s := &Searcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		endpoint: DefaultSearchEndpoint,
	}
	for _, opt := range opts {
		opt(s)
	}
	memo := []cache.MemoOption{cache.WithMemoKeyPrefix("search"), cache.WithSingleFlight()}
	if ttl > 0 {
		memo = append(memo, cache.WithTTL(ttl))
	}
	s.search = cache.Cached1(m, s.query, memo...)
	return s
}

// Search returns up to limit results for query. A limit outside 1..20 means 10.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	q := singleLine(query)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 || limit > maxResults {
		limit = defaultLimit
	}
	results, err := s.search(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Searcher) query(ctx context.Context, q string) ([]SearchResult, error) {
	values := url.Values{"q": {q}, "kl": {"us-en"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", NextUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search endpoint status %d", resp.StatusCode)
	}
	return parseResults(resp.Body, maxResults)
}

// parseResults reads a DuckDuckGo HTML result page.
func parseResults(r io.Reader, limit int) ([]SearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, limit)
	doc.Find("div.result.results_links.results_links_deep.web-result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		a := s.Find("a.result__a").First()
		link := strings.TrimSpace(a.AttrOr("href", ""))
		title := singleLine(a.Text())
		if title != "" && link != "" {
			results = append(results, SearchResult{
				Title:       title,
				Description: singleLine(s.Find("a.result__snippet").First().Text()),
				Link:        extractDDGURL(link),
			})
		}
		return len(results) < limit
	})
	if len(results) > 0 {
		return results, nil
	}

	// Older layouts: bare anchors with the snippet somewhere up the tree.
	doc.Find("a.result__a").EachWithBreak(func(_ int, n *goquery.Selection) bool {
		results = append(results, SearchResult{
			Title:       singleLine(n.Text()),
			Description: singleLine(n.Parents().Find("a.result__snippet").First().Text()),
			Link:        extractDDGURL(strings.TrimSpace(n.AttrOr("href", ""))),
		})
		return len(results) < limit
	})
	return results, nil
}

// extractDDGURL unwraps DuckDuckGo's redirect links:
// //duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com&rut=... becomes
// https://example.com. Anything else is returned as is.
func extractDDGURL(ddgURL string) string {
	raw := ddgURL
	if strings.HasPrefix(raw, "//duckduckgo.com/l/") {
		raw = "https:" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ddgURL
	}
	// Query() already unescapes uddg.
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return ddgURL
}

// singleLine trims and collapses internal whitespace to single spaces.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
