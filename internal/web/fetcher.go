package web

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/leonardcser/memocache/internal/cache"
)

const (
	RequestTimeout  = 20 * time.Second
	MaxResponseSize = 1 * 1024 * 1024 // 1MB
	maxLinks        = 50
)

var (
	ErrInvalidURL         = errors.New("url must start with http:// or https://")
	ErrEmptyBody          = errors.New("empty response body")
	ErrUnsupportedContent = errors.New("unsupported content type: binary files like images or PDFs are not supported")
)

// invisible lists elements dropped before text extraction.
const invisible = "script, style, noscript, iframe, object, embed, img, video, picture, svg, canvas, audio, source, track, map, area, form, label, input, button, select, textarea, progress, ins, applet"

type PageSummary struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Text        string   `json:"text"`
	Links       []string `json:"links"`
}

// Fetcher downloads pages and summarizes them. Summaries are memoized per URL
// on the given manager; failed fetches are not stored.
type Fetcher struct {
	base  *colly.Collector
	fetch func(context.Context, string) (*PageSummary, error)
}

// NewFetcher memoizes summaries on m for ttl. A zero ttl falls back to the
// manager's default.
func NewFetcher(m *cache.Manager, ttl time.Duration) *Fetcher {
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.Async(false),
	)
	_ = c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       1 * time.Second,
	})
	c.SetRequestTimeout(RequestTimeout)

	f := &Fetcher{base: c}
	opts := []cache.MemoOption{cache.WithMemoKeyPrefix("fetch"), cache.WithSingleFlight()}
	if ttl > 0 {
		opts = append(opts, cache.WithTTL(ttl))
	}
	f.fetch = cache.Cached1(m, f.visit, opts...)
	return f
}

// Fetch returns the summary of rawURL, from the cache when a fresh one exists.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*PageSummary, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, ErrInvalidURL
	}
	return f.fetch(ctx, rawURL)
}

func (f *Fetcher) visit(ctx context.Context, rawURL string) (*PageSummary, error) {
	c := f.base.Clone()
	c.Context = ctx
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", NextUserAgent())
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	var body []byte
	var finalURL, contentType string
	c.OnResponse(func(r *colly.Response) {
		finalURL = r.Request.URL.String()
		body = append([]byte(nil), r.Body...)
		contentType = r.Headers.Get("Content-Type")
	})

	if err := c.Visit(rawURL); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return summarize(finalURL, contentType, body)
}

// summarize turns a response body into a PageSummary. HTML is reduced to
// markdown with its links listed separately; other text passes through.
func summarize(finalURL, contentType string, body []byte) (*PageSummary, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	if len(body) > MaxResponseSize {
		body = append(body[:MaxResponseSize:MaxResponseSize], "... [response trimmed due to size]"...)
	}

	ct := strings.ToLower(contentType)
	if !strings.HasPrefix(ct, "text/") {
		return nil, ErrUnsupportedContent
	}
	if !strings.Contains(ct, "text/html") {
		return &PageSummary{URL: finalURL, Text: string(body)}, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	doc.Find(invisible).Remove()

	ps := &PageSummary{
		URL:         finalURL,
		Title:       strings.TrimSpace(doc.Find("head > title").First().Text()),
		Description: strings.TrimSpace(doc.Find("meta[name=description]").AttrOr("content", "")),
		Links:       extractLinks(doc, finalURL),
	}
	plain := strings.Join(strings.Fields(doc.Find("body").Text()), " ")

	doc.Find("a").Remove()
	doc.Find("header, footer, aside").Remove()

	html, err := doc.Html()
	if err != nil {
		return nil, err
	}
	if md, err := htmltomarkdown.ConvertString(html); err == nil {
		ps.Text = md
	} else {
		ps.Text = plain
	}
	return ps, nil
}

// extractLinks resolves anchors against base and returns at most maxLinks
// distinct absolute URLs, sorted, without fragments.
func extractLinks(doc *goquery.Document, base string) []string {
	baseURL, _ := url.Parse(base)
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "javascript:") {
			return
		}
		u, err := url.Parse(href)
		if err != nil {
			return
		}
		if !u.IsAbs() && baseURL != nil {
			u = baseURL.ResolveReference(u)
		}
		switch u.Scheme {
		case "", "javascript", "mailto", "tel":
			return
		}
		u.Fragment = ""
		seen[u.String()] = struct{}{}
	})

	links := make([]string, 0, len(seen))
	for l := range seen {
		links = append(links, l)
	}
	sort.Strings(links)
	if len(links) > maxLinks {
		links = links[:maxLinks]
	}
	return links
}
