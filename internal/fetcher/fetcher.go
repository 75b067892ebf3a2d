// Package fetcher downloads feed pages so they can be filtered offline.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
)

// nextSelector matches pagination links.
const nextSelector = `a[rel="next"][href]`

// Config holds fetcher configuration.
type Config struct {
	Delay     time.Duration
	MaxPages  int // pages to follow through rel="next" links, 1 if zero
	UserAgent string
	Timeout   time.Duration
	Headers   map[string]string // sent with every request, e.g. a session cookie
}

// Page is one fetched HTML page.
type Page struct {
	URL       string
	HTML      string
	FetchedAt time.Time
}

// Fetcher fetches a feed page and its continuation pages.
type Fetcher struct {
	config Config
}

// New creates a new Fetcher with the given configuration.
func New(config Config) *Fetcher {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "feedfilter/1.0"
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 1
	}
	return &Fetcher{config: config}
}

// Fetch downloads startURL and follows same-host rel="next" links up to
// MaxPages. Pages are returned in visit order. Error responses are skipped.
func (f *Fetcher) Fetch(ctx context.Context, startURL string) ([]Page, error) {
	parsed, err := url.Parse(startURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}

	var (
		mu        sync.Mutex
		pages     []Page
		cancelled atomic.Bool
	)

	slog.Debug("fetching feed", "url", startURL, "max_pages", f.config.MaxPages)

	c := colly.NewCollector(
		colly.MaxDepth(f.config.MaxPages),
		colly.UserAgent(f.config.UserAgent),
	)
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Delay:       f.config.Delay,
		Parallelism: 1,
	})
	c.SetRequestTimeout(f.config.Timeout)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			cancelled.Store(true)
			return
		}
		for k, v := range f.config.Headers {
			r.Headers.Set(k, v)
		}
	})

	c.OnResponse(func(r *colly.Response) {
		mu.Lock()
		defer mu.Unlock()
		pages = append(pages, Page{
			URL:       r.Request.URL.String(),
			HTML:      string(r.Body),
			FetchedAt: time.Now(),
		})
		slog.Debug("fetched page", "url", r.Request.URL.String(), "size", len(r.Body))
	})

	c.OnError(func(r *colly.Response, err error) {
		slog.Debug("skipping page", "url", r.Request.URL.String(), "status", r.StatusCode, "error", err)
	})

	c.OnHTML(nextSelector, func(e *colly.HTMLElement) {
		next, err := url.Parse(e.Request.AbsoluteURL(e.Attr("href")))
		if err != nil || next.Host != parsed.Host {
			return
		}
		e.Request.Visit(next.String())
	})

	if err := c.Visit(startURL); err != nil {
		slog.Debug("visit error", "url", startURL, "error", err)
	}
	c.Wait()

	if cancelled.Load() {
		return pages, ctx.Err()
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages fetched from %s", startURL)
	}
	return pages, nil
}
