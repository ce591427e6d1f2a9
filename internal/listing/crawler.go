package listing

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tdnet-ingest/internal/disclosure"
	"github.com/JakeFAU/tdnet-ingest/internal/metrics"
)

const defaultMaxPages = 200

// Config controls the listing crawler.
type Config struct {
	BaseURL  string
	MaxPages int
}

// Crawler probes dates and paginates their listing pages.
type Crawler struct {
	fetcher  Fetcher
	baseURL  string
	maxPages int
	logger   *zap.Logger
}

// New builds a Crawler.
func New(fetcher Fetcher, cfg Config, logger *zap.Logger) (*Crawler, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("listing fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &Crawler{
		fetcher:  fetcher,
		baseURL:  base,
		maxPages: maxPages,
		logger:   logger,
	}, nil
}

// PageURL returns the listing URL of page index (1-based) for date.
func (c *Crawler) PageURL(index int, date time.Time) string {
	return fmt.Sprintf("%s/I_list_%03d_%s.html", c.baseURL, index, disclosure.FormatDate(date))
}

// Probe checks whether page 1 exists for date. Any non-200 status or
// transport failure means NotFound; only context cancellation is an error.
func (c *Crawler) Probe(ctx context.Context, date time.Time) (Availability, error) {
	url := c.PageURL(1, date)
	resp, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return NotFound, fmt.Errorf("probe %s: %w", url, ctxErr)
		}
		c.logger.Warn("date probe failed", zap.String("url", url), zap.Error(err))
		return NotFound, nil
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Info("date has no listing",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
		)
		return NotFound, nil
	}
	return Available, nil
}

// Pages starts a fresh page sequence for date.
func (c *Crawler) Pages(date time.Time) *Pages {
	return &Pages{crawler: c, date: date, next: 1}
}

// Pages is a lazy, finite, single-use sequence of listing pages.
type Pages struct {
	crawler *Crawler
	date    time.Time
	next    int
	fetched int
	done    bool
	err     error
}

// Next fetches the following page. It returns false once a page has no rows,
// the portal answers with a non-200 status, or a fetch fails; check Err to
// tell a clean end from an aborted one.
func (p *Pages) Next(ctx context.Context) (Page, bool) {
	if p.done {
		return Page{}, false
	}
	c := p.crawler
	if p.next > c.maxPages {
		p.done = true
		c.logger.Warn("listing page limit reached", zap.Int("max_pages", c.maxPages))
		return Page{}, false
	}

	index := p.next
	p.next++
	p.fetched++
	url := c.PageURL(index, p.date)

	resp, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		p.done = true
		if ctxErr := ctx.Err(); ctxErr != nil {
			p.err = fmt.Errorf("fetch page %d: %w", index, ctxErr)
			return Page{}, false
		}
		metrics.ObservePage("error")
		p.err = fmt.Errorf("%w: page %d (%s): %v", ErrPageFetch, index, url, err)
		return Page{}, false
	}
	if resp.StatusCode != http.StatusOK {
		p.done = true
		metrics.ObservePage("end")
		c.logger.Debug("listing ended on status",
			zap.Int("page", index),
			zap.Int("status", resp.StatusCode),
		)
		return Page{}, false
	}

	rows, unlinked, err := ParsePage(bytes.NewReader(resp.Body), url)
	if err != nil {
		p.done = true
		metrics.ObservePage("error")
		p.err = fmt.Errorf("%w: page %d (%s): %v", ErrPageFetch, index, url, err)
		return Page{}, false
	}
	if len(rows)+unlinked == 0 {
		p.done = true
		metrics.ObservePage("empty")
		return Page{}, false
	}

	metrics.ObservePage("ok")
	if unlinked > 0 {
		c.logger.Warn("listing rows without document link",
			zap.Int("page", index),
			zap.Int("count", unlinked),
		)
	}
	return Page{Index: index, URL: url, Rows: rows, Unlinked: unlinked}, true
}

// Err reports why pagination stopped early, or nil for a clean end.
func (p *Pages) Err() error {
	return p.err
}

// Fetched returns how many page requests were issued, the terminating one included.
func (p *Pages) Fetched() int {
	return p.fetched
}
