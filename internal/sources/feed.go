package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/JoeGaudoin/pokeuk-dealscout/internal/config"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/listing"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/proxypool"
)

// maxFeedBody caps how much of a feed response is read.
const maxFeedBody = 10 * 1024 * 1024

// feedItem is the wire shape of one listing in a marketplace feed.
// Fields a venue doesn't supply stay at their zero value and are
// validated in parseItem.
type feedItem struct {
	ID          string   `json:"id"`
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Currency    string   `json:"currency"`
	Shipping    *float64 `json:"shipping"`
	Condition   string   `json:"condition"`
	Seller      string   `json:"seller"`
	ImageURL    string   `json:"image_url"`
	BuyNow      *bool    `json:"buy_now"`
}

type feedPage struct {
	Items []feedItem `json:"items"`
	Next  string     `json:"next,omitempty"`
}

// FeedSource pulls normalized listings from a venue's JSON feed,
// paginating with per-request pacing and optional proxy egress.
type FeedSource struct {
	name       string
	feedURL    string
	maxRetries int
	limiter    *rate.Limiter
	pool       *proxypool.Pool
	client     *http.Client
	skipped    int
}

// NewFeedSource builds a source for one venue. The configured
// requestDelayMs becomes a rate limiter respected between sub-requests;
// this pacing is the system's only rate-limiting mechanism.
func NewFeedSource(name string, cfg config.SourceConfig, pool *proxypool.Pool) *FeedSource {
	delay := time.Duration(cfg.RequestDelayMs) * time.Millisecond
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	return &FeedSource{
		name:       name,
		feedURL:    cfg.FeedURL,
		maxRetries: maxRetries,
		limiter:    rate.NewLimiter(limit, 1),
		pool:       pool,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (f *FeedSource) Name() string { return f.name }

// IsConfigured reports whether the source has a feed URL to pull from.
func (f *FeedSource) IsConfigured() bool { return f.feedURL != "" }

// Skipped returns how many malformed items the last fetch dropped.
func (f *FeedSource) Skipped() int { return f.skipped }

// FetchListings walks the feed's pages, parsing items one by one.
// Malformed items are counted and skipped, never fatal to the run.
func (f *FeedSource) FetchListings(ctx context.Context) ([]listing.RawListing, error) {
	f.skipped = 0

	var listings []listing.RawListing
	pageURL := f.feedURL

	for pageURL != "" {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		page, err := f.fetchPageWithRetry(ctx, pageURL)
		if err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			parsed, err := f.parseItem(item)
			if err != nil {
				f.skipped++
				log.Debugf("Source %s: skipping item: %v", f.name, err)
				continue
			}
			listings = append(listings, parsed)
		}

		pageURL = page.Next
	}

	if f.skipped > 0 {
		log.Warnf("Source %s: skipped %d malformed items", f.name, f.skipped)
	}

	return listings, nil
}

// fetchPageWithRetry retries transient page failures up to the
// configured attempt count, pacing between attempts.
func (f *FeedSource) fetchPageWithRetry(ctx context.Context, pageURL string) (*feedPage, error) {
	var lastErr error
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		if attempt > 1 {
			log.Debugf("Source %s: retrying %s (attempt %d/%d)", f.name, pageURL, attempt, f.maxRetries)
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		page, err := f.fetchPage(ctx, pageURL)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (f *FeedSource) fetchPage(ctx context.Context, pageURL string) (*feedPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	client := f.client
	proxyAddr := ""
	if f.pool != nil && f.pool.IsEnabled() {
		// No proxy available is recoverable: proceed direct.
		if proxyAddr = f.pool.SelectIdentity(); proxyAddr != "" {
			proxied, perr := f.proxiedClient(proxyAddr)
			if perr != nil {
				log.Warnf("Source %s: bad proxy address %s: %v", f.name, proxyAddr, perr)
				proxyAddr = ""
			} else {
				client = proxied
			}
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		if proxyAddr != "" {
			f.pool.ReportFailure(proxyAddr, false)
		}
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		if proxyAddr != "" {
			f.pool.ReportFailure(proxyAddr, true)
		}
		return nil, fmt.Errorf("HTTP %d (likely blocked)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		if proxyAddr != "" {
			f.pool.ReportFailure(proxyAddr, false)
		}
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if proxyAddr != "" {
		f.pool.ReportSuccess(proxyAddr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var page feedPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("parse feed JSON: %w", err)
	}

	return &page, nil
}

func (f *FeedSource) proxiedClient(proxyAddr string) (*http.Client, error) {
	proxyURL, err := url.Parse(proxyAddr)
	if err != nil || proxyURL.Scheme == "" {
		proxyURL, err = url.Parse("http://" + proxyAddr)
		if err != nil {
			return nil, err
		}
	}

	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
	}, nil
}

// parseItem validates one feed item into a RawListing. This is the
// fallible-parse boundary: bad items produce errors, not panics and not
// silently wrong data.
func (f *FeedSource) parseItem(item feedItem) (listing.RawListing, error) {
	if item.ID == "" {
		return listing.RawListing{}, fmt.Errorf("missing id")
	}
	if item.Title == "" {
		return listing.RawListing{}, fmt.Errorf("item %s: missing title", item.ID)
	}
	if item.Price <= 0 {
		return listing.RawListing{}, fmt.Errorf("item %s: invalid price %.2f", item.ID, item.Price)
	}
	if item.URL == "" {
		return listing.RawListing{}, fmt.Errorf("item %s: missing url", item.ID)
	}

	currency := item.Currency
	if currency == "" {
		currency = "GBP"
	}
	buyNow := true
	if item.BuyNow != nil {
		buyNow = *item.BuyNow
	}

	return listing.RawListing{
		ExternalID:   item.ID,
		Venue:        f.name,
		URL:          item.URL,
		Title:        item.Title,
		Description:  item.Description,
		Price:        item.Price,
		Currency:     currency,
		ShippingCost: item.Shipping,
		Condition:    item.Condition,
		SellerName:   item.Seller,
		ImageURL:     item.ImageURL,
		IsBuyNow:     buyNow,
		FoundAt:      time.Now().UTC(),
	}, nil
}
