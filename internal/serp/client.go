// Package serp implements the app-store search-results client using gocolly.
//
// The client performs exactly one lookup per call: it pages through the
// source, applies the request timeout, classifies failures, and returns.
// It never retries; retry and backoff policy live in the scheduler so the
// two can be tuned and tested independently.
package serp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/gocolly/colly/v2"

	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/keyword"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/metrics"
)

// Config controls client behavior.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	PageSize  int
}

// Client implements keyword.SerpFetcher against the store search endpoint.
type Client struct {
	cfg           Config
	clock         keyword.Clock
	baseCollector *colly.Collector
}

// pageResponse is the wire shape of one result page.
type pageResponse struct {
	ResultCount int `json:"resultCount"`
	Results     []struct {
		TrackID           int64   `json:"trackId"`
		BundleID          string  `json:"bundleId"`
		TrackName         string  `json:"trackName"`
		UserRatingCount   int64   `json:"userRatingCount"`
		AverageUserRating float64 `json:"averageUserRating"`
	} `json:"results"`
}

// New builds a Client.
func New(cfg Config, clock keyword.Clock) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &Client{
		cfg:           cfg,
		clock:         clock,
		baseCollector: c,
	}
}

// FetchSerp looks up a search term and returns the ranked result set.
// Positions are 1-indexed in source order, capped at maxPages * PageSize;
// anything beyond the cap is "not ranking", not unranked-with-unknown-position.
func (c *Client) FetchSerp(ctx context.Context, term, region string, maxPages int) (keyword.SerpResult, error) {
	if err := validateTerm(term); err != nil {
		return keyword.SerpResult{}, err
	}
	if maxPages <= 0 {
		maxPages = 1
	}

	start := time.Now()
	result := keyword.SerpResult{
		Term:      term,
		Region:    region,
		FetchedAt: c.clock.Now(),
	}
	var raw bytes.Buffer

	for page := 1; page <= maxPages; page++ {
		body, err := c.fetchPage(ctx, term, region, page)
		if err != nil {
			metrics.ObserveSerpFetch(region, string(keyword.FetchKind(err)), time.Since(start))
			return keyword.SerpResult{}, err
		}
		raw.Write(body)
		raw.WriteByte('\n')

		var decoded pageResponse
		if err := json.Unmarshal(body, &decoded); err != nil {
			metrics.ObserveSerpFetch(region, "malformed", time.Since(start))
			return keyword.SerpResult{}, keyword.NewFetchError(
				keyword.FetchTransient, fmt.Errorf("decode page %d: %w", page, err))
		}
		if page == 1 && len(decoded.Results) == 0 {
			// A search term with zero results is indistinguishable from a
			// throttled or degraded source. Never report it as an empty,
			// competition-free market.
			metrics.ObserveSerpFetch(region, "empty", time.Since(start))
			return keyword.SerpResult{}, keyword.NewFetchError(
				keyword.FetchTransient, fmt.Errorf("suspiciously empty result set for %q", term))
		}

		for _, app := range decoded.Results {
			if len(result.Apps) >= maxPages*c.cfg.PageSize {
				break
			}
			result.Apps = append(result.Apps, keyword.RankedApp{
				AppID:       appID(app.BundleID, app.TrackID),
				Name:        app.TrackName,
				RatingCount: app.UserRatingCount,
				Rating:      app.AverageUserRating,
			})
		}
		if len(decoded.Results) < c.cfg.PageSize {
			break
		}
	}

	result.RawPayload = raw.Bytes()
	metrics.ObserveSerpFetch(region, "ok", time.Since(start))
	return result, nil
}

func (c *Client) fetchPage(ctx context.Context, term, region string, page int) ([]byte, error) {
	var (
		body       []byte
		statusCode int
		fetchErr   error
	)

	collector := c.baseCollector.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(c.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	target := c.pageURL(term, region, page)
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("serp fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err == nil && fetchErr == nil {
			return body, nil
		}
		if fetchErr == nil {
			fetchErr = err
		}
		return nil, classify(statusCode, fetchErr)
	}
}

func (c *Client) pageURL(term, region string, page int) string {
	params := url.Values{}
	params.Set("term", term)
	params.Set("country", region)
	params.Set("limit", strconv.Itoa(c.cfg.PageSize))
	params.Set("page", strconv.Itoa(page))
	params.Set("entity", "software")
	return c.cfg.BaseURL + "?" + params.Encode()
}

// classify maps a transport failure to the fetch error taxonomy. Rate limits
// and bot walls are "blocked" so the scheduler can cool the region down
// instead of hammering it with retries.
func classify(statusCode int, err error) error {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusForbidden, http.StatusUnavailableForLegalReasons:
		return keyword.NewFetchError(keyword.FetchBlocked,
			fmt.Errorf("source refused request (status %d): %w", statusCode, err))
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return keyword.NewFetchError(keyword.FetchTransient, fmt.Errorf("fetch timeout: %w", err))
	}
	return keyword.NewFetchError(keyword.FetchTransient, fmt.Errorf("fetch failed: %w", err))
}

func validateTerm(term string) error {
	trimmed := strings.TrimSpace(term)
	if trimmed == "" {
		return keyword.NewFetchError(keyword.FetchInvalidTerm, fmt.Errorf("empty search term"))
	}
	if len(trimmed) > 120 {
		return keyword.NewFetchError(keyword.FetchInvalidTerm, fmt.Errorf("search term too long"))
	}
	for _, r := range trimmed {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return nil
		}
	}
	return keyword.NewFetchError(keyword.FetchInvalidTerm,
		fmt.Errorf("search term %q has no letters or digits", term))
}

func appID(bundleID string, trackID int64) string {
	if bundleID != "" {
		return bundleID
	}
	return strconv.FormatInt(trackID, 10)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
