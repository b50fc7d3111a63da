// Package feed fetches job feeds and normalizes RSS/XML or JSON bodies into
// canonical job records.
package feed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/feed-importer/internal/domain"
)

// Config holds fetcher configuration
type Config struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	Logger       *slog.Logger
	Client       *http.Client
	Now          func() time.Time
}

// Fetcher downloads one feed and normalizes it
type Fetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
	logger       *slog.Logger
	normalizer   *Normalizer
}

// NewFetcher creates a new Fetcher
func NewFetcher(cfg *Config) *Fetcher {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 20 << 20
	}

	return &Fetcher{
		client:       client,
		userAgent:    cfg.UserAgent,
		maxBodyBytes: maxBody,
		logger:       logger,
		normalizer:   NewNormalizer(cfg.Now),
	}
}

// Fetch issues one GET against url and returns the normalized jobs.
// Transport failures and non-2xx statuses yield *domain.FetchError; bodies that
// are neither XML nor JSON yield *domain.FormatError.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]domain.CanonicalJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &domain.FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/xml, application/json;q=0.9, */*;q=0.8")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &domain.FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, &domain.FetchError{URL: url, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, &domain.FetchError{URL: url, Err: fmt.Errorf("body exceeds %d bytes", f.maxBodyBytes)}
	}

	jobs, err := f.normalizer.Normalize(body)
	if err != nil {
		return nil, err
	}

	f.logger.Info("Feed fetched",
		slog.String("url", url),
		slog.Int("jobs", len(jobs)),
		slog.Int("body_size", len(body)),
		slog.Duration("latency", time.Since(start)),
	)

	return jobs, nil
}

// Normalizer converts a raw feed body into canonical jobs
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer creates a Normalizer; now defaults to time.Now
func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{now: now}
}

// Normalize sniffs the body: a leading '<' means XML, otherwise JSON is attempted.
// Entries are returned in feed order without deduplication.
func (n *Normalizer) Normalize(body []byte) ([]domain.CanonicalJob, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &domain.FormatError{Reason: "unrecognized body"}
	}

	if trimmed[0] == '<' {
		return n.normalizeXML(trimmed)
	}

	jobs, ok := n.normalizeJSON(trimmed)
	if !ok {
		return nil, &domain.FormatError{Reason: "unrecognized body"}
	}
	return jobs, nil
}
