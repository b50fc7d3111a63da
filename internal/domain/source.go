package domain

import (
	"net/url"
	"strings"
	"time"
)

// Source is a feed endpoint swept by the coordinator
type Source struct {
	ID                string        `db:"id" json:"id"`
	URL               string        `db:"url" json:"url"`
	DisplayName       string        `db:"display_name" json:"displayName"`
	Active            bool          `db:"active" json:"active"`
	LastFetchedAt     *time.Time    `db:"last_fetched_at" json:"lastFetchedAt,omitempty"`
	FetchIntervalHint time.Duration `db:"fetch_interval_hint" json:"fetchIntervalHint"`
	CreatedAt         time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updatedAt"`
}

// Name returns the display name, falling back to the URL
func (s *Source) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.URL
}

// DisplayNameFromURL derives a short name from the feed host
func DisplayNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		if len(raw) > 50 {
			return raw[:50]
		}
		return raw
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// SourceUpdate carries the mutable source fields; nil leaves a field unchanged
type SourceUpdate struct {
	DisplayName *string
	Active      *bool
}

// Apply copies the set fields onto s
func (u SourceUpdate) Apply(s *Source, now time.Time) {
	if u.DisplayName != nil {
		s.DisplayName = *u.DisplayName
	}
	if u.Active != nil {
		s.Active = *u.Active
	}
	s.UpdatedAt = now
}
