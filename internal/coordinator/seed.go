package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/feed-importer/internal/domain"
)

// DefaultSeedSources is the bootstrap feed list used when none is configured
var DefaultSeedSources = []string{
	"https://jobicy.com/?feed=job_feed",
	"https://jobicy.com/?feed=job_feed&job_categories=smm&job_types=full-time",
	"https://jobicy.com/?feed=job_feed&job_categories=seller&job_types=full-time&search_region=france",
	"https://jobicy.com/?feed=job_feed&job_categories=design-multimedia",
	"https://jobicy.com/?feed=job_feed&job_categories=data-science",
	"https://jobicy.com/?feed=job_feed&job_categories=copywriting",
	"https://jobicy.com/?feed=job_feed&job_categories=business",
	"https://jobicy.com/?feed=job_feed&job_categories=management",
	"https://www.higheredjobs.com/rss/articleFeed.cfm",
}

// SourceSeeder upserts a source by URL, leaving it active
type SourceSeeder interface {
	SeedSource(ctx context.Context, url, displayName string) (*domain.Source, error)
}

// SeedSources makes sure every URL exists as an active source. Running it
// again is harmless.
func SeedSources(ctx context.Context, store SourceSeeder, urls []string, logger *slog.Logger) error {
	seeded := 0
	for _, url := range urls {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}

		if _, err := store.SeedSource(ctx, url, domain.DisplayNameFromURL(url)); err != nil {
			return fmt.Errorf("failed to seed source %s: %w", url, err)
		}
		seeded++
	}

	logger.Info("Sources seeded",
		slog.Int("count", seeded),
	)
	return nil
}
