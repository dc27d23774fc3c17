// Package regional composes the refresh strategist, the feed client and the
// store into a single best-effort "summaries for this date" operation. All
// network and database side effects of a request happen on this path.
package regional

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gmarchetti/coviditaly/internal/dates"
	"github.com/gmarchetti/coviditaly/internal/metrics"
	"github.com/gmarchetti/coviditaly/internal/models"
	"github.com/gmarchetti/coviditaly/internal/refresh"
	"github.com/gmarchetti/coviditaly/internal/store"
)

// Fetcher retrieves normalized records from the upstream feed.
type Fetcher interface {
	FetchAll(ctx context.Context) ([]models.ProvinceCase, error)
	FetchLatest(ctx context.Context) ([]models.ProvinceCase, error)
}

type Config struct {
	CacheWindow      time.Duration // freshness window for the latest snapshot
	FullRefreshEvery time.Duration // freshness window for the full history
	Retention        time.Duration // incremental reloads prune rows older than this
	MissingCleanup   time.Duration // how long a missing-date entry stays marked
}

type Service struct {
	store      *store.Store
	fetcher    Fetcher
	strategist *refresh.Strategist
	missing    *refresh.MissingDates
	clock      clockwork.Clock
	retention  time.Duration
}

func NewService(st *store.Store, fetcher Fetcher, clock clockwork.Clock, cfg Config) *Service {
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	missing := refresh.NewMissingDates(cfg.MissingCleanup)
	strategist := refresh.NewStrategist(st, missing, refresh.Config{
		CacheWindow:      cfg.CacheWindow,
		FullRefreshEvery: cfg.FullRefreshEvery,
	})
	return &Service{
		store:      st,
		fetcher:    fetcher,
		strategist: strategist,
		missing:    missing,
		clock:      clock,
		retention:  cfg.Retention,
	}
}

// Summaries returns the ordered regional summaries for the requested date
// plus a status message describing how they were obtained. Refresh failures
// degrade to cached data; the caller always gets a value, never a panic or
// error for expected failure modes.
func (s *Service) Summaries(ctx context.Context, q dates.Query) ([]models.RegionSummary, string) {
	now := s.clock.Now().UTC()
	if removed := s.missing.Cleanup(now); removed > 0 {
		log.Printf("regional: cleaned up %d expired missing-date entries", removed)
	}

	switch strategy := s.strategist.StrategyFor(q, now); strategy {
	case refresh.DateMissing:
		return nil, fmt.Sprintf("Date %s is known to be unavailable", q)

	case refresh.UseCache:
		data, err := s.store.RegionSummaries(q)
		if err != nil {
			log.Printf("regional: read summaries for %s: %v", q, err)
		}
		if len(data) > 0 {
			return data, "Using cached data"
		}
		return nil, "No data available"

	case refresh.FetchFull, refresh.FetchIncremental:
		return s.refreshAndQuery(ctx, q, strategy, now)
	}

	return nil, "No data available"
}

func (s *Service) refreshAndQuery(ctx context.Context, q dates.Query, strategy refresh.Strategy, now time.Time) ([]models.RegionSummary, string) {
	refreshType := "incremental"
	if strategy == refresh.FetchFull {
		refreshType = "full"
	}

	if err := s.refetch(ctx, strategy, now); err != nil {
		metrics.RefreshesTotal.WithLabelValues(refreshType, "error").Inc()
		log.Printf("regional: %s refresh failed: %v", refreshType, err)

		data, qerr := s.store.RegionSummaries(q)
		if qerr != nil {
			log.Printf("regional: fallback read for %s: %v", q, qerr)
		}
		if len(data) > 0 {
			return data, "Using cached data (refresh failed)"
		}
		return nil, fmt.Sprintf("Data unavailable: %v", err)
	}
	metrics.RefreshesTotal.WithLabelValues(refreshType, "ok").Inc()

	data, err := s.store.RegionSummaries(q)
	if err != nil {
		log.Printf("regional: read summaries for %s after refresh: %v", q, err)
	}
	if len(data) > 0 {
		return data, fmt.Sprintf("Data refreshed (%s)", refreshType)
	}

	if !q.IsLatest() {
		s.missing.Mark(q.Date(), now)
	}
	return nil, fmt.Sprintf("No data available for %s after refresh", q)
}

func (s *Service) refetch(ctx context.Context, strategy refresh.Strategy, now time.Time) error {
	switch strategy {
	case refresh.FetchFull:
		records, err := s.fetcher.FetchAll(ctx)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			log.Printf("regional: full fetch returned no records")
			return nil
		}
		saved, _, err := s.store.ReplaceAll(records, now)
		if err != nil {
			return err
		}
		metrics.RecordsIngested.WithLabelValues(models.CacheFull).Add(float64(saved))
		log.Printf("regional: full refresh completed, %d records", saved)

	case refresh.FetchIncremental:
		records, err := s.fetcher.FetchLatest(ctx)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			log.Printf("regional: incremental fetch returned no records")
			return nil
		}
		saved, _, err := s.store.InsertLatest(records, now, s.retention)
		if err != nil {
			return err
		}
		metrics.RecordsIngested.WithLabelValues(models.CacheLatest).Add(float64(saved))
		if saved == 0 {
			log.Printf("regional: latest snapshot already stored, nothing inserted")
		} else {
			log.Printf("regional: incremental refresh completed, %d new records", saved)
		}
	}
	return nil
}

// Statistics derives aggregate figures from the summaries for one date.
// Returns nil when no data is available.
func (s *Service) Statistics(ctx context.Context, q dates.Query) (*models.Statistics, string) {
	summaries, status := s.Summaries(ctx, q)
	if len(summaries) == 0 {
		return nil, status
	}

	stats := &models.Statistics{TotalRegions: len(summaries)}
	maxRegion := summaries[0]
	minRegion := summaries[0]
	for _, sum := range summaries {
		stats.TotalCases += sum.TotalCases
		if sum.TotalCases > maxRegion.TotalCases {
			maxRegion = sum
		}
		if sum.TotalCases < minRegion.TotalCases {
			minRegion = sum
		}
	}
	avg := float64(stats.TotalCases) / float64(stats.TotalRegions)
	stats.AverageCasesPerRegion = math.Round(avg*100) / 100
	stats.MaxCasesRegion = models.RegionExtreme{Name: maxRegion.RegionName, Cases: maxRegion.TotalCases}
	stats.MinCasesRegion = models.RegionExtreme{Name: minRegion.RegionName, Cases: minRegion.TotalCases}
	return stats, status
}

// AvailableDates lists distinct dates in the store, newest first.
func (s *Service) AvailableDates(limit int) ([]time.Time, error) {
	return s.store.AvailableDates(limit)
}

// CacheInfo exposes the cache ledger for diagnostics.
func (s *Service) CacheInfo() (map[string]models.CacheEntry, error) {
	return s.store.CacheEntries()
}
