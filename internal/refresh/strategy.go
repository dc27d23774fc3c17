// Package refresh decides, for a requested date, whether the local store can
// be trusted, what kind of upstream fetch is due, or whether the date is
// known to be absent upstream.
package refresh

import (
	"log"
	"time"

	"github.com/gmarchetti/coviditaly/internal/dates"
	"github.com/gmarchetti/coviditaly/internal/metrics"
	"github.com/gmarchetti/coviditaly/internal/models"
)

type Strategy int

const (
	UseCache Strategy = iota
	FetchIncremental
	FetchFull
	DateMissing
)

func (s Strategy) String() string {
	switch s {
	case UseCache:
		return "use_cache"
	case FetchIncremental:
		return "fetch_incremental"
	case FetchFull:
		return "fetch_full"
	case DateMissing:
		return "date_missing"
	}
	return "unknown"
}

type RefreshKind int

const (
	RefreshNone RefreshKind = iota
	RefreshIncremental
	RefreshFull
)

// Ledger is the read-only store state the strategist consults.
type Ledger interface {
	CacheEntry(cacheType string) (*models.CacheEntry, error)
	HasDataForDate(d time.Time) (bool, error)
	EarliestDate() (time.Time, bool, error)
}

type Config struct {
	// CacheWindow is how long a "latest" fetch stays fresh.
	CacheWindow time.Duration
	// FullRefreshEvery is how long a "full" fetch stays fresh.
	FullRefreshEvery time.Duration
}

type Strategist struct {
	ledger  Ledger
	missing *MissingDates
	cfg     Config
}

func NewStrategist(ledger Ledger, missing *MissingDates, cfg Config) *Strategist {
	if cfg.CacheWindow <= 0 {
		cfg.CacheWindow = 60 * time.Minute
	}
	if cfg.FullRefreshEvery <= 0 {
		cfg.FullRefreshEvery = 24 * time.Hour
	}
	return &Strategist{ledger: ledger, missing: missing, cfg: cfg}
}

// ShouldRefresh inspects the cache ledger at the given instant. An overdue
// full refresh always wins over an overdue incremental one. Any error reading
// ledger state falls back to a full refresh rather than skipping one.
func (st *Strategist) ShouldRefresh(now time.Time) (bool, RefreshKind) {
	full, err := st.ledger.CacheEntry(models.CacheFull)
	if err != nil {
		log.Printf("refresh: read full cache entry: %v", err)
		return true, RefreshFull
	}
	if full == nil {
		return true, RefreshFull
	}

	fullAge := now.Sub(full.LastFetchTime)
	if fullAge > st.cfg.FullRefreshEvery {
		return true, RefreshFull
	}

	latest, err := st.ledger.CacheEntry(models.CacheLatest)
	if err != nil {
		log.Printf("refresh: read latest cache entry: %v", err)
		return true, RefreshFull
	}
	if latest != nil {
		if now.Sub(latest.LastFetchTime) > st.cfg.CacheWindow {
			return true, RefreshIncremental
		}
	} else if fullAge > st.cfg.CacheWindow {
		return true, RefreshIncremental
	}

	return false, RefreshNone
}

// StrategyFor decides how to satisfy a request for the given date at the
// given instant.
func (st *Strategist) StrategyFor(q dates.Query, now time.Time) Strategy {
	strategy := st.strategyFor(q, now)
	metrics.StrategyDecisions.WithLabelValues(strategy.String()).Inc()
	return strategy
}

func (st *Strategist) strategyFor(q dates.Query, now time.Time) Strategy {
	if q.IsLatest() {
		refresh, kind := st.ShouldRefresh(now)
		if !refresh {
			return UseCache
		}
		return fetchStrategy(kind)
	}

	target := q.Date()
	if st.missing.IsMissing(target) {
		return DateMissing
	}

	has, err := st.ledger.HasDataForDate(target)
	if err != nil {
		log.Printf("refresh: check data for %s: %v", q, err)
		return FetchFull
	}
	if has {
		return UseCache
	}

	_, kind := st.ShouldRefresh(now)

	// Dates well in the past that predate the stored history cannot appear
	// in any future fetch; mark them missing instead of retrying forever.
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if target.Before(today.AddDate(0, 0, -7)) {
		earliest, ok, err := st.ledger.EarliestDate()
		if err != nil {
			log.Printf("refresh: read earliest date: %v", err)
			return FetchFull
		}
		if ok && target.Before(earliest) {
			st.missing.Mark(target, now)
			return DateMissing
		}
	}

	return fetchStrategy(kind)
}

// fetchStrategy maps a refresh kind onto a fetch strategy. A date we have no
// rows for still warrants an incremental attempt even when the ledger itself
// is fresh; the orchestrator marks the date missing if the fetch yields
// nothing.
func fetchStrategy(kind RefreshKind) Strategy {
	if kind == RefreshFull {
		return FetchFull
	}
	return FetchIncremental
}
