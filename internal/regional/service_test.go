package regional

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/gmarchetti/coviditaly/internal/dates"
	"github.com/gmarchetti/coviditaly/internal/models"
	"github.com/gmarchetti/coviditaly/internal/store"
)

type fakeFetcher struct {
	all         []models.ProvinceCase
	latest      []models.ProvinceCase
	allErr      error
	latestErr   error
	allCalls    int
	latestCalls int
}

func (f *fakeFetcher) FetchAll(ctx context.Context) ([]models.ProvinceCase, error) {
	f.allCalls++
	return f.all, f.allErr
}

func (f *fakeFetcher) FetchLatest(ctx context.Context) ([]models.ProvinceCase, error) {
	f.latestCalls++
	return f.latest, f.latestErr
}

var (
	day1    = time.Date(2020, 3, 1, 18, 0, 0, 0, time.UTC)
	day2    = time.Date(2020, 3, 2, 18, 0, 0, 0, time.UTC)
	baseNow = time.Date(2020, 3, 2, 20, 0, 0, 0, time.UTC)
)

func caseAt(ts time.Time, regionCode int, region string, provinceCode int, province string, cases int) models.ProvinceCase {
	return models.ProvinceCase{
		DataTimestamp: ts,
		Country:       "ITA",
		RegionCode:    regionCode,
		RegionName:    region,
		ProvinceCode:  provinceCode,
		ProvinceName:  province,
		TotalCases:    cases,
	}
}

func setupService(t *testing.T, fetcher *fakeFetcher, clock clockwork.Clock) (*Service, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	svc := NewService(st, fetcher, clock, Config{
		CacheWindow:      60 * time.Minute,
		FullRefreshEvery: 24 * time.Hour,
		Retention:        7 * 24 * time.Hour,
		MissingCleanup:   24 * time.Hour,
	})
	return svc, st
}

func TestSummaries_ColdStartDoesFullRefresh(t *testing.T) {
	fetcher := &fakeFetcher{
		all: []models.ProvinceCase{
			caseAt(day2, 3, "Lombardia", 15, "Milano", 100),
			caseAt(day2, 5, "Veneto", 27, "Venezia", 40),
		},
	}
	svc, _ := setupService(t, fetcher, clockwork.NewFakeClockAt(baseNow))

	summaries, status := svc.Summaries(context.Background(), dates.Latest())
	if status != "Data refreshed (full)" {
		t.Errorf("status = %q", status)
	}
	if len(summaries) != 2 {
		t.Fatalf("len = %d, want 2", len(summaries))
	}
	if summaries[0].RegionName != "Lombardia" {
		t.Errorf("summaries[0] = %s, want Lombardia first", summaries[0].RegionName)
	}
	if fetcher.allCalls != 1 || fetcher.latestCalls != 0 {
		t.Errorf("calls = %d all / %d latest, want 1/0", fetcher.allCalls, fetcher.latestCalls)
	}
}

func TestSummaries_FreshLedgerUsesCache(t *testing.T) {
	fetcher := &fakeFetcher{
		all: []models.ProvinceCase{caseAt(day2, 3, "Lombardia", 15, "Milano", 100)},
	}
	svc, _ := setupService(t, fetcher, clockwork.NewFakeClockAt(baseNow))

	svc.Summaries(context.Background(), dates.Latest())
	_, status := svc.Summaries(context.Background(), dates.Latest())
	if status != "Using cached data" {
		t.Errorf("status = %q", status)
	}
	if fetcher.allCalls != 1 {
		t.Errorf("allCalls = %d, want no second fetch", fetcher.allCalls)
	}
}

func TestSummaries_StaleLatestDoesIncremental(t *testing.T) {
	fetcher := &fakeFetcher{
		all:    []models.ProvinceCase{caseAt(day1, 3, "Lombardia", 15, "Milano", 100)},
		latest: []models.ProvinceCase{caseAt(day2, 3, "Lombardia", 15, "Milano", 150)},
	}
	clock := clockwork.NewFakeClockAt(baseNow)
	svc, _ := setupService(t, fetcher, clock)

	svc.Summaries(context.Background(), dates.Latest())
	clock.Advance(2 * time.Hour)

	summaries, status := svc.Summaries(context.Background(), dates.Latest())
	if status != "Data refreshed (incremental)" {
		t.Errorf("status = %q", status)
	}
	if fetcher.latestCalls != 1 {
		t.Errorf("latestCalls = %d, want 1", fetcher.latestCalls)
	}
	if len(summaries) != 1 || summaries[0].TotalCases != 150 {
		t.Errorf("summaries = %+v, want the new snapshot", summaries)
	}
}

func TestSummaries_ConcreteDateFromCache(t *testing.T) {
	fetcher := &fakeFetcher{
		all: []models.ProvinceCase{
			caseAt(day1, 3, "Lombardia", 15, "Milano", 100),
			caseAt(day2, 3, "Lombardia", 15, "Milano", 150),
		},
	}
	svc, _ := setupService(t, fetcher, clockwork.NewFakeClockAt(baseNow))

	svc.Summaries(context.Background(), dates.Latest())

	summaries, status := svc.Summaries(context.Background(), dates.On(day1))
	if status != "Using cached data" {
		t.Errorf("status = %q", status)
	}
	if len(summaries) != 1 || summaries[0].TotalCases != 100 {
		t.Errorf("summaries = %+v, want day1 snapshot", summaries)
	}
}

func TestSummaries_FallbackToCacheOnRefreshError(t *testing.T) {
	fetcher := &fakeFetcher{
		all: []models.ProvinceCase{caseAt(day1, 3, "Lombardia", 15, "Milano", 100)},
	}
	clock := clockwork.NewFakeClockAt(baseNow)
	svc, _ := setupService(t, fetcher, clock)

	svc.Summaries(context.Background(), dates.Latest())

	clock.Advance(2 * time.Hour)
	fetcher.latestErr = errors.New("upstream down")

	summaries, status := svc.Summaries(context.Background(), dates.Latest())
	if status != "Using cached data (refresh failed)" {
		t.Errorf("status = %q", status)
	}
	if len(summaries) != 1 {
		t.Errorf("len = %d, want cached data", len(summaries))
	}
}

func TestSummaries_UnavailableWhenRefreshFailsAndNoCache(t *testing.T) {
	fetcher := &fakeFetcher{allErr: errors.New("upstream down")}
	svc, _ := setupService(t, fetcher, clockwork.NewFakeClockAt(baseNow))

	summaries, status := svc.Summaries(context.Background(), dates.Latest())
	if summaries != nil {
		t.Errorf("summaries = %v, want nil", summaries)
	}
	if !strings.HasPrefix(status, "Data unavailable: ") {
		t.Errorf("status = %q", status)
	}
}

func TestSummaries_MarksDateMissingAfterEmptyRefresh(t *testing.T) {
	// The feed only has day2; requesting day1 triggers a fetch, finds nothing
	// for that day and marks it missing so the next request short-circuits.
	fetcher := &fakeFetcher{
		all:    []models.ProvinceCase{caseAt(day2, 3, "Lombardia", 15, "Milano", 150)},
		latest: []models.ProvinceCase{caseAt(day2, 3, "Lombardia", 15, "Milano", 150)},
	}
	svc, _ := setupService(t, fetcher, clockwork.NewFakeClockAt(baseNow))

	summaries, status := svc.Summaries(context.Background(), dates.On(day1))
	if summaries != nil {
		t.Errorf("summaries = %v, want nil", summaries)
	}
	if status != "No data available for 2020-03-01 after refresh" {
		t.Errorf("status = %q", status)
	}

	_, status = svc.Summaries(context.Background(), dates.On(day1))
	if status != "Date 2020-03-01 is known to be unavailable" {
		t.Errorf("second request status = %q", status)
	}
}

func TestSummaries_MissingDateReCheckedAfterCleanupWindow(t *testing.T) {
	fetcher := &fakeFetcher{
		all:    []models.ProvinceCase{caseAt(day2, 3, "Lombardia", 15, "Milano", 150)},
		latest: []models.ProvinceCase{caseAt(day2, 3, "Lombardia", 15, "Milano", 150)},
	}
	clock := clockwork.NewFakeClockAt(baseNow)
	svc, _ := setupService(t, fetcher, clock)

	svc.Summaries(context.Background(), dates.On(day1))
	if _, status := svc.Summaries(context.Background(), dates.On(day1)); !strings.Contains(status, "known to be unavailable") {
		t.Fatalf("status = %q, want the short-circuit", status)
	}

	clock.Advance(25 * time.Hour)
	_, status := svc.Summaries(context.Background(), dates.On(day1))
	if strings.Contains(status, "known to be unavailable") {
		t.Errorf("status = %q, want a fresh attempt after the cleanup window", status)
	}
}

func TestStatistics(t *testing.T) {
	fetcher := &fakeFetcher{
		all: []models.ProvinceCase{
			caseAt(day2, 3, "Lombardia", 15, "Milano", 100),
			caseAt(day2, 3, "Lombardia", 16, "Bergamo", 55),
			caseAt(day2, 5, "Veneto", 27, "Venezia", 40),
		},
	}
	svc, _ := setupService(t, fetcher, clockwork.NewFakeClockAt(baseNow))

	stats, status := svc.Statistics(context.Background(), dates.Latest())
	if stats == nil {
		t.Fatalf("stats = nil, status = %q", status)
	}
	if stats.TotalRegions != 2 || stats.TotalCases != 195 {
		t.Errorf("totals = %d regions / %d cases, want 2/195", stats.TotalRegions, stats.TotalCases)
	}
	if stats.AverageCasesPerRegion != 97.5 {
		t.Errorf("average = %v, want 97.5", stats.AverageCasesPerRegion)
	}
	if stats.MaxCasesRegion.Name != "Lombardia" || stats.MaxCasesRegion.Cases != 155 {
		t.Errorf("max = %+v", stats.MaxCasesRegion)
	}
	if stats.MinCasesRegion.Name != "Veneto" || stats.MinCasesRegion.Cases != 40 {
		t.Errorf("min = %+v", stats.MinCasesRegion)
	}
}

func TestStatistics_NoData(t *testing.T) {
	fetcher := &fakeFetcher{allErr: errors.New("upstream down")}
	svc, _ := setupService(t, fetcher, clockwork.NewFakeClockAt(baseNow))

	stats, status := svc.Statistics(context.Background(), dates.Latest())
	if stats != nil {
		t.Errorf("stats = %+v, want nil", stats)
	}
	if status == "" {
		t.Error("status is empty")
	}
}

func TestCacheInfo(t *testing.T) {
	fetcher := &fakeFetcher{
		all: []models.ProvinceCase{caseAt(day2, 3, "Lombardia", 15, "Milano", 100)},
	}
	svc, _ := setupService(t, fetcher, clockwork.NewFakeClockAt(baseNow))

	svc.Summaries(context.Background(), dates.Latest())

	info, err := svc.CacheInfo()
	if err != nil {
		t.Fatalf("CacheInfo: %v", err)
	}
	entry, ok := info[models.CacheFull]
	if !ok {
		t.Fatal("no full ledger entry")
	}
	if entry.RecordsCount != 1 {
		t.Errorf("RecordsCount = %d, want 1", entry.RecordsCount)
	}
}
