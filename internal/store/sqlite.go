package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/gmarchetti/coviditaly/internal/dates"
	"github.com/gmarchetti/coviditaly/internal/models"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Timestamps are stored as text in this exact layout so SQLite's date()
// function and lexical comparisons work on the column. Binding a time.Time
// directly would store Go's String() form, which date() cannot parse.
const timeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timeLayout, s, time.UTC)
}

func caseKey(c models.ProvinceCase) string {
	return fmt.Sprintf("%s_%d_%d", c.DataTimestamp.UTC().Format(time.RFC3339), c.RegionCode, c.ProvinceCode)
}

// ReplaceAll atomically clears the record store and repopulates it with the
// given records, then updates the "full" ledger entry. Duplicates on
// (timestamp, region, province) collapse keeping the last-seen value.
// Returns the number of rows written and the newest data timestamp.
func (s *Store) ReplaceAll(records []models.ProvinceCase, now time.Time) (int, time.Time, error) {
	if len(records) == 0 {
		return 0, time.Time{}, fmt.Errorf("no data to save")
	}

	deduped := make(map[string]models.ProvinceCase, len(records))
	var latest time.Time
	for _, rec := range records {
		deduped[caseKey(rec)] = rec
		if rec.DataTimestamp.After(latest) {
			latest = rec.DataTimestamp
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM province_cases"); err != nil {
		return 0, time.Time{}, fmt.Errorf("clear province_cases: %w", err)
	}

	for _, rec := range deduped {
		if err := insertCase(tx, rec, now); err != nil {
			return 0, time.Time{}, fmt.Errorf("insert case: %w", err)
		}
	}

	dateRange, err := txDateRange(tx)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("date range: %w", err)
	}

	if err := upsertCacheEntry(tx, models.CacheEntry{
		CacheType:         models.CacheFull,
		LastFetchTime:     now.UTC(),
		LastDataTimestamp: latest.UTC(),
		RecordsCount:      len(deduped),
		DataDatesRange:    dateRange,
	}); err != nil {
		return 0, time.Time{}, fmt.Errorf("update full cache entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, time.Time{}, fmt.Errorf("commit: %w", err)
	}
	return len(deduped), latest, nil
}

// InsertLatest performs an incremental update: rows whose uniqueness key is
// already present are left untouched, rows older than the retention cutoff
// are pruned, and the "latest" ledger entry is updated. When the snapshot's
// timestamp is already stored the call is a no-op that still bumps the ledger
// fetch time. Returns the number of newly inserted rows and the snapshot
// timestamp.
func (s *Store) InsertLatest(records []models.ProvinceCase, now time.Time, retention time.Duration) (int, time.Time, error) {
	if len(records) == 0 {
		return 0, time.Time{}, fmt.Errorf("no data to save")
	}

	var latest time.Time
	for _, rec := range records {
		if rec.DataTimestamp.After(latest) {
			latest = rec.DataTimestamp
		}
	}

	var exists bool
	err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM province_cases WHERE data_timestamp = ?)", formatTime(latest)).Scan(&exists)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("check existing snapshot: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	if !exists {
		cutoff := formatTime(now.Add(-retention))
		if _, err := tx.Exec("DELETE FROM province_cases WHERE data_timestamp < ?", cutoff); err != nil {
			return 0, time.Time{}, fmt.Errorf("prune old records: %w", err)
		}

		deduped := make(map[string]models.ProvinceCase, len(records))
		for _, rec := range records {
			deduped[caseKey(rec)] = rec
		}
		for _, rec := range deduped {
			n, err := insertCaseIgnoringDuplicates(tx, rec, now)
			if err != nil {
				return 0, time.Time{}, fmt.Errorf("insert case: %w", err)
			}
			inserted += n
		}
	}

	if err := upsertCacheEntry(tx, models.CacheEntry{
		CacheType:         models.CacheLatest,
		LastFetchTime:     now.UTC(),
		LastDataTimestamp: latest.UTC(),
		RecordsCount:      inserted,
		DataDatesRange:    latest.UTC().Format("2006-01-02"),
	}); err != nil {
		return 0, time.Time{}, fmt.Errorf("update latest cache entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, time.Time{}, fmt.Errorf("commit: %w", err)
	}
	return inserted, latest, nil
}

func insertCase(tx *sql.Tx, rec models.ProvinceCase, now time.Time) error {
	_, err := tx.Exec(`
		INSERT INTO province_cases (data_timestamp, stato, codice_regione, denominazione_regione, codice_provincia, denominazione_provincia, sigla_provincia, lat, long, totale_casi, note, codice_nuts_1, codice_nuts_2, codice_nuts_3, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, formatTime(rec.DataTimestamp), rec.Country, rec.RegionCode, rec.RegionName, rec.ProvinceCode, rec.ProvinceName, rec.ProvinceAbbrev,
		rec.Lat, rec.Long, rec.TotalCases, rec.Note, rec.NUTS1, rec.NUTS2, rec.NUTS3, formatTime(now))
	return err
}

func insertCaseIgnoringDuplicates(tx *sql.Tx, rec models.ProvinceCase, now time.Time) (int, error) {
	res, err := tx.Exec(`
		INSERT INTO province_cases (data_timestamp, stato, codice_regione, denominazione_regione, codice_provincia, denominazione_provincia, sigla_provincia, lat, long, totale_casi, note, codice_nuts_1, codice_nuts_2, codice_nuts_3, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(data_timestamp, codice_regione, codice_provincia) DO NOTHING
	`, formatTime(rec.DataTimestamp), rec.Country, rec.RegionCode, rec.RegionName, rec.ProvinceCode, rec.ProvinceName, rec.ProvinceAbbrev,
		rec.Lat, rec.Long, rec.TotalCases, rec.Note, rec.NUTS1, rec.NUTS2, rec.NUTS3, formatTime(now))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func txDateRange(tx *sql.Tx) (string, error) {
	var min, max sql.NullString
	err := tx.QueryRow("SELECT MIN(date(data_timestamp)), MAX(date(data_timestamp)) FROM province_cases").Scan(&min, &max)
	if err != nil {
		return "", err
	}
	if !min.Valid || !max.Valid {
		return "", nil
	}
	return min.String + " to " + max.String, nil
}

// ResolveTimestamp maps a date query onto a stored ingestion timestamp:
// the newest timestamp for "latest", or the timestamp whose calendar date
// matches for a concrete day. ok is false if nothing matches.
func (s *Store) ResolveTimestamp(q dates.Query) (time.Time, bool, error) {
	var row *sql.Row
	if q.IsLatest() {
		row = s.db.QueryRow("SELECT data_timestamp FROM province_cases ORDER BY data_timestamp DESC LIMIT 1")
	} else {
		row = s.db.QueryRow("SELECT data_timestamp FROM province_cases WHERE date(data_timestamp) = ? LIMIT 1", q.Date().Format("2006-01-02"))
	}

	var raw string
	err := row.Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ts, err := parseTime(raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return ts, true, nil
}

// RegionSummaries aggregates the records at the resolved timestamp by region.
// Ordering is total cases descending, then region name ascending; every
// consumer (dashboard, API, export) relies on it.
func (s *Store) RegionSummaries(q dates.Query) ([]models.RegionSummary, error) {
	ts, ok, err := s.ResolveTimestamp(q)
	if err != nil {
		return nil, fmt.Errorf("resolve timestamp: %w", err)
	}
	if !ok {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT denominazione_regione, SUM(totale_casi), COUNT(DISTINCT codice_provincia)
		FROM province_cases
		WHERE data_timestamp = ?
		GROUP BY denominazione_regione
		ORDER BY SUM(totale_casi) DESC, denominazione_regione ASC
	`, formatTime(ts))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lastUpdated := formatTime(ts)
	var summaries []models.RegionSummary
	for rows.Next() {
		var sum models.RegionSummary
		if err := rows.Scan(&sum.RegionName, &sum.TotalCases, &sum.ProvincesCount); err != nil {
			return nil, err
		}
		sum.LastUpdated = lastUpdated
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// HasDataForDate reports whether any record exists for the calendar day.
func (s *Store) HasDataForDate(d time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM province_cases WHERE date(data_timestamp) = ?)",
		d.Format("2006-01-02"),
	).Scan(&exists)
	return exists, err
}

// EarliestDate returns the oldest calendar date in the store.
func (s *Store) EarliestDate() (time.Time, bool, error) {
	var day string
	err := s.db.QueryRow("SELECT date(data_timestamp) FROM province_cases ORDER BY data_timestamp ASC LIMIT 1").Scan(&day)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	d, err := time.Parse("2006-01-02", day)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse earliest date %q: %w", day, err)
	}
	return d, true, nil
}

// AvailableDates lists the distinct calendar dates present, newest first.
// limit <= 0 means no limit.
func (s *Store) AvailableDates(limit int) ([]time.Time, error) {
	query := "SELECT DISTINCT date(data_timestamp) FROM province_cases ORDER BY date(data_timestamp) DESC"
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = s.db.Query(query)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []time.Time
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, err
		}
		d, err := time.Parse("2006-01-02", day)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", day, err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// CacheEntry returns the ledger entry for one category, or nil if absent.
func (s *Store) CacheEntry(cacheType string) (*models.CacheEntry, error) {
	row := s.db.QueryRow(`
		SELECT cache_type, last_fetch_time, last_data_timestamp, records_count, data_dates_range
		FROM data_cache WHERE cache_type = ?
	`, cacheType)

	entry, err := scanCacheEntry(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func scanCacheEntry(scan func(dest ...any) error) (models.CacheEntry, error) {
	var entry models.CacheEntry
	var fetchTime, dataTimestamp string
	var dateRange sql.NullString
	if err := scan(&entry.CacheType, &fetchTime, &dataTimestamp, &entry.RecordsCount, &dateRange); err != nil {
		return entry, err
	}

	var err error
	if entry.LastFetchTime, err = parseTime(fetchTime); err != nil {
		return entry, fmt.Errorf("parse last_fetch_time %q: %w", fetchTime, err)
	}
	if entry.LastDataTimestamp, err = parseTime(dataTimestamp); err != nil {
		return entry, fmt.Errorf("parse last_data_timestamp %q: %w", dataTimestamp, err)
	}
	entry.DataDatesRange = dateRange.String
	return entry, nil
}

// CacheEntries returns all ledger entries keyed by category.
func (s *Store) CacheEntries() (map[string]models.CacheEntry, error) {
	rows, err := s.db.Query(`
		SELECT cache_type, last_fetch_time, last_data_timestamp, records_count, data_dates_range
		FROM data_cache
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make(map[string]models.CacheEntry)
	for rows.Next() {
		entry, err := scanCacheEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries[entry.CacheType] = entry
	}
	return entries, rows.Err()
}

func upsertCacheEntry(tx *sql.Tx, entry models.CacheEntry) error {
	_, err := tx.Exec(`
		INSERT INTO data_cache (cache_type, last_fetch_time, last_data_timestamp, records_count, data_dates_range)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_type) DO UPDATE SET
			last_fetch_time = excluded.last_fetch_time,
			last_data_timestamp = excluded.last_data_timestamp,
			records_count = excluded.records_count,
			data_dates_range = excluded.data_dates_range
	`, entry.CacheType, formatTime(entry.LastFetchTime), formatTime(entry.LastDataTimestamp), entry.RecordsCount, entry.DataDatesRange)
	return err
}
