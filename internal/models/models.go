package models

import "time"

// ProvinceCase is one province's cumulative case count at one feed timestamp.
// Rows are unique on (DataTimestamp, RegionCode, ProvinceCode).
type ProvinceCase struct {
	ID             int64
	DataTimestamp  time.Time
	Country        string
	RegionCode     int
	RegionName     string
	ProvinceCode   int
	ProvinceName   string
	ProvinceAbbrev string
	Lat            float64
	Long           float64
	TotalCases     int
	Note           string
	NUTS1          string
	NUTS2          string
	NUTS3          string
	CreatedAt      time.Time
}

// Cache categories tracked in the ledger. "full" covers the entire history,
// "latest" the most recent snapshot; they are independent refresh lineages.
const (
	CacheFull   = "full"
	CacheLatest = "latest"
)

// CacheEntry records the outcome of the most recent fetch for one category.
// At most one entry exists per category.
type CacheEntry struct {
	CacheType         string    `json:"cache_type"`
	LastFetchTime     time.Time `json:"last_fetch_time"`
	LastDataTimestamp time.Time `json:"last_data_timestamp"`
	RecordsCount      int       `json:"records_count"`
	DataDatesRange    string    `json:"data_dates_range"`
}

// RegionSummary is the aggregated view of one region at one timestamp.
// Computed on demand, never persisted.
type RegionSummary struct {
	RegionName     string `json:"region_name"`
	TotalCases     int    `json:"total_cases"`
	ProvincesCount int    `json:"provinces_count"`
	LastUpdated    string `json:"last_updated"`
}

// RegionExtreme names a region together with its case count, used by
// Statistics for the max/min entries.
type RegionExtreme struct {
	Name  string `json:"name"`
	Cases int    `json:"cases"`
}

// Statistics summarizes all regional summaries for one date.
type Statistics struct {
	TotalCases            int           `json:"total_cases"`
	TotalRegions          int           `json:"total_regions"`
	AverageCasesPerRegion float64       `json:"average_cases_per_region"`
	MaxCasesRegion        RegionExtreme `json:"max_cases_region"`
	MinCasesRegion        RegionExtreme `json:"min_cases_region"`
}
