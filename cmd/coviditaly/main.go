package main

import (
	"context"
	"database/sql"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jonboulle/clockwork"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/gmarchetti/coviditaly/internal/api"
	"github.com/gmarchetti/coviditaly/internal/httputil"
	"github.com/gmarchetti/coviditaly/internal/ingest"
	"github.com/gmarchetti/coviditaly/internal/regional"
	"github.com/gmarchetti/coviditaly/internal/store"
)

const (
	defaultAllURL    = "https://raw.githubusercontent.com/pcm-dpc/COVID-19/master/dati-json/dpc-covid19-ita-province.json"
	defaultLatestURL = "https://raw.githubusercontent.com/pcm-dpc/COVID-19/master/dati-json/dpc-covid19-ita-province-latest.json"
)

var cli struct {
	DB   string `help:"Path to SQLite database." env:"DATABASE_PATH" default:"data/coviditaly.db"`
	Port string `help:"HTTP server port." env:"PORT" default:"8080"`

	AllURL    string `name:"all-url" help:"Full historical feed URL." env:"COVID_DATA_URL_ALL" default:"${default_all_url}"`
	LatestURL string `name:"latest-url" help:"Latest snapshot feed URL." env:"COVID_DATA_URL_LATEST" default:"${default_latest_url}"`

	RequestTimeout     time.Duration `help:"Upstream request timeout." env:"REQUEST_TIMEOUT" default:"30s"`
	CacheMinutes       int           `help:"Latest-snapshot freshness window in minutes." env:"DATA_CACHE_MINUTES" default:"60"`
	FullRefreshHours   int           `help:"Full-history freshness window in hours." env:"CACHE_FULL_REFRESH_HOURS" default:"24"`
	RetentionDays      int           `help:"Incremental reloads prune rows older than this many days." env:"RETENTION_DAYS" default:"7"`
	MissingCleanupDays int           `help:"Days a missing-date entry stays marked." env:"MISSING_DATES_CLEANUP_DAYS" default:"1"`
	StartDate          string        `help:"First date with upstream data." env:"HISTORICAL_START_DATE" default:"2020-02-24"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("coviditaly"),
		kong.Description("COVID-19 Italy regional dashboard and API."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
		kong.Vars{
			"default_all_url":    defaultAllURL,
			"default_latest_url": defaultLatestURL,
		},
	)

	historicalStart, err := time.Parse("2006-01-02", cli.StartDate)
	if err != nil {
		log.Fatalf("invalid start date %q: %v", cli.StartDate, err)
	}

	db, err := sql.Open("sqlite", cli.DB)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("database migrated")

	feed := ingest.NewFeedClient(cli.AllURL, cli.LatestURL, httputil.NewClient(cli.RequestTimeout))
	svc := regional.NewService(st, feed, clockwork.NewRealClock(), regional.Config{
		CacheWindow:      time.Duration(cli.CacheMinutes) * time.Minute,
		FullRefreshEvery: time.Duration(cli.FullRefreshHours) * time.Hour,
		Retention:        time.Duration(cli.RetentionDays) * 24 * time.Hour,
		MissingCleanup:   time.Duration(cli.MissingCleanupDays) * 24 * time.Hour,
	})
	server := api.NewServer(svc, cli.Port, historicalStart, clockwork.NewRealClock())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Printf("starting server on :%s", cli.Port)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("server: %v", err)
	}
}
