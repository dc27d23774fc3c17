// Package api serves the dashboard, the JSON API and the spreadsheet export.
// It is presentation glue: every data decision happens in the regional
// service it wraps.
package api

import (
	"context"
	"html/template"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gmarchetti/coviditaly/internal/dates"
	"github.com/gmarchetti/coviditaly/internal/regional"
)

type Server struct {
	regional        *regional.Service
	port            string
	historicalStart time.Time
	clock           clockwork.Clock
	tmpl            *template.Template
}

func NewServer(svc *regional.Service, port string, historicalStart time.Time, clock clockwork.Clock) *Server {
	return &Server{
		regional:        svc,
		port:            port,
		historicalStart: historicalStart,
		clock:           clock,
		tmpl:            newTemplates(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/regions", s.handleAPIRegions)
	mux.HandleFunc("/api/regions/", s.handleAPIRegionDetail)
	mux.HandleFunc("/api/dates", s.handleAPIDates)
	mux.HandleFunc("/api/stats", s.handleAPIStats)
	mux.HandleFunc("/api/cache", s.handleAPICache)
	mux.HandleFunc("/api/export/excel", s.handleExportExcel)
	mux.HandleFunc("/export/excel", s.handleExportExcel)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// parseDateParam maps the request's date query parameter onto a date query,
// rejecting anything outside the valid range before it reaches the core.
func (s *Server) parseDateParam(r *http.Request) (dates.Query, error) {
	return dates.ParseInput(r.URL.Query().Get("date"), s.historicalStart, s.clock.Now().UTC())
}
