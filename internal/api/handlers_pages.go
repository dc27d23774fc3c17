package api

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gmarchetti/coviditaly/internal/dates"
	"github.com/gmarchetti/coviditaly/internal/export"
	"github.com/gmarchetti/coviditaly/internal/models"
)

type indexData struct {
	Summaries       []models.RegionSummary
	Status          string
	FlashError      string
	TotalCases      int
	TotalRegions    int
	SearchDate      string
	AvailableDates  []string
	CurrentTime     string
	HistoricalStart string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.renderError(w, http.StatusNotFound, "Page not found.")
		return
	}

	searchDate := r.URL.Query().Get("date")
	q, err := s.parseDateParam(r)
	flash := ""
	if err != nil {
		// Invalid input falls back to the latest snapshot, like the API's
		// 400 but without losing the page.
		flash = fmt.Sprintf("Invalid date: %s. Showing latest data.", searchDate)
		q = dates.Latest()
	}

	summaries, status := s.regional.Summaries(r.Context(), q)

	totalCases := 0
	for _, sum := range summaries {
		totalCases += sum.TotalCases
	}

	available, err := s.regional.AvailableDates(30)
	if err != nil {
		log.Printf("api: available dates: %v", err)
	}
	days := make([]string, 0, len(available))
	for _, d := range available {
		days = append(days, d.Format("2006-01-02"))
	}

	data := indexData{
		Summaries:       summaries,
		Status:          status,
		FlashError:      flash,
		TotalCases:      totalCases,
		TotalRegions:    len(summaries),
		SearchDate:      searchDate,
		AvailableDates:  days,
		CurrentTime:     s.clock.Now().UTC().Format("2006-01-02 15:04:05"),
		HistoricalStart: s.historicalStart.Format("2006-01-02"),
	}

	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		log.Printf("api: render index: %v", err)
	}
}

func (s *Server) renderError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	if err := s.tmpl.ExecuteTemplate(w, "error.html", map[string]string{"ErrorMessage": msg}); err != nil {
		log.Printf("api: render error page: %v", err)
	}
}

func (s *Server) handleExportExcel(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseDateParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid date format: %s. Expected YYYY-MM-DD format.", r.URL.Query().Get("date")))
		return
	}

	summaries, status := s.regional.Summaries(r.Context(), q)
	if len(summaries) == 0 {
		writeError(w, http.StatusNotFound, status)
		return
	}

	workbook, err := export.Workbook(summaries, q, s.clock.Now().UTC())
	if err != nil {
		log.Printf("api: build export: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to export data to Excel")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(q)))
	if err := workbook.Write(w); err != nil {
		log.Printf("api: write export: %v", err)
	}
}
