package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIRegions(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseDateParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid date format: %s", r.URL.Query().Get("date")))
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid limit: %s", v))
			return
		}
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "summary"
	}

	summaries, status := s.regional.Summaries(r.Context(), q)
	if limit > 0 && limit < len(summaries) {
		summaries = summaries[:limit]
	}

	totalCases := 0
	for _, sum := range summaries {
		totalCases += sum.TotalCases
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    summaries,
		"metadata": map[string]any{
			"query_date":    q.String(),
			"status":        status,
			"default_sort":  "cases_desc_name_asc",
			"total_regions": len(summaries),
			"total_cases":   totalCases,
			"generated_at":  s.clock.Now().UTC().Format(time.RFC3339),
			"limit_applied": limit,
			"format":        format,
		},
	})
}

func (s *Server) handleAPIRegionDetail(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/regions/")
	if name == "" {
		http.NotFound(w, r)
		return
	}

	q, err := s.parseDateParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid date format: %s", r.URL.Query().Get("date")))
		return
	}

	summaries, _ := s.regional.Summaries(r.Context(), q)
	for _, sum := range summaries {
		if strings.EqualFold(sum.RegionName, name) {
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"data":    sum,
				"metadata": map[string]any{
					"query_date":   q.String(),
					"region_name":  name,
					"generated_at": s.clock.Now().UTC().Format(time.RFC3339),
				},
			})
			return
		}
	}

	writeError(w, http.StatusNotFound, fmt.Sprintf("Region '%s' not found", name))
}

func (s *Server) handleAPIDates(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid limit: %s", v))
			return
		}
		limit = n
	}

	available, err := s.regional.AvailableDates(limit)
	if err != nil {
		log.Printf("api: available dates: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	days := make([]string, 0, len(available))
	for _, d := range available {
		days = append(days, d.Format("2006-01-02"))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": days})
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseDateParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid date format: %s", r.URL.Query().Get("date")))
		return
	}

	stats, status := s.regional.Statistics(r.Context(), q)
	if stats == nil {
		writeError(w, http.StatusNotFound, status)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    stats,
		"metadata": map[string]any{
			"query_date": q.String(),
			"status":     status,
		},
	})
}

func (s *Server) handleAPICache(w http.ResponseWriter, r *http.Request) {
	entries, err := s.regional.CacheInfo()
	if err != nil {
		log.Printf("api: cache info: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": entries})
}
