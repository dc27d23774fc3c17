package ingest

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gmarchetti/coviditaly/internal/models"
)

// feedRecord mirrors one element of the upstream JSON array. Pointer fields
// distinguish absent/null from zero; json.Number tolerates codes sent as
// either numbers or numeric strings.
type feedRecord struct {
	Data                   *string      `json:"data"`
	Stato                  *string      `json:"stato"`
	CodiceRegione          *json.Number `json:"codice_regione"`
	DenominazioneRegione   *string      `json:"denominazione_regione"`
	CodiceProvincia        *json.Number `json:"codice_provincia"`
	DenominazioneProvincia *string      `json:"denominazione_provincia"`
	SiglaProvincia         *string      `json:"sigla_provincia"`
	Lat                    *float64     `json:"lat"`
	Long                   *float64     `json:"long"`
	TotaleCasi             *json.Number `json:"totale_casi"`
	Note                   *string      `json:"note"`
	CodiceNuts1            *string      `json:"codice_nuts_1"`
	CodiceNuts2            *string      `json:"codice_nuts_2"`
	CodiceNuts3            *string      `json:"codice_nuts_3"`
}

// Placeholder province names the upstream uses while data is pending.
var placeholderFragments = []string{"fase di definizione", "aggiornamento"}

// ParseRecords validates and normalizes raw feed records. Invalid records are
// logged and skipped, never aborting the batch.
func ParseRecords(raw []json.RawMessage) []models.ProvinceCase {
	var result []models.ProvinceCase
	skipped := 0

	for _, msg := range raw {
		rec, ok := parseRecord(msg)
		if !ok {
			skipped++
			continue
		}
		result = append(result, rec)
	}

	if skipped > 0 {
		log.Printf("ingest: skipped %d invalid records, kept %d", skipped, len(result))
	}
	return result
}

func parseRecord(msg json.RawMessage) (models.ProvinceCase, bool) {
	var fr feedRecord
	if err := json.Unmarshal(msg, &fr); err != nil {
		log.Printf("ingest: skipping malformed record: %v", err)
		return models.ProvinceCase{}, false
	}

	if fr.Data == nil || fr.Stato == nil || fr.CodiceRegione == nil || fr.DenominazioneRegione == nil ||
		fr.CodiceProvincia == nil || fr.DenominazioneProvincia == nil || fr.TotaleCasi == nil {
		log.Printf("ingest: skipping record with missing required fields")
		return models.ProvinceCase{}, false
	}

	provinceName := strings.TrimSpace(*fr.DenominazioneProvincia)
	if isPlaceholderProvince(provinceName) {
		return models.ProvinceCase{}, false
	}

	ts, err := parseFeedTime(*fr.Data)
	if err != nil {
		log.Printf("ingest: skipping record with bad timestamp %q: %v", *fr.Data, err)
		return models.ProvinceCase{}, false
	}

	regionCode, ok := numberToInt(*fr.CodiceRegione)
	if !ok {
		log.Printf("ingest: skipping record with bad region code %q", fr.CodiceRegione.String())
		return models.ProvinceCase{}, false
	}
	provinceCode, ok := numberToInt(*fr.CodiceProvincia)
	if !ok {
		log.Printf("ingest: skipping record with bad province code %q", fr.CodiceProvincia.String())
		return models.ProvinceCase{}, false
	}
	totalCases, ok := numberToInt(*fr.TotaleCasi)
	if !ok {
		log.Printf("ingest: skipping record with bad case count %q", fr.TotaleCasi.String())
		return models.ProvinceCase{}, false
	}
	if totalCases < 0 {
		totalCases = 0
	}

	return models.ProvinceCase{
		DataTimestamp:  ts,
		Country:        strings.TrimSpace(*fr.Stato),
		RegionCode:     regionCode,
		RegionName:     strings.TrimSpace(*fr.DenominazioneRegione),
		ProvinceCode:   provinceCode,
		ProvinceName:   provinceName,
		ProvinceAbbrev: trimmed(fr.SiglaProvincia),
		Lat:            floatOrZero(fr.Lat),
		Long:           floatOrZero(fr.Long),
		TotalCases:     totalCases,
		Note:           trimmed(fr.Note),
		NUTS1:          trimmed(fr.CodiceNuts1),
		NUTS2:          trimmed(fr.CodiceNuts2),
		NUTS3:          trimmed(fr.CodiceNuts3),
	}, true
}

func isPlaceholderProvince(name string) bool {
	if name == "" {
		return true
	}
	lower := strings.ToLower(name)
	for _, fragment := range placeholderFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// parseFeedTime handles the feed's ISO-ish timestamps, with or without the
// 'T' separator and trailing 'Z'. Values are taken as UTC.
func parseFeedTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "Z")
	s = strings.Replace(s, "T", " ", 1)
	return time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC)
}

// numberToInt accepts integer and float forms, truncating the latter.
func numberToInt(n json.Number) (int, bool) {
	if i, err := n.Int64(); err == nil {
		return int(i), true
	}
	f, err := n.Float64()
	if err != nil {
		return 0, false
	}
	return int(f), true
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func floatOrZero(f *float64) float64 {
	if f == nil {
		return 0.0
	}
	return *f
}
