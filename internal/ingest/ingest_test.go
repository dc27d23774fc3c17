package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func rawRecords(t *testing.T, body string) []json.RawMessage {
	t.Helper()
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	return raw
}

const validRecord = `{
	"data": "2020-03-01T18:00:00",
	"stato": "ITA",
	"codice_regione": 3,
	"denominazione_regione": "Lombardia",
	"codice_provincia": 15,
	"denominazione_provincia": "Milano",
	"sigla_provincia": "MI",
	"lat": 45.46,
	"long": 9.19,
	"totale_casi": 1520,
	"note": null
}`

func TestParseRecords_ValidRecord(t *testing.T) {
	records := ParseRecords(rawRecords(t, "["+validRecord+"]"))
	if len(records) != 1 {
		t.Fatalf("len = %d, want 1", len(records))
	}

	rec := records[0]
	want := time.Date(2020, 3, 1, 18, 0, 0, 0, time.UTC)
	if !rec.DataTimestamp.Equal(want) {
		t.Errorf("DataTimestamp = %v, want %v", rec.DataTimestamp, want)
	}
	if rec.RegionCode != 3 || rec.RegionName != "Lombardia" {
		t.Errorf("region = %d %q", rec.RegionCode, rec.RegionName)
	}
	if rec.ProvinceCode != 15 || rec.ProvinceName != "Milano" || rec.ProvinceAbbrev != "MI" {
		t.Errorf("province = %d %q %q", rec.ProvinceCode, rec.ProvinceName, rec.ProvinceAbbrev)
	}
	if rec.TotalCases != 1520 {
		t.Errorf("TotalCases = %d, want 1520", rec.TotalCases)
	}
}

func TestParseRecords_NegativeCasesClampToZero(t *testing.T) {
	body := strings.Replace(validRecord, `"totale_casi": 1520`, `"totale_casi": -5`, 1)
	records := ParseRecords(rawRecords(t, "["+body+"]"))
	if len(records) != 1 {
		t.Fatalf("len = %d, want 1", len(records))
	}
	if records[0].TotalCases != 0 {
		t.Errorf("TotalCases = %d, want 0", records[0].TotalCases)
	}
}

func TestParseRecords_SkipsPlaceholderProvinces(t *testing.T) {
	placeholders := []string{
		"In fase di definizione/aggiornamento",
		"In fase di definizione",
		"fuori Regione / Provincia Autonoma in aggiornamento",
		"",
		"   ",
	}
	for _, name := range placeholders {
		body := strings.Replace(validRecord, `"denominazione_provincia": "Milano"`,
			`"denominazione_provincia": `+mustJSON(name), 1)
		records := ParseRecords(rawRecords(t, "["+body+"]"))
		if len(records) != 0 {
			t.Errorf("province %q: len = %d, want 0", name, len(records))
		}
	}
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestParseRecords_SkipsInvalidRecords(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing timestamp", strings.Replace(validRecord, `"data": "2020-03-01T18:00:00",`, "", 1)},
		{"null region name", strings.Replace(validRecord, `"denominazione_regione": "Lombardia"`, `"denominazione_regione": null`, 1)},
		{"missing case count", strings.Replace(validRecord, `"totale_casi": 1520,`, "", 1)},
		{"bad timestamp", strings.Replace(validRecord, "2020-03-01T18:00:00", "not-a-date", 1)},
		{"non-numeric region code", strings.Replace(validRecord, `"codice_regione": 3`, `"codice_regione": "abc"`, 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			records := ParseRecords(rawRecords(t, "["+tc.body+"]"))
			if len(records) != 0 {
				t.Errorf("len = %d, want 0", len(records))
			}
		})
	}
}

func TestParseRecords_OneBadRecordDoesNotAbortBatch(t *testing.T) {
	bad := strings.Replace(validRecord, `"totale_casi": 1520`, `"totale_casi": "n/a"`, 1)
	records := ParseRecords(rawRecords(t, "["+validRecord+","+bad+"]"))
	if len(records) != 1 {
		t.Errorf("len = %d, want the valid record only", len(records))
	}
}

func TestParseRecords_NumericStringCodes(t *testing.T) {
	body := strings.Replace(validRecord, `"codice_provincia": 15`, `"codice_provincia": "15"`, 1)
	body = strings.Replace(body, `"totale_casi": 1520`, `"totale_casi": 1520.0`, 1)
	records := ParseRecords(rawRecords(t, "["+body+"]"))
	if len(records) != 1 {
		t.Fatalf("len = %d, want 1", len(records))
	}
	if records[0].ProvinceCode != 15 || records[0].TotalCases != 1520 {
		t.Errorf("got province %d, cases %d", records[0].ProvinceCode, records[0].TotalCases)
	}
}

func TestFetchLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[" + validRecord + "]"))
	}))
	defer srv.Close()

	client := NewFeedClient(srv.URL, srv.URL, srv.Client())
	records, err := client.FetchLatest(context.Background())
	if err != nil {
		t.Fatalf("FetchLatest: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("len = %d, want 1", len(records))
	}
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("[" + validRecord + "]"))
	}))
	defer srv.Close()

	client := NewFeedClient(srv.URL, srv.URL, srv.Client())
	records, err := client.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if len(records) != 1 {
		t.Errorf("len = %d, want 1", len(records))
	}
}

func TestFetch_NotFoundIsPermanent(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewFeedClient(srv.URL, srv.URL, srv.Client())
	if _, err := client.FetchAll(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want no retries on 404", attempts)
	}
}

func TestFetch_NonArrayBodyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": "maintenance"}`))
	}))
	defer srv.Close()

	client := NewFeedClient(srv.URL, srv.URL, srv.Client())
	_, err := client.FetchLatest(context.Background())
	if err == nil {
		t.Fatal("expected error for non-array body")
	}
	if !strings.Contains(err.Error(), "expected JSON array") {
		t.Errorf("err = %v", err)
	}
}
