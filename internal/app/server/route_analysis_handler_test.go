package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ipscope/internal/analysis"
	"ipscope/internal/api/dto"
	"ipscope/internal/domain"
	"ipscope/internal/providers/abuseipdb"
	"ipscope/internal/providers/geoip"
)

type memoryStore struct {
	records map[string]*domain.IPAnalysis
}

func (m *memoryStore) GetByIP(ip string) (*domain.IPAnalysis, error) {
	return m.records[ip], nil
}

func (m *memoryStore) Upsert(rec *domain.IPAnalysis, refreshThreat bool) error {
	if m.records == nil {
		m.records = make(map[string]*domain.IPAnalysis)
	}
	m.records[rec.IP] = rec
	return nil
}

type fixedGeo struct{}

func (fixedGeo) Lookup(ctx context.Context, ip string) (*geoip.GeoData, error) {
	return &geoip.GeoData{
		Status:  geoip.StatusSuccess,
		Country: "Germany",
		City:    "Berlin",
		ISP:     "Deutsche Telekom",
		Query:   ip,
	}, nil
}

type noThreat struct{}

func (noThreat) Check(ctx context.Context, ip string) (*abuseipdb.ThreatData, error) {
	return nil, nil
}

func withTestAnalyzer(t *testing.T) {
	t.Helper()
	previous := ipAnalyzer
	t.Cleanup(func() { ipAnalyzer = previous })

	settings := func() analysis.Settings {
		return analysis.Settings{Threads: 2, ThreatMaxAge: 24 * time.Hour}
	}
	ipAnalyzer = analysis.New(&memoryStore{}, fixedGeo{}, noThreat{}, settings)
}

func TestAnalyzeIPsRejectsInvalidJSON(t *testing.T) {
	withTestAnalyzer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/analyze-ips", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	analyzeIPs(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestAnalyzeIPsRejectsEmptyList(t *testing.T) {
	withTestAnalyzer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/analyze-ips", strings.NewReader(`{"ipAddresses":[]}`))
	rec := httptest.NewRecorder()
	analyzeIPs(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestAnalyzeIPsReturnsResultsInOrder(t *testing.T) {
	withTestAnalyzer(t)

	body := `{"ipAddresses":["1.1.1.1","2.2.2.2"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/analyze-ips", strings.NewReader(body))
	rec := httptest.NewRecorder()
	analyzeIPs(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var results []dto.AnalysisResult
	if err := json.NewDecoder(rec.Body).Decode(&results); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].IP != "1.1.1.1" || results[1].IP != "2.2.2.2" {
		t.Errorf("results out of order: %s, %s", results[0].IP, results[1].IP)
	}
}

func TestAnalyzeIPsWithoutAnalyzer(t *testing.T) {
	previous := ipAnalyzer
	t.Cleanup(func() { ipAnalyzer = previous })
	ipAnalyzer = nil

	req := httptest.NewRequest(http.MethodPost, "/api/analyze-ips", strings.NewReader(`{"ipAddresses":["1.1.1.1"]}`))
	rec := httptest.NewRecorder()
	analyzeIPs(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestAnalyzeUploadParsesTextarea(t *testing.T) {
	withTestAnalyzer(t)

	form := strings.NewReader("ipTextarea=first+8.8.8.8+then+1.1.1.1+and+8.8.8.8+again")
	req := httptest.NewRequest(http.MethodPost, "/api/analyze-upload", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	analyzeUpload(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var results []dto.AnalysisResult
	if err := json.NewDecoder(rec.Body).Decode(&results); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want the duplicate collapsed to 2", len(results))
	}
	if results[0].IP != "8.8.8.8" || results[1].IP != "1.1.1.1" {
		t.Errorf("parsed order = %s, %s, want first-seen order", results[0].IP, results[1].IP)
	}
}

func TestAnalyzeUploadWithoutInput(t *testing.T) {
	withTestAnalyzer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/analyze-upload", nil)
	rec := httptest.NewRecorder()
	analyzeUpload(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGetHistoryPageRejectsInvalidPage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/history/abc", nil)
	req.SetPathValue("page", "abc")
	rec := httptest.NewRecorder()
	getHistoryPage(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestExportAnalysesRejectsUnknownFormat(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/export?format=pdf", nil)
	rec := httptest.NewRecorder()
	exportAnalyses(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestCsvRecords(t *testing.T) {
	lastSeen := time.Date(2025, 2, 28, 7, 30, 0, 0, time.UTC)
	analyses := []domain.IPAnalysis{
		{
			IP:          "1.1.1.1",
			Status:      "malicious",
			ThreatLevel: "critical",
			ThreatType:  "malware",
			Country:     "Germany",
			City:        "Berlin",
			ISP:         "Deutsche Telekom",
			Confidence:  95,
			Reputation:  5,
			Categories:  domain.StringList{"malware", "botnet"},
			LastSeen:    &lastSeen,
		},
	}

	records := csvRecords(analyses)

	if len(records) != 2 {
		t.Fatalf("got %d rows, want header plus one record", len(records))
	}
	if records[0][0] != "ip" {
		t.Errorf("header starts with %q, want ip", records[0][0])
	}

	row := records[1]
	if row[0] != "1.1.1.1" || row[1] != "malicious" || row[2] != "critical" {
		t.Errorf("row = %v, want ip/status/level first", row)
	}
	if row[11] != "malware;botnet" {
		t.Errorf("categories column = %q, want semicolon-joined", row[11])
	}
	if row[12] != "2025-02-28T07:30:00Z" {
		t.Errorf("last_seen column = %q, want RFC 3339", row[12])
	}
}
