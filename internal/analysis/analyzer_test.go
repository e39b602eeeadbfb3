package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ipscope/internal/domain"
	"ipscope/internal/providers/abuseipdb"
	"ipscope/internal/providers/geoip"
)

type upsertCall struct {
	rec           *domain.IPAnalysis
	refreshThreat bool
}

type stubStore struct {
	mu      sync.Mutex
	records map[string]*domain.IPAnalysis
	getErr  error
	upserts []upsertCall
}

func (s *stubStore) GetByIP(ip string) (*domain.IPAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.records[ip], nil
}

func (s *stubStore) Upsert(rec *domain.IPAnalysis, refreshThreat bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, upsertCall{rec: rec, refreshThreat: refreshThreat})
	return nil
}

func (s *stubStore) upsertCalls() []upsertCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]upsertCall(nil), s.upserts...)
}

type stubGeo struct {
	mu      sync.Mutex
	answers map[string]*geoip.GeoData
	errs    map[string]error
	calls   map[string]int
}

func (g *stubGeo) Lookup(ctx context.Context, ip string) (*geoip.GeoData, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.calls == nil {
		g.calls = make(map[string]int)
	}
	g.calls[ip]++
	if err := g.errs[ip]; err != nil {
		return nil, err
	}
	if answer := g.answers[ip]; answer != nil {
		return answer, nil
	}
	return &geoip.GeoData{
		Status:  geoip.StatusSuccess,
		Country: "Germany",
		City:    "Berlin",
		ISP:     "Deutsche Telekom",
		Query:   ip,
	}, nil
}

func (g *stubGeo) callCount(ip string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[ip]
}

type stubThreat struct {
	mu      sync.Mutex
	answers map[string]*abuseipdb.ThreatData
	errs    map[string]error
	calls   map[string]int
}

func (s *stubThreat) Check(ctx context.Context, ip string) (*abuseipdb.ThreatData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[ip]++
	if err := s.errs[ip]; err != nil {
		return nil, err
	}
	return s.answers[ip], nil
}

func (s *stubThreat) callCount(ip string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[ip]
}

func newTestAnalyzer(store *stubStore, geo *stubGeo, threat *stubThreat) *Analyzer {
	settings := func() Settings {
		return Settings{Threads: 2, ThreatMaxAge: 24 * time.Hour}
	}
	return New(store, geo, threat, settings, WithClock(func() time.Time { return testNow }))
}

func TestAnalyzeIPsPreservesInputOrder(t *testing.T) {
	store := &stubStore{}
	geo := &stubGeo{}
	threat := &stubThreat{}
	analyzer := newTestAnalyzer(store, geo, threat)

	ips := []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}
	results := analyzer.AnalyzeIPs(context.Background(), ips)

	if len(results) != len(ips) {
		t.Fatalf("got %d results, want %d", len(results), len(ips))
	}
	for i, ip := range ips {
		if results[i].IP != ip {
			t.Errorf("results[%d].IP = %q, want %q", i, results[i].IP, ip)
		}
	}
}

func TestAnalyzeIPsIsolatesFailures(t *testing.T) {
	store := &stubStore{}
	geo := &stubGeo{errs: map[string]error{"2.2.2.2": errors.New("connection refused")}}
	threat := &stubThreat{}
	analyzer := newTestAnalyzer(store, geo, threat)

	results := analyzer.AnalyzeIPs(context.Background(), []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"})

	if results[1].Status != StatusError {
		t.Errorf("failing IP: Status = %q, want %q", results[1].Status, StatusError)
	}
	if results[0].Status != StatusSafe || results[2].Status != StatusSafe {
		t.Errorf("healthy IPs affected by the failure: %q / %q", results[0].Status, results[2].Status)
	}
}

func TestAnalyzeIPsAllowsDuplicates(t *testing.T) {
	store := &stubStore{}
	geo := &stubGeo{}
	threat := &stubThreat{}
	analyzer := newTestAnalyzer(store, geo, threat)

	results := analyzer.AnalyzeIPs(context.Background(), []string{"1.1.1.1", "1.1.1.1"})

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i := range results {
		if results[i].IP != "1.1.1.1" || results[i].Status != StatusSafe {
			t.Errorf("results[%d] = %s/%s, want a full verdict per duplicate", i, results[i].IP, results[i].Status)
		}
	}
}

func TestAnalyzeIPsGeoFailureAnswerNotCached(t *testing.T) {
	store := &stubStore{}
	geo := &stubGeo{answers: map[string]*geoip.GeoData{
		"10.0.0.1": {Status: geoip.StatusFail, Message: "private range", Query: "10.0.0.1"},
	}}
	threat := &stubThreat{}
	analyzer := newTestAnalyzer(store, geo, threat)

	results := analyzer.AnalyzeIPs(context.Background(), []string{"10.0.0.1"})

	if results[0].Status != StatusError {
		t.Fatalf("Status = %q, want %q", results[0].Status, StatusError)
	}
	if results[0].ThreatType != "private range" {
		t.Errorf("ThreatType = %q, want the provider message", results[0].ThreatType)
	}
	if calls := threat.callCount("10.0.0.1"); calls != 0 {
		t.Errorf("threat provider called %d times after a geo failure, want 0", calls)
	}
	if len(store.upsertCalls()) != 0 {
		t.Error("geo failure was written to the cache")
	}
}

func TestAnalyzeIPsFreshCacheHit(t *testing.T) {
	fetched := testNow.Add(-time.Hour)
	store := &stubStore{records: map[string]*domain.IPAnalysis{
		"1.1.1.1": {
			IP:              "1.1.1.1",
			Country:         "Germany",
			City:            "Berlin",
			ISP:             "Deutsche Telekom",
			Status:          StatusMalicious,
			ThreatLevel:     LevelCritical,
			ThreatType:      string(TagMalware),
			Confidence:      95,
			Reputation:      5,
			Categories:      domain.StringList{"malware"},
			ThreatFetchedAt: &fetched,
		},
	}}
	geo := &stubGeo{}
	threat := &stubThreat{}
	analyzer := newTestAnalyzer(store, geo, threat)

	results := analyzer.AnalyzeIPs(context.Background(), []string{"1.1.1.1"})

	if geo.callCount("1.1.1.1") != 0 {
		t.Error("geo lookup performed for a cached address")
	}
	if threat.callCount("1.1.1.1") != 0 {
		t.Error("threat lookup performed while the cached data was fresh")
	}

	result := results[0]
	if result.Status != StatusMalicious || result.ThreatLevel != LevelCritical {
		t.Errorf("verdict = %s/%s, want the cached malicious/critical", result.Status, result.ThreatLevel)
	}
	if result.Confidence != 95 || result.Reputation != 5 {
		t.Errorf("Confidence/Reputation = %d/%d, want 95/5", result.Confidence, result.Reputation)
	}
	if len(result.Details.Categories) != 1 || result.Details.Categories[0] != "malware" {
		t.Errorf("Details.Categories = %v, want the cached categories", result.Details.Categories)
	}

	calls := store.upsertCalls()
	if len(calls) != 1 {
		t.Fatalf("got %d cache writes, want 1", len(calls))
	}
	if calls[0].refreshThreat {
		t.Error("cache hit refreshed the threat timestamp")
	}
	if calls[0].rec.ThreatFetchedAt == nil || !calls[0].rec.ThreatFetchedAt.Equal(fetched) {
		t.Error("cache hit did not carry the previous threat timestamp over")
	}
}

func TestAnalyzeIPsStaleThreatRefetch(t *testing.T) {
	fetched := testNow.Add(-25 * time.Hour)
	store := &stubStore{records: map[string]*domain.IPAnalysis{
		"1.1.1.1": {
			IP:              "1.1.1.1",
			Country:         "Germany",
			City:            "Berlin",
			ISP:             "Deutsche Telekom",
			Status:          StatusSafe,
			ThreatLevel:     LevelLow,
			ThreatType:      string(TagNone),
			Reputation:      100,
			ThreatFetchedAt: &fetched,
		},
	}}
	geo := &stubGeo{}
	threat := &stubThreat{answers: map[string]*abuseipdb.ThreatData{
		"1.1.1.1": {AbuseConfidenceScore: 95, Categories: []string{"malware"}},
	}}
	analyzer := newTestAnalyzer(store, geo, threat)

	results := analyzer.AnalyzeIPs(context.Background(), []string{"1.1.1.1"})

	if geo.callCount("1.1.1.1") != 0 {
		t.Error("geo lookup performed although location data never expires")
	}
	if threat.callCount("1.1.1.1") != 1 {
		t.Errorf("threat lookups = %d, want 1 for a stale record", threat.callCount("1.1.1.1"))
	}

	if results[0].Status != StatusMalicious || results[0].ThreatType != string(TagMalware) {
		t.Errorf("verdict = %s/%s, want reclassified malicious/malware", results[0].Status, results[0].ThreatType)
	}

	calls := store.upsertCalls()
	if len(calls) != 1 {
		t.Fatalf("got %d cache writes, want 1", len(calls))
	}
	if !calls[0].refreshThreat {
		t.Error("successful threat fetch did not refresh the threat timestamp")
	}
	if calls[0].rec.ThreatFetchedAt == nil || !calls[0].rec.ThreatFetchedAt.Equal(testNow) {
		t.Error("threat timestamp not set to the fetch time")
	}
}

func TestAnalyzeIPsFailedThreatFetchKeepsTimestamp(t *testing.T) {
	fetched := testNow.Add(-25 * time.Hour)
	store := &stubStore{records: map[string]*domain.IPAnalysis{
		"1.1.1.1": {
			IP:              "1.1.1.1",
			Country:         "Germany",
			City:            "Berlin",
			Status:          StatusSafe,
			ThreatLevel:     LevelLow,
			ThreatType:      string(TagNone),
			Reputation:      100,
			ThreatFetchedAt: &fetched,
		},
	}}
	geo := &stubGeo{}
	threat := &stubThreat{errs: map[string]error{"1.1.1.1": errors.New("service unavailable")}}
	analyzer := newTestAnalyzer(store, geo, threat)

	results := analyzer.AnalyzeIPs(context.Background(), []string{"1.1.1.1"})

	// Without threat data the verdict falls back to the geo-only branch.
	if results[0].Status != StatusSafe {
		t.Errorf("Status = %q, want safe without reputation data", results[0].Status)
	}

	calls := store.upsertCalls()
	if len(calls) != 1 {
		t.Fatalf("got %d cache writes, want 1", len(calls))
	}
	if calls[0].refreshThreat {
		t.Error("failed threat fetch must not refresh the threat timestamp")
	}
	if calls[0].rec.ThreatFetchedAt == nil || !calls[0].rec.ThreatFetchedAt.Equal(fetched) {
		t.Error("failed threat fetch dropped the previous timestamp, record would never look stale")
	}
}

func TestAnalyzeIPsUnreadableCacheTreatedAsMiss(t *testing.T) {
	store := &stubStore{getErr: errors.New("connection reset")}
	geo := &stubGeo{}
	threat := &stubThreat{}
	analyzer := newTestAnalyzer(store, geo, threat)

	results := analyzer.AnalyzeIPs(context.Background(), []string{"1.1.1.1"})

	if results[0].Status != StatusSafe {
		t.Errorf("Status = %q, want a full pipeline run on cache errors", results[0].Status)
	}
	if geo.callCount("1.1.1.1") != 1 {
		t.Errorf("geo lookups = %d, want 1", geo.callCount("1.1.1.1"))
	}
}
