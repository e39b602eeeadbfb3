package analysis

import (
	"context"
	"time"

	"ipscope/internal/api/dto"
	"ipscope/internal/domain"
	"ipscope/internal/providers/abuseipdb"
	"ipscope/internal/providers/geoip"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Store is the cache the analyzer reads and writes, one row per IP.
type Store interface {
	// GetByIP returns the cached row for an address, or nil when there is
	// none.
	GetByIP(ip string) (*domain.IPAnalysis, error)
	// Upsert inserts or replaces the row for rec.IP. The threat freshness
	// timestamp is only written when refreshThreat is set, so a pass that
	// reused cached threat data cannot silently extend its freshness.
	Upsert(rec *domain.IPAnalysis, refreshThreat bool) error
}

// ThreatProvider is the reputation collaborator. (nil, nil) means no data is
// available, which is not an error for the pipeline.
type ThreatProvider interface {
	Check(ctx context.Context, ip string) (*abuseipdb.ThreatData, error)
}

// Settings is the snapshot of tunables one batch runs with.
type Settings struct {
	Threads      int
	ThreatMaxAge time.Duration
}

const (
	defaultThreads      = 4
	defaultThreatMaxAge = 24 * time.Hour
)

// Analyzer drives the per-IP pipeline: read cache, gate freshness, fetch
// what is stale, classify, write back. All collaborators are explicit
// construction-time dependencies.
type Analyzer struct {
	store    Store
	geo      geoip.Provider
	threat   ThreatProvider
	settings func() Settings
	now      func() time.Time
	flight   singleflight.Group
}

type Option func(*Analyzer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		a.now = now
	}
}

// New builds an analyzer. settings is consulted at the start of every batch
// so configuration updates apply without rebuilding the analyzer; nil means
// defaults.
func New(store Store, geo geoip.Provider, threat ThreatProvider, settings func() Settings, opts ...Option) *Analyzer {
	a := &Analyzer{
		store:    store,
		geo:      geo,
		threat:   threat,
		settings: settings,
		now:      time.Now,
	}

	if a.settings == nil {
		a.settings = func() Settings { return Settings{} }
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// AnalyzeIPs analyzes every address in ips and returns one result per input,
// in input order. Duplicated inputs produce duplicated results. Failures are
// per address: a lookup problem for one IP becomes an error-status result in
// its slot and never aborts the batch.
func (a *Analyzer) AnalyzeIPs(ctx context.Context, ips []string) []dto.AnalysisResult {
	settings := a.settings()
	if settings.Threads < 1 {
		settings.Threads = defaultThreads
	}
	if settings.ThreatMaxAge <= 0 {
		settings.ThreatMaxAge = defaultThreatMaxAge
	}

	results := make([]dto.AnalysisResult, len(ips))

	var group errgroup.Group
	group.SetLimit(settings.Threads)

	for i, ip := range ips {
		group.Go(func() error {
			// Same-IP requests in flight share one pipeline run, which keeps
			// the read-decide-fetch-write sequence atomic per address.
			v, _, _ := a.flight.Do(ip, func() (any, error) {
				return a.analyzeOne(ctx, ip, settings), nil
			})
			results[i] = cloneResult(v.(dto.AnalysisResult))
			return nil
		})
	}

	_ = group.Wait()
	return results
}

func (a *Analyzer) analyzeOne(ctx context.Context, ip string, settings Settings) (result dto.AnalysisResult) {
	now := a.now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("analysis pipeline panicked", "ip", ip, "panic", r)
			result = Classify(ip, &geoip.GeoData{Status: geoip.StatusFail, Message: "Processing Error"}, nil, now)
		}
	}()

	rec, err := a.store.GetByIP(ip)
	if err != nil {
		// Degraded but functional: treat an unreadable cache as a miss.
		log.Warn("cache read failed", "ip", ip, "error", err)
		rec = nil
	}

	needGeo, needThreat := Freshness(rec, settings.ThreatMaxAge, now)

	var geo *geoip.GeoData
	if needGeo {
		geo, err = a.geo.Lookup(ctx, ip)
		if err != nil {
			log.Warn("geo lookup failed", "ip", ip, "error", err)
			return Classify(ip, &geoip.GeoData{Status: geoip.StatusFail}, nil, now)
		}
		if geo.Failed() {
			// Terminal for this address; nothing worth caching.
			return Classify(ip, geo, nil, now)
		}
	} else {
		geo = geoFromRecord(rec)
	}

	if !needThreat {
		// Threat data still fresh: reproduce the cached verdict. The write
		// only refreshes the geo side of the row.
		result = resultFromRecord(rec)
		if err := a.store.Upsert(buildRecord(ip, geo, result, rec, false, now), false); err != nil {
			log.Warn("cache write failed", "ip", ip, "error", err)
		}
		return result
	}

	threat, err := a.threat.Check(ctx, ip)
	if err != nil {
		log.Warn("threat lookup failed", "ip", ip, "error", err)
		threat = nil
	}

	result = Classify(ip, geo, threat, now)

	if err := a.store.Upsert(buildRecord(ip, geo, result, rec, threat != nil, now), threat != nil); err != nil {
		log.Warn("cache write failed", "ip", ip, "error", err)
	}

	return result
}

func cloneResult(result dto.AnalysisResult) dto.AnalysisResult {
	clone := result
	if result.Details.Categories != nil {
		clone.Details.Categories = append([]string(nil), result.Details.Categories...)
	}
	return clone
}
