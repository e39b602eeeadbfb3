package bootstrap

import (
	"time"

	"ipscope/internal/analysis"
	"ipscope/internal/app/server"
	"ipscope/internal/config"
	"ipscope/internal/database"
	"ipscope/internal/providers/abuseipdb"
	"ipscope/internal/providers/geoip"
	"ipscope/internal/support"

	"github.com/charmbracelet/log"
)

const defaultGeoTimeout = 10 * time.Second

// Setup loads configuration, connects the database and assembles the analysis
// pipeline. Called once before the routes open.
func Setup() {
	config.ReadSettings()

	if _, err := database.SetupDB(); err != nil {
		log.Fatalf("failed to set up database: %v", err)
	}

	geoProvider, err := buildGeoProvider(config.GetConfig())
	if err != nil {
		log.Fatalf("failed to set up geo provider: %v", err)
	}

	server.SetAnalyzer(analysis.New(
		database.AnalysisStore{},
		geoProvider,
		buildThreatClient(config.GetConfig()),
		analyzerSettings,
	))
}

// buildGeoProvider picks the geo backend once. Changing the provider in the
// settings afterwards requires a restart.
func buildGeoProvider(cfg config.Config) (geoip.Provider, error) {
	timeout := time.Duration(cfg.Geo.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultGeoTimeout
	}

	switch cfg.Geo.Provider {
	case geoip.ProviderGeoLite:
		provider, err := geoip.NewGeoLite(cfg.Geo.GeoLiteCityDB, cfg.Geo.GeoLiteASNDB)
		if err != nil {
			return nil, err
		}
		log.Info("Using local GeoLite2 databases for geo lookups")
		return provider, nil
	default:
		log.Debug("Using ip-api.com for geo lookups", "url", cfg.Geo.APIURL)
		return geoip.NewClient(cfg.Geo.APIURL, timeout), nil
	}
}

func buildThreatClient(cfg config.Config) *abuseipdb.Client {
	apiKey := support.GetEnv("ABUSEIPDB_API_KEY", "")
	if apiKey == "" {
		log.Warn("ABUSEIPDB_API_KEY not set, threat lookups disabled")
	}

	return abuseipdb.NewClient(cfg.AbuseIPDB.APIURL, apiKey, abuseipdb.Settings{
		MaxAgeInDays: int(cfg.AbuseIPDB.MaxAgeInDays),
		MaxAttempts:  int(cfg.AbuseIPDB.RetryMaxAttempts),
		Timeout:      time.Duration(cfg.AbuseIPDB.Timeout) * time.Millisecond,
		RetryDelay:   time.Duration(cfg.AbuseIPDB.RetryDelay) * time.Second,
		RetryGrace:   time.Duration(cfg.AbuseIPDB.RetryGrace) * time.Second,
	})
}

// analyzerSettings snapshots the tunables at the start of every batch so
// settings updates apply without rebuilding the pipeline.
func analyzerSettings() analysis.Settings {
	cfg := config.GetConfig()
	return analysis.Settings{
		Threads:      int(cfg.Analyzer.Threads),
		ThreatMaxAge: config.GetThreatMaxAge(),
	}
}
