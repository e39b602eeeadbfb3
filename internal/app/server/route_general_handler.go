package server

import (
	"encoding/json"
	"net/http"

	"ipscope/internal/config"
	"ipscope/internal/providers/geoip"

	"github.com/charmbracelet/log"
)

func getGlobalSettings(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(config.GetConfig())
}

func saveSettings(w http.ResponseWriter, r *http.Request) {
	var newConfig config.Config
	if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
		log.Error("Error decoding request body:", err)
		writeError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if msg := validateSettings(newConfig); msg != "" {
		writeError(w, msg, http.StatusBadRequest)
		return
	}

	previousCfg := config.GetConfig()
	config.SetConfig(newConfig)

	if previousCfg.Geo.Provider != newConfig.Geo.Provider {
		// The geo backend is constructed once at startup.
		log.Warn("Geo provider changed, restart required for it to take effect",
			"old", previousCfg.Geo.Provider, "new", newConfig.Geo.Provider)
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Configuration updated successfully"})
}

func validateSettings(cfg config.Config) string {
	switch cfg.Geo.Provider {
	case geoip.ProviderIPAPI, geoip.ProviderGeoLite:
	default:
		return "Unknown geo provider"
	}

	if cfg.Analyzer.Threads == 0 {
		return "Analyzer threads must be at least 1"
	}

	return ""
}
