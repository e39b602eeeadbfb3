package analysis

import (
	"time"

	"ipscope/internal/domain"
)

// Freshness decides, for one cached row, whether geo data and threat data
// must be refetched. It is a pure decision; the analyzer acts on it.
//
// Geo data has no TTL: once an address has been resolved the cached location
// is reused forever. Threat data expires after maxAge; a row without a threat
// timestamp (for example when the first write happened before the reputation
// branch ran) always triggers a refetch.
func Freshness(rec *domain.IPAnalysis, maxAge time.Duration, now time.Time) (needGeoFetch, needThreatFetch bool) {
	if rec == nil {
		return true, true
	}

	if rec.ThreatFetchedAt == nil {
		return false, true
	}

	return false, now.Sub(*rec.ThreatFetchedAt) >= maxAge
}
