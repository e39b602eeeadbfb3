package analysis

import (
	"encoding/json"
	"time"

	"ipscope/internal/api/dto"
	"ipscope/internal/domain"
	"ipscope/internal/providers/geoip"

	"github.com/charmbracelet/log"
)

// buildRecord assembles the cache row for one finished analysis. prev, when
// not nil, is the row being replaced; its threat timestamp is carried over
// when this pass did not fetch fresh threat data.
func buildRecord(ip string, geo *geoip.GeoData, result dto.AnalysisResult, prev *domain.IPAnalysis, threatFetched bool, now time.Time) *domain.IPAnalysis {
	rec := &domain.IPAnalysis{
		IP:           ip,
		Country:      geo.Country,
		Region:       geo.RegionName,
		City:         geo.City,
		ISP:          geo.ISP,
		Org:          geo.Org,
		Timezone:     geo.Timezone,
		Lat:          geo.Lat,
		Lon:          geo.Lon,
		Proxy:        geo.Proxy,
		Hosting:      geo.Hosting,
		Status:       result.Status,
		ThreatLevel:  result.ThreatLevel,
		ThreatType:   result.ThreatType,
		Confidence:   result.Confidence,
		Reputation:   result.Reputation,
		Categories:   domain.StringList(result.Details.Categories),
		GeoFetchedAt: now,
	}

	if details, err := json.Marshal(result.Details); err == nil {
		rec.Details = details
	} else {
		log.Warn("could not serialize analysis details", "ip", ip, "error", err)
	}

	if lastSeen, err := time.Parse(time.RFC3339, result.LastSeen); err == nil {
		utc := lastSeen.UTC()
		rec.LastSeen = &utc
	}

	if threatFetched {
		fetched := now
		rec.ThreatFetchedAt = &fetched
	} else if prev != nil {
		rec.ThreatFetchedAt = prev.ThreatFetchedAt
	}

	return rec
}

// resultFromRecord rebuilds the analysis result a cached row was written
// from, so a fresh cache hit reproduces the original response.
func resultFromRecord(rec *domain.IPAnalysis) dto.AnalysisResult {
	result := dto.AnalysisResult{
		IP:          rec.IP,
		Status:      rec.Status,
		ThreatLevel: rec.ThreatLevel,
		ThreatType:  rec.ThreatType,
		Location:    formatLocation(rec.City, rec.Country),
		ISP:         orUnknown(rec.ISP),
		Confidence:  rec.Confidence,
		Reputation:  rec.Reputation,
	}

	if len(rec.Details) > 0 {
		if err := json.Unmarshal(rec.Details, &result.Details); err != nil {
			log.Warn("could not parse cached analysis details", "ip", rec.IP, "error", err)
		}
	}
	if result.Details.Categories == nil {
		result.Details.Categories = rec.Categories.Clone()
	}

	if rec.LastSeen != nil {
		result.LastSeen = rec.LastSeen.UTC().Format(time.RFC3339)
	}

	return result
}

// geoFromRecord reconstructs the geo answer from cached columns so the
// classifier can run against fresh threat data without a new geo fetch.
func geoFromRecord(rec *domain.IPAnalysis) *geoip.GeoData {
	return &geoip.GeoData{
		Status:     geoip.StatusSuccess,
		Country:    rec.Country,
		RegionName: rec.Region,
		City:       rec.City,
		ISP:        rec.ISP,
		Org:        rec.Org,
		Timezone:   rec.Timezone,
		Lat:        rec.Lat,
		Lon:        rec.Lon,
		Proxy:      rec.Proxy,
		Hosting:    rec.Hosting,
		Query:      rec.IP,
	}
}
