// Package analysis holds the core of the service: the freshness gate that
// decides what must be refetched, the classifier that turns raw lookups into
// a normalized verdict, and the analyzer that drives the per-IP pipeline.
package analysis

import (
	"strings"
	"time"

	"ipscope/internal/api/dto"
	"ipscope/internal/providers/abuseipdb"
	"ipscope/internal/providers/geoip"
)

// Classification outcomes, mutually exclusive.
const (
	StatusSafe       = "safe"
	StatusSuspicious = "suspicious"
	StatusMalicious  = "malicious"
	StatusError      = "error"
)

const (
	LevelLow      = "low"
	LevelMedium   = "medium"
	LevelHigh     = "high"
	LevelCritical = "critical"
	LevelUnknown  = "unknown"
)

// ThreatTag names the dominant threat category of an address. The known
// categories form a closed set; anything else the feed reports becomes a
// sanitized free-form tag.
type ThreatTag string

const (
	TagNone              ThreatTag = "none"
	TagMalware           ThreatTag = "malware"
	TagPhishing          ThreatTag = "phishing"
	TagSpam              ThreatTag = "spam"
	TagBotnet            ThreatTag = "botnet"
	TagProxy             ThreatTag = "proxy"
	TagTor               ThreatTag = "tor"
	TagHosting           ThreatTag = "hosting"
	TagWhitelisted       ThreatTag = "whitelisted"
	TagGenericSuspicious ThreatTag = "generic_suspicious"
)

const unknownField = "Unknown"

// categoryPrecedence is tested in order; the first category present in the
// feed's list wins.
var categoryPrecedence = []struct {
	name string
	tag  ThreatTag
}{
	{"malware", TagMalware},
	{"phishing", TagPhishing},
	{"spam", TagSpam},
	{"botnet", TagBotnet},
	{"proxy", TagProxy},
	{"tor exit node", TagTor},
}

// Classify maps one address's geo answer and optional threat answer into the
// canonical analysis result. It is pure: no I/O, no mutation of its inputs,
// and deterministic for a given now.
func Classify(ip string, geo *geoip.GeoData, threat *abuseipdb.ThreatData, now time.Time) dto.AnalysisResult {
	if geo.Failed() {
		message := "Geo-IP API Error"
		if geo != nil && geo.Message != "" {
			message = geo.Message
		}
		return dto.AnalysisResult{
			IP:          ip,
			Status:      StatusError,
			ThreatLevel: LevelUnknown,
			ThreatType:  message,
			Location:    unknownField,
			ISP:         unknownField,
		}
	}

	result := dto.AnalysisResult{
		IP:          ip,
		Status:      StatusSafe,
		ThreatLevel: LevelLow,
		ThreatType:  string(TagNone),
		Location:    formatLocation(geo.City, geo.Country),
		ISP:         orUnknown(geo.ISP),
		Confidence:  0,
		Reputation:  100,
	}
	result.Details.Proxy = geo.Proxy
	result.Details.Tor = geo.Query == "Tor"

	switch {
	case threat != nil:
		applyThreatData(&result, threat)
	case geo.Proxy || geo.Hosting:
		// No reputation data; proxy or hosting infrastructure alone is a
		// moderate signal.
		result.Status = StatusSuspicious
		result.ThreatLevel = LevelMedium
		result.Confidence = 50
		result.Reputation = 50
		if geo.Proxy {
			result.ThreatType = string(TagProxy)
		} else {
			result.ThreatType = string(TagHosting)
		}
	}

	if result.Details.LastSeen != "" {
		result.LastSeen = result.Details.LastSeen
	} else {
		result.LastSeen = now.UTC().Format(time.RFC3339)
	}

	return result
}

func applyThreatData(result *dto.AnalysisResult, threat *abuseipdb.ThreatData) {
	confidence := threat.AbuseConfidenceScore
	result.Confidence = confidence
	result.Reputation = 100 - confidence

	result.Details.Categories = append([]string(nil), threat.Categories...)

	if threat.IsWhitelisted {
		// Whitelisting beats every other signal.
		result.Status = StatusSafe
		result.ThreatLevel = LevelLow
		result.ThreatType = string(TagWhitelisted)
		result.Confidence = 0
		result.Reputation = 100
	} else {
		switch {
		case confidence >= 90:
			result.Status = StatusMalicious
			result.ThreatLevel = LevelCritical
		case confidence >= 70:
			result.Status = StatusMalicious
			result.ThreatLevel = LevelHigh
		case confidence >= 40:
			result.Status = StatusSuspicious
			result.ThreatLevel = LevelMedium
		case confidence > 0:
			result.Status = StatusSuspicious
			result.ThreatLevel = LevelLow
		}

		result.ThreatType = string(deriveThreatTag(threat.Categories, confidence, &result.Details))
	}

	if threat.LastReportedAt != "" {
		result.Details.LastSeen = toISO(threat.LastReportedAt)
	}
}

// deriveThreatTag picks the dominant category by fixed precedence and flips
// the matching detail flag. Unrecognized categories fall through to a
// sanitized free-form tag.
func deriveThreatTag(categories []string, confidence int, details *dto.ThreatDetails) ThreatTag {
	for _, known := range categoryPrecedence {
		for _, category := range categories {
			if strings.EqualFold(strings.TrimSpace(category), known.name) {
				setDetailFlag(details, known.tag)
				return known.tag
			}
		}
	}

	if len(categories) > 0 {
		return ThreatTag(sanitizeCategory(categories[0]))
	}
	if confidence > 0 {
		return TagGenericSuspicious
	}
	return TagNone
}

func setDetailFlag(details *dto.ThreatDetails, tag ThreatTag) {
	switch tag {
	case TagMalware:
		details.Malware = true
	case TagPhishing:
		details.Phishing = true
	case TagSpam:
		details.Spam = true
	case TagBotnet:
		details.Botnet = true
	case TagProxy:
		details.Proxy = true
	case TagTor:
		details.Tor = true
	}
}

func sanitizeCategory(category string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(category)), "_")
}

func formatLocation(city, country string) string {
	return orUnknown(city) + ", " + orUnknown(country)
}

func orUnknown(value string) string {
	if strings.TrimSpace(value) == "" {
		return unknownField
	}
	return value
}

// toISO normalizes the feed's report timestamp to UTC RFC 3339. The raw value
// is kept when it does not parse.
func toISO(timestamp string) string {
	parsed, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return timestamp
	}
	return parsed.UTC().Format(time.RFC3339)
}
