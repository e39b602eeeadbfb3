package dto

// AnalysisStats feeds the dashboard charts: classification outcome breakdown,
// threat-level breakdown and the most frequent countries.
type AnalysisStats struct {
	Total        int64            `json:"total"`
	ByStatus     map[string]int64 `json:"by_status"`
	ByLevel      map[string]int64 `json:"by_level"`
	TopCountries []CountryCount   `json:"top_countries"`
}

type CountryCount struct {
	Country string `json:"country"`
	Count   int64  `json:"count"`
}
