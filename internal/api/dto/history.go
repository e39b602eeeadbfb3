package dto

import "time"

// AnalysisRow is one line of the cached-results table.
type AnalysisRow struct {
	IP          string    `json:"ip"`
	Status      string    `json:"status"`
	ThreatLevel string    `json:"threat_level"`
	ThreatType  string    `json:"threat_type"`
	Country     string    `json:"country"`
	City        string    `json:"city"`
	ISP         string    `json:"isp"`
	Confidence  int       `json:"confidence"`
	Reputation  int       `json:"reputation"`
	AnalyzedAt  time.Time `json:"analyzed_at"`
}

type AnalysisPage struct {
	Analyses []AnalysisRow `json:"analyses"`
	Total    int64         `json:"total"`
}
