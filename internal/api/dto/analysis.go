package dto

// AnalyzeRequest is the body of POST /api/analyze-ips.
type AnalyzeRequest struct {
	IPAddresses []string `json:"ipAddresses"`
}

// ThreatDetails carries the per-category flags and the raw category names the
// reputation feed reported for an address.
type ThreatDetails struct {
	Malware    bool     `json:"malware"`
	Phishing   bool     `json:"phishing"`
	Spam       bool     `json:"spam"`
	Botnet     bool     `json:"botnet"`
	Proxy      bool     `json:"proxy"`
	Tor        bool     `json:"tor"`
	Categories []string `json:"categories"`
	LastSeen   string   `json:"lastSeen,omitempty"`
}

// AnalysisResult is the canonical per-IP output unit returned by the analyze
// endpoint, one entry per requested address in request order.
type AnalysisResult struct {
	IP          string        `json:"ip"`
	Status      string        `json:"status"`
	ThreatLevel string        `json:"threatLevel"`
	ThreatType  string        `json:"threatType"`
	Location    string        `json:"location"`
	ISP         string        `json:"isp"`
	Confidence  int           `json:"confidence"`
	Reputation  int           `json:"reputation"`
	Details     ThreatDetails `json:"details"`
	LastSeen    string        `json:"lastSeen,omitempty"`
}
