package domain

import (
	"errors"
	"net"
	"time"
)

// IPAnalysis is the cache row for a single analyzed address. There is exactly
// one row per IP; every later analysis of the same IP updates it in place.
type IPAnalysis struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`
	IP string `gorm:"size:15;not null;uniqueIndex"`

	// Geo fields
	Country  string  `gorm:"size:56"`
	Region   string  `gorm:"size:85"`
	City     string  `gorm:"size:85"`
	ISP      string  `gorm:"size:255"`
	Org      string  `gorm:"size:255"`
	Timezone string  `gorm:"size:40"`
	Lat      float64 `gorm:"type:numeric(9,5)"`
	Lon      float64 `gorm:"type:numeric(9,5)"`
	Proxy    bool
	Hosting  bool

	// Classification fields
	Status      string     `gorm:"size:16;not null;index"`
	ThreatLevel string     `gorm:"size:16;not null"`
	ThreatType  string     `gorm:"size:64;not null"`
	Confidence  int        `gorm:"not null"`
	Reputation  int        `gorm:"not null"`
	Categories  StringList `gorm:"type:jsonb"`
	Details     []byte     `gorm:"type:jsonb"`
	LastSeen    *time.Time

	// Independent freshness timestamps. Geo data is treated as stable once
	// known; threat data goes stale after the configured window.
	GeoFetchedAt    time.Time
	ThreatFetchedAt *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (a *IPAnalysis) SetIP(ip string) error {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return errors.New("invalid IP address")
	}
	ipv4 := parsed.To4()
	if ipv4 == nil {
		return errors.New("only IPv4 addresses are supported")
	}
	a.IP = ipv4.String()
	return nil
}

// HasThreatData reports whether the row carries data from a successful
// reputation lookup. A row written after a failed or skipped lookup keeps a
// nil threat timestamp so the next analysis refetches.
func (a *IPAnalysis) HasThreatData() bool {
	return a.ThreatFetchedAt != nil
}
