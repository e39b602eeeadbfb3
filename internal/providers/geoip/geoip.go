// Package geoip resolves an IPv4 address to location and network-ownership
// data, either through the ip-api.com web service or a local GeoLite2
// database.
package geoip

import "context"

const (
	StatusSuccess = "success"
	StatusFail    = "fail"
)

// Provider names accepted in the geo settings block.
const (
	ProviderIPAPI   = "ip-api"
	ProviderGeoLite = "geolite"
)

// GeoData is the geo-lookup answer for one address. Status is "success" or
// "fail"; on failure Message carries the service's explanation and every
// other field is meaningless.
type GeoData struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	ISP        string  `json:"isp"`
	Org        string  `json:"org"`
	Timezone   string  `json:"timezone"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Proxy      bool    `json:"proxy"`
	Hosting    bool    `json:"hosting"`
	Query      string  `json:"query"`
}

// Failed reports whether the lookup answer is a terminal failure.
func (g *GeoData) Failed() bool {
	return g == nil || g.Status != StatusSuccess
}

// Provider looks up geo data for a single address. A returned error means the
// collaborator was unreachable or answered garbage; a well-formed failure
// answer comes back as GeoData with Status "fail" and a nil error.
type Provider interface {
	Lookup(ctx context.Context, ip string) (*GeoData, error)
}
