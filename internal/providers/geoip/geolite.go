package geoip

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// GeoLite answers geo lookups from local MaxMind databases instead of the web
// service. Proxy and hosting flags are not available locally and stay false.
type GeoLite struct {
	cityDB *geoip2.Reader
	asnDB  *geoip2.Reader
}

// NewGeoLite opens the City database at cityPath and, when asnPath is not
// empty, the ASN database used to fill the ISP and Org fields.
func NewGeoLite(cityPath, asnPath string) (*GeoLite, error) {
	cityDB, err := geoip2.Open(cityPath)
	if err != nil {
		return nil, fmt.Errorf("geoip: open city database: %w", err)
	}

	g := &GeoLite{cityDB: cityDB}

	if asnPath != "" {
		asnDB, err := geoip2.Open(asnPath)
		if err != nil {
			cityDB.Close()
			return nil, fmt.Errorf("geoip: open asn database: %w", err)
		}
		g.asnDB = asnDB
	}

	return g, nil
}

func (g *GeoLite) Lookup(_ context.Context, ip string) (*GeoData, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return &GeoData{Status: StatusFail, Message: "invalid query", Query: ip}, nil
	}

	record, err := g.cityDB.City(parsed)
	if err != nil {
		return nil, fmt.Errorf("geoip: city lookup: %w", err)
	}

	if record.Country.IsoCode == "" {
		return &GeoData{Status: StatusFail, Message: "IP not found", Query: ip}, nil
	}

	data := &GeoData{
		Status:   StatusSuccess,
		Country:  record.Country.Names["en"],
		City:     record.City.Names["en"],
		Timezone: record.Location.TimeZone,
		Lat:      record.Location.Latitude,
		Lon:      record.Location.Longitude,
		Query:    ip,
	}

	if len(record.Subdivisions) > 0 {
		data.RegionName = record.Subdivisions[0].Names["en"]
	}

	if g.asnDB != nil {
		if asn, err := g.asnDB.ASN(parsed); err == nil {
			data.ISP = asn.AutonomousSystemOrganization
			data.Org = asn.AutonomousSystemOrganization
		}
	}

	return data, nil
}

func (g *GeoLite) Close() error {
	var firstErr error
	if g.cityDB != nil {
		firstErr = g.cityDB.Close()
	}
	if g.asnDB != nil {
		if err := g.asnDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
