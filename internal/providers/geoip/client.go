package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// requestedFields is the fixed field-selection list sent to ip-api.com.
const requestedFields = "status,message,country,regionName,city,isp,org,timezone,lat,lon,proxy,hosting,query"

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns an ip-api.com client. baseURL is the service root
// without a trailing slash, e.g. "http://ip-api.com/json".
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Lookup(ctx context.Context, ip string) (*GeoData, error) {
	url := fmt.Sprintf("%s/%s?fields=%s", c.baseURL, ip, requestedFields)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("geoip: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geoip: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geoip: unexpected status %d", resp.StatusCode)
	}

	var data GeoData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("geoip: decode response: %w", err)
	}

	return &data, nil
}
