// Package abuseipdb queries the AbuseIPDB reputation service. The client
// serializes its requests and owns the rate-limit backoff budget, so callers
// can fan out across addresses without coordinating 429 handling themselves.
package abuseipdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	defaultRetryDelay = 60 * time.Second
	defaultRetryGrace = 5 * time.Second
)

// ThreatData is the subset of the check response the classifier consumes.
type ThreatData struct {
	AbuseConfidenceScore int
	TotalReports         int
	IsWhitelisted        bool
	LastReportedAt       string
	Categories           []string
}

// Settings carries the tunables for a client.
type Settings struct {
	MaxAgeInDays int
	MaxAttempts  int
	Timeout      time.Duration
	RetryDelay   time.Duration // used when the server sends no Retry-After
	RetryGrace   time.Duration // added on top of the advised delay
}

type Client struct {
	baseURL    string
	apiKey     string
	settings   Settings
	httpClient *http.Client

	mu    sync.Mutex
	sleep func(context.Context, time.Duration) error
}

type Option func(*Client)

// WithSleep overrides how the client waits between rate-limited attempts.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

func NewClient(baseURL, apiKey string, settings Settings, opts ...Option) *Client {
	if settings.MaxAttempts < 1 {
		settings.MaxAttempts = 1
	}
	if settings.RetryDelay <= 0 {
		settings.RetryDelay = defaultRetryDelay
	}
	if settings.RetryGrace <= 0 {
		settings.RetryGrace = defaultRetryGrace
	}

	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		settings:   settings,
		httpClient: &http.Client{Timeout: settings.Timeout},
		sleep:      sleepContext,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Check looks up the abuse record for an address. It returns (nil, nil) when
// no data is available: missing API key, a non-success response, or exhausted
// rate-limit retries. Only transport-level failures surface as errors, and
// callers are expected to treat those as "no data" as well.
func (c *Client) Check(ctx context.Context, ip string) (*ThreatData, error) {
	if c.apiKey == "" {
		return nil, nil
	}

	// One request at a time: the service rate limit is a shared budget.
	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 1; attempt <= c.settings.MaxAttempts; attempt++ {
		data, retryAfter, err := c.doCheck(ctx, ip)
		if err != nil {
			return nil, err
		}
		if retryAfter == 0 {
			return data, nil
		}

		if attempt == c.settings.MaxAttempts {
			log.Warn("AbuseIPDB rate limit retries exhausted", "ip", ip, "attempts", attempt)
			return nil, nil
		}

		log.Debug("AbuseIPDB rate limited, backing off", "ip", ip, "wait", retryAfter, "attempt", attempt)
		if err := c.sleep(ctx, retryAfter); err != nil {
			return nil, err
		}
	}

	return nil, nil
}

// doCheck performs one request. A non-zero retryAfter means the service asked
// us to back off; data is nil for every non-success response.
func (c *Client) doCheck(ctx context.Context, ip string) (data *ThreatData, retryAfter time.Duration, err error) {
	params := url.Values{}
	params.Set("ipAddress", ip)
	params.Set("maxAgeInDays", strconv.Itoa(c.settings.MaxAgeInDays))
	params.Set("verbose", "")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/check?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("abuseipdb: build request: %w", err)
	}

	req.Header.Set("Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("abuseipdb: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, c.retryAfter(resp.Header.Get("Retry-After")) + c.settings.RetryGrace, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Warn("AbuseIPDB returned non-success status", "status", resp.StatusCode, "body", string(body))
		return nil, 0, nil
	}

	var parsed checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, 0, fmt.Errorf("abuseipdb: decode response: %w", err)
	}

	return parsed.toThreatData(), 0, nil
}

type checkResponse struct {
	Data struct {
		AbuseConfidenceScore int               `json:"abuseConfidenceScore"`
		TotalReports         int               `json:"totalReports"`
		IsWhitelisted        bool              `json:"isWhitelisted"`
		LastReportedAt       string            `json:"lastReportedAt"`
		Reports              []reportWithNames `json:"reports"`
	} `json:"data"`
}

type reportWithNames struct {
	Categories []json.RawMessage `json:"categories"`
}

func (r *checkResponse) toThreatData() *ThreatData {
	data := &ThreatData{
		AbuseConfidenceScore: r.Data.AbuseConfidenceScore,
		TotalReports:         r.Data.TotalReports,
		IsWhitelisted:        r.Data.IsWhitelisted,
		LastReportedAt:       r.Data.LastReportedAt,
	}

	seen := make(map[string]struct{})
	for _, report := range r.Data.Reports {
		for _, raw := range report.Categories {
			name, ok := categoryName(raw)
			if !ok {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			data.Categories = append(data.Categories, name)
		}
	}

	return data
}

// categoryName accepts both shapes the feed has used over time: a bare string
// and an object carrying a categoryName field. Anything else (numeric IDs
// included) is dropped.
func categoryName(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}

	var obj struct {
		CategoryName string `json:"categoryName"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.CategoryName != "" {
		return obj.CategoryName, true
	}

	return "", false
}

func (c *Client) retryAfter(header string) time.Duration {
	if header == "" {
		return c.settings.RetryDelay
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return c.settings.RetryDelay
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
