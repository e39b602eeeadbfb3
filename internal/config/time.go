package config

import (
	"sync"
	"sync/atomic"
	"time"
)

const defaultThreatMaxAge = 24 * time.Hour

var (
	threatMaxAge          atomic.Value
	threatMaxAgeListeners []chan time.Duration
	listenersMu           sync.Mutex
)

func init() {
	threatMaxAge.Store(defaultThreatMaxAge)
}

// SetFreshnessWindows recomputes the cached durations from the current
// configuration. Called whenever a new configuration is applied.
func SetFreshnessWindows() {
	cfg := GetConfig()
	setThreatMaxAge(calculateThreatMaxAge(cfg))
}

// CalculateDuration converts a Timer into a duration, enforcing a one second
// minimum so a zeroed timer can never produce a busy loop.
func CalculateDuration(timer Timer) time.Duration {
	intervalMs := CalculateMillisecondsOfTimer(timer)

	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func CalculateMillisecondsOfTimer(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

func calculateThreatMaxAge(cfg Config) time.Duration {
	if CalculateMillisecondsOfTimer(cfg.Analyzer.ThreatMaxAge) == 0 {
		return defaultThreatMaxAge
	}
	return CalculateDuration(cfg.Analyzer.ThreatMaxAge)
}

// GetThreatMaxAge returns the window after which cached threat data is stale.
func GetThreatMaxAge() time.Duration {
	return threatMaxAge.Load().(time.Duration)
}

// ThreatMaxAgeUpdates returns a channel that receives the current window
// immediately and every later change.
func ThreatMaxAgeUpdates() <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	listenersMu.Lock()
	threatMaxAgeListeners = append(threatMaxAgeListeners, ch)
	listenersMu.Unlock()

	ch <- GetThreatMaxAge()
	return ch
}

func setThreatMaxAge(window time.Duration) {
	if window <= 0 {
		window = defaultThreatMaxAge
	}

	current := GetThreatMaxAge()
	if current == window {
		return
	}

	threatMaxAge.Store(window)

	listenersMu.Lock()
	defer listenersMu.Unlock()
	for _, ch := range threatMaxAgeListeners {
		select {
		case ch <- window:
		default:
		}
	}
}
