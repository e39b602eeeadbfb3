package support

import (
	"net"
	"regexp"
	"strings"
)

var ipv4Regex = regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`)

// ParseTextToIPs extracts the valid IPv4 addresses from free-form text, such
// as an uploaded file or pasted list. Order is preserved and duplicates are
// dropped; anything that does not parse as an IPv4 address is skipped.
func ParseTextToIPs(text string) []string {
	seen := make(map[string]struct{})
	var ips []string

	for _, candidate := range ipv4Regex.FindAllString(text, -1) {
		parsed := net.ParseIP(candidate)
		if parsed == nil || parsed.To4() == nil {
			continue
		}

		normalized := parsed.To4().String()
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		ips = append(ips, normalized)
	}

	return ips
}

// FindIP returns the first IPv4 address contained in the input, or "".
func FindIP(input string) string {
	match := ipv4Regex.FindString(input)
	if match == "" {
		return ""
	}
	if parsed := net.ParseIP(match); parsed == nil || parsed.To4() == nil {
		return ""
	}
	return match
}

// IsValidIPv4 reports whether the string is a well-formed dotted-quad address.
func IsValidIPv4(ip string) bool {
	trimmed := strings.TrimSpace(ip)
	parsed := net.ParseIP(trimmed)
	return parsed != nil && parsed.To4() != nil
}
