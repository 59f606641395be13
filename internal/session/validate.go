package session

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// input size limits
const (
	MaxURLLength    = 2048
	MaxTextLength   = 500_000
	MaxAPIKeyLength = 256
	MinAPIKeyLength = 10
)

// private, loopback and link-local ranges blocked for SSRF protection
var blockedNetworks = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
	regexp.MustCompile(`(?i)data:\s*text/html`),
	regexp.MustCompile(`(?i)vbscript:`),
}

var filenameStripRe = regexp.MustCompile(`[/\\:\x00]`)

// LookupIP resolves a hostname. Swappable in tests.
var LookupIP = net.LookupIP

// ValidateURL checks a report URL for shape and SSRF safety.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("URL is required")
	}
	if len(raw) > MaxURLLength {
		return fmt.Errorf("URL exceeds maximum length of %d characters", MaxURLLength)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL format")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		return fmt.Errorf("URL must include a scheme (http:// or https://)")
	}
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("URL scheme %q is not allowed, use http or https", parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL must include a hostname")
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlocked(addr) {
			log.Warn().Str("url", raw).Msg("SSRF attempt blocked: private IP in URL")
			return fmt.Errorf("URL points to a restricted network address")
		}
		return nil
	}

	ips, err := LookupIP(host)
	if err != nil {
		return fmt.Errorf("cannot resolve hostname: %s", host)
	}
	for _, ip := range ips {
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		if isBlocked(addr.Unmap()) {
			log.Warn().Str("host", host).Msg("SSRF attempt blocked: hostname resolves to private IP")
			return fmt.Errorf("URL hostname resolves to a restricted network address")
		}
	}
	return nil
}

// ValidateAPIKey checks key length and rejects injection payloads.
func ValidateAPIKey(apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return fmt.Errorf("API key is required")
	}
	if len(apiKey) > MaxAPIKeyLength {
		return fmt.Errorf("API key exceeds maximum length")
	}
	if len(apiKey) < MinAPIKeyLength {
		return fmt.Errorf("API key is too short")
	}
	for _, p := range dangerousPatterns {
		if p.MatchString(apiKey) {
			log.Warn().Msg("Dangerous pattern detected in API key input")
			return fmt.Errorf("invalid API key format")
		}
	}
	return nil
}

// ValidateText bounds free-form text fields.
func ValidateText(text, fieldName string) error {
	if len(text) > MaxTextLength {
		return fmt.Errorf("%s exceeds maximum length of %d characters", fieldName, MaxTextLength)
	}
	return nil
}

// SanitizeFilename strips path separators, drive markers and leading dots.
func SanitizeFilename(name string) string {
	sanitized := filenameStripRe.ReplaceAllString(name, "")
	sanitized = strings.TrimLeft(sanitized, ".")
	if len(sanitized) > 255 {
		sanitized = sanitized[:255]
	}
	if sanitized == "" {
		return "unnamed"
	}
	return sanitized
}

func isBlocked(addr netip.Addr) bool {
	for _, network := range blockedNetworks {
		if network.Contains(addr) {
			return true
		}
	}
	return false
}
