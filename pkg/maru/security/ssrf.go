// Package security – ssrf.go implements SSRF (Server-Side Request Forgery)
// protection for web_fetch and URL enrichment. Resolves hostnames first to
// defend against DNS rebinding, then validates every resolved IP against
// loopback, link-local, private, unique-local and transition ranges.
package security

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
)

// builtinBlockedHosts are always blocked regardless of config.
var builtinBlockedHosts = []string{
	"localhost",
	"localhost.localdomain",
	"metadata.google.internal",
}

// SSRFGuard validates URLs before outgoing HTTP requests.
type SSRFGuard struct {
	logger *slog.Logger

	// lookup resolves a hostname to IPs. Overridable in tests.
	lookup func(host string) ([]string, error)
}

// NewSSRFGuard creates a new SSRF guard.
func NewSSRFGuard(logger *slog.Logger) *SSRFGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSRFGuard{
		logger: logger.With("component", "ssrf_guard"),
		lookup: net.LookupHost,
	}
}

// IsAllowed checks whether a URL is safe to fetch. The hostname is resolved
// first so that DNS answers pointing at internal ranges are caught before
// any request is issued.
func (g *SSRFGuard) IsAllowed(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		g.logger.Warn("ssrf blocked: scheme", "url", rawURL, "scheme", scheme)
		return fmt.Errorf("ssrf: scheme %q not allowed (use http or https)", scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("ssrf: no host in URL")
	}

	hostLower := strings.ToLower(host)
	for _, blocked := range builtinBlockedHosts {
		if hostLower == blocked {
			g.logger.Warn("ssrf blocked: host", "url", rawURL, "host", host)
			return fmt.Errorf("ssrf: host %s is not allowed", host)
		}
	}

	// Literal IPs are checked directly; hostnames are resolved first.
	if ip := net.ParseIP(host); ip != nil {
		return g.checkIP(ip, rawURL)
	}

	ips, err := g.lookup(host)
	if err != nil {
		return fmt.Errorf("ssrf: cannot resolve host %s: %w", host, err)
	}
	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			// Fail closed on anything the resolver hands back that we
			// cannot parse.
			g.logger.Warn("ssrf blocked: unparseable IP in DNS answer", "url", rawURL, "ip", ipStr)
			return fmt.Errorf("ssrf: unrecognised IP address %q for host %s", ipStr, host)
		}
		if err := g.checkIP(ip, rawURL); err != nil {
			return err
		}
	}
	return nil
}

// checkIP rejects IPs in loopback, link-local, private, unique-local and
// unspecified ranges. IPv4-mapped IPv6 addresses are unwrapped and checked
// as IPv4 so ::ffff:127.0.0.1 forms cannot slip through.
func (g *SSRFGuard) checkIP(ip net.IP, rawURL string) error {
	if ip4 := ip.To4(); ip4 != nil {
		return g.checkIPv4(ip4, rawURL)
	}

	ip6 := ip.To16()
	if ip6 == nil {
		return fmt.Errorf("ssrf: unrecognised IP %s", ip)
	}

	switch {
	case ip.Equal(net.IPv6loopback):
		g.logger.Warn("ssrf blocked: IPv6 loopback", "url", rawURL)
		return fmt.Errorf("ssrf: IPv6 loopback ::1 is not allowed")
	case ip.IsUnspecified():
		g.logger.Warn("ssrf blocked: IPv6 unspecified", "url", rawURL)
		return fmt.Errorf("ssrf: :: is not allowed")
	case ip6[0] == 0xfe && (ip6[1]&0xc0) == 0x80: // fe80::/10
		g.logger.Warn("ssrf blocked: IPv6 link-local", "url", rawURL, "ip", ip.String())
		return fmt.Errorf("ssrf: IPv6 link-local %s is not allowed", ip)
	case (ip6[0] & 0xfe) == 0xfc: // fc00::/7 unique-local
		g.logger.Warn("ssrf blocked: IPv6 unique-local", "url", rawURL, "ip", ip.String())
		return fmt.Errorf("ssrf: IPv6 unique-local %s is not allowed", ip)
	}
	return nil
}

// checkIPv4 validates a 4-byte IP against the forbidden ranges.
func (g *SSRFGuard) checkIPv4(ip4 net.IP, rawURL string) error {
	var reason string
	switch {
	case ip4[0] == 127: // 127.0.0.0/8
		reason = "loopback"
	case ip4[0] == 0: // 0.0.0.0/8
		reason = "unspecified"
	case ip4[0] == 10: // 10.0.0.0/8
		reason = "private"
	case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31: // 172.16.0.0/12
		reason = "private"
	case ip4[0] == 192 && ip4[1] == 168: // 192.168.0.0/16
		reason = "private"
	case ip4[0] == 169 && ip4[1] == 254: // 169.254.0.0/16 (incl. metadata)
		reason = "link-local"
	}
	if reason != "" {
		g.logger.Warn("ssrf blocked: "+reason+" IP", "url", rawURL, "ip", ip4.String())
		return fmt.Errorf("ssrf: %s IP %s is not allowed", reason, ip4)
	}
	return nil
}
