package http

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// defaultTrustedProxies lists networks whose forwarding headers we honor.
// Additional CIDRs can be supplied through configuration.
var defaultTrustedProxies = []*net.IPNet{
	mustCIDR("127.0.0.0/8"),    // localhost
	mustCIDR("10.0.0.0/8"),     // private networks
	mustCIDR("172.16.0.0/12"),  // private networks
	mustCIDR("192.168.0.0/16"), // private networks
	mustCIDR("::1/128"),        // IPv6 localhost
}

// mustCIDR parses a statically known CIDR during initialization.
func mustCIDR(cidr string) *net.IPNet {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(fmt.Sprintf("failed to parse trusted proxy CIDR %s: %v", cidr, err))
	}
	return network
}

// parseTrustedProxies parses a comma-separated CIDR list from configuration.
func parseTrustedProxies(csv string) ([]*net.IPNet, error) {
	proxies := make([]*net.IPNet, 0, len(defaultTrustedProxies))
	proxies = append(proxies, defaultTrustedProxies...)

	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		_, network, err := net.ParseCIDR(part)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy CIDR %q: %w", part, err)
		}
		proxies = append(proxies, network)
	}
	return proxies, nil
}

func (s *Server) isTrustedProxy(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, network := range s.trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// extractClientIP returns the originating client address. Forwarding
// headers are only honored when the direct peer is a trusted proxy.
func (s *Server) extractClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer := net.ParseIP(host)

	if !s.isTrustedProxy(peer) {
		return host
	}

	// X-Forwarded-For holds the original client first.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}

	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		if ip := net.ParseIP(real); ip != nil {
			return ip.String()
		}
	}

	return host
}
