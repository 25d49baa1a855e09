package identity

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the originating client address from a request. Behind a
// proxy the first X-Forwarded-For hop wins, otherwise the socket peer.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// ExemptList holds address ranges that skip the verification gate, e.g.
// trusted internal load generators or health checkers.
type ExemptList struct {
	nets []*net.IPNet
}

// NewExemptList parses a list of CIDRs. A bare address is treated as a /32
// (or /128 for IPv6).
func NewExemptList(cidrs []string) (*ExemptList, error) {
	l := &ExemptList{}
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			ip := net.ParseIP(raw)
			if ip == nil {
				return nil, fmt.Errorf("invalid exempt address %q", raw)
			}
			if ip.To4() != nil {
				raw += "/32"
			} else {
				raw += "/128"
			}
		}
		_, ipNet, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid exempt CIDR %q: %w", raw, err)
		}
		l.nets = append(l.nets, ipNet)
	}
	return l, nil
}

// Contains reports whether addr falls inside any exempt range. Unparseable
// addresses are never exempt.
func (l *ExemptList) Contains(addr string) bool {
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return false
	}
	for _, n := range l.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
