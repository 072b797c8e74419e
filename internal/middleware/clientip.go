package middleware

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPResolver finds the client address of a request. Forwarding headers are
// only believed when the direct peer is a trusted proxy. A nil resolver
// trusts no proxy.
type IPResolver struct {
	trusted []netip.Prefix
}

// NewIPResolver accepts IPs and CIDRs; an empty list trusts nobody.
func NewIPResolver(trustedProxies []string) (*IPResolver, error) {
	r := &IPResolver{}
	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
			}
			r.trusted = append(r.trusted, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		r.trusted = append(r.trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return r, nil
}

// ClientIP returns the caller address, or "" when the peer address cannot
// be parsed.
func (r *IPResolver) ClientIP(req *http.Request) string {
	peer, ok := peerAddr(req)
	if !ok {
		return ""
	}
	if !r.isTrusted(peer) {
		return peer.String()
	}

	for _, header := range []string{"True-Client-IP", "X-Real-IP"} {
		if addr, ok := parseAddr(req.Header.Get(header)); ok {
			return addr.String()
		}
	}

	// Walk X-Forwarded-For from the nearest hop; the first untrusted entry
	// is the client.
	if xff := req.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			addr, ok := parseAddr(hops[i])
			if !ok {
				break
			}
			if !r.isTrusted(addr) || i == 0 {
				return addr.String()
			}
		}
	}

	return peer.String()
}

func (r *IPResolver) isTrusted(addr netip.Addr) bool {
	if r == nil {
		return false
	}
	for _, prefix := range r.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func peerAddr(req *http.Request) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return netip.Addr{}, false
	}
	return parseAddr(host)
}

func parseAddr(value string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(value))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
