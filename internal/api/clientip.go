package api

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// trustedProxies holds the networks allowed to set X-Forwarded-For.
// An empty list trusts no one and every request is keyed on its
// connection address.
type trustedProxies []*net.IPNet

// parseTrustedProxies accepts bare IPs and CIDR ranges.
func parseTrustedProxies(entries []string) (trustedProxies, error) {
	var nets trustedProxies
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", e)
			}
			bits := 8 * net.IPv6len
			if v4 := ip.To4(); v4 != nil {
				ip, bits = v4, 8*net.IPv4len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", e, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

func (p trustedProxies) contains(ip net.IP) bool {
	for _, n := range p {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP returns the address of the client that made the request.
//
// X-Forwarded-For is only honoured when the connection comes from a
// trusted proxy. The header is then walked right to left and the first
// hop that is not itself a trusted proxy is the client.
func (p trustedProxies) clientIP(r *http.Request) string {
	remote := remoteHost(r)
	remoteIP := net.ParseIP(remote)
	if remoteIP == nil || !p.contains(remoteIP) {
		return remote
	}

	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(v, ",")...)
	}

	client := remote
	for i := len(hops) - 1; i >= 0; i-- {
		ip := net.ParseIP(strings.TrimSpace(hops[i]))
		if ip == nil {
			break
		}
		client = ip.String()
		if !p.contains(ip) {
			break
		}
	}
	return client
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
