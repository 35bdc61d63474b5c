package http

import (
	"net"
	"net/http"
)

// ClientIP returns the real client address. The suite's front proxy sets
// X-Real-IP; when present and valid it overrides RemoteAddr.
func ClientIP(r *http.Request) string {
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}
	return RemoteIP(r)
}

// RemoteIP returns the direct peer address from RemoteAddr, without any
// header override. The proxy-trust allow-list check must use this, never
// ClientIP, or a spoofed X-Real-IP becomes an authentication bypass.
func RemoteIP(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

// IPAllowed reports whether ip falls inside any of the given ranges
func IPAllowed(ip string, ranges []*net.IPNet) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, ipNet := range ranges {
		if ipNet.Contains(parsed) {
			return true
		}
	}
	return false
}
