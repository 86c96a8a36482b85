package utils

import (
	"net/netip"
	"strings"

	"github.com/gin-gonic/gin"
)

// GetRealIP resolves the caller address stored on payment audits and request logs.
// A public X-Real-IP wins, then the first public hop in X-Forwarded-For, then the
// first parseable hop, then gin's ClientIP.
func GetRealIP(c *gin.Context) string {
	if addr, ok := parseAddr(c.GetHeader("X-Real-IP")); ok && isPublic(addr) {
		return addr.String()
	}

	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		var fallback string
		for _, hop := range strings.Split(forwarded, ",") {
			addr, ok := parseAddr(hop)
			if !ok {
				continue
			}
			if isPublic(addr) {
				return addr.String()
			}
			if fallback == "" {
				fallback = addr.String()
			}
		}
		if fallback != "" {
			return fallback
		}
	}

	return c.ClientIP()
}

// GetUserAgent returns the User-Agent header or "Unknown".
func GetUserAgent(c *gin.Context) string {
	if ua := c.Request.UserAgent(); ua != "" {
		return ua
	}
	return "Unknown"
}

func parseAddr(raw string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func isPublic(addr netip.Addr) bool {
	return !addr.IsPrivate() && !addr.IsLoopback() && !addr.IsUnspecified() && !addr.IsLinkLocalUnicast()
}
