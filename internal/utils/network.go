package utils

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

var privateNets = mustParseCIDRs("10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "fc00::/7")

// GetRealIP returns the client address, preferring the first public address a proxy forwarded
func GetRealIP(c *gin.Context) string {
	if realIP := strings.TrimSpace(c.GetHeader("X-Real-IP")); isPublicIP(realIP) {
		return realIP
	}

	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		hops := strings.Split(forwarded, ",")
		for _, hop := range hops {
			if ip := strings.TrimSpace(hop); isPublicIP(ip) {
				return ip
			}
		}
		if first := strings.TrimSpace(hops[0]); net.ParseIP(first) != nil {
			return first
		}
	}

	return c.ClientIP()
}

// GetUserAgent extracts the User-Agent header from the request
func GetUserAgent(c *gin.Context) string {
	ua := c.Request.UserAgent()
	if ua == "" {
		return "Unknown"
	}
	return ua
}

func isPublicIP(raw string) bool {
	ip := net.ParseIP(raw)
	if ip == nil || ip.IsLoopback() {
		return false
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return false
		}
	}
	return true
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}
