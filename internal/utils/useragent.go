package utils

import (
	"strings"

	ua "github.com/mssola/user_agent"
)

var tabletMarkers = []string{"ipad", "tablet", "kindle", "nexus 7", "nexus 9", "sm-t"}

// DeviceInfo is what the audit trail records about a caller
type DeviceInfo struct {
	DeviceType string `json:"device_type"` // mobile, tablet, desktop, unknown
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	BrowserVer string `json:"browser_ver"`
	IsBot      bool   `json:"is_bot"`
}

// ParseUserAgent parses a User-Agent header
func ParseUserAgent(userAgent string) DeviceInfo {
	if userAgent == "" || userAgent == "Unknown" {
		return DeviceInfo{DeviceType: "unknown", OS: "Unknown", Browser: "Unknown"}
	}

	parser := ua.New(userAgent)
	browser, version := parser.Browser()
	if browser == "" {
		browser = "Unknown"
	}

	info := DeviceInfo{
		DeviceType: "desktop",
		OS:         osName(parser),
		Browser:    browser,
		BrowserVer: version,
		IsBot:      parser.Bot(),
	}

	if parser.Mobile() {
		info.DeviceType = "mobile"
		lower := strings.ToLower(userAgent)
		for _, marker := range tabletMarkers {
			if strings.Contains(lower, marker) {
				info.DeviceType = "tablet"
				break
			}
		}
	}

	return info
}

// ToMap flattens the device info for JSONB storage
func (d DeviceInfo) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"device_type": d.DeviceType,
		"os":          d.OS,
		"browser":     d.Browser,
		"browser_ver": d.BrowserVer,
		"is_bot":      d.IsBot,
	}
}

func osName(parser *ua.UserAgent) string {
	info := parser.OSInfo()
	if info.Name == "" {
		return "Unknown"
	}
	if info.Version != "" {
		return info.Name + " " + info.Version
	}
	return info.Name
}
