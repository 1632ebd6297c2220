// Package device derives a client fingerprint and a coarse device label.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint hashes "ip|userAgent" into a 64-char hex signature.
func Fingerprint(ip, userAgent string) string {
	sum := sha256.Sum256([]byte(ip + "|" + userAgent))
	return hex.EncodeToString(sum[:])
}

// Label classifies a user agent into Windows, macOS, Android, iOS, Linux or Unknown.
// Order matters: Android agents also mention Linux, iOS agents mention Mac OS X.
func Label(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return "Unknown"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ipod"):
		return "iOS"
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "macintosh"), strings.Contains(ua, "mac os"):
		return "macOS"
	case strings.Contains(ua, "linux"), strings.Contains(ua, "x11"):
		return "Linux"
	default:
		return "Unknown"
	}
}
