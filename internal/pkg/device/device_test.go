package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_Stable(t *testing.T) {
	a := Fingerprint("1.2.3.4", "curl/8")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint("1.2.3.4", "curl/8"))
	assert.NotEqual(t, a, Fingerprint("1.2.3.5", "curl/8"))
}

func TestLabel(t *testing.T) {
	cases := map[string]string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36":                   "Windows",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) AppleWebKit/605.1.15":              "macOS",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36":                    "Android",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15":    "iOS",
		"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0": "Linux",
		"curl/8.4.0": "Unknown",
		"":           "Unknown",
	}
	for ua, want := range cases {
		assert.Equal(t, want, Label(ua), ua)
	}
}
