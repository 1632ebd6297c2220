// Package phone normalizes and masks phone numbers.
package phone

import "strings"

var stripper = strings.NewReplacer(" ", "", "-", "", "+", "")

// Normalize removes spaces, dashes and plus signs.
func Normalize(p string) string {
	return strings.TrimSpace(stripper.Replace(p))
}

// Mask hides every character except the last four. Values of four or fewer
// characters are fully masked.
func Mask(normalized string) string {
	if len(normalized) <= 4 {
		return strings.Repeat("*", len(normalized))
	}
	return strings.Repeat("*", len(normalized)-4) + normalized[len(normalized)-4:]
}
