// Package money converts between minor units and 2-decimal major amounts.
package money

import (
	"fmt"
	"math"
)

// Round2 rounds to 2 decimals, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// FromMajor converts a major-unit amount to minor units, half away from zero.
func FromMajor(v float64) int64 {
	return int64(math.Round(v * 100))
}

// Major converts minor units to a major-unit amount.
func Major(minor int64) float64 {
	return Round2(float64(minor) / 100)
}

// Format renders minor units as "499.00".
func Format(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
