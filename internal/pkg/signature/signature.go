// Package signature signs and checks gateway payment confirmations:
// lowercase hex HMAC-SHA256 over "orderId|paymentId".
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares in constant time. Empty inputs never verify.
func Verify(secret, orderID, paymentID, sig string) bool {
	if secret == "" || orderID == "" || paymentID == "" || sig == "" {
		return false
	}
	expected := Sign(secret, orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(sig))))
}
