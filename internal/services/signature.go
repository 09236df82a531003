package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignHMAC returns the hex HMAC-SHA256 of body under secret.
func SignHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC reports whether signature matches body, comparing in
// constant time.
func VerifyHMAC(secret string, body []byte, signature string) bool {
	expected := SignHMAC(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
