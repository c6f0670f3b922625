package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Signature"

// Sign computes the hex HMAC-SHA256 of body using the endpoint secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature against the raw body in
// constant time. Receivers use this to authenticate deliveries.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := Sign(secret, body)

	return hmac.Equal([]byte(expected), []byte(signature))
}
