package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderEvent     = "X-Webhook-Event"

	signaturePrefix = "sha256="
)

// Sign returns the hex HMAC-SHA256 of "timestamp.body" keyed by secret.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader is the value sent in X-Webhook-Signature.
func SignatureHeader(secret, timestamp string, body []byte) string {
	return signaturePrefix + Sign(secret, timestamp, body)
}

// VerifySignature checks a received X-Webhook-Signature header in constant time.
func VerifySignature(secret, timestamp string, body []byte, header string) bool {
	got, ok := strings.CutPrefix(header, signaturePrefix)
	if !ok {
		return false
	}
	gotRaw, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(Sign(secret, timestamp, body))
	return hmac.Equal(gotRaw, want)
}
