// Package signature verifies Help Scout webhook signatures.
//
// Help Scout signs the raw request body with HMAC-SHA1 using the webhook
// secret and sends the base64 digest in the X-HelpScout-Signature header.
package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strings"
)

// Header carries the webhook signature.
const Header = "X-HelpScout-Signature"

// Sign returns the base64 HMAC-SHA1 of body keyed by secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	_, _ = mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether provided is the signature of the raw body.
// body must be the bytes read off the wire, before any JSON decoding.
func Verify(secret string, body []byte, provided string) bool {
	provided = strings.TrimSpace(provided)
	if secret == "" || provided == "" {
		return false
	}
	providedSig, err := base64.StdEncoding.DecodeString(provided)
	if err != nil {
		return false
	}

	mac := hmac.New(sha1.New, []byte(secret))
	_, _ = mac.Write(body)
	return hmac.Equal(mac.Sum(nil), providedSig)
}
