package income

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// VerifyBearerToken compares a presented bearer token against the configured
// secret in constant time. It never panics and returns false for empty or
// mismatched inputs, so the ingestion engine always gets a clean decision.
func VerifyBearerToken(token, expected string) bool {
	token = strings.TrimSpace(token)
	expected = strings.TrimSpace(expected)
	if token == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

// VerifyHMACSignature checks an HMAC-SHA256 hex signature over the raw
// request body. An optional "sha256=" prefix on the header value is accepted.
// Malformed signatures (non-hex, wrong length) yield false, never an error;
// callers report every failure with the same generic message.
func VerifyHMACSignature(rawBody []byte, signatureHeader, secret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret = strings.TrimSpace(secret)
	if sig == "" || secret == "" {
		return false
	}
	sig = strings.TrimPrefix(sig, "sha256=")

	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return hmac.Equal(mac.Sum(nil), decoded)
}

// VerifyIPAllowlist reports whether ip may deliver to a source. An empty
// allowlist allows any caller; sources without static egress addresses
// cannot pin IPs, so open-by-default is the documented trade-off here.
func VerifyIPAllowlist(ip string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	ip = strings.TrimSpace(ip)
	for _, a := range allowed {
		if strings.TrimSpace(a) == ip {
			return true
		}
	}
	return false
}
