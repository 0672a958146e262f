// Package crypto provides request signing and API-secret management for the
// futures exchange REST API.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HMACAuth holds the credentials for signed futures REST requests. The
// signature is HMAC-SHA256 over the query string (plus request body for
// POSTs), hex-encoded, appended as the signature parameter.
type HMACAuth struct {
	Key    string // API key, sent in the X-MBX-APIKEY header
	Secret string // API secret, the HMAC key
}

// Sign computes the hex-encoded HMAC-SHA256 signature of the given payload,
// which is the concatenated query string and request body.
func (h *HMACAuth) Sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignQuery appends the signature parameter to a raw query string.
func (h *HMACAuth) SignQuery(query string) string {
	return query + "&signature=" + h.Sign(query)
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
