// Package crypto provides HMAC request signing and API-secret storage for the
// exchange connectors.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// bitmexExpiryWindow is how far in the future request expiry timestamps are
// set. Requests arriving at the venue after expiry are rejected server-side.
const bitmexExpiryWindow = 5 * time.Second

// HMACAuth holds the API credentials for an HMAC-authenticated venue.
type HMACAuth struct {
	Key    string // API key, sent in a header
	Secret string // API secret, HMAC key only, never sent
}

// BitmexHeaders returns the HTTP headers for a BitMEX REST request. The
// signature is HMAC-SHA256(secret, method+path+("?"+query)+expires) encoded
// as lowercase hex, where expires is a Unix-seconds timestamp.
//
// Returned header keys:
//   - api-key
//   - api-expires
//   - api-signature
func (h *HMACAuth) BitmexHeaders(method, path string, query url.Values) map[string]string {
	expires := time.Now().Add(bitmexExpiryWindow).Unix()
	return h.BitmexHeadersAt(method, path, query, expires)
}

// BitmexHeadersAt is like BitmexHeaders but lets the caller supply the expiry
// timestamp (useful for deterministic testing).
func (h *HMACAuth) BitmexHeadersAt(method, path string, query url.Values, expires int64) map[string]string {
	exp := strconv.FormatInt(expires, 10)
	return map[string]string{
		"api-key":       h.Key,
		"api-expires":   exp,
		"api-signature": BitmexSignature(h.Secret, method, path, query, exp),
	}
}

// BitmexSignature computes the canonical BitMEX signature string. Identical
// inputs always yield the identical signature.
func BitmexSignature(secret, method, path string, query url.Values, expires string) string {
	message := method + path
	if len(query) > 0 {
		message += "?" + query.Encode()
	}
	message += expires
	return hmacSHA256Hex([]byte(secret), message)
}

// BinanceSign returns the final encoded query string for a signed Binance
// futures request. The signature is HMAC-SHA256(secret, encodedQuery) in
// lowercase hex, computed over the query including the timestamp, and must be
// the last parameter of the request.
func (h *HMACAuth) BinanceSign(query url.Values) string {
	return h.BinanceSignAt(query, time.Now().UnixMilli())
}

// BinanceSignAt is like BinanceSign with a caller-supplied millisecond
// timestamp.
func (h *HMACAuth) BinanceSignAt(query url.Values, tsMillis int64) string {
	query.Set("timestamp", strconv.FormatInt(tsMillis, 10))
	encoded := query.Encode()
	return encoded + "&signature=" + hmacSHA256Hex([]byte(h.Secret), encoded)
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

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// result as a lowercase hex string.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
