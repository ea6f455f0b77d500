package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// ComputeSignature returns base64(HMAC-SHA256(body, secret)), the value
// Shopify puts in the X-Shopify-Hmac-Sha256 header.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook checks a webhook body against its signature header using a
// constant-time comparison. Both decode failures and mismatches report false.
func VerifyWebhook(body []byte, secret, headerB64 string) bool {
	got, err := base64.StdEncoding.DecodeString(headerB64)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// VerifyOAuthParams checks the hmac parameter on an OAuth callback.
// Shopify signs the query string with the hmac and signature keys removed,
// remaining pairs sorted and joined with '&', hex-encoded rather than base64.
func VerifyOAuthParams(params url.Values, secret string) bool {
	given := params.Get("hmac")
	if given == "" {
		return false
	}

	pairs := make([]string, 0, len(params))
	for k, vs := range params {
		if k == "hmac" || k == "signature" {
			continue
		}
		for _, v := range vs {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)
	message := strings.Join(pairs, "&")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(given), []byte(want))
}
