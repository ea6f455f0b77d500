// Package scheduler receives signed job callbacks from the external cron
// provider. Each request carries a short-lived JWT over the request body;
// signing keys rotate, so verification tries the current key first and
// falls back to the next key.
package scheduler

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors for signature verification.
var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrBadSignature     = errors.New("signature verification failed")
	ErrBodyMismatch     = errors.New("signature body hash mismatch")
)

const expectedIssuer = "Upstash"

type bodyClaims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

// VerifySignature validates the provider's JWT against the request body.
// The token must be signed with HS256 by either key, carry the provider
// issuer, be within its validity window, and bind the exact body via a
// base64url(sha256(body)) claim.
func VerifySignature(token string, body []byte, currentKey, nextKey string) error {
	if token == "" {
		return ErrMissingSignature
	}

	err := verifyWithKey(token, body, currentKey)
	if err == nil {
		return nil
	}
	if nextKey != "" && nextKey != currentKey {
		if err2 := verifyWithKey(token, body, nextKey); err2 == nil {
			return nil
		}
	}
	return err
}

func verifyWithKey(token string, body []byte, key string) error {
	claims := &bodyClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) { return []byte(key), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(expectedIssuer),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !parsed.Valid {
		return ErrBadSignature
	}

	sum := sha256.Sum256(body)
	want := base64.URLEncoding.EncodeToString(sum[:])
	if claims.Body != want && claims.Body != base64.RawURLEncoding.EncodeToString(sum[:]) {
		return ErrBodyMismatch
	}
	return nil
}
