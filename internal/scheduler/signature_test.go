package scheduler

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, body []byte, key, issuer string, exp time.Time) string {
	t.Helper()
	sum := sha256.Sum256(body)
	claims := jwt.MapClaims{
		"iss":  issuer,
		"iat":  time.Now().Unix(),
		"nbf":  time.Now().Add(-time.Minute).Unix(),
		"exp":  exp.Unix(),
		"body": base64.URLEncoding.EncodeToString(sum[:]),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

const (
	currentKey = "sig_current_key"
	nextKey    = "sig_next_key"
)

func TestVerifySignatureCurrentKey(t *testing.T) {
	body := []byte(`{}`)
	token := signToken(t, body, currentKey, "Upstash", time.Now().Add(time.Minute))
	if err := VerifySignature(token, body, currentKey, nextKey); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifySignatureNextKey(t *testing.T) {
	// Mid-rotation: provider already signs with the next key.
	body := []byte(`{}`)
	token := signToken(t, body, nextKey, "Upstash", time.Now().Add(time.Minute))
	if err := VerifySignature(token, body, currentKey, nextKey); err != nil {
		t.Fatalf("verify with next key: %v", err)
	}
}

func TestVerifySignatureWrongKey(t *testing.T) {
	body := []byte(`{}`)
	token := signToken(t, body, "some-other-key", "Upstash", time.Now().Add(time.Minute))
	if err := VerifySignature(token, body, currentKey, nextKey); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifySignatureBodyMismatch(t *testing.T) {
	token := signToken(t, []byte(`{"a":1}`), currentKey, "Upstash", time.Now().Add(time.Minute))
	if err := VerifySignature(token, []byte(`{"a":2}`), currentKey, nextKey); !errors.Is(err, ErrBodyMismatch) {
		t.Fatalf("expected ErrBodyMismatch, got %v", err)
	}
}

func TestVerifySignatureExpired(t *testing.T) {
	body := []byte(`{}`)
	token := signToken(t, body, currentKey, "Upstash", time.Now().Add(-time.Minute))
	if err := VerifySignature(token, body, currentKey, nextKey); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for expired token, got %v", err)
	}
}

func TestVerifySignatureWrongIssuer(t *testing.T) {
	body := []byte(`{}`)
	token := signToken(t, body, currentKey, "Imposter", time.Now().Add(time.Minute))
	if err := VerifySignature(token, body, currentKey, nextKey); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for wrong issuer, got %v", err)
	}
}

func TestVerifySignatureMissing(t *testing.T) {
	if err := VerifySignature("", []byte(`{}`), currentKey, nextKey); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}
}
