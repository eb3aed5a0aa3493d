package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrMissingAnonSecret is returned when neither the dedicated anonymous
// reporter secret nor the session secret is configured. Anonymous mappings
// must never be created with an absent key.
var ErrMissingAnonSecret = errors.New("ANON_REPORT_SECRET or SESSION_SECRET is required for anonymous reports")

// anonKeyInfo binds keys derived from the session secret to this use.
const anonKeyInfo = "citizen-report/anon-reporter"

// AnonHasher computes the keyed pseudonym stored for anonymous reports. The
// same user id always produces the same digest so the owner can later prove
// ownership without the report ever storing who they are.
type AnonHasher struct {
	key []byte
}

// NewAnonHasher builds a hasher from the configured secrets. anonSecret is used
// as the HMAC key directly. When it is empty a 32-byte key is derived from
// sessionSecret with HKDF-SHA256 so the session key is never reused raw.
func NewAnonHasher(anonSecret, sessionSecret string) (*AnonHasher, error) {
	if anonSecret != "" {
		return &AnonHasher{key: []byte(anonSecret)}, nil
	}
	if sessionSecret == "" {
		return nil, ErrMissingAnonSecret
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(sessionSecret), nil, []byte(anonKeyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return &AnonHasher{key: key}, nil
}

// Hash returns the hex HMAC-SHA256 digest of userID.
func (h *AnonHasher) Hash(userID string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches reports whether userID hashes to digest, in constant time.
func (h *AnonHasher) Matches(userID, digest string) bool {
	if userID == "" || digest == "" {
		return false
	}
	return hmac.Equal([]byte(h.Hash(userID)), []byte(digest))
}
