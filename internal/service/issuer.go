package service

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// APIKeyPrefix marks long-lived admin API keys.
const APIKeyPrefix = "bo_"

const sessionTokenBytes = 32

// Issuer mints API keys and session tokens.
type Issuer struct {
	now func() time.Time
}

// NewIssuer returns an Issuer stamping keys with times from now.
func NewIssuer(now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	return &Issuer{now: now}
}

// NewAPIKey returns a key of the form bo_<random hex>_<base36 millis>.
func (i *Issuer) NewAPIKey() string {
	id := uuid.New()
	return APIKeyPrefix + hex.EncodeToString(id[:]) + "_" + strconv.FormatInt(i.now().UnixMilli(), 36)
}

// NewSessionToken returns 256 bits of randomness, URL-safe encoded. It has
// no relation to any account or key.
func (i *Issuer) NewSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// LooksLikeAPIKey reports whether s has the API key shape.
func LooksLikeAPIKey(s string) bool {
	rest, ok := strings.CutPrefix(s, APIKeyPrefix)
	if !ok {
		return false
	}
	random, stamp, ok := strings.Cut(rest, "_")
	if !ok || len(random) != 32 || stamp == "" {
		return false
	}
	if _, err := hex.DecodeString(random); err != nil {
		return false
	}
	_, err := strconv.ParseInt(stamp, 36, 64)
	return err == nil
}
