package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// APIKeyPrefix marks keys issued by this service.
const APIKeyPrefix = "waf_"

// APIKey is a stored API key. Only the SHA-256 hash of the key is kept;
// the plaintext is returned once, when the key is issued.
type APIKey struct {
	ID         string     `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	KeyHash    string     `json:"-" db:"key_hash"`
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// CreateAPIKeyRequest is the request body for issuing an API key.
type CreateAPIKeyRequest struct {
	Name string `json:"name"`
}

// CreateAPIKeyResponse carries the plaintext key of a newly issued key.
type CreateAPIKeyResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	KeyPrefix string    `json:"key_prefix"`
	CreatedAt time.Time `json:"created_at"`
}

// NewAPIKeySecret returns a random plaintext key together with its hash
// and the short prefix used to identify it in listings.
func NewAPIKeySecret() (key, hash, prefix string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", err
	}
	key = APIKeyPrefix + hex.EncodeToString(buf)
	return key, HashAPIKey(key), key[:len(APIKeyPrefix)+8], nil
}

// HashAPIKey returns the hex SHA-256 of key. Keys are high-entropy, so a
// fast hash is enough for lookups.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
