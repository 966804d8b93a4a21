package admission

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// APIKeyAuthenticator authenticates callers against a static map of
// SHA-256(key) -> ownerId, loaded at startup from configuration. Keys are
// compared by their hash in constant time so a timing side-channel cannot
// leak a valid key one byte at a time.
type APIKeyAuthenticator struct {
	// ownersByHash maps hex(sha256(apiKey)) to ownerId.
	ownersByHash map[string]string
}

// NewAPIKeyAuthenticator builds an authenticator from a plaintext
// apiKey -> ownerId map (e.g. parsed from an env var or secret file at
// startup). Keys are hashed once, up front.
func NewAPIKeyAuthenticator(owners map[string]string) *APIKeyAuthenticator {
	byHash := make(map[string]string, len(owners))
	for key, ownerID := range owners {
		byHash[hashKey(key)] = ownerID
	}
	return &APIKeyAuthenticator{ownersByHash: byHash}
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Authenticate looks up rawToken (the caller's api key) by its hash.
func (a *APIKeyAuthenticator) Authenticate(_ context.Context, rawToken string) (Caller, error) {
	if rawToken == "" {
		return Caller{}, ErrUnauthenticated
	}
	target := hashKey(rawToken)
	for hash, ownerID := range a.ownersByHash {
		if subtle.ConstantTimeCompare([]byte(hash), []byte(target)) == 1 {
			return Caller{OwnerID: ownerID}, nil
		}
	}
	return Caller{}, ErrUnauthenticated
}
