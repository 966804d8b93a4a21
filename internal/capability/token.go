// Package capability mints and verifies short-lived, one-time, session-bound
// attach tokens. Tokens are signed Ed25519 JWTs; verification never requires
// the signer's private key, only the published public key set.
package capability

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	josejwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
)

// Audience is the fixed audience value all attach tokens carry.
const Audience = "attach"

// MaxTTL is the upper bound on a minted token's lifetime (spec §4.1: ≤10 minutes).
const MaxTTL = 10 * time.Minute

// Claims holds the verified fields extracted from a capability token.
type Claims struct {
	Subject        string // ownerId
	SessionBinding string // sessionId the token authorizes
	TokenID        string // unique id; presence in the store grants one attach
	Audience       string
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// sessionClaims is the custom (non-registered) claim set embedded in the JWT.
type sessionClaims struct {
	SessionID string `json:"sid"`
}

// MintRequest describes a token to be minted.
type MintRequest struct {
	Subject   string
	SessionID string
	TTL       time.Duration
}

// MintResult is the outcome of a successful mint.
type MintResult struct {
	TokenID   string
	Token     string
	ExpiresAt time.Time
}

// Signer mints capability tokens with an Ed25519 private key and publishes
// the corresponding public key set for verifiers.
type Signer struct {
	kid     string
	priv    ed25519.PrivateKey
	pub     ed25519.PublicKey
	signer  jose.Signer
	jwks    jose.JSONWebKeySet
	jwksRaw []byte
}

// NewSigner generates a fresh Ed25519 key pair identified by kid and builds
// the signer used to mint tokens.
func NewSigner(kid string) (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return newSignerFromKey(kid, pub, priv)
}

// NewSignerFromSeed builds a Signer from a 32-byte Ed25519 seed (e.g. loaded
// from keyMaterial at startup), so key material can persist across restarts.
func NewSignerFromSeed(kid string, seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return newSignerFromKey(kid, pub, priv)
}

func newSignerFromKey(kid string, pub ed25519.PublicKey, priv ed25519.PrivateKey) (*Signer, error) {
	opts := (&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", kid)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: priv}, opts)
	if err != nil {
		return nil, fmt.Errorf("construct signer: %w", err)
	}
	jwks := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: pub, KeyID: kid, Algorithm: string(jose.EdDSA), Use: "sig"},
	}}
	raw, err := json.Marshal(jwks)
	if err != nil {
		return nil, fmt.Errorf("marshal jwks: %w", err)
	}
	return &Signer{kid: kid, priv: priv, pub: pub, signer: signer, jwks: jwks, jwksRaw: raw}, nil
}

// Mint produces a freshly-randomized tokenId and a signed token embedding
// subject, session binding, audience, issued-at, and expires-at claims.
func (s *Signer) Mint(req MintRequest) (MintResult, error) {
	ttl := req.TTL
	if ttl == 0 || ttl > MaxTTL {
		ttl = MaxTTL
	}
	now := time.Now()
	tokenID := uuid.NewString()

	std := josejwt.Claims{
		Subject:   req.Subject,
		Audience:  josejwt.Audience{Audience},
		IssuedAt:  josejwt.NewNumericDate(now),
		Expiry:    josejwt.NewNumericDate(now.Add(ttl)),
		ID:        tokenID,
	}
	custom := sessionClaims{SessionID: req.SessionID}

	token, err := josejwt.Signed(s.signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return MintResult{}, fmt.Errorf("sign token: %w", err)
	}
	return MintResult{TokenID: tokenID, Token: token, ExpiresAt: now.Add(ttl)}, nil
}

// PublicKeySetJSON returns the JWKS document bytes served at
// /.well-known/jwks.json.
func (s *Signer) PublicKeySetJSON() []byte {
	return s.jwksRaw
}

// KeySetLocator resolves the URL a Verifier fetches the public key set from.
type KeySetLocator func() string

// Verifier verifies capability tokens against a key set fetched from the
// Controller's well-known location, caching by key identifier.
type Verifier struct {
	locator    KeySetLocator
	httpClient *http.Client

	mu      sync.Mutex
	keys    map[string]jose.JSONWebKey
	fetched time.Time
}

const keySetCacheTTL = 5 * time.Minute

// NewVerifier creates a Verifier that fetches the key set from locator().
func NewVerifier(locator KeySetLocator) *Verifier {
	return &Verifier{
		locator:    locator,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		keys:       make(map[string]jose.JSONWebKey),
	}
}

// Verify parses token, resolves its kid against the cached (or freshly
// fetched) key set, checks the signature, audience, and expiry, and returns
// the claim set on success.
func (v *Verifier) Verify(ctx context.Context, token string, expectedAudience string) (*Claims, error) {
	parsed, err := josejwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		return nil, fmt.Errorf("malformed token: %w", err)
	}
	if len(parsed.Headers) == 0 || parsed.Headers[0].KeyID == "" {
		return nil, fmt.Errorf("malformed token: missing kid")
	}
	kid := parsed.Headers[0].KeyID

	key, err := v.resolveKey(ctx, kid)
	if err != nil {
		return nil, err
	}

	var std josejwt.Claims
	var custom sessionClaims
	if err := parsed.Claims(key, &std, &custom); err != nil {
		return nil, fmt.Errorf("signature mismatch: %w", err)
	}

	now := time.Now()
	if std.Expiry == nil || !now.Before(std.Expiry.Time()) {
		return nil, fmt.Errorf("token expired")
	}
	if !containsAudience(std.Audience, expectedAudience) {
		return nil, fmt.Errorf("audience mismatch: want %q, got %v", expectedAudience, std.Audience)
	}

	return &Claims{
		Subject:        std.Subject,
		SessionBinding: custom.SessionID,
		TokenID:        std.ID,
		Audience:       expectedAudience,
		IssuedAt:       timeOrZero(std.IssuedAt),
		ExpiresAt:      timeOrZero(std.Expiry),
	}, nil
}

func containsAudience(aud josejwt.Audience, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

func timeOrZero(d *josejwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time()
}

// resolveKey returns the JSONWebKey for kid, fetching (or refreshing) the
// key set if kid is unknown or the cache has expired.
func (v *Verifier) resolveKey(ctx context.Context, kid string) (interface{}, error) {
	v.mu.Lock()
	key, ok := v.keys[kid]
	fresh := time.Since(v.fetched) < keySetCacheTTL
	v.mu.Unlock()
	if ok && fresh {
		return key.Key, nil
	}

	if err := v.refresh(ctx); err != nil {
		return nil, err
	}

	v.mu.Lock()
	key, ok = v.keys[kid]
	v.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown key identifier: %s", kid)
	}
	return key.Key, nil
}

func (v *Verifier) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.locator(), nil)
	if err != nil {
		return fmt.Errorf("build jwks request: %w", err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var jwks jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys = make(map[string]jose.JSONWebKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		v.keys[k.KeyID] = k
	}
	v.fetched = time.Now()
	return nil
}
