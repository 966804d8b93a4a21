package admission

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
)

const (
	tokenCacheTTL = 5 * time.Minute
	tokenCacheMax = 10_000 // bounds memory against a large number of distinct callers
)

// OIDCAuthenticator verifies bearer tokens issued by an external identity
// provider (callerAuthMode = identity-token-from-external-provider) and
// caches verified results for tokenCacheTTL, evicting least-recently-used
// entries once tokenCacheMax is reached.
type OIDCAuthenticator struct {
	verifier *gooidc.IDTokenVerifier

	mu    sync.Mutex
	index map[string]*list.Element
	lru   *list.List
}

type cachedEntry struct {
	key    string
	caller Caller
	expiry time.Time
}

var nonAlphaNum = regexp.MustCompile(`[^a-z0-9]+`)

// SanitizeOwnerID converts an OIDC sub into an opaque, lowercase,
// hyphen-separated identifier safe to use as an orchestrator resource name
// component, truncated to 63 characters (a DNS label's RFC 1035 limit).
func SanitizeOwnerID(sub string) string {
	s := strings.ToLower(sub)
	s = nonAlphaNum.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 0 && s[0] >= '0' && s[0] <= '9' {
		s = "u-" + s
	}
	if len(s) > 63 {
		s = strings.TrimRight(s[:63], "-")
	}
	return s
}

// NewOIDCAuthenticator performs OIDC discovery against issuerURL and builds
// an authenticator that accepts tokens for clientID.
func NewOIDCAuthenticator(ctx context.Context, issuerURL, clientID string) (*OIDCAuthenticator, error) {
	provider, err := gooidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("OIDC provider discovery %q: %w", issuerURL, err)
	}
	a := &OIDCAuthenticator{
		verifier: provider.Verifier(&gooidc.Config{ClientID: clientID}),
		index:    make(map[string]*list.Element),
		lru:      list.New(),
	}
	go a.evictExpired(ctx)
	return a, nil
}

func (a *OIDCAuthenticator) evictExpired(ctx context.Context) {
	ticker := time.NewTicker(tokenCacheTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			a.mu.Lock()
			for key, elem := range a.index {
				if now.After(elem.Value.(*cachedEntry).expiry) {
					a.lru.Remove(elem)
					delete(a.index, key)
				}
			}
			a.mu.Unlock()
		}
	}
}

// Authenticate verifies rawToken and returns the associated Caller.
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, rawToken string) (Caller, error) {
	if rawToken == "" {
		return Caller{}, ErrUnauthenticated
	}
	key := hashToken(rawToken)

	a.mu.Lock()
	if elem, ok := a.index[key]; ok {
		entry := elem.Value.(*cachedEntry)
		if time.Now().Before(entry.expiry) {
			a.lru.MoveToFront(elem)
			caller := entry.caller
			a.mu.Unlock()
			return caller, nil
		}
		a.lru.Remove(elem)
		delete(a.index, key)
	}
	a.mu.Unlock()

	idToken, err := a.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Caller{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	caller := Caller{OwnerID: SanitizeOwnerID(idToken.Subject)}

	a.mu.Lock()
	for a.lru.Len() >= tokenCacheMax {
		oldest := a.lru.Back()
		if oldest == nil {
			break
		}
		a.lru.Remove(oldest)
		delete(a.index, oldest.Value.(*cachedEntry).key)
	}
	entry := &cachedEntry{key: key, caller: caller, expiry: time.Now().Add(tokenCacheTTL)}
	elem := a.lru.PushFront(entry)
	a.index[key] = elem
	a.mu.Unlock()

	return caller, nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
