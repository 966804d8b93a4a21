// Package ratelimit implements per-caller admission rate limiting, bounded
// to a fixed number of tracked callers with LRU eviction so a large number
// of distinct owners cannot cause unbounded memory growth. The LRU shape is
// adapted from the teacher's token-claims cache.
package ratelimit

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedCallers bounds the limiter map the same way the teacher bounds
// its verified-token cache.
const maxTrackedCallers = 10_000

// Config configures the per-caller limiter.
type Config struct {
	// Window is the interval over which Max requests are allowed.
	Window time.Duration
	// Max is the maximum number of requests allowed per caller per Window.
	Max int
	// SkipPaths lists request paths exempt from rate limiting (e.g. health
	// checks, the JWKS document).
	SkipPaths []string
}

type entry struct {
	key     string
	limiter *rate.Limiter
}

// Limiter enforces a per-caller token-bucket limit.
type Limiter struct {
	cfg Config

	mu    sync.Mutex
	index map[string]*list.Element
	lru   *list.List
}

// New creates a Limiter from cfg. A zero-value Max or Window disables
// limiting (Allow always returns true).
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:   cfg,
		index: make(map[string]*list.Element),
		lru:   list.New(),
	}
}

// Skip reports whether path is exempt from rate limiting. A SkipPaths entry
// ending in "*" matches by prefix; any other entry matches exactly.
func (l *Limiter) Skip(path string) bool {
	for _, p := range l.cfg.SkipPaths {
		if strings.HasSuffix(p, "*") {
			if strings.HasPrefix(path, strings.TrimSuffix(p, "*")) {
				return true
			}
			continue
		}
		if path == p {
			return true
		}
	}
	return false
}

// Allow reports whether callerID may proceed now, consuming one token from
// its bucket if so.
func (l *Limiter) Allow(callerID string) bool {
	if l.cfg.Max <= 0 || l.cfg.Window <= 0 {
		return true
	}

	lim := l.limiterFor(callerID)
	return lim.Allow()
}

func (l *Limiter) limiterFor(callerID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.index[callerID]; ok {
		l.lru.MoveToFront(elem)
		return elem.Value.(*entry).limiter
	}

	for l.lru.Len() >= maxTrackedCallers {
		oldest := l.lru.Back()
		if oldest == nil {
			break
		}
		l.lru.Remove(oldest)
		delete(l.index, oldest.Value.(*entry).key)
	}

	ratePerSec := rate.Limit(float64(l.cfg.Max) / l.cfg.Window.Seconds())
	lim := rate.NewLimiter(ratePerSec, l.cfg.Max)
	e := &entry{key: callerID, limiter: lim}
	elem := l.lru.PushFront(e)
	l.index[callerID] = elem
	return lim
}
