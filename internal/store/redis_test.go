package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb)
}

func testSession(id string) Session {
	now := time.Now()
	return Session{
		SessionID: id,
		OwnerID:   "owner-1",
		JobName:   "wscli-" + id[:13],
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}
}

func TestInsertSessionRejectsDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession("11111111-1111-4111-8111-111111111111")

	if err := s.InsertSession(ctx, sess); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := s.InsertSession(ctx, sess)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second insert: got %v, want ErrAlreadyExists", err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSession(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSession: got %v, want ErrNotFound", err)
	}
}

func TestUpdateSessionPodIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession("22222222-2222-4222-8222-222222222222")
	if err := s.InsertSession(ctx, sess); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.UpdateSessionPod(ctx, sess.SessionID, "10.0.0.5", "pod-a"); err != nil {
		t.Fatalf("update pod: %v", err)
	}
	got, err := s.GetSession(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.PodIP != "10.0.0.5" || got.PodName != "pod-a" {
		t.Fatalf("unexpected session after update: %+v", got)
	}

	// Calling GetSession twice returns the same podIp once discovery completed.
	got2, err := s.GetSession(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("get session again: %v", err)
	}
	if got2.PodIP != got.PodIP {
		t.Fatalf("podIp changed between reads: %q != %q", got2.PodIP, got.PodIP)
	}

	if err := s.UpdateSessionPod(ctx, sess.SessionID, "10.0.0.9", "pod-b"); err == nil {
		t.Fatal("second UpdateSessionPod with a different podIp should fail")
	}
}

func TestUpdateSessionPodNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateSessionPod(context.Background(), "missing", "10.0.0.5", "pod-a")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateSessionPod: got %v, want ErrNotFound", err)
	}
}

func TestInsertTokenIDRejectsDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Minute)

	if err := s.InsertTokenID(ctx, "tok-1", "sess-1", exp); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := s.InsertTokenID(ctx, "tok-1", "sess-1", exp)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second insert: got %v, want ErrAlreadyExists", err)
	}
}

// TestConsumeTokenIDOnceOnly is invariant 1 from spec §8: at most one
// WebSocket upgrade presenting a given token succeeds, even under
// concurrent arrival.
func TestConsumeTokenIDOnceOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.InsertTokenID(ctx, "tok-race", "sess-1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	const n = 20
	results := make([]bool, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			ok, err := s.ConsumeTokenID(ctx, "tok-race")
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			results[i] = ok
		}(i)
	}
	wg.Wait()

	trueCount := 0
	for _, ok := range results {
		if ok {
			trueCount++
		}
	}
	if trueCount != 1 {
		t.Fatalf("expected exactly one true return, got %d", trueCount)
	}
}

func TestConsumeTokenIDAbsent(t *testing.T) {
	s := newTestStore(t)
	ok, err := s.ConsumeTokenID(context.Background(), "never-existed")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if ok {
		t.Fatal("expected false for a tokenId that was never inserted")
	}
}
