package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRedisStoreTest(t *testing.T) (*RedisStore, *miniredis.Miniredis, *testClock) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	clock := &testClock{now: time.UnixMilli(time.Now().UnixMilli())}
	return NewRedisStore(rdb, RedisOptions{Prefix: "t", Now: clock.Now}), mr, clock
}

func testRecord(clock *testClock, sid, uid string, hash byte) *Record {
	now := clock.Now()
	return &Record{
		SessionID: sid,
		UserID:    uid,
		TenantID:  "t1",
		TokenHash: [32]byte{hash},
		IP:        "203.0.113.7",
		UserAgent: "test-agent",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func mustCount(t *testing.T, s *RedisStore, tenantID string, want int) {
	t.Helper()
	got, err := s.Count(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if got != want {
		t.Fatalf("count = %d, want %d", got, want)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := &Record{
		UserID:    "u-1",
		TenantID:  "t-1",
		TokenHash: [32]byte{9, 8, 7},
		IP:        "::1",
		UserAgent: "Mozilla/5.0",
		IssuedAt:  time.UnixMilli(1700000000123),
		ExpiresAt: time.UnixMilli(1700003600456),
	}
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.UserID != in.UserID || out.TenantID != in.TenantID || out.IP != in.IP || out.UserAgent != in.UserAgent {
		t.Fatalf("string fields mismatch: %+v", out)
	}
	if out.TokenHash != in.TokenHash || !out.IssuedAt.Equal(in.IssuedAt) || !out.ExpiresAt.Equal(in.ExpiresAt) {
		t.Fatalf("fixed fields mismatch: %+v", out)
	}

	if _, err := Decode([]byte{99}); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for short blob, got %v", err)
	}
}

func TestPutFindAndIdempotentPut(t *testing.T) {
	s, _, clock := newRedisStoreTest(t)
	ctx := context.Background()
	rec := testRecord(clock, "sid-1", "u-1", 1)

	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("second put: %v", err)
	}
	mustCount(t, s, "t1", 1)

	got, err := s.Find(ctx, "t1", "sid-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.SessionID != "sid-1" || got.UserID != "u-1" || got.TokenHash != rec.TokenHash {
		t.Fatalf("unexpected record: %+v", got)
	}

	if _, err := s.Find(ctx, "other", "sid-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected tenant isolation, got %v", err)
	}
}

func TestFindExpiredRemovesRecord(t *testing.T) {
	s, _, clock := newRedisStoreTest(t)
	ctx := context.Background()
	if err := s.Put(ctx, testRecord(clock, "sid-1", "u-1", 1)); err != nil {
		t.Fatalf("put: %v", err)
	}

	clock.Advance(2 * time.Hour)
	if _, err := s.Find(ctx, "t1", "sid-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	mustCount(t, s, "t1", 0)
}

func TestRotateReplacesAndMarks(t *testing.T) {
	s, _, clock := newRedisStoreTest(t)
	ctx := context.Background()
	old := testRecord(clock, "sid-old", "u-1", 1)
	if err := s.Put(ctx, old); err != nil {
		t.Fatalf("put: %v", err)
	}

	next := testRecord(clock, "sid-new", "u-1", 2)
	if err := s.Rotate(ctx, "t1", "sid-old", old.TokenHash, next); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	if _, err := s.Find(ctx, "t1", "sid-old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old session gone, got %v", err)
	}
	got, err := s.Find(ctx, "t1", "sid-new")
	if err != nil {
		t.Fatalf("find new: %v", err)
	}
	if got.TokenHash != next.TokenHash {
		t.Fatal("new session carries wrong hash")
	}
	mustCount(t, s, "t1", 1)

	uid, rotated, err := s.WasRotated(ctx, "t1", "sid-old")
	if err != nil || !rotated || uid != "u-1" {
		t.Fatalf("WasRotated = (%q, %v, %v), want (u-1, true, nil)", uid, rotated, err)
	}
	if _, rotated, _ := s.WasRotated(ctx, "t1", "sid-new"); rotated {
		t.Fatal("live session must not be marked rotated")
	}

	replay := testRecord(clock, "sid-replay", "u-1", 3)
	if err := s.Rotate(ctx, "t1", "sid-old", old.TokenHash, replay); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected replayed rotation to fail with ErrNotFound, got %v", err)
	}
	if _, err := s.Find(ctx, "t1", "sid-replay"); !errors.Is(err, ErrNotFound) {
		t.Fatal("replayed rotation must not insert a session")
	}
}

func TestRotateHashMismatchRevokes(t *testing.T) {
	s, _, clock := newRedisStoreTest(t)
	ctx := context.Background()
	if err := s.Put(ctx, testRecord(clock, "sid-1", "u-1", 1)); err != nil {
		t.Fatalf("put: %v", err)
	}

	err := s.Rotate(ctx, "t1", "sid-1", [32]byte{42}, testRecord(clock, "sid-2", "u-1", 2))
	if !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("expected ErrTokenMismatch, got %v", err)
	}
	if _, err := s.Find(ctx, "t1", "sid-1"); !errors.Is(err, ErrNotFound) {
		t.Fatal("expected mismatched session to be revoked")
	}
	mustCount(t, s, "t1", 0)
}

func TestRotateRejectsForeignUser(t *testing.T) {
	s, _, clock := newRedisStoreTest(t)
	ctx := context.Background()
	old := testRecord(clock, "sid-1", "u-1", 1)
	if err := s.Put(ctx, old); err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := s.Rotate(ctx, "t1", "sid-1", old.TokenHash, testRecord(clock, "sid-2", "u-2", 2)); err == nil {
		t.Fatal("expected rotation into another user's chain to fail")
	}
	if _, err := s.Find(ctx, "t1", "sid-1"); err != nil {
		t.Fatalf("old session should survive a rejected rotation: %v", err)
	}
}

func TestConcurrentRotateSucceedsOnce(t *testing.T) {
	s, _, clock := newRedisStoreTest(t)
	ctx := context.Background()
	old := testRecord(clock, "sid-old", "u-1", 1)
	if err := s.Put(ctx, old); err != nil {
		t.Fatalf("put: %v", err)
	}

	const workers = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := testRecord(clock, "sid-next-"+string(rune('a'+i)), "u-1", byte(i+2))
			if err := s.Rotate(ctx, "t1", "sid-old", old.TokenHash, next); err == nil {
				successes.Add(1)
			} else if !errors.Is(err, ErrNotFound) {
				t.Errorf("unexpected rotate error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := successes.Load(); got != 1 {
		t.Fatalf("expected exactly one successful rotation, got %d", got)
	}
	list, err := s.ListForUser(ctx, "t1", "u-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one live session after racing rotations, got %d", len(list))
	}
	mustCount(t, s, "t1", 1)
}

func TestDeleteOneIdempotent(t *testing.T) {
	s, _, clock := newRedisStoreTest(t)
	ctx := context.Background()
	if err := s.Put(ctx, testRecord(clock, "sid-1", "u-1", 1)); err != nil {
		t.Fatalf("put: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.DeleteOne(ctx, "t1", "sid-1"); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}
	mustCount(t, s, "t1", 0)
	list, err := s.ListForUser(ctx, "t1", "u-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty index, got %d", len(list))
	}
}

func TestDeleteAllForUser(t *testing.T) {
	s, _, clock := newRedisStoreTest(t)
	ctx := context.Background()
	for _, rec := range []*Record{
		testRecord(clock, "a", "u-1", 1),
		testRecord(clock, "b", "u-1", 2),
		testRecord(clock, "c", "u-2", 3),
	} {
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	n, err := s.DeleteAllForUser(ctx, "t1", "u-1")
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted %d, want 2", n)
	}
	if _, err := s.Find(ctx, "t1", "c"); err != nil {
		t.Fatalf("other user's session must survive: %v", err)
	}
	mustCount(t, s, "t1", 1)

	n, err = s.DeleteAllForUser(ctx, "t1", "u-1")
	if err != nil || n != 0 {
		t.Fatalf("second delete all = (%d, %v), want (0, nil)", n, err)
	}
}

func TestSweepExpiredIsIdempotent(t *testing.T) {
	s, mr, clock := newRedisStoreTest(t)
	ctx := context.Background()

	short := testRecord(clock, "short", "u-1", 1)
	short.ExpiresAt = clock.Now().Add(time.Minute)
	long := testRecord(clock, "long", "u-1", 2)
	gone := testRecord(clock, "gone", "u-2", 3)
	gone.ExpiresAt = clock.Now().Add(30 * time.Second)
	for _, rec := range []*Record{short, long, gone} {
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	// "gone" disappears through Redis TTL, "short" only through the clock.
	mr.FastForward(45 * time.Second)
	clock.Advance(2 * time.Minute)

	n, err := s.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("first sweep removed %d, want 2", n)
	}
	n, err = s.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("second sweep removed %d, want 0", n)
	}

	if _, err := s.Find(ctx, "t1", "long"); err != nil {
		t.Fatalf("unexpired session must survive sweep: %v", err)
	}
	mustCount(t, s, "t1", 1)
}

func TestPutRejectsExpiredRecord(t *testing.T) {
	s, _, clock := newRedisStoreTest(t)
	rec := testRecord(clock, "sid-1", "u-1", 1)
	rec.ExpiresAt = clock.Now().Add(-time.Second)
	if err := s.Put(context.Background(), rec); err == nil {
		t.Fatal("expected expired record to be rejected")
	}
}

func TestPutRejectsUnsafeTenant(t *testing.T) {
	s, mr, clock := newRedisStoreTest(t)
	ctx := context.Background()

	for _, tenant := range []string{"a:b", "a b", "a*", strings.Repeat("a", 65)} {
		rec := testRecord(clock, "sid-1", "u-1", 1)
		rec.TenantID = tenant
		if err := s.Put(ctx, rec); !errors.Is(err, ErrInvalidTenant) {
			t.Fatalf("tenant %q: expected ErrInvalidTenant, got %v", tenant, err)
		}
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("rejected puts wrote keys: %v", keys)
	}

	next := testRecord(clock, "sid-2", "u-1", 2)
	next.TenantID = "a:b"
	if err := s.Rotate(ctx, "a:b", "sid-1", [32]byte{1}, next); !errors.Is(err, ErrInvalidTenant) {
		t.Fatalf("rotate: expected ErrInvalidTenant, got %v", err)
	}
}

func TestSweepKeepsLiveSessionsOfDottedTenant(t *testing.T) {
	s, _, clock := newRedisStoreTest(t)
	ctx := context.Background()

	rec := testRecord(clock, "sid-1", "u-1", 1)
	rec.TenantID = "acme.eu-west_1"
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	n, err := s.SweepExpired(ctx)
	if err != nil || n != 0 {
		t.Fatalf("sweep = (%d, %v), want (0, nil)", n, err)
	}
	n, err = s.DeleteAllForUser(ctx, rec.TenantID, "u-1")
	if err != nil || n != 1 {
		t.Fatalf("delete all after sweep = (%d, %v), want (1, nil)", n, err)
	}
	if _, err := s.Find(ctx, rec.TenantID, "sid-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("session must be revoked, got %v", err)
	}
}

func TestValidTenantID(t *testing.T) {
	cases := map[string]bool{
		"":               true,
		"0":              true,
		"acme":           true,
		"acme.eu-west_1": true,
		"a:b":            false,
		"a b":            false,
		"ü":              false,
	}
	for tenant, want := range cases {
		if got := ValidTenantID(tenant); got != want {
			t.Errorf("ValidTenantID(%q) = %v, want %v", tenant, got, want)
		}
	}
}
