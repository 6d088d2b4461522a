// Command identity-loadtest measures session store throughput: lookups of
// random sessions, then refresh rotations that replace each session under a
// new id.
package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goIdentity/session"
)

const tenant = "default"

type chain struct {
	mu   sync.Mutex
	sid  string
	hash [32]byte
}

func main() {
	var (
		sessions    = flag.Int("sessions", 100000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (find + rotate)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "gi-load", "session key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	store := session.NewRedisStore(client, session.RedisOptions{Prefix: *prefix})

	chains := make([]chain, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := range chains {
		rec := newRecord(fmt.Sprintf("u-%d", i%1000), tokenHash(i, 0))
		if err := store.Put(ctx, rec); err != nil {
			fmt.Fprintf(os.Stderr, "put failed: %v\n", err)
			os.Exit(1)
		}
		chains[i].sid = rec.SessionID
		chains[i].hash = rec.TokenHash
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	findStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand, _ int) error {
		c := &chains[r.Intn(len(chains))]
		c.mu.Lock()
		sid := c.sid
		c.mu.Unlock()
		_, err := store.Find(ctx, tenant, sid)
		return err
	})
	rotateStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand, op int) error {
		idx := r.Intn(len(chains))
		c := &chains[idx]
		c.mu.Lock()
		defer c.mu.Unlock()
		next := newRecord(fmt.Sprintf("u-%d", idx%1000), tokenHash(idx, op+1))
		if err := store.Rotate(ctx, tenant, c.sid, c.hash, next); err != nil {
			return err
		}
		c.sid, c.hash = next.SessionID, next.TokenHash
		return nil
	})

	// Rotating an unknown session must fail.
	replays := 0
	for i := 0; i < 100 && i < len(chains); i++ {
		err := store.Rotate(ctx, tenant, "missing-"+chains[i].sid, chains[i].hash, newRecord("u", tokenHash(i, -1)))
		if errors.Is(err, session.ErrNotFound) {
			replays++
		}
	}

	fmt.Println("---- results ----")
	printStats("find", findStats)
	printStats("rotate", rotateStats)
	count, err := store.Count(ctx, tenant)
	if err != nil {
		fmt.Fprintf(os.Stderr, "count failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("indexed sessions after run: %d (seeded %d)\n", count, *sessions)
	fmt.Printf("unknown-session rotations rejected: %d/100\n", replays)
}

// runPhase runs ops calls of fn across concurrency workers.
func runPhase(ops, concurrency int, seed int64, fn func(r *rand.Rand, op int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := fn(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func newRecord(userID string, hash [32]byte) *session.Record {
	now := time.Now()
	return &session.Record{
		SessionID: uuid.NewString(),
		UserID:    userID,
		TenantID:  tenant,
		TokenHash: hash,
		IP:        "127.0.0.1",
		UserAgent: "identity-loadtest",
		IssuedAt:  now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func tokenHash(i, generation int) [32]byte {
	return sha256.Sum256([]byte(fmt.Sprintf("refresh-%d-%d", i, generation)))
}
