// Command signin-loadtest drives concurrent sign-in attempts through the
// engine and prints latency percentiles per phase.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	authflow "github.com/PHPxCODER/rdp-website-sub000"
	"github.com/PHPxCODER/rdp-website-sub000/mailer"
	"github.com/PHPxCODER/rdp-website-sub000/password"
	"github.com/PHPxCODER/rdp-website-sub000/session"
	"github.com/PHPxCODER/rdp-website-sub000/store/memory"
)

const loadPassword = "load-test-password"

func main() {
	var (
		users       = flag.Int("users", 1000, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "signin-load", "redis key prefix")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
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
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	// Minimum argon2 cost so the phases measure the engine, not the hash.
	hasher, err := password.New(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		fmt.Fprintf(os.Stderr, "hasher: %v\n", err)
		os.Exit(1)
	}
	store := memory.New(hasher)

	emails := make([]string, *users)
	fmt.Printf("seeding %d users...\n", *users)
	startSeed := time.Now()
	for i := range emails {
		emails[i] = fmt.Sprintf("user-%d@load.test", i)
		if _, err := store.AddUser(ctx, authflow.UserRecord{Email: emails[i]}, []byte(loadPassword)); err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	engine, err := newEngine(client, store, *prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = engine.Close(context.Background()) }()

	emailStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		f, err := engine.StartFlow(ctx)
		if err != nil {
			return err
		}
		if err := f.SubmitEmail(ctx, emails[r.Intn(len(emails))]); err != nil {
			return err
		}
		return engine.SaveFlow(ctx, f)
	})
	signInStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		f := engine.NewFlow()
		if err := f.SubmitEmail(ctx, emails[r.Intn(len(emails))]); err != nil {
			return err
		}
		return f.SubmitPassword(ctx, []byte(loadPassword))
	})

	fmt.Println("---- results ----")
	printStats("start+email", emailStats)
	printStats("sign-in", signInStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("sign-ins=%d backend_errors=%d\n", snap.Counters[authflow.MetricSignInSuccess], snap.Counters[authflow.MetricBackendUnavailable])
}

func newEngine(client redis.UniversalClient, store authflow.CredentialStore, prefix string) (*authflow.Engine, error) {
	issuer, err := session.NewIssuer(session.Config{PrivateKey: bytes.Repeat([]byte{0x5a}, 32)})
	if err != nil {
		return nil, err
	}
	cfg := authflow.DefaultConfig()
	cfg.RedisPrefix = prefix
	cfg.BackupCodes.Key = bytes.Repeat([]byte{0x42}, 32)
	cfg.EmailLookup.Enabled = false
	cfg.Metrics.EnableLatencyHistograms = true

	return authflow.New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(store).
		WithMailer(mailer.NewLog(zap.NewNop())).
		WithSessionIssuer(issuer).
		Build()
}

func runPhase(ops, concurrency int, op func(r *rand.Rand) error) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
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
	total := time.Since(start)
	return computeStats(total, latencies, failures)
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
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
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
