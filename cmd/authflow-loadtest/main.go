// Command authflow-loadtest measures engine throughput against an
// in-memory store. It seeds accounts through the full registration
// flow, then drives concurrent validate, refresh, and login phases and
// reports latency percentiles.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"math/big"
	mrand "math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/naballard/authflow"
	"github.com/naballard/authflow/store/memory"
)

type account struct {
	email    string
	password string

	mu            sync.Mutex
	refreshSecret string
}

func main() {
	var (
		users       = flag.Int("users", 2000, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	client, cleanup := redisClient(*redisAddr)
	defer cleanup()

	mailer := newCaptureMailer()
	engine, err := buildEngine(client, mailer, *users, *ops)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	accounts := make([]*account, *users)
	tokens := make([]string, *users)

	fmt.Printf("seeding %d accounts...\n", *users)
	startSeed := time.Now()
	for i := 0; i < *users; i++ {
		acct := &account{
			email:    fmt.Sprintf("load-%d@example.com", i),
			password: fmt.Sprintf("load-pass-%d!", i),
		}
		if err := engine.RequestOTP(ctx, acct.email); err != nil {
			fmt.Fprintf(os.Stderr, "request code: %v\n", err)
			os.Exit(1)
		}
		err := engine.Register(ctx, authflow.RegisterInput{
			Email:    acct.email,
			Code:     mailer.take(acct.email),
			Password: acct.password,
			Name:     "Load",
			Lastname: "Tester",
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "register: %v\n", err)
			os.Exit(1)
		}
		sess, err := engine.Login(ctx, acct.email, acct.password)
		if err != nil {
			fmt.Fprintf(os.Stderr, "login: %v\n", err)
			os.Exit(1)
		}
		acct.refreshSecret = sess.RefreshSecret
		accounts[i] = acct
		tokens[i] = sess.AccessToken
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runPhase(*ops, *concurrency, func(r *mrand.Rand) error {
		_, err := engine.ValidateAccess(ctx, tokens[r.Intn(len(tokens))])
		return err
	})

	refreshStats := runPhase(*ops, *concurrency, func(r *mrand.Rand) error {
		acct := accounts[r.Intn(len(accounts))]
		acct.mu.Lock()
		defer acct.mu.Unlock()
		sess, err := engine.Refresh(ctx, acct.refreshSecret)
		if err != nil {
			return err
		}
		acct.refreshSecret = sess.RefreshSecret
		return nil
	})

	loginStats := runPhase(*ops, *concurrency, func(r *mrand.Rand) error {
		acct := accounts[r.Intn(len(accounts))]
		_, err := engine.Login(ctx, acct.email, acct.password)
		return err
	})

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)
	printStats("login", loginStats)
}

func redisClient(addr string) (redis.UniversalClient, func()) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{mr.Addr()},
		})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
		return client, func() {
			_ = client.Close()
			mr.Close()
		}
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{addr},
	})
	fmt.Printf("using redis at %s\n", addr)
	return client, func() { _ = client.Close() }
}

func buildEngine(client redis.UniversalClient, mailer *captureMailer, users, ops int) (*authflow.Engine, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	cfg := authflow.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	// Floor-level Argon2 cost: the run measures engine overhead, not
	// hashing throughput.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	// Every seeded token must stay reachable by the bounded scan, and
	// refreshes during the run keep appending records.
	cfg.Refresh.ScanWindow = users + 2*ops
	cfg.Refresh.LogoutScanWindow = cfg.Refresh.ScanWindow
	// The run hammers a single client address on purpose.
	cfg.Security.EnableIPThrottle = false
	cfg.Security.MaxLoginAttempts = 1 << 30

	return authflow.New().
		WithConfig(cfg).
		WithStore(memory.New()).
		WithMailer(mailer).
		WithRedis(client).
		WithLatencyHistograms(true).
		Build()
}

// captureMailer records the last code sent per address instead of
// delivering email.
type captureMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func newCaptureMailer() *captureMailer {
	return &captureMailer{codes: map[string]string{}}
}

func (m *captureMailer) Send(_ context.Context, to, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[to] = code
	return nil
}

func (m *captureMailer) take(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	code := m.codes[to]
	delete(m.codes, to)
	return code
}

func runPhase(ops, concurrency int, op func(r *mrand.Rand) error) phaseStats {
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
			r := mrand.New(mrand.NewSource(seed() + int64(worker)*7919))
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
	return computeStats(time.Since(start), latencies, failures)
}

func seed() int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return time.Now().UnixNano()
	}
	return n.Int64()
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
