package authflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/naballard/authflow/federation"
	"github.com/naballard/authflow/store"
	"github.com/naballard/authflow/store/memory"
)

// mockMailer records sent codes and can be told to fail.
type mockMailer struct {
	mu       sync.Mutex
	sent     map[string]string // email -> last code
	perEmail map[string]int
	failNext bool
	calls    int
}

func newMockMailer() *mockMailer {
	return &mockMailer{sent: map[string]string{}, perEmail: map[string]int{}}
}

func (m *mockMailer) Send(_ context.Context, to, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failNext {
		m.failNext = false
		return errors.New("smtp down")
	}
	m.sent[to] = code
	m.perEmail[to]++
	return nil
}

func (m *mockMailer) lastCode(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[email]
}

func (m *mockMailer) count(email string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perEmail[email]
}

// mockFetcher returns canned profiles keyed by access token.
type mockFetcher struct {
	profiles map[string]federation.Profile
	err      error
}

func (f *mockFetcher) Fetch(_ context.Context, _ store.Provider, accessToken string) (federation.Profile, error) {
	if f.err != nil {
		return federation.Profile{}, f.err
	}
	p, ok := f.profiles[accessToken]
	if !ok {
		return federation.Profile{}, federation.ErrTokenRejected
	}
	return p, nil
}

type testEnv struct {
	engine  *Engine
	store   *memory.Memory
	mailer  *mockMailer
	fetcher *mockFetcher
	clock   *fakeClock
}

// fakeClock is a mutable clock shared with the engine.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	// Cheapest parameters the validator accepts; tests hash a lot.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := memory.New()
	mailer := newMockMailer()
	fetcher := &mockFetcher{profiles: map[string]federation.Profile{}}

	engine, err := New().
		WithConfig(testConfig()).
		WithStore(st).
		WithMailer(mailer).
		WithProfileFetcher(fetcher).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	engine.now = clock.Now

	return &testEnv{
		engine:  engine,
		store:   st,
		mailer:  mailer,
		fetcher: fetcher,
		clock:   clock,
	}
}

// register walks the full OTP flow for email and logs the fresh
// account in, returning its first session.
func (env *testEnv) register(t *testing.T, email, pass string) *Session {
	t.Helper()

	ctx := context.Background()
	if err := env.engine.RequestOTP(ctx, email); err != nil {
		t.Fatalf("RequestOTP(%s): %v", email, err)
	}
	err := env.engine.Register(ctx, RegisterInput{
		Email:    email,
		Code:     env.mailer.lastCode(email),
		Password: pass,
		Name:     "Test",
		Lastname: "User",
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	session, err := env.engine.Login(ctx, email, pass)
	if err != nil {
		t.Fatalf("Login(%s): %v", email, err)
	}
	return session
}
