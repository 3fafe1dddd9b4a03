package authflow

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/naballard/authflow/federation"
	"github.com/naballard/authflow/jwt"
	"github.com/naballard/authflow/mail"
	"github.com/naballard/authflow/password"
	"github.com/naballard/authflow/rate"
	"github.com/naballard/authflow/scope"
	"github.com/naballard/authflow/store"
)

// Builder assembles an [Engine]. Configure it with the With* methods
// and call Build exactly once; Builders are not safe for concurrent
// use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store    store.Store
	mailer   mail.Sender
	profiles federation.ProfileFetcher
	grants   map[scope.Role][]scope.Scope

	auditSink AuditSink

	built bool
}

// New returns a Builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the persistence backend. Required.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithMailer sets the verification-code sender. Required.
func (b *Builder) WithMailer(m mail.Sender) *Builder {
	b.mailer = m
	return b
}

// WithProfileFetcher sets the identity-provider client. Optional;
// without one, FederatedLogin fails with ErrUnsupportedProvider.
func (b *Builder) WithProfileFetcher(f federation.ProfileFetcher) *Builder {
	b.profiles = f
	return b
}

// WithRedis enables request throttling backed by the given client.
// Optional; without Redis all throttles are skipped.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithScopes replaces the default role-scope grants.
func (b *Builder) WithScopes(grants map[scope.Role][]scope.Scope) *Builder {
	b.grants = grants
	return b
}

// WithAuditSink sets the audit destination and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the validate latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, wires all collaborators, and
// returns the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer required")
	}

	table := scope.Default()
	if b.grants != nil {
		t, err := scope.NewTable(b.grants)
		if err != nil {
			return nil, err
		}
		table = t
	}

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:       cfg,
		store:        b.store,
		scopes:       table,
		passwordHash: ph,
		jwtManager:   jm,
		mailer:       b.mailer,
		profiles:     b.profiles,
		audit:        newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:      NewMetrics(cfg.Metrics),
		now:          time.Now,
	}

	if b.redis != nil {
		engine.rateLimiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle:    cfg.Security.EnableIPThrottle,
			MaxLoginAttempts:    cfg.Security.MaxLoginAttempts,
			LoginCooldown:       cfg.Security.LoginCooldown,
			MaxOTPRequestsPerIP: cfg.Security.MaxOTPRequestsPerIP,
			OTPRequestWindow:    cfg.Security.OTPRequestWindow,
		})
	}

	b.built = true

	return engine, nil
}
