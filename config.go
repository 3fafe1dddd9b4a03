package authflow

import (
	"errors"
	"time"
)

// Config defines all engine tuning parameters. Treat a Config as
// immutable after Build; the engine keeps its own clone.
type Config struct {
	JWT      JWTConfig
	OTP      OTPConfig
	Refresh  RefreshConfig
	Password PasswordConfig
	Security SecurityConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

// JWTConfig controls access-token signing and verification.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// OTPConfig controls the email verification-code state machine.
type OTPConfig struct {
	Digits         int
	TTL            time.Duration
	MaxAttempts    int
	MaxResends     int
	ResendCooldown time.Duration
	LockDuration   time.Duration
}

// RefreshConfig controls refresh-token lifetime and the bounded scans
// used to match presented secrets against stored hashes.
type RefreshConfig struct {
	TTL time.Duration
	// ScanWindow bounds how many recent token records Refresh compares
	// a presented secret against.
	ScanWindow int
	// LogoutScanWindow is the wider bound used by Logout, which must
	// find older tokens too.
	LogoutScanWindow int
	// ChainRevokeLimit bounds the descendant walk when reuse is
	// detected.
	ChainRevokeLimit int
}

// PasswordConfig carries the Argon2id cost parameters.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

// SecurityConfig controls Redis-backed request throttling. All
// throttles are skipped when the engine is built without Redis.
type SecurityConfig struct {
	EnableIPThrottle    bool
	MaxLoginAttempts    int
	LoginCooldown       time.Duration
	MaxOTPRequestsPerIP int
	OTPRequestWindow    time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process metrics counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the baseline configuration: 15m access tokens,
// six-digit codes with a 10m TTL, 30-day refresh tokens, and Argon2id
// at 64 MB. Callers adjust fields and pass the result to
// [Builder.WithConfig]. Key material must still be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		OTP: OTPConfig{
			Digits:         6,
			TTL:            10 * time.Minute,
			MaxAttempts:    5,
			MaxResends:     5,
			ResendCooldown: time.Minute,
			LockDuration:   15 * time.Minute,
		},
		Refresh: RefreshConfig{
			TTL:              30 * 24 * time.Hour,
			ScanWindow:       50,
			LogoutScanWindow: 100,
			ChainRevokeLimit: 50,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Security: SecurityConfig{
			EnableIPThrottle:    true,
			MaxLoginAttempts:    10,
			LoginCooldown:       15 * time.Minute,
			MaxOTPRequestsPerIP: 30,
			OTPRequestWindow:    time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration for internal consistency. Build
// calls it; callers constructing a Config by hand may call it early.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}

	// OTP
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 6 and 10")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}
	if c.OTP.TTL > time.Hour {
		return errors.New("OTP TTL must be <= 1h")
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("OTP MaxAttempts must be > 0")
	}
	if c.OTP.MaxResends < 0 {
		return errors.New("OTP MaxResends must be >= 0")
	}
	if c.OTP.ResendCooldown <= 0 {
		return errors.New("OTP ResendCooldown must be > 0")
	}
	if c.OTP.LockDuration <= 0 {
		return errors.New("OTP LockDuration must be > 0")
	}

	// Refresh
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Refresh.ScanWindow <= 0 {
		return errors.New("Refresh ScanWindow must be > 0")
	}
	if c.Refresh.LogoutScanWindow < c.Refresh.ScanWindow {
		return errors.New("Refresh LogoutScanWindow must be >= ScanWindow")
	}
	if c.Refresh.ChainRevokeLimit <= 0 {
		return errors.New("Refresh ChainRevokeLimit must be > 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Security
	if c.Security.MaxLoginAttempts <= 0 {
		return errors.New("MaxLoginAttempts must be > 0")
	}
	if c.Security.LoginCooldown <= 0 {
		return errors.New("LoginCooldown must be > 0")
	}
	if c.Security.EnableIPThrottle {
		if c.Security.MaxOTPRequestsPerIP <= 0 {
			return errors.New("MaxOTPRequestsPerIP must be > 0 when IP throttle is enabled")
		}
		if c.Security.OTPRequestWindow <= 0 {
			return errors.New("OTPRequestWindow must be > 0 when IP throttle is enabled")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
