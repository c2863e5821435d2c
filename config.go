package authcore

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/zenithlabs/authcore/history"
	"github.com/zenithlabs/authcore/internal/limiters"
	"github.com/zenithlabs/authcore/password"
)

// Config enumerates every tunable of the engine. Build it with
// DefaultConfig (or LoadConfig) and adjust fields before passing it to
// Builder.WithConfig; the engine keeps its own copy.
type Config struct {
	JWT       JWTConfig       `mapstructure:"jwt"`
	Session   SessionConfig   `mapstructure:"session"`
	Password  PasswordConfig  `mapstructure:"password"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	History   HistoryConfig   `mapstructure:"history"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Lockout   LockoutConfig   `mapstructure:"lockout"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Account   AccountConfig   `mapstructure:"account"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// JWTConfig configures session token signing.
type JWTConfig struct {
	SigningMethod string `mapstructure:"signing_method"` // "hs256" (default) or "ed25519"
	// PrivateKey is the HS256 secret or Ed25519 private key. Loaded from
	// jwt.private_key / jwt.private_key_file by LoadConfig.
	PrivateKey []byte `mapstructure:"-"`
	PublicKey  []byte `mapstructure:"-"`

	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	Leeway   time.Duration `mapstructure:"leeway"`
	KeyID    string        `mapstructure:"key_id"`
}

// SessionConfig configures the in-memory session table.
type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
	// InactivityRetention is how long an idle session survives cleanup.
	InactivityRetention time.Duration `mapstructure:"inactivity_retention"`
	// CleanupInterval > 0 starts a background sweep.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	Shards          int           `mapstructure:"shards"`
}

// PasswordConfig configures hashing and password ageing.
type PasswordConfig struct {
	Memory           uint32 `mapstructure:"memory"` // KiB
	Time             uint32 `mapstructure:"time"`
	Parallelism      uint8  `mapstructure:"parallelism"`
	SaltLength       uint32 `mapstructure:"salt_length"`
	KeyLength        uint32 `mapstructure:"key_length"`
	MaxPasswordBytes int    `mapstructure:"max_password_bytes"`
	BcryptCost       int    `mapstructure:"bcrypt_cost"`

	// UpgradeOnLogin rehashes legacy or weaker hashes after a successful login.
	UpgradeOnLogin bool `mapstructure:"upgrade_on_login"`
	// MaxAge sets password_expires_at on every new password; 0 disables expiry.
	MaxAge time.Duration `mapstructure:"max_age"`
}

// PolicyConfig mirrors password.Policy.
type PolicyConfig struct {
	MinLength            int    `mapstructure:"min_length"`
	MaxLength            int    `mapstructure:"max_length"`
	RequireUppercase     bool   `mapstructure:"require_uppercase"`
	RequireLowercase     bool   `mapstructure:"require_lowercase"`
	RequireDigit         bool   `mapstructure:"require_digit"`
	RequireSpecial       bool   `mapstructure:"require_special"`
	MinSpecial           int    `mapstructure:"min_special"`
	SpecialChars         string `mapstructure:"special_chars"`
	MinComplexity        int    `mapstructure:"min_complexity"`
	RejectUsername       bool   `mapstructure:"reject_username"`
	RejectCommonPatterns bool   `mapstructure:"reject_common_patterns"`
}

// HistoryConfig configures password reuse checks.
type HistoryConfig struct {
	// Size is the number of previous passwords remembered; 0 disables reuse checks.
	Size        int    `mapstructure:"size"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

// RateRule is a sliding-window budget.
type RateRule struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Window      time.Duration `mapstructure:"window"`
}

// RateLimitConfig configures the per-identifier attempt throttle.
type RateLimitConfig struct {
	// Backend is "memory" (default) or "redis"; redis needs Builder.WithRedis.
	Backend     string   `mapstructure:"backend"`
	RedisPrefix string   `mapstructure:"redis_prefix"`
	Login       RateRule `mapstructure:"login"`
	Register    RateRule `mapstructure:"register"`
}

// LockoutConfig configures per-account lockout.
type LockoutConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Threshold int           `mapstructure:"threshold"`
	Duration  time.Duration `mapstructure:"duration"`
}

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

// AccountConfig configures registration and the bootstrap administrator.
type AccountConfig struct {
	AllowRegistration bool   `mapstructure:"allow_registration"`
	DefaultRole       string `mapstructure:"default_role"`
	AdminRole         string `mapstructure:"admin_role"`
	AdminUsername     string `mapstructure:"admin_username"`
	AdminEmail        string `mapstructure:"admin_email"`
}

// MetricsConfig toggles in-process metrics.
type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms"`
}

// SecurityConfig holds cross-cutting hardening switches.
type SecurityConfig struct {
	// ProductionMode enforces OWASP argon2id minimums and a 32-byte HS256 secret.
	ProductionMode bool `mapstructure:"production_mode"`
	// EqualizeLoginTiming runs a dummy KDF on unknown-user and locked paths.
	EqualizeLoginTiming bool `mapstructure:"equalize_login_timing"`
}

// Role names used by default.
const (
	RoleChatUser      = "chat_user"
	RoleAdministrator = "administrator"
)

// DefaultConfig returns the documented defaults. JWT.PrivateKey is empty
// and must be supplied.
func DefaultConfig() Config {
	argon := password.DefaultArgon2Params()
	policy := password.DefaultPolicy()

	return Config{
		JWT: JWTConfig{
			SigningMethod: "hs256",
			Issuer:        "authcore",
		},
		Session: SessionConfig{
			TTL:                 24 * time.Hour,
			InactivityRetention: 7 * 24 * time.Hour,
			Shards:              32,
		},
		Password: PasswordConfig{
			Memory:         argon.Memory,
			Time:           argon.Time,
			Parallelism:    argon.Parallelism,
			SaltLength:     argon.SaltLength,
			KeyLength:      argon.KeyLength,
			BcryptCost:     12,
			UpgradeOnLogin: true,
			MaxAge:         90 * 24 * time.Hour,
		},
		Policy: PolicyConfig{
			MinLength:            policy.MinLength,
			MaxLength:            policy.MaxLength,
			RequireUppercase:     policy.RequireUppercase,
			RequireLowercase:     policy.RequireLowercase,
			RequireDigit:         policy.RequireDigit,
			RequireSpecial:       policy.RequireSpecial,
			MinSpecial:           policy.MinSpecial,
			SpecialChars:         policy.SpecialChars,
			MinComplexity:        policy.MinComplexity,
			RejectUsername:       policy.RejectUsername,
			RejectCommonPatterns: policy.RejectCommonPatterns,
		},
		History: HistoryConfig{
			Size:        history.DefaultSize,
			RedisPrefix: "ph",
		},
		RateLimit: RateLimitConfig{
			Backend:     "memory",
			RedisPrefix: "rl",
			Login:       RateRule{MaxAttempts: 5, Window: 15 * time.Minute},
			Register:    RateRule{MaxAttempts: 3, Window: 30 * time.Minute},
		},
		Lockout: LockoutConfig{
			Enabled:   true,
			Threshold: 5,
			Duration:  30 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Account: AccountConfig{
			AllowRegistration: true,
			DefaultRole:       RoleChatUser,
			AdminRole:         RoleAdministrator,
			AdminUsername:     "admin",
			AdminEmail:        "admin@zenith.local",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Security: SecurityConfig{
			EqualizeLoginTiming: true,
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

func (c *Config) argon2Params() password.Argon2Params {
	return password.Argon2Params{
		Memory:           c.Password.Memory,
		Time:             c.Password.Time,
		Parallelism:      c.Password.Parallelism,
		SaltLength:       c.Password.SaltLength,
		KeyLength:        c.Password.KeyLength,
		MaxPasswordBytes: c.Password.MaxPasswordBytes,
	}
}

func (c *Config) lockoutConfig() limiters.LockoutConfig {
	return limiters.LockoutConfig{
		Enabled:   c.Lockout.Enabled,
		Threshold: c.Lockout.Threshold,
		Duration:  c.Lockout.Duration,
	}
}

func (c *Config) passwordPolicy() password.Policy {
	p := c.Policy
	return password.Policy{
		MinLength:            p.MinLength,
		MaxLength:            p.MaxLength,
		RequireUppercase:     p.RequireUppercase,
		RequireLowercase:     p.RequireLowercase,
		RequireDigit:         p.RequireDigit,
		RequireSpecial:       p.RequireSpecial,
		MinSpecial:           p.MinSpecial,
		SpecialChars:         p.SpecialChars,
		MinComplexity:        p.MinComplexity,
		RejectUsername:       p.RejectUsername,
		RejectCommonPatterns: p.RejectCommonPatterns,
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	// JWT
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0,2m]")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.InactivityRetention <= 0 {
		return errors.New("Session InactivityRetention must be > 0")
	}
	if c.Session.CleanupInterval < 0 {
		return errors.New("Session CleanupInterval must be >= 0")
	}
	if c.Session.Shards < 0 {
		return errors.New("Session Shards must be >= 0")
	}

	// Password
	if c.Password.MaxAge < 0 {
		return errors.New("Password MaxAge must be >= 0")
	}
	if c.Password.MaxPasswordBytes < 0 {
		return errors.New("Password MaxPasswordBytes must be >= 0")
	}
	if err := c.passwordPolicy().Validate(); err != nil {
		return fmt.Errorf("Policy: %w", err)
	}
	maxBytes := c.Password.MaxPasswordBytes
	if maxBytes == 0 {
		maxBytes = password.DefaultMaxPasswordBytes
	}
	if c.Policy.MaxLength*utf8.UTFMax > maxBytes {
		return fmt.Errorf("Policy MaxLength %d allows passwords longer than Password MaxPasswordBytes %d", c.Policy.MaxLength, maxBytes)
	}

	// History
	if c.History.Size < 0 {
		return errors.New("History Size must be >= 0")
	}

	// Rate limiting
	if c.RateLimit.Backend != "memory" && c.RateLimit.Backend != "redis" {
		return errors.New("RateLimit Backend must be \"memory\" or \"redis\"")
	}
	for name, rule := range map[string]RateRule{"Login": c.RateLimit.Login, "Register": c.RateLimit.Register} {
		if rule.MaxAttempts < 0 {
			return fmt.Errorf("RateLimit %s MaxAttempts must be >= 0", name)
		}
		if rule.MaxAttempts > 0 && rule.Window <= 0 {
			return fmt.Errorf("RateLimit %s Window must be > 0", name)
		}
	}

	// Lockout
	if err := c.lockoutConfig().Validate(); err != nil {
		return fmt.Errorf("Lockout: %w", err)
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Account
	if c.Account.DefaultRole == "" {
		return errors.New("Account DefaultRole must be set")
	}
	if c.Account.AdminRole == "" {
		return errors.New("Account AdminRole must be set")
	}

	if c.Security.ProductionMode {
		if err := c.validateProduction(); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateProduction() error {
	def := password.DefaultArgon2Params()
	if c.Password.Memory < def.Memory {
		return errors.New("ProductionMode requires Password Memory >= 65536 KiB")
	}
	if c.Password.Time < def.Time {
		return errors.New("ProductionMode requires Password Time >= 3")
	}
	if c.Password.KeyLength < def.KeyLength {
		return errors.New("ProductionMode requires Password KeyLength >= 32")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
		return errors.New("ProductionMode requires an HS256 secret of at least 32 bytes")
	}
	if !c.Lockout.Enabled {
		return errors.New("ProductionMode requires Lockout")
	}
	return nil
}
