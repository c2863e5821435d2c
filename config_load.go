package authcore

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override, for example
// AUTHCORE_LOCKOUT_THRESHOLD or AUTHCORE_JWT_PRIVATE_KEY.
const EnvPrefix = "AUTHCORE"

// LoadConfig reads an optional YAML, JSON or TOML file at path, applies
// AUTHCORE_* environment overrides and validates the result. An empty
// path or a missing file yields defaults plus environment.
//
// Key material is read from jwt.private_key / jwt.public_key (inline) or
// jwt.private_key_file / jwt.public_key_file.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	var err error
	if cfg.JWT.PrivateKey, err = keyMaterial(v, "jwt.private_key"); err != nil {
		return Config{}, err
	}
	if cfg.JWT.PublicKey, err = keyMaterial(v, "jwt.public_key"); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func keyMaterial(v *viper.Viper, key string) ([]byte, error) {
	if inline := v.GetString(key); inline != "" {
		return []byte(inline), nil
	}
	file := v.GetString(key + "_file")
	if file == "" {
		return nil, nil
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key+"_file", err)
	}
	return b, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("jwt.signing_method", cfg.JWT.SigningMethod)
	v.SetDefault("jwt.private_key", "")
	v.SetDefault("jwt.private_key_file", "")
	v.SetDefault("jwt.public_key", "")
	v.SetDefault("jwt.public_key_file", "")
	v.SetDefault("jwt.issuer", cfg.JWT.Issuer)
	v.SetDefault("jwt.audience", cfg.JWT.Audience)
	v.SetDefault("jwt.leeway", cfg.JWT.Leeway)
	v.SetDefault("jwt.key_id", cfg.JWT.KeyID)

	v.SetDefault("session.ttl", cfg.Session.TTL)
	v.SetDefault("session.inactivity_retention", cfg.Session.InactivityRetention)
	v.SetDefault("session.cleanup_interval", cfg.Session.CleanupInterval)
	v.SetDefault("session.shards", cfg.Session.Shards)

	v.SetDefault("password.memory", cfg.Password.Memory)
	v.SetDefault("password.time", cfg.Password.Time)
	v.SetDefault("password.parallelism", cfg.Password.Parallelism)
	v.SetDefault("password.salt_length", cfg.Password.SaltLength)
	v.SetDefault("password.key_length", cfg.Password.KeyLength)
	v.SetDefault("password.max_password_bytes", cfg.Password.MaxPasswordBytes)
	v.SetDefault("password.bcrypt_cost", cfg.Password.BcryptCost)
	v.SetDefault("password.upgrade_on_login", cfg.Password.UpgradeOnLogin)
	v.SetDefault("password.max_age", cfg.Password.MaxAge)

	v.SetDefault("policy.min_length", cfg.Policy.MinLength)
	v.SetDefault("policy.max_length", cfg.Policy.MaxLength)
	v.SetDefault("policy.require_uppercase", cfg.Policy.RequireUppercase)
	v.SetDefault("policy.require_lowercase", cfg.Policy.RequireLowercase)
	v.SetDefault("policy.require_digit", cfg.Policy.RequireDigit)
	v.SetDefault("policy.require_special", cfg.Policy.RequireSpecial)
	v.SetDefault("policy.min_special", cfg.Policy.MinSpecial)
	v.SetDefault("policy.special_chars", cfg.Policy.SpecialChars)
	v.SetDefault("policy.min_complexity", cfg.Policy.MinComplexity)
	v.SetDefault("policy.reject_username", cfg.Policy.RejectUsername)
	v.SetDefault("policy.reject_common_patterns", cfg.Policy.RejectCommonPatterns)

	v.SetDefault("history.size", cfg.History.Size)
	v.SetDefault("history.redis_prefix", cfg.History.RedisPrefix)

	v.SetDefault("rate_limit.backend", cfg.RateLimit.Backend)
	v.SetDefault("rate_limit.redis_prefix", cfg.RateLimit.RedisPrefix)
	v.SetDefault("rate_limit.login.max_attempts", cfg.RateLimit.Login.MaxAttempts)
	v.SetDefault("rate_limit.login.window", cfg.RateLimit.Login.Window)
	v.SetDefault("rate_limit.register.max_attempts", cfg.RateLimit.Register.MaxAttempts)
	v.SetDefault("rate_limit.register.window", cfg.RateLimit.Register.Window)

	v.SetDefault("lockout.enabled", cfg.Lockout.Enabled)
	v.SetDefault("lockout.threshold", cfg.Lockout.Threshold)
	v.SetDefault("lockout.duration", cfg.Lockout.Duration)

	v.SetDefault("audit.enabled", cfg.Audit.Enabled)
	v.SetDefault("audit.buffer_size", cfg.Audit.BufferSize)
	v.SetDefault("audit.drop_if_full", cfg.Audit.DropIfFull)

	v.SetDefault("account.allow_registration", cfg.Account.AllowRegistration)
	v.SetDefault("account.default_role", cfg.Account.DefaultRole)
	v.SetDefault("account.admin_role", cfg.Account.AdminRole)
	v.SetDefault("account.admin_username", cfg.Account.AdminUsername)
	v.SetDefault("account.admin_email", cfg.Account.AdminEmail)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.enable_latency_histograms", cfg.Metrics.EnableLatencyHistograms)

	v.SetDefault("security.production_mode", cfg.Security.ProductionMode)
	v.SetDefault("security.equalize_login_timing", cfg.Security.EqualizeLoginTiming)
}
