package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zenithlabs/authcore/history"
	"github.com/zenithlabs/authcore/internal"
	"github.com/zenithlabs/authcore/internal/audit"
	"github.com/zenithlabs/authcore/internal/limiters"
	"github.com/zenithlabs/authcore/internal/rate"
	"github.com/zenithlabs/authcore/jwt"
	"github.com/zenithlabs/authcore/password"
	"github.com/zenithlabs/authcore/session"
	"go.uber.org/zap"
)

// Builder assembles an Engine. Configure it once during startup, call
// Build, and discard it.
type Builder struct {
	config Config
	logger *zap.Logger
	now    func() time.Time
	redis  redis.UniversalClient

	userStore    UserStore
	historyStore history.Store
	auditSink    AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The Builder keeps a copy.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithLogger sets the structured logger. Defaults to zap.NewNop.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for every time-dependent component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithRedis enables the Redis rate-limit backend and the Redis history
// store. Accepts a single node, cluster or failover client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the credential store. Required.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.userStore = store
	return b
}

// WithHistoryStore overrides where password history is kept.
//
// Without it the user store is used when it implements history.Store,
// then Redis when configured, then process memory.
func (b *Builder) WithHistoryStore(store history.Store) *Builder {
	b.historyStore = store
	return b
}

// WithAuditSink sets the audit destination. Events are dropped when no
// sink is configured.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the login and validate latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
//
// When Session.CleanupInterval is positive a janitor goroutine is started;
// call Engine.Close to stop it.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.userStore == nil {
		return nil, errors.New("user store required")
	}
	if cfg.RateLimit.Backend == "redis" && b.redis == nil {
		return nil, errors.New("RateLimit redis backend requires redis client")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	engine := &Engine{
		config:    cloneConfig(cfg),
		logger:    logger,
		now:       now,
		userStore: b.userStore,
		userLocks: internal.NewKeyedMutex(),
		metrics:   NewMetrics(cfg.Metrics),
	}

	// -------- PASSWORDS --------
	hasher, err := password.NewHasher(password.HasherConfig{
		Argon2:     cfg.argon2Params(),
		BcryptCost: cfg.Password.BcryptCost,
	})
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher

	policy, err := password.NewPolicyEngine(cfg.passwordPolicy())
	if err != nil {
		return nil, err
	}
	engine.policy = policy

	engine.history = history.New(b.resolveHistoryStore(cfg), cfg.History.Size, now)

	// -------- TOKENS + SESSIONS --------
	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewManager(jm, session.Config{
		DefaultTTL: cfg.Session.TTL,
		Retention:  cfg.Session.InactivityRetention,
		Shards:     cfg.Session.Shards,
		Now:        now,
	}, logger.Named("session"))
	if err != nil {
		return nil, err
	}
	engine.sessions = sessions

	// -------- LIMITERS --------
	var backend rate.Backend
	if cfg.RateLimit.Backend == "redis" {
		backend = rate.NewRedisBackend(b.redis, cfg.RateLimit.RedisPrefix)
	} else {
		backend = rate.NewMemoryBackend()
	}
	engine.limiter = rate.New(backend, map[string]rate.Rule{
		rate.ActionLogin:    {MaxAttempts: cfg.RateLimit.Login.MaxAttempts, Window: cfg.RateLimit.Login.Window},
		rate.ActionRegister: {MaxAttempts: cfg.RateLimit.Register.MaxAttempts, Window: cfg.RateLimit.Register.Window},
	}, now)

	engine.lockout = limiters.NewLockout(cfg.lockoutConfig())

	// -------- AUDIT --------
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink, audit.Hooks{
		OnWriteError: engine.onAuditWriteError,
		OnDrop:       engine.onAuditDrop,
	})

	if cfg.Session.CleanupInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		engine.stopJanitor = cancel
		engine.janitorDone = make(chan struct{})
		go func() {
			defer close(engine.janitorDone)
			session.RunJanitor(ctx, cfg.Session.CleanupInterval, engine.sweep)
		}()
	}

	b.built = true

	return engine, nil
}

func (b *Builder) resolveHistoryStore(cfg Config) history.Store {
	if cfg.History.Size <= 0 {
		return nil
	}
	if b.historyStore != nil {
		return b.historyStore
	}
	if hs, ok := b.userStore.(history.Store); ok {
		return hs
	}
	if b.redis != nil {
		return history.NewRedisStore(b.redis, cfg.History.RedisPrefix)
	}
	return history.NewMemoryStore()
}
