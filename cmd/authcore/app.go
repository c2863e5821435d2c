package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/zenithlabs/authcore"
	"github.com/zenithlabs/authcore/internal/audit"
	"github.com/zenithlabs/authcore/store/sqlite"
	"go.uber.org/zap"
)

type app struct {
	stdout io.Writer

	configPath string
	dbPath     string
	logLevel   string
	redisAddr  string
	auditFile  string
}

func newApp(stdout io.Writer) *app {
	return &app{stdout: stdout}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "authcore",
		Short:         "Operate an authcore user database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (yaml, json or toml); AUTHCORE_* env vars override it")
	flags.StringVar(&a.dbPath, "db", "authcore.db", "SQLite database path")
	flags.StringVar(&a.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.StringVar(&a.redisAddr, "redis-addr", "", "redis address for the redis rate-limit backend; REDIS_ADDR env is the fallback")
	flags.StringVar(&a.auditFile, "audit-file", "", "write audit events to this rotated JSON-lines file instead of the database")

	root.AddCommand(
		newBootstrapAdminCmd(a),
		newUnlockCmd(a),
		newSetActiveCmd(a, "disable", false),
		newSetActiveCmd(a, "enable", true),
		newListUsersCmd(a),
		newAuditCmd(a),
		newGenPasswordCmd(a),
		newCheckPasswordCmd(a),
		newLoadtestCmd(a),
	)
	return root
}

func (a *app) logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(a.logLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

type session struct {
	engine *authcore.Engine
	store  *sqlite.Store
	close  func()
}

// open loads config, opens the database and builds an engine over it.
func (a *app) open(ctx context.Context) (*session, error) {
	cfg, err := authcore.LoadConfig(a.configPath)
	if err != nil {
		return nil, err
	}
	return a.openWith(ctx, cfg)
}

func (a *app) openWith(_ context.Context, cfg authcore.Config) (*session, error) {
	logger, err := a.logger()
	if err != nil {
		return nil, err
	}

	// Operator commands never issue tokens, so a missing HS256 secret is
	// replaced with a throwaway one.
	if len(cfg.JWT.PrivateKey) == 0 && cfg.JWT.SigningMethod == "hs256" {
		cfg.JWT.PrivateKey = make([]byte, 32)
		if _, err := rand.Read(cfg.JWT.PrivateKey); err != nil {
			return nil, err
		}
	}

	st, err := sqlite.Open(a.dbPath)
	if err != nil {
		return nil, err
	}
	closers := []func(){func() { _ = st.Close() }}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		_ = logger.Sync()
	}

	var sink authcore.AuditSink = st
	if a.auditFile != "" {
		fileCfg := audit.DefaultFileConfig()
		fileCfg.Path = a.auditFile
		fs, err := audit.NewFileSink(fileCfg)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, func() { _ = fs.Close() })
		sink = fs
	}

	b := authcore.New().
		WithConfig(cfg).
		WithLogger(logger).
		WithUserStore(st).
		WithAuditSink(sink)

	if cfg.RateLimit.Backend == "redis" {
		addr := a.redisAddr
		if addr == "" {
			addr = os.Getenv("REDIS_ADDR")
		}
		if addr == "" {
			closeAll()
			return nil, fmt.Errorf("rate_limit.backend is redis but no --redis-addr or REDIS_ADDR given")
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		closers = append(closers, func() { _ = client.Close() })
		b = b.WithRedis(client)
	}

	engine, err := b.Build()
	if err != nil {
		closeAll()
		return nil, err
	}
	// Engine.Close drains audit events into the sink, so it runs first.
	closers = append(closers, engine.Close)

	return &session{engine: engine, store: st, close: closeAll}, nil
}

// resolveUserID accepts a user id, username or email.
func resolveUserID(ctx context.Context, engine *authcore.Engine, ref string) (string, error) {
	u, err := engine.FindUser(ctx, ref)
	if err == nil {
		return u.ID, nil
	}
	if !errors.Is(err, authcore.ErrUserNotFound) {
		return "", err
	}
	return ref, nil
}
