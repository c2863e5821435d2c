package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/cobra"
	"github.com/zenithlabs/authcore"
	"golang.org/x/crypto/bcrypt"
)

const (
	loadtestUsername = "loadtest"
	loadtestPassword = "Load-Test-Pa55!"
)

type loadtestOptions struct {
	sessions    int
	concurrency int
	ops         int
	rateBackend string
}

type sessionState struct {
	token string
	mu    sync.Mutex
}

func newLoadtestCmd(a *app) *cobra.Command {
	var opts loadtestOptions
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Measure session validate and refresh throughput against a scratch database",
		Long: "loadtest seeds sessions through Login using cheap hashing parameters, " +
			"then runs a validate phase and a refresh phase with concurrent workers. " +
			"The --db flag is ignored; a temporary database is used.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoadtest(cmd.Context(), a, opts)
		},
	}
	cmd.Flags().IntVar(&opts.sessions, "sessions", 1000, "number of sessions to seed")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 64, "number of concurrent workers")
	cmd.Flags().IntVar(&opts.ops, "ops", 100000, "operations per phase (validate + refresh)")
	cmd.Flags().StringVar(&opts.rateBackend, "rate-backend", "memory", "rate limit backend: memory or redis (miniredis when no address is set)")
	return cmd
}

func runLoadtest(ctx context.Context, a *app, opts loadtestOptions) error {
	if opts.sessions <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
		return errors.New("sessions, concurrency, and ops must be > 0")
	}

	dir, err := os.MkdirTemp("", "authcore-loadtest-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	cfg := authcore.DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.BcryptCost = bcrypt.MinCost
	cfg.Audit.Enabled = false
	cfg.RateLimit.Backend = opts.rateBackend

	scratch := *a
	scratch.dbPath = filepath.Join(dir, "loadtest.db")
	scratch.auditFile = ""
	if opts.rateBackend == "redis" {
		if scratch.redisAddr == "" {
			scratch.redisAddr = os.Getenv("REDIS_ADDR")
		}
		if scratch.redisAddr == "" {
			mr, err := miniredis.Run()
			if err != nil {
				return fmt.Errorf("failed to start miniredis: %w", err)
			}
			defer mr.Close()
			scratch.redisAddr = mr.Addr()
			fmt.Fprintf(a.stdout, "using miniredis at %s\n", mr.Addr())
		} else {
			fmt.Fprintf(a.stdout, "using redis at %s\n", scratch.redisAddr)
		}
	}

	s, err := scratch.openWith(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.close()

	if _, err := s.engine.Register(ctx, authcore.RegisterRequest{
		Username: loadtestUsername,
		Email:    loadtestUsername + "@example.com",
		Password: loadtestPassword,
	}); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	states := make([]sessionState, opts.sessions)
	fmt.Fprintf(a.stdout, "seeding %d sessions...\n", opts.sessions)
	startSeed := time.Now()
	if err := seedSessions(ctx, s.engine, states, opts.concurrency); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runValidatePhase(ctx, s.engine, states, opts.ops, opts.concurrency)
	refreshStats := runRefreshPhase(ctx, s.engine, states, opts.ops, opts.concurrency)

	fmt.Fprintln(a.stdout, "---- results ----")
	printStats(a.stdout, "validate", validateStats)
	printStats(a.stdout, "refresh", refreshStats)
	return nil
}

func seedSessions(ctx context.Context, engine *authcore.Engine, states []sessionState, concurrency int) error {
	var (
		wg       sync.WaitGroup
		cursor   int64
		firstErr error
		errOnce  sync.Once
	)
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(states) {
					return
				}
				res, err := engine.Login(ctx, loadtestUsername, loadtestPassword)
				if err != nil {
					errOnce.Do(func() { firstErr = fmt.Errorf("login: %w", err) })
					return
				}
				states[i].token = res.Token
			}
		}()
	}
	wg.Wait()
	return firstErr
}

func runValidatePhase(ctx context.Context, engine *authcore.Engine, states []sessionState, ops, concurrency int) phaseStats {
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
				state := &states[r.Intn(len(states))]
				state.mu.Lock()
				token := state.token
				state.mu.Unlock()

				t0 := time.Now()
				_, err := engine.ValidateSession(ctx, token)
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

func runRefreshPhase(ctx context.Context, engine *authcore.Engine, states []sessionState, ops, concurrency int) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := &states[r.Intn(len(states))]

				state.mu.Lock()
				t0 := time.Now()
				next, err := engine.RefreshSession(ctx, state.token)
				d := time.Since(t0)
				if err == nil {
					state.token = next
				} else {
					atomic.AddInt64(&failures, 1)
				}
				state.mu.Unlock()

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
		return phaseStats{total: total, failures: failures}
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

func printStats(w io.Writer, name string, s phaseStats) {
	fmt.Fprintf(w, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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
