/*
main.go - Application entry point

PURPOSE:
  Command-line front door of the lease engine. "serve" runs the HTTP API with
  the background sweeper; the other commands run one operation against the
  configured database and exit.

COMMANDS:
  serve      Start the HTTP server (default when no command is given)
  migrate    Create or upgrade the SQLite schema
  sweep      Run the daily status sweep once and print the result
  prorate    Quote the first prorated period for a lease start

STARTUP SEQUENCE (serve):
  1. Load configuration (.env, environment, policy file)
  2. Build logger, metrics registry and policy holder
  3. Open SQLite store (migrates on open)
  4. Pick the lock backend: Redis when REDIS_ADDR is set, in-process otherwise
  5. Wire service, handler and router
  6. Start the sweeper and the HTTP server
  7. Wait for SIGINT/SIGTERM, then shut down gracefully

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweeper
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the database and Redis connections

ENVIRONMENT:
  PORT, ENV, LOG_LEVEL, DB_PATH, REDIS_ADDR, LOCK_TTL, OPERATION_TIMEOUT,
  SWEEP_INTERVAL, CORS_ORIGINS, POLICY_FILE, POLICY_* (see config/config.go)

EXAMPLES:
  # Run with an in-memory database
  DB_PATH=":memory:" ./lease-engine serve

  # Quote a mid-month move-in
  ./lease-engine prorate --rent 1500 --start 2025-03-10 --day 1

SEE ALSO:
  - api/server.go: Router configuration
  - service/service.go: Operation surface
  - config/config.go: Environment variables
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/lease-engine/api"
	"github.com/warp/lease-engine/calendar"
	"github.com/warp/lease-engine/clock"
	"github.com/warp/lease-engine/config"
	"github.com/warp/lease-engine/locking"
	"github.com/warp/lease-engine/logger"
	"github.com/warp/lease-engine/metrics"
	"github.com/warp/lease-engine/money"
	"github.com/warp/lease-engine/policy"
	"github.com/warp/lease-engine/service"
	"github.com/warp/lease-engine/store/sqlite"
)

const serviceName = "lease-engine"

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Rental lease and payment engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newSweepCmd(),
		newProrateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := sqlite.New(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date at %s\n", cfg.Database.Path)
			return nil
		},
	}
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the daily status sweep once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.svc.Sweep(cmd.Context())
			if encErr := printJSON(cmd, res); encErr != nil {
				return encErr
			}
			return err
		},
	}
}

func newProrateCmd() *cobra.Command {
	var (
		rent  string
		start string
		day   int
		rule  string
	)

	cmd := &cobra.Command{
		Use:   "prorate",
		Short: "Quote the first prorated period of a lease",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := money.Parse(rent)
			if err != nil {
				return fmt.Errorf("--rent: %w", err)
			}
			startDate, err := calendar.ParseDate(start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			res, err := calendar.ComputeProratedFirstPeriod(amount, startDate, day, calendar.ProrationRule(rule))
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}

	cmd.Flags().StringVar(&rent, "rent", "", "monthly rent, e.g. 1500.00")
	cmd.Flags().StringVar(&start, "start", "", "lease start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&day, "day", 1, "rent payment day of month (1-31)")
	cmd.Flags().StringVar(&rule, "rule", string(calendar.RuleSpanToNextPayday), "proration rule")
	_ = cmd.MarkFlagRequired("rent")
	_ = cmd.MarkFlagRequired("start")

	return cmd
}

// =============================================================================
// WIRING
// =============================================================================

type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *sqlite.Store
	redis   *redis.Client
	holder  *policy.Holder
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	svc     *service.Service
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Server.LogLevel, cfg.Server.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pol, err := config.LoadPolicy(cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	holder, err := policy.NewHolder(pol)
	if err != nil {
		return nil, fmt.Errorf("init policy: %w", err)
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &app{cfg: cfg, log: log, store: store, holder: holder}

	var locker locking.Locker
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		locker = locking.NewRedisLocker(a.redis, serviceName+":lock:", cfg.Redis.LockTTL)
	}

	a.reg = metrics.NewRegistry()
	a.metrics = metrics.New(a.reg, metrics.Config{
		ServiceName: serviceName,
		Environment: cfg.Server.Env,
	})

	a.svc, err = service.New(service.Config{
		Store:            store,
		Policy:           holder,
		Clock:            clock.NewSystem(time.UTC),
		Locker:           locker,
		Logger:           log,
		Metrics:          a.metrics,
		OperationTimeout: cfg.Core.OperationTimeout,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if err := a.store.Close(); err != nil {
		a.log.Error("close database", zap.Error(err))
	}
	_ = a.log.Sync()
}

// =============================================================================
// SERVE
// =============================================================================

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	log := a.log

	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		log.Info("using redis locks", zap.String("addr", a.cfg.Redis.Addr))
	}

	if err := config.WatchPolicy(a.cfg.Policy, a.holder, log); err != nil {
		return fmt.Errorf("watch policy: %w", err)
	}

	handler := api.NewHandler(a.svc, a.store, log)
	router := api.NewRouter(handler, api.RouterConfig{
		Logger:          log,
		Gatherer:        a.reg,
		AllowedOrigins:  a.cfg.CORS.Origins,
		EnableScenarios: a.cfg.IsDevelopment(),
	})

	var sweeper *api.Sweeper
	if a.cfg.Core.SweepInterval > 0 {
		sweeper = api.NewSweeper(a.svc, log, a.cfg.Core.SweepInterval)
		sweeper.Start()
	}

	srv := &http.Server{
		Addr:              ":" + a.cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("env", a.cfg.Server.Env),
			zap.String("db", a.cfg.Database.Path),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	case err, ok := <-errCh:
		if ok && err != nil {
			if sweeper != nil {
				sweeper.Stop()
			}
			return fmt.Errorf("server error: %w", err)
		}
	}

	if sweeper != nil {
		sweeper.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
