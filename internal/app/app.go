package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"proxypool/internal/app/server"
	"proxypool/internal/auth"
	"proxypool/internal/checker"
	"proxypool/internal/config"
	"proxypool/internal/database"
	"proxypool/internal/gateway"
	"proxypool/internal/jobs/maintenance"
	"proxypool/internal/jobs/runtime"
	"proxypool/internal/jobs/scheduler"
	"proxypool/internal/sources"
	"proxypool/internal/store"
	"proxypool/internal/support"
)

const (
	leaderLockTTL = 30 * time.Second
	jwtSecretEnv  = "API_JWT_SECRET"
)

// Engine holds the components shared by every command.
type Engine struct {
	Store     store.Store
	Rotator   *store.Rotator
	Validator *checker.Validator

	redis *redis.Client
}

// Bootstrap loads the environment and settings, applies the log level and
// opens the configured store backend.
func Bootstrap(ctx context.Context) (*Engine, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	if err := config.ReadSettings(); err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	applyLogLevel(config.GetConfig().LogLevel)

	engine := &Engine{Validator: checker.NewValidatorFromConfig()}

	cfg := config.GetConfig()
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Backend)) {
	case "memory":
		engine.Store = store.NewMemoryStore()
	case "", "redis":
		client, err := support.GetRedisClient()
		if err != nil {
			return nil, fmt.Errorf("failed to get redis client: %w", err)
		}
		engine.redis = client
		engine.Store = store.NewRedisStore(client, cfg.Store.Key)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	engine.Rotator = store.NewRotator(engine.Store)
	log.Debug("Store opened", "backend", cfg.Store.Backend, "key", cfg.Store.Key)
	return engine, nil
}

func (e *Engine) Close() {
	if err := e.Store.Close(); err != nil {
		log.Warn("error closing store", "error", err)
	}
	if e.redis != nil {
		if err := support.CloseRedisClient(); err != nil {
			log.Warn("error closing redis client", "error", err)
		}
	}
}

// Serve runs the scheduler, the API and, when enabled, the rotating gateway
// and the check history writer until ctx is cancelled.
func (e *Engine) Serve(ctx context.Context) error {
	cfg := config.GetConfig()
	auth.SetJWTSecret(os.Getenv(jwtSecretEnv))

	if e.redis != nil {
		config.EnableRedisSynchronization(ctx, e.redis)
		defer config.DisableRedisSynchronization()
	}

	if removed, err := e.Store.RemoveDuplicates(ctx); err != nil {
		log.Warn("Startup deduplication failed", "error", err)
	} else if removed > 0 {
		log.Info("Startup deduplication removed entries", "removed", removed)
	}

	fetcher := sources.NewFetcherFromConfig()
	defer func() {
		if err := fetcher.Close(); err != nil {
			log.Warn("error closing page fetcher", "error", err)
		}
	}()

	collector, err := sources.NewCollectorFromConfig(fetcher)
	if err != nil {
		return fmt.Errorf("build sources: %w", err)
	}

	opts := scheduler.Options{
		Store:     e.Store,
		Validator: e.Validator,
		Collector: collector,
	}
	scheduler.ConfigIntervals(&opts)

	if cfg.Scheduler.LeaderElection {
		if e.redis == nil {
			log.Warn("Leader election requires the redis backend; running every cycle locally")
		} else {
			opts.Leader = e.leader
		}
	}

	var history *runtime.CheckHistory
	var lookup server.HistoryLookup
	if cfg.History.Enabled {
		if _, err := database.SetupDB(); err != nil {
			return fmt.Errorf("setup check history database: %w", err)
		}
		defer func() {
			if err := database.CloseDB(); err != nil {
				log.Warn("error closing database", "error", err)
			}
		}()
		history = runtime.NewCheckHistory()
		opts.History = history
		lookup = database.ListRecentChecks
	}

	sched, err := scheduler.New(opts)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := config.Watch(gctx); err != nil {
			log.Warn("Settings hot reload disabled", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		return sched.Run(gctx)
	})

	if history != nil {
		g.Go(func() error {
			history.Run(gctx)
			return nil
		})

		retention := maintenance.NewHistoryRetention()
		g.Go(func() error {
			if opts.Leader == nil {
				retention.Run(gctx)
				return nil
			}
			err := opts.Leader(gctx, maintenance.HistoryRetentionLockKey, retention.Run)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("History retention routine stopped", "error", err)
			}
			return nil
		})
	}

	api := server.NewServer(e.Store, e.Rotator, sched, lookup)
	apiPort := resolvePort("API_PORT", "PORT", cfg.API.Port)
	g.Go(func() error {
		return api.OpenRoutes(gctx, apiPort)
	})

	if cfg.Gateway.Enabled {
		gw := gateway.New(e.Rotator, e.Store, gateway.Credentials{
			Username:     cfg.Gateway.Username,
			PasswordHash: cfg.Gateway.PasswordHash,
		})
		g.Go(func() error {
			return gw.ListenAndServe(gctx, cfg.Gateway.Port)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) leader(ctx context.Context, key string, fn func(context.Context)) error {
	return support.RunWithLeader(ctx, e.redis, key, leaderLockTTL, fn)
}

func applyLogLevel(raw string) {
	if strings.TrimSpace(raw) == "" {
		if config.InProductionMode {
			log.SetLevel(log.InfoLevel)
		} else {
			log.SetLevel(log.DebugLevel)
		}
		return
	}

	level, err := log.ParseLevel(raw)
	if err != nil {
		log.Warn("invalid log level, using debug", "value", raw)
		level = log.DebugLevel
	}
	log.SetLevel(level)
}

func resolvePort(primaryEnv, legacyEnv string, fallback int) int {
	if port := readPort(primaryEnv); port != 0 {
		return port
	}
	if port := readPort(legacyEnv); port != 0 {
		return port
	}
	return fallback
}

func readPort(envKey string) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return 0
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port == 0 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return 0
	}
	return port
}
