package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bow-workshop/internal/adapters/cli"
	"bow-workshop/internal/app"
	"bow-workshop/internal/cache"
	"bow-workshop/internal/config"
	"bow-workshop/internal/core"
	"bow-workshop/internal/db"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer pool.Close()

	reportCache := newReportCache(ctx, cfg)

	store := core.NewDB(pool, cfg.TxTimeout())
	inventory := core.NewInventoryLedger(store)
	cash := core.NewCashLedger(store, cfg.CashAllowOverdraft)
	materials := core.NewMaterialService(store, inventory)
	bows := core.NewBowService(store)
	engine := core.NewProductionEngine(store, inventory, cash)

	svc := app.NewAppService(app.Services{
		DB:          store,
		Settings:    core.NewSettingsService(store),
		Materials:   materials,
		Bows:        bows,
		Inventory:   inventory,
		Cash:        cash,
		Engine:      engine,
		Analytics:   core.NewAnalyticsService(store, cash, reportCache, cfg.AnalyticsCacheTTL()),
		Maintenance: core.NewMaintenanceService(store, engine, materials, bows),
	}, cfg.DefaultActor)

	err = cli.Run(ctx, svc, os.Args[1:], os.Stdout)
	if code := cli.ExitCode(err); code != 0 {
		log.Error().Err(err).Str("code", string(core.CodeOf(err))).Msg("command failed")
		pool.Close()
		os.Exit(code)
	}
}

// setupLogger configures the global logger: console output in development, JSON otherwise.
func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// newReportCache returns a Redis cache when one is configured and reachable,
// and a no-op cache otherwise.
func newReportCache(ctx context.Context, cfg *config.Config) cache.ReportCache {
	if cfg.RedisAddr == "" {
		return cache.NoopReportCache{}
	}
	rc := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, analytics cache disabled")
		_ = rc.Close()
		return cache.NoopReportCache{}
	}
	return rc
}
