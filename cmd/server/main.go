package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // Postgres driver
	"github.com/redis/go-redis/v9"

	"github.com/sentra/backend/internal/api"
	"github.com/sentra/backend/internal/audit"
	"github.com/sentra/backend/internal/config"
	"github.com/sentra/backend/internal/database"
	"github.com/sentra/backend/internal/decision"
	"github.com/sentra/backend/internal/engine"
	"github.com/sentra/backend/internal/middleware"
	"github.com/sentra/backend/internal/registry"
	"github.com/sentra/backend/internal/risk"
	"github.com/sentra/backend/internal/tenant"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	masterPath := envOr("SENTRA_CONFIG", "config/config.yaml")
	tenantsPath := envOr("SENTRA_TENANTS_CONFIG", "config/tenants.yaml")

	cfgMgr, err := config.NewManager(masterPath, tenantsPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", masterPath, "error", err)
		os.Exit(1)
	}
	cfg := cfgMgr.Global()

	ctx := context.Background()
	reg := registry.New()

	var store *database.Store
	if dsn := envOr("DATABASE_URL", cfg.Database.DSN); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			slog.Error("Failed to open Postgres connection", "error", err)
			os.Exit(1)
		}
		store = database.NewStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			slog.Error("Failed to ensure database schema", "error", err)
			os.Exit(1)
		}
		policies, err := store.LoadPolicies(ctx)
		if err != nil {
			slog.Error("Failed to load policies from database", "error", err)
			os.Exit(1)
		}
		reg.Load(policies)
	} else {
		slog.Warn("No database configured; registry starts empty and policies are not persisted")
	}

	sinks := []audit.Sink{audit.SlogSink{}}
	if addr := envOr("REDIS_ADDR", cfg.Redis.Addr); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		redisSink := audit.NewRedisSink(rdb, cfg.Redis.AuditChannel)
		sinks = append(sinks, audit.NewBreakerSink("redis", redisSink, 5, 30*time.Second))
		slog.Info("Audit records will be published to Redis", "addr", addr, "channel", cfg.Redis.AuditChannel)
	}

	params := engine.Params{
		Config:   cfgMgr,
		Registry: reg,
		Scorer:   risk.NewScorer(risk.DefaultComparators()),
		Trail:    audit.NewTrail(sinks...),
		Metrics:  decision.NewMetrics(),
	}
	if store != nil {
		params.Store = store
	}
	eng := engine.New(params)

	var tenants *tenant.Manager
	if store != nil {
		tenants = tenant.NewManager(store)
	}

	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{})
	server := api.NewServer(eng, tenants, limiter)

	slog.Info("Starting adaptive authentication engine", "port", cfg.Server.Port, "env", cfg.Server.Env)
	if err := server.Start(cfg.Server.Port); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
