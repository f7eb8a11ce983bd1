package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/loanreport/ownership-engine/internal/config"
	"github.com/loanreport/ownership-engine/internal/loan"
	"github.com/loanreport/ownership-engine/internal/metrics"
	"github.com/loanreport/ownership-engine/internal/ownership"
	"github.com/loanreport/ownership-engine/internal/platform"
	"github.com/loanreport/ownership-engine/internal/portfolio"
	"github.com/loanreport/ownership-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records := loan.NewNormalizer(cfg.DefaultOwner)
	engine := ownership.NewEngine(cfg.OwnershipStep, cfg.DefaultOwner)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		ms, err := seedMemoryStore(cfg.LoansFile, records)
		if err != nil {
			slog.Error("failed to seed loans", "file", cfg.LoansFile, "err", err)
			os.Exit(1)
		}
		st = ms
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Platform configuration ---
	// A saved configuration wins; the URL only seeds a fresh deployment.
	var source platform.Source = platform.SourceFunc(st.LoadPlatformConfig)
	if cfg.PlatformConfigURL != "" {
		source = platform.FirstOf(source, platform.NewLoader(cfg.PlatformConfigURL, ""))
	}
	platformCfg := platform.NewHolder(source, nil)
	if _, err := platformCfg.Reload(ctx); err != nil {
		slog.Warn("platform config unavailable, using defaults", "err", err)
	}
	if cfg.PlatformConfigReload != "" {
		sched, err := platform.NewReloadScheduler(cfg.PlatformConfigReload, platformCfg)
		if err != nil {
			slog.Error("invalid PLATFORM_CONFIG_RELOAD", "err", err)
			os.Exit(1)
		}
		sched.Start()
		defer sched.Stop()
	}

	// --- WebSocket hub ---
	wsHub := portfolio.NewWSHub()
	go wsHub.Run(ctx)

	// --- Portfolio service ---
	svc := portfolio.NewService(st, engine, records, platformCfg, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"ownership-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for ownership change notifications.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			svc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("ownership-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down ownership-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("ownership-engine stopped")
}

// seedMemoryStore builds the in-memory store, optionally from a loans file.
// Ownership is normalized when loans are read, not here.
func seedMemoryStore(path string, records *loan.Normalizer) (*store.MemoryStore, error) {
	if path == "" {
		return store.NewMemoryStore(), nil
	}
	doc, err := loan.ReadFile(path)
	if err != nil {
		return nil, err
	}
	loans, err := records.Records(doc.Loans)
	if err != nil {
		return nil, err
	}
	slog.Info("seeded loans", "file", path, "loans", len(loans))
	return store.NewMemoryStore(loans...), nil
}
