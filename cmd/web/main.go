// cmd/web/main.go
//
// Piliskor read service – HTTP entry point.
//
// Start-up sequence
// -----------------
//
//  1. Load config (defaults → .env → conf/global.yaml → PILISKOR_ env,
//     Vault references resolved).
//
//  2. Start daily rotating logger (tees to console when running in a TTY).
//
//  3. Open the MySQL pool and, when database.auto_migrate is set, run
//     component migrations under a migration lock.
//
//  4. Build the read-lock backend (mysql on its own pool, redis, or
//     memory), the plugin resolver, and the guarded dispatcher.
//
//  5. Router: request info → account (X-Account-ID) → security headers,
//     then every registered component plus /metrics.
//
//  6. Serve until SIGINT/SIGTERM, then shut down gracefully.  SIGHUP
//     re-validates the configuration and names sections needing a restart.
//
// Large comment blocks are framed by blank “//” lines; inline comments use
// a single “//”.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanizio/piliskor/internal/acl"
	"github.com/yanizio/piliskor/internal/component"
	"github.com/yanizio/piliskor/internal/config"
	"github.com/yanizio/piliskor/internal/database"
	"github.com/yanizio/piliskor/internal/dispatch"
	"github.com/yanizio/piliskor/internal/lock"
	"github.com/yanizio/piliskor/internal/logger"
	"github.com/yanizio/piliskor/internal/middleware"
	"github.com/yanizio/piliskor/internal/reader"
	"github.com/yanizio/piliskor/internal/requestinfo"
	"github.com/yanizio/piliskor/internal/run"
	"github.com/yanizio/piliskor/internal/server"

	_ "github.com/yanizio/piliskor/components/read"
	_ "github.com/yanizio/piliskor/components/status"
	_ "github.com/yanizio/piliskor/plugins/gps"
	_ "github.com/yanizio/piliskor/plugins/qr"
)

const (
	migrateLock    = "piliskor_migrate"
	migrateTimeout = 30 * time.Second
	shutdownGrace  = 20 * time.Second
)

// app is the component.Host handed to every component.
type app struct {
	db   *sqlx.DB
	runs run.Repository
	disp *dispatch.Dispatcher
}

func (a *app) DB() *sqlx.DB                     { return a.db }
func (a *app) Runs() run.Repository             { return a.runs }
func (a *app) Dispatcher() *dispatch.Dispatcher { return a.disp }

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	if err := serve(); err != nil {
		log.Fatalf("piliskor: %v", err)
	}
}

func serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//
	// ── 1.  Config ──────────────────────────────────────────────────────
	//
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	//
	// ── 2.  Logger ──────────────────────────────────────────────────────
	//
	logOut, err := logger.New(cfg.Paths.Root, logger.Options{Tee: runningInTTY(), Level: cfg.HTTP.LogLevel})
	if err != nil {
		return fmt.Errorf("start logger: %w", err)
	}
	defer func() { _ = logOut.Sync() }()

	if err := requestinfo.InitGeo(cfg.HTTP.GeoIPPath); err != nil {
		logOut.Warnw("geolocation disabled", "err", err)
	}
	defer requestinfo.CloseGeo()

	//
	// ── 3.  Database ────────────────────────────────────────────────────
	//
	opts := database.DefaultOptions
	opts.MaxOpenConns = cfg.Database.MaxOpenConns
	opts.MaxIdleConns = cfg.Database.MaxIdleConns
	db, err := database.OpenWithOptions(ctx, database.DSN(cfg.Database.DSN, cfg.Database.Password), opts)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	logOut.Infow("database online", "max_open", opts.MaxOpenConns)

	//
	// ── 4.  Lock, resolver, dispatcher ──────────────────────────────────
	//
	locks, closeLocks, err := newLocks(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocks()

	comps := component.All()
	if cfg.Database.AutoMigrate {
		err := lock.Synchronized(ctx, locks, migrateLock, migrateTimeout, func(ctx context.Context) error {
			return component.Migrate(ctx, db, comps)
		})
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logOut.Infow("migrations applied", "components", len(comps))
	}

	runs := run.NewStore(db)
	res := reader.NewResolver(reader.Deps{Runs: runs})
	disp := dispatch.New(res, locks, dispatch.Config{LockName: cfg.Lock.Name, LockTimeout: cfg.Lock.Timeout})
	logOut.Infow("read plugins registered", "plugins", reader.IDs())

	//
	// ── 5.  Router ──────────────────────────────────────────────────────
	//
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.Recoverer)
	r.Use(requestinfo.Enrich)
	r.Use(acl.Attach(db.DB))
	r.Use(middleware.Security)
	r.Handle("/metrics", promhttp.Handler())

	if err := component.Mount(r, &app{db: db, runs: runs, disp: disp}, comps); err != nil {
		return err
	}

	var root http.Handler = r
	if cfg.HTTP.ForceHTTPS {
		root = middleware.ForceHTTPS(root)
	}

	//
	// ── 6.  Serve ───────────────────────────────────────────────────────
	//
	srv := server.New(cfg.HTTP.ListenAddr, root, cfg.Lock.Timeout)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logOut.Infow("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logOut.Infow("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if err := config.Reload(gctx); err != nil {
					logOut.Errorw("config reload rejected", "err", err)
					continue
				}
				if changed := config.Changed(cfg, config.Get()); len(changed) > 0 {
					logOut.Warnw("config reloaded; restart to apply", "sections", changed)
					continue
				}
				logOut.Infow("config reloaded; no changes")
			}
		}
	})

	return g.Wait()
}

// newLocks builds the configured read-lock backend.
func newLocks(ctx context.Context, cfg *config.Config) (lock.Service, func(), error) {
	switch cfg.Lock.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		zap.L().Info("read lock backend", zap.String("backend", "redis"), zap.String("addr", cfg.Redis.Addr))
		return lock.NewRedis(client, 0), func() { _ = client.Close() }, nil
	case "memory":
		zap.L().Warn("read lock backend is in-process; run a single instance only")
		return lock.NewMemory(), func() {}, nil
	case "mysql":
		opts := database.DefaultOptions
		opts.MaxOpenConns = cfg.Lock.MaxConns
		opts.MaxIdleConns = 2
		lockDB, err := database.OpenWithOptions(ctx, database.DSN(cfg.Database.DSN, cfg.Database.Password), opts)
		if err != nil {
			return nil, nil, fmt.Errorf("connect lock pool: %w", err)
		}
		zap.L().Info("read lock backend", zap.String("backend", "mysql"), zap.Int("max_conns", opts.MaxOpenConns))
		return lock.NewMySQL(lockDB), func() { _ = lockDB.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock backend %q", cfg.Lock.Backend)
	}
}
