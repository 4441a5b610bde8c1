package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/glebarez/sqlite"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	ta "github.com/panyam/trackauth"
	"github.com/panyam/trackauth/stores/fs"
	gaestore "github.com/panyam/trackauth/stores/gae"
	gormstore "github.com/panyam/trackauth/stores/gorm"
	"github.com/panyam/trackauth/stores/postgres"
	redisstore "github.com/panyam/trackauth/stores/redis"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP credential server",
		Long: `Start the HTTP server exposing the auth routes, /healthz and
/metrics. Stops gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configFile, cmd.Flags())
			if err == nil {
				err = cfg.Validate()
			}
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	addConfigFlags(cmd.Flags())
	return cmd
}

// closer releases a backend opened for the server.
type closer func()

func openStore(ctx context.Context, cfg storeConfig, log *slog.Logger) (ta.CredentialStore, closer, error) {
	switch cfg.Driver {
	case storeFS:
		return fs.NewCredentialStore(cfg.Path), func() {}, nil

	case storeSQLite:
		db, err := gorm.Open(sqlite.Open(cfg.Path+"?_pragma=busy_timeout(5000)"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
		if err != nil {
			return nil, nil, oops.Code("DB_CONNECT_FAILED").With("driver", cfg.Driver).Wrap(err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, oops.Code("DB_CONNECT_FAILED").With("driver", cfg.Driver).Wrap(err)
		}
		sqlDB.SetMaxOpenConns(1)
		if err := gormstore.AutoMigrate(db); err != nil {
			sqlDB.Close()
			return nil, nil, oops.Code("MIGRATION_FAILED").With("driver", cfg.Driver).Wrap(err)
		}
		return gormstore.NewCredentialStore(db), func() { sqlDB.Close() }, nil

	case storePostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, oops.Code("DB_CONNECT_FAILED").With("driver", cfg.Driver).Wrap(err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, oops.Code("DB_CONNECT_FAILED").With("driver", cfg.Driver).Wrap(err)
		}
		return postgres.NewCredentialStore(pool), pool.Close, nil

	case storeDatastore:
		client, err := datastore.NewClient(ctx, cfg.Project)
		if err != nil {
			return nil, nil, oops.Code("DB_CONNECT_FAILED").With("driver", cfg.Driver).Wrap(err)
		}
		return gaestore.NewCredentialStore(client, cfg.Namespace), func() {
			if err := client.Close(); err != nil {
				log.Warn("datastore close failed", "error", err)
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func openLimiter(ctx context.Context, cfg daemonConfig) (ta.LoginRateLimiter, closer, error) {
	if cfg.Limiter.Driver != limiterRedis {
		// ta.New falls back to the in-process limiter.
		return nil, func() {}, nil
	}
	client, err := redisstore.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, oops.Code("REDIS_CONNECT_FAILED").Wrap(err)
	}
	limiter := redisstore.NewLoginRateLimiter(client, cfg.Auth.LoginRateLimit, cfg.Auth.LoginRateWindow)
	return limiter, func() { client.Close() }, nil
}

// newSender builds the notification sender. Only the console driver puts
// tokens in the log.
func newSender(cfg notifierConfig, log *slog.Logger) ta.NotificationSender {
	if cfg.Driver == notifierConsole {
		log.Warn("console notifier enabled: email links, tokens included, are written to the log")
		return &ta.ConsoleEmailSender{Logger: log, RevealLinks: true}
	}
	return &ta.ConsoleEmailSender{Logger: log}
}

func runServe(ctx context.Context, cfg daemonConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := newLogger(os.Stderr, cfg.Log)
	slog.SetDefault(log)

	store, closeStore, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer closeStore()

	limiter, closeLimiter, err := openLimiter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	auth, err := ta.New(cfg.Auth, ta.Deps{
		Store:   store,
		Sender:  newSender(cfg.Notifier, log),
		Limiter: limiter,
		Logger:  log,
		Metrics: ta.NewMetrics(reg),
	})
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	defer auth.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if fw, ok := auth.Limiter.(*ta.FixedWindowLimiter); ok {
		go fw.Run(ctx, cfg.Auth.LoginRateWindow)
	}

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	if cfg.Server.Prefix != "" {
		auth.Mount(router.PathPrefix(cfg.Server.Prefix).Subrouter())
	} else {
		auth.Mount(router)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting trackauthd",
			"addr", cfg.Server.Addr,
			"prefix", cfg.Server.Prefix,
			"store", cfg.Store.Driver,
			"limiter", cfg.Limiter.Driver,
			"notifier", cfg.Notifier.Driver,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return oops.Code("SERVE_FAILED").With("addr", cfg.Server.Addr).Wrap(err)
		}
		return nil
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return oops.Code("SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}
