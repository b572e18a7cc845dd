// ratd is the control-plane server for a fleet of remote OpenVPN node
// daemons: it serves the admin REST API, runs the deferred work queue,
// drives node session start/stop/com over HTTP, and schedules the
// full-archive backup job.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rat-data/ratd-core/internal/api"
	"github.com/rat-data/ratd-core/internal/archive"
	"github.com/rat-data/ratd-core/internal/auth"
	"github.com/rat-data/ratd-core/internal/backup"
	"github.com/rat-data/ratd-core/internal/config"
	"github.com/rat-data/ratd-core/internal/leader"
	"github.com/rat-data/ratd-core/internal/messenger"
	"github.com/rat-data/ratd-core/internal/node"
	"github.com/rat-data/ratd-core/internal/orgtree"
	"github.com/rat-data/ratd-core/internal/postgres"
	"github.com/rat-data/ratd-core/internal/queue"
	"github.com/rat-data/ratd-core/internal/storage"
)

// validateEnv checks that critical environment variables have valid values.
func validateEnv() []string {
	var errs []string

	if addr := os.Getenv("RATD_LISTEN_ADDR"); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Sprintf("RATD_LISTEN_ADDR=%q: must be host:port (%v)", addr, err))
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		if _, err := net.LookupPort("tcp", port); err != nil {
			errs = append(errs, fmt.Sprintf("PORT=%q: must be a valid port number", port))
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		if _, err := url.Parse(dbURL); err != nil {
			errs = append(errs, fmt.Sprintf("DATABASE_URL: invalid URL (%v)", err))
		}
	}

	for _, name := range []string{"S3_METADATA_TIMEOUT", "S3_DATA_TIMEOUT", "HTTP_REQUEST_TIMEOUT", "HTTP_COM_REQUEST_TIMEOUT"} {
		if v := os.Getenv(name); v != "" {
			if _, err := time.ParseDuration(v); err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q: must be a valid Go duration (e.g. 10s, 2m) (%v)", name, v, err))
			}
		}
	}

	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		if _, _, err := net.SplitHostPort(v); err != nil {
			if _, err := url.Parse("http://" + v); err != nil {
				errs = append(errs, fmt.Sprintf("S3_ENDPOINT=%q: must be a valid endpoint", v))
			}
		}
	}

	if v := os.Getenv("BACKUP_CRON"); v != "" {
		// Leave syntax validation to backup.New (robfig/cron) — just
		// make sure it isn't pure whitespace.
		if strings.TrimSpace(v) == "" {
			errs = append(errs, "BACKUP_CRON: must not be blank")
		}
	}

	return errs
}

// warnDefaultCredentials logs security warnings when S3 or Postgres
// credentials appear to be well-known defaults. Safe for local
// development, dangerous in production.
func warnDefaultCredentials() {
	s3Access := os.Getenv("S3_ACCESS_KEY")
	s3Secret := os.Getenv("S3_SECRET_KEY")
	if s3Access == "minioadmin" || s3Secret == "minioadmin" {
		slog.Warn("S3 credentials are set to default values (minioadmin) — change these for production deployments")
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		if u, err := url.Parse(dbURL); err == nil && u.User != nil {
			user := u.User.Username()
			pass, _ := u.User.Password()
			if (user == "ratd" && pass == "ratd") || (user == "postgres" && pass == "postgres") {
				slog.Warn("database credentials appear to be defaults — change these for production deployments",
					"user", user)
			}
		}
	}
}

func main() {
	// Built-in healthcheck for scratch containers (no wget/curl available).
	// Usage: /ratd healthcheck
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		resp, err := http.Get("http://localhost:8080/health")
		if err != nil {
			os.Exit(1)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	baseHandler := slog.NewJSONHandler(os.Stdout, nil)
	logger := slog.New(api.NewContextHandler(baseHandler))
	slog.SetDefault(logger)

	if errs := validateEnv(); len(errs) > 0 {
		for _, e := range errs {
			slog.Error("invalid environment variable", "error", e)
		}
		os.Exit(1)
	}

	configPath := config.ResolvePath()
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	if configPath != "" {
		slog.Info("config loaded", "path", configPath)
	}

	srv := &api.Server{}

	// Auth middleware: static API key if RATD_API_KEY is set, otherwise
	// unauthenticated (appropriate for a trusted internal network only).
	if apiKey := os.Getenv("RATD_API_KEY"); apiKey != "" {
		srv.Auth = auth.APIKey(apiKey)
		slog.Info("API key authentication enabled")
	} else {
		srv.Auth = auth.Noop()
	}

	// Shutdown hooks, populated below, called in order during graceful shutdown.
	var (
		stopLeader    func()
		stopMessenger func()
		stopQueue     func()
		stopBackup    func()
		closePool     func()
	)

	var msgr messenger.Messenger = messenger.NewInProcess()

	// Wire Postgres when DATABASE_URL is set. Without it ratd still runs,
	// but the queue engine, org tree, archive export, node controller, and
	// leader election are unavailable; their API endpoints answer 503.
	var pool *pgxpool.Pool
	ctx := context.Background()
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		var poolErr error
		pool, poolErr = postgres.NewPool(ctx, dbURL)
		if poolErr != nil {
			slog.Error("failed to connect to database", "error", poolErr)
			os.Exit(1)
		}
		closePool = func() { pool.Close() }

		if err := postgres.Migrate(ctx, pool); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		srv.DBHealth = postgres.NewHealthChecker(pool)

		pgMsgr := messenger.NewPostgres(pool)
		if err := pgMsgr.Start(ctx); err != nil {
			slog.Warn("postgres messenger failed to start, falling back to in-process", "error", err)
		} else {
			msgr = pgMsgr
			stopMessenger = pgMsgr.Stop
			slog.Info("postgres messenger started (LISTEN/NOTIFY)")
		}

		orgStore := orgtree.NewPostgresStore(pool)
		srv.OrgTree = orgStore

		queueStore := postgres.NewQueueStore(pool)
		queueRegistry := queue.NewRegistry()
		queueCfg := queue.Config{
			TTLSeconds:  config.EnvInt("QUEUE_TTL_SECONDS", cfg.Queue.TTLSeconds),
			MaxAttempts: config.EnvInt("QUEUE_MAX_ATTEMPTS", cfg.Queue.MaxAttempts),
		}
		engine := queue.NewEngine(queueStore, queueRegistry, msgr, queueCfg)
		srv.QueueEngine = engine

		dataRoot := config.EnvString("DATA_PATH", cfg.DataPath)
		exporter := archive.NewExporter(dataRoot, orgStore)
		srv.Archive = exporter

		transport := node.NewTransport(
			config.EnvDuration("HTTP_REQUEST_TIMEOUT", node.DefaultRequestTimeout),
			config.EnvDuration("HTTP_COM_REQUEST_TIMEOUT", node.DefaultComRequestTimeout),
		)
		renderer := node.ConfigRenderer(node.NoopRenderer{})
		controller := node.NewController(transport, orgStore, msgr, renderer, config.EnvString("NODE_SERVER_VER", "dev"))
		srv.NodeController = controller

		var offsite *storage.S3Store
		if s3Endpoint := os.Getenv("S3_ENDPOINT"); s3Endpoint != "" {
			s3Bucket := config.EnvString("S3_BUCKET", "ratd")
			s3Cfg := storage.S3Config{
				Endpoint:        s3Endpoint,
				AccessKey:       os.Getenv("S3_ACCESS_KEY"),
				SecretKey:       os.Getenv("S3_SECRET_KEY"),
				Bucket:          s3Bucket,
				UseSSL:          os.Getenv("S3_USE_SSL") == "true",
				MetadataTimeout: config.EnvDuration("S3_METADATA_TIMEOUT", storage.DefaultMetadataTimeout),
				DataTimeout:     config.EnvDuration("S3_DATA_TIMEOUT", storage.DefaultDataTimeout),
			}

			s3Store, err := storage.NewS3StoreFromConfig(ctx, s3Cfg)
			if err != nil {
				slog.Error("failed to connect to S3", "error", err)
				os.Exit(1)
			}
			offsite = s3Store
			srv.S3Health = storage.NewHealthChecker(s3Store)
			slog.Info("s3 storage initialized", "endpoint", s3Endpoint, "bucket", s3Bucket)
		} else {
			slog.Warn("S3_ENDPOINT not set, backups stay local only")
		}

		// startBackgroundWorkers launches the queue scan loop and the
		// scheduled backup job. Called directly when no leader election
		// is needed, or by the leader elector when this replica wins the
		// advisory lock.
		startBackgroundWorkers := func(ctx context.Context) func() {
			engine.Start(ctx)
			stopQueue = engine.Stop
			slog.Info("queue engine started")

			if cfg.Backup.Enabled {
				cronExpr := config.EnvString("BACKUP_CRON", cfg.Backup.Cron)
				prefix := config.EnvString("BACKUP_S3_PREFIX", cfg.Backup.S3Prefix)
				job, err := backup.New(cronExpr, exporter, offsite, prefix)
				if err != nil {
					slog.Error("failed to schedule backup job", "error", err)
				} else {
					job.Start()
					stopBackup = job.Stop
					slog.Info("backup job scheduled", "cron", cronExpr)
				}
			}

			return func() {
				if stopQueue != nil {
					stopQueue()
					stopQueue = nil
					slog.Info("queue engine stopped")
				}
				if stopBackup != nil {
					stopBackup()
					stopBackup = nil
					slog.Info("backup job stopped")
				}
			}
		}

		if os.Getenv("WORKERS_ENABLED") == "false" {
			slog.Info("background workers disabled (WORKERS_ENABLED=false)")
		} else {
			// Leader election via Postgres advisory lock. Only the
			// replica that acquires the lock runs the queue engine and
			// backup job; if it dies, Postgres releases the lock and
			// another replica takes over.
			tryLock := func(ctx context.Context) (bool, error) {
				var acquired bool
				err := pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", leader.AdvisoryLockID).Scan(&acquired)
				return acquired, err
			}
			elector := leader.New(tryLock, leader.RetryInterval, startBackgroundWorkers)
			elector.Start(ctx)
			stopLeader = elector.Stop
			slog.Info("leader election started (advisory lock)")
		}
	} else {
		slog.Warn("DATABASE_URL not set, running without persistence, queue engine, or node control")
	}

	warnDefaultCredentials()

	if corsEnv := os.Getenv("CORS_ORIGINS"); corsEnv != "" {
		srv.CORSOrigins = strings.Split(corsEnv, ",")
	}

	if rl := os.Getenv("RATE_LIMIT"); rl != "0" {
		rlCfg := api.DefaultRateLimitConfig()
		if redisURL := os.Getenv("RATE_LIMIT_REDIS_URL"); redisURL != "" {
			rlCfg.RedisURL = redisURL
			slog.Info("rate limiting enabled (distributed via redis)", "rps", rlCfg.RequestsPerSecond, "burst", rlCfg.Burst)
		} else {
			slog.Info("rate limiting enabled (per-process)", "rps", rlCfg.RequestsPerSecond, "burst", rlCfg.Burst)
		}
		srv.RateLimit = &rlCfg
	}

	router := api.NewRouter(srv)

	// Listen address: RATD_LISTEN_ADDR > PORT (legacy) > default localhost-only.
	addr := "127.0.0.1:8080"
	if listenAddr := os.Getenv("RATD_LISTEN_ADDR"); listenAddr != "" {
		addr = listenAddr
	} else if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	if strings.HasPrefix(addr, "0.0.0.0") && os.Getenv("RATD_API_KEY") == "" {
		slog.Warn("listening on 0.0.0.0 without RATD_API_KEY — API is unauthenticated and accessible from the network")
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS13,
		},
	}

	tlsCertFile := os.Getenv("TLS_CERT_FILE")
	tlsKeyFile := os.Getenv("TLS_KEY_FILE")

	errCh := make(chan error, 1)
	if tlsCertFile != "" && tlsKeyFile != "" {
		go func() {
			errCh <- httpServer.ListenAndServeTLS(tlsCertFile, tlsKeyFile)
		}()
		slog.Info("starting ratd (HTTPS)", "addr", addr)
	} else {
		go func() {
			errCh <- httpServer.ListenAndServe()
		}()
		slog.Info("starting ratd", "addr", addr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	// Ordered cleanup: leader (stops queue/backup) → messenger → rate
	// limiter → database pool.
	if stopLeader != nil {
		stopLeader()
		slog.Info("leader elector stopped")
	}
	if stopMessenger != nil {
		stopMessenger()
		slog.Info("messenger stopped")
	}
	if srv.RateLimiterStop != nil {
		srv.RateLimiterStop()
		slog.Info("rate limiter stopped")
	}
	if closePool != nil {
		closePool()
		slog.Info("database pool closed")
	}

	slog.Info("ratd shutdown complete")
}
