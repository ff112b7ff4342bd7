package main

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"schedulers.app/internal/audit"
	"schedulers.app/internal/auth"
	"schedulers.app/internal/config"
	"schedulers.app/internal/entity"
	"schedulers.app/internal/httpapi"
	"schedulers.app/internal/migrate"
	"schedulers.app/internal/mutation"
	"schedulers.app/internal/obs"
	"schedulers.app/internal/store/pg"
	"schedulers.app/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	obs.SetLogger(obs.NewLogger(os.Stdout, cfg.Logging.Level))
	logger := obs.Logger()
	obs.Init()
	build := obs.InitBuildInfo(version, commit)
	logger.Info("starting", "version", build.Version, "commit", build.Commit, "go", build.GoVersion)

	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Database.AutoMigrate {
		mctx, cancel := context.WithTimeout(ctx, time.Minute)
		applied, err := migrate.Embedded(store.DB(), migrate.WithLogger(logger.With("component", "migrate"))).Up(mctx)
		cancel()
		if err != nil {
			return err
		}
		logger.Info("schema up to date", "applied", len(applied))
	}

	var recOpts []audit.Option
	recOpts = append(recOpts,
		audit.WithLogger(logger.With("component", "audit")),
		audit.WithWriteTimeout(cfg.Audit.WriteTimeout),
	)
	if cfg.Audit.AsyncBuffer > 0 {
		recOpts = append(recOpts, audit.WithAsync(cfg.Audit.AsyncBuffer))
	}
	feed := stream.New(0)
	recorder := audit.NewRecorder(feed.Tee(store), recOpts...)
	defer recorder.Close()

	sessions := auth.NewSessionManager(store, cfg.Session.TTL, nil)
	svc, err := auth.NewService(store, sessions,
		auth.WithHasher(auth.NewPBKDF2Hasher(cfg.Password.Iterations)),
		auth.WithLockoutPolicy(auth.LockoutPolicy{Threshold: cfg.Lockout.Threshold, Duration: cfg.Lockout.Duration}),
		auth.WithRecorder(recorder),
		auth.WithLogger(logger.With("component", "auth")),
	)
	if err != nil {
		return err
	}

	if cfg.Boot.Enabled {
		if _, err := svc.Bootstrap(ctx, auth.NewPrincipal{
			Username:    cfg.Boot.Username,
			Password:    cfg.Boot.Password,
			DisplayName: cfg.Boot.DisplayName,
			Email:       cfg.Boot.Email,
		}); err != nil {
			return err
		}
	}

	secret, err := cookieSecret(cfg, logger)
	if err != nil {
		return err
	}
	cookies, err := auth.NewCookieCodec(secret, cfg.Session.TTL, nil)
	if err != nil {
		return err
	}

	registry, err := entity.NewRegistry()
	if err != nil {
		return err
	}
	engine, err := mutation.NewEngine(registry, store,
		mutation.WithRecorder(recorder),
		mutation.WithLogger(logger.With("component", "mutation")),
	)
	if err != nil {
		return err
	}

	ready := httpapi.ReadyProbe{DB: store.DB()}
	api, err := httpapi.New(httpapi.Options{
		Version:      version,
		Ready:        ready,
		Auth:         svc,
		Cookies:      cookies,
		Engine:       engine,
		Reader:       store,
		Recorder:     recorder,
		Feed:         feed,
		Logger:       logger.With("component", "http"),
		CookieName:   cfg.Session.CookieName,
		CookieSecure: cfg.Session.CookieSecure,
		TrustProxy:   cfg.HTTP.TrustProxy,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		RatePerSec:   cfg.HTTP.RateLimitRPS,
		RateBurst:    cfg.HTTP.RateLimitBurst,
		LoginPerSec:  cfg.HTTP.LoginRPS,
		LoginBurst:   cfg.HTTP.LoginBurst,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewGRPCServer(ready, logger.With("component", "grpc"))
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	var grpcLis net.Listener
	if cfg.GRPC.Addr != "" {
		if grpcLis, err = net.Listen("tcp", cfg.GRPC.Addr); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		sessions.RunPurger(ctx, cfg.Session.PurgeInterval, logger.With("component", "sessions"))
	}()
	go func() {
		defer wg.Done()
		health.Run(ctx, 10*time.Second)
	}()

	go func() {
		logger.Info("http listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
	if grpcLis != nil {
		go func() {
			logger.Info("grpc health listening", "addr", grpcLis.Addr().String())
			if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errs <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errs:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	grpcSrv.GracefulStop()
	wg.Wait()
	logger.Info("stopped")
	return runErr
}

// cookieSecret returns the configured signing secret. Outside production an
// ephemeral one is generated, which invalidates sessions on restart.
func cookieSecret(cfg config.Config, logger *slog.Logger) ([]byte, error) {
	if cfg.Session.Secret != "" {
		return []byte(cfg.Session.Secret), nil
	}
	if cfg.IsProduction() {
		return nil, errors.New("session secret is required in production")
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	logger.Warn("no session secret configured; using an ephemeral one")
	return secret, nil
}
