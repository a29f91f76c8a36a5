// Command hanashi-gateway runs the character chat gateway: a WebSocket server
// that streams character responses, backed by PostgreSQL and Gemini when
// configured and by in-process fakes otherwise.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/hanashi-live/hanashi/pkg/chat/generate"
	"github.com/hanashi-live/hanashi/pkg/chat/generate/gemini"
	"github.com/hanashi-live/hanashi/pkg/chat/generate/scripted"
	"github.com/hanashi-live/hanashi/pkg/chat/sessions"
	"github.com/hanashi-live/hanashi/pkg/chat/store"
	memorystore "github.com/hanashi-live/hanashi/pkg/chat/store/memory"
	postgresstore "github.com/hanashi-live/hanashi/pkg/chat/store/postgres"
	"github.com/hanashi-live/hanashi/pkg/gateway/config"
	"github.com/hanashi-live/hanashi/pkg/gateway/lifecycle"
	"github.com/hanashi-live/hanashi/pkg/gateway/metrics"
	gatewayserver "github.com/hanashi-live/hanashi/pkg/gateway/server"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	newStore     func(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.SessionStore, store.ConversationLog, interface{ Ping(context.Context) error }, func(), error)
	newGenerator func(ctx context.Context, cfg config.Config, logger *slog.Logger) (generate.Generator, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig:   config.LoadFromEnv,
		newStore:     buildStore,
		newGenerator: buildGenerator,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// buildStore selects PostgreSQL when a database URL is configured and the
// in-memory store otherwise.
func buildStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.SessionStore, store.ConversationLog, interface{ Ping(context.Context) error }, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("no database configured, using in-memory store")
		st := memorystore.New()
		return st, st, st, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := postgresstore.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	st, err := postgresstore.New(pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, err
	}
	logger.Info("connected to database")
	return st, st, st, pool.Close, nil
}

// buildGenerator selects Gemini when an API key is configured and the
// scripted offline responder otherwise.
func buildGenerator(ctx context.Context, cfg config.Config, logger *slog.Logger) (generate.Generator, error) {
	if cfg.GeminiAPIKey == "" {
		logger.Info("no generation API key configured, using scripted responder")
		return scripted.Responder{}, nil
	}
	g, err := gemini.New(ctx, gemini.Config{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	})
	if err != nil {
		return nil, fmt.Errorf("init gemini: %w", err)
	}
	logger.Info("using gemini generation", "model", cfg.GeminiModel)
	return g, nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil || deps.newStore == nil || deps.newGenerator == nil {
		return errors.New("missing dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sessionStore, conversationLog, pinger, closeStore, err := deps.newStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer closeStore()

	generator, err := deps.newGenerator(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build generator: %w", err)
	}

	life := lifecycle.New()
	tracker := sessions.NewTracker()
	reg := metrics.New("hanashi")

	gw := gatewayserver.New(gatewayserver.Dependencies{
		Config:    cfg,
		Logger:    logger,
		Lifecycle: life,
		Tracker:   tracker,
		Sessions:  sessionStore,
		Log:       conversationLog,
		Generator: generator,
		Metrics:   reg,
		Pinger:    pinger,
	})
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway", "addr", cfg.Addr)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	life.StartDrain()
	warned := tracker.WarnAll("draining", "server is restarting, please reconnect shortly")
	logger.Info("draining", "sessions_warned", warned)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !tracker.Wait(waitCtx) {
		canceled := tracker.CancelAll()
		logger.Warn("grace period expired", "sessions_canceled", canceled)
		tracker.Wait(nil)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(stderr, "hanashi-gateway: load .env: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "hanashi-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
