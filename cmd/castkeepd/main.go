// Command castkeepd is the credential agent: it owns the OAuth client
// configurations, mirrors access tokens for the dashboard, runs device
// authorization flows and fans vault events out to connected clients.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/castkeep/castkeep/internal/config"
	"github.com/castkeep/castkeep/internal/events"
	"github.com/castkeep/castkeep/internal/repository/badger"
	httpserver "github.com/castkeep/castkeep/internal/server/http"
	"github.com/castkeep/castkeep/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, opens storage and starts the HTTP server.
func main() {
	cfgPath := flag.String("config", config.DefaultAgentPath(), "config file (TOML)")
	dev := flag.Bool("dev", false, "development logging")
	flag.Parse()

	cfg, err := config.LoadAgent(*cfgPath)
	if err != nil {
		// No logger yet.
		os.Stderr.WriteString("castkeepd: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging, *dev)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("bind", cfg.Server.Bind),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	db, err := badger.NewDB(cfg.Storage.Badger.Path, logger)
	if err != nil {
		logger.Fatal("open badger", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	go db.RunGCLoop(ctx, 10*time.Minute)

	configRepo := badger.NewConfigRepo(db)

	// Event fan-out
	bus := events.NewBus(logger)
	defer bus.Close()

	// Services
	verifier := service.NewHTTPVerifier(cfg.Validate.RatePerSec, cfg.Validate.Burst)
	tokenSvc := service.NewTokenService(verifier, bus)
	configSvc := service.NewConfigService(configRepo, bus)
	flowSvc := service.NewFlowService(configRepo, tokenSvc, bus, service.OAuth2Exchanger{})

	validateSvc := service.NewValidateService(tokenSvc, bus, logger)
	if err := validateSvc.Start(cfg.Validate.Schedule); err != nil {
		logger.Fatal("start validation sweep", zap.Error(err))
	}

	// HTTP server
	hub := httpserver.NewHub(bus, logger)
	app := httpserver.New(tokenSvc, configSvc, flowSvc, hub, []byte(cfg.Server.AuthKey), logger)
	srv := &http.Server{
		Addr:              cfg.Server.Bind,
		Handler:           app.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("bind", cfg.Server.Bind))
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		if err := validateSvc.Stop(shutdownCtx); err != nil {
			logger.Warn("sweep shutdown", zap.Error(err))
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}

func newLogger(cfg config.LoggingConfig, dev bool) *zap.Logger {
	if dev {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "text" {
		zcfg.Encoding = "console"
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zcfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
