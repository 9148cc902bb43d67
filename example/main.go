// This package shows usage of txprop: a member service whose audit log write can join or
// escape the service transaction.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/oligo/txprop"
	"github.com/oligo/txprop/example/config"
	"github.com/oligo/txprop/example/member"
	"github.com/oligo/txprop/sqlxtx"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Server.Env == "development" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Database.Driver == member.DriverSQLite {
		if err := os.MkdirAll(cfg.Database.DSN, 0o755); err != nil {
			return err
		}
	}

	store, err := member.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	logPropagation, err := cfg.Tx.Propagation()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	defaults := txprop.DefaultOptions()
	defaults.Timeout = cfg.Tx.Timeout

	tm := txprop.NewTxManager(sqlxtx.NewResource(store.DB), &txprop.Config{
		Logger:                      logger.Named("txprop"),
		Metrics:                     txprop.NewMetrics(registry),
		DefaultOptions:              defaults,
		ValidateExistingTransaction: cfg.Tx.ValidateExisting,
	})

	db := sqlxtx.New(store.DB, tm, logger)
	svc := member.NewService(tm,
		member.NewMemberRepository(db, tm, store.Builder, defaults),
		member.NewLogRepository(db, tm, store.Builder, defaults, logPropagation),
		logger.Named("member"),
	)
	svc.OuterTransaction = cfg.Tx.OuterTransaction

	if cfg.Server.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	member.NewHandler(svc, logger).Register(router)

	logger.Info("member example listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("driver", cfg.Database.Driver),
		zap.Bool("outer_tx", svc.OuterTransaction),
		zap.Stringer("log_propagation", logPropagation),
	)

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return serve(ctx, srv, ln, logger)
}

// serve runs srv on ln until ctx is done, then waits for in-flight requests before returning,
// so the store is closed only after the last handler finished.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	// Give outstanding requests time to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	logger.Info("server stopped")
	return nil
}
