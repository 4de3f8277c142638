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

	"portfoliochat/internal/api"
	"portfoliochat/internal/config"
	"portfoliochat/internal/redis"
	"portfoliochat/internal/service/ai"
	"portfoliochat/internal/service/chat"
	"portfoliochat/internal/storage"
	"portfoliochat/internal/telemetry"

	"github.com/gin-gonic/gin"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("%v", err)
	}
}

// run blocks until the server stops. Deferred closes drain queued telemetry.
func run() error {
	cfgPath := os.Getenv("PORTFOLIOCHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sinks := []telemetry.Sink{telemetry.NewLogSink(nil)}

	if cfg.Redis.Enabled {
		rdb, err := redis.NewRedisClient(cfg)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		defer rdb.Close()
		sinks = append(sinks, telemetry.NewRedisSink(rdb))
	}

	if dbType := cfg.Telemetry.Database; dbType != "" {
		log.Printf("telemetry database: %s\n", dbType)
		db, err := storage.Open(dbType, cfg)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if err := storage.Migrate(db, dbType); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		sinks = append(sinks, telemetry.NewSQLSink(db))
	}

	dispatcher := telemetry.NewDispatcher(cfg.Telemetry.QueueSize, cfg.Telemetry.Workers, sinks...)
	defer dispatcher.Close()

	selector := ai.NewSelector(cfg.Models, cfg.Environment)
	handlers := api.NewHandler(chat.NewBridge(selector, dispatcher), cfg)

	router := gin.New()
	router.Use(gin.Logger(), api.Recovery())
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.BasicConfig.ServerAddress,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, srv, cfg.RequestTimeout()+5*time.Second)
}

// serve runs srv until ctx is done or the listener fails, then shuts it down.
func serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	serveErr := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
