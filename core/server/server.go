package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orbyt-api/core/cache"
	"orbyt-api/core/config"
	"orbyt-api/core/constants"
	"orbyt-api/core/database"
	"orbyt-api/core/logger"
	"orbyt-api/core/queue"
	"orbyt-api/core/vault"
	"orbyt-api/modules/calendar"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
)

// Run boots the HTTP server, the asynq worker, and the scheduler, then
// blocks until a shutdown signal arrives.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	v, err := vault.New(cfg.Vault.Key)
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}

	db, err := database.InitDB(database.DatabaseConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
	})
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}

	redisCache, err := cache.NewRedisCache(cache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	q := queue.NewQueue(redisOpt)

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = constants.DefaultTimeout
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())

	calendarModule, err := calendar.Init(e, db, redisCache, q, v, cfg)
	if err != nil {
		return fmt.Errorf("init calendar module: %w", err)
	}

	mux := asynq.NewServeMux()
	calendarModule.RegisterTasks(mux)

	worker := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
		Queues:      map[string]int{"default": 1},
	})
	scheduler := asynq.NewScheduler(redisOpt, nil)
	if err := calendarModule.RegisterSchedules(scheduler); err != nil {
		return fmt.Errorf("register schedules: %w", err)
	}

	errCh := make(chan error, 3)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.Info("HTTP server starting", "addr", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := worker.Run(mux); err != nil {
			errCh <- fmt.Errorf("asynq worker: %w", err)
		}
	}()
	go func() {
		if err := scheduler.Run(); err != nil {
			errCh <- fmt.Errorf("asynq scheduler: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("Shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
	scheduler.Shutdown()
	worker.Shutdown()

	logger.Info("Shutdown complete")
	return nil
}
