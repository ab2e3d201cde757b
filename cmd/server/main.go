package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"tutupkasir/backend/internal/cache"
	"tutupkasir/backend/internal/config"
	"tutupkasir/backend/internal/events"
	"tutupkasir/backend/internal/httpapi"
	"tutupkasir/backend/internal/service"
	"tutupkasir/backend/internal/store"
	"tutupkasir/backend/internal/store/memory"
	pgstore "tutupkasir/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	resetSignal := cache.ResetSignal(cache.NoopResetSignal{})
	bus := events.NewBus(logger)
	closers = append(closers, bus.Close)
	publisher := events.Publisher(bus)

	if cfg.RedisAddr != "" {
		redisSignal := cache.NewRedisResetSignal(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisSignal.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop reset signal", err)
		} else {
			resetSignal = redisSignal
			closers = append(closers, redisSignal.Close)

			redisPub := events.NewRedisPublisher(redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}))
			publisher = events.Fanout{bus, redisPub}
			closers = append(closers, redisPub.Close)
			log.Println("reset signal and events: redis")
		}
	} else {
		log.Println("reset signal: noop, events: in-process")
	}

	// In-process consumer: log every completed reset.
	go func() {
		for sum := range bus.Subscribe() {
			logger.WithFields(logrus.Fields{
				"shift_id":   sum.ShiftID,
				"tenant":     sum.TenantID,
				"location":   sum.LocationID,
				"net_profit": sum.NetProfit.String(),
				"orders":     sum.TotalOrders,
				"archive_id": sum.ArchiveID,
			}).Info("shift closed")
		}
	}()

	svc := service.New(repo, resetSignal, publisher, logger, cfg.TenantID, time.Duration(cfg.LeaseTTLSeconds)*time.Second)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("shift engine listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
