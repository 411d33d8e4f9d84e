/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the investment platform server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment configuration (.env supported)
  2. Initialize SQLite store
  3. Wire investment lifecycle, commission distributor, sweeper
  4. Configure HTTP router
  5. Start server with graceful shutdown

SCHEDULER:
  The daily accrual sweeper starts with the server and runs at UTC
  midnight. With REDIS_ADDR set, instances coordinate through a Redis
  lease so only one runs the sweep; without it, a process-local lock is
  used.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper, waiting for an in-flight sweep
  4. Close database connection
  5. Exit

SEE ALSO:
  - config/config.go: Environment variables and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
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

	"github.com/redis/go-redis/v9"

	"github.com/stakeline/invest-engine/api"
	"github.com/stakeline/invest-engine/config"
	"github.com/stakeline/invest-engine/invest"
	"github.com/stakeline/invest-engine/referral"
	"github.com/stakeline/invest-engine/sched"
	"github.com/stakeline/invest-engine/store/sqlite"
)

func main() {
	cfg := config.Load()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire domain services
	distributor := referral.NewDistributor(store)
	lifecycle := invest.NewService(store, distributor)

	var lock sched.SweepLock
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
		}
		defer client.Close()
		lock = sched.NewRedisLock(client, "invest:accrual:lease", 10*time.Minute)
		log.Printf("Using Redis sweep lease at %s", cfg.RedisAddr)
	}

	sweeper := sched.NewSweeper(store, lifecycle, lock)
	sweeper.Start()
	defer sweeper.Stop()

	// Create router
	handler := api.NewHandler(store, lifecycle, distributor, sweeper, cfg.JWTSecret, cfg.AppURL)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", cfg.Port)
		log.Printf("📊 API available at http://localhost:%d/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
