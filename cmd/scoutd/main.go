// Command scoutd runs the scout execution pipeline: an HTTP trigger
// endpoint, a minute-cadence dispatcher that fires due scouts, and a reaper
// that reclaims executions stuck running past a stale threshold.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scoutwatch/scoutd/pkg/analytics"
	"github.com/scoutwatch/scoutd/pkg/config"
	"github.com/scoutwatch/scoutd/pkg/credential"
	"github.com/scoutwatch/scoutd/pkg/dispatcher"
	"github.com/scoutwatch/scoutd/pkg/executor"
	"github.com/scoutwatch/scoutd/pkg/executorapi"
	"github.com/scoutwatch/scoutd/pkg/llmprovider"
	"github.com/scoutwatch/scoutd/pkg/notifier"
	"github.com/scoutwatch/scoutd/pkg/store"
	"github.com/scoutwatch/scoutd/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

const shutdownTimeout = 30 * time.Second

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	log.Printf("starting %s", version.Full())

	envPath := filepath.Join(*configDir, ".env")
	cfg, err := config.Initialize(*configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}
	log.Printf("configuration loaded from %s (process environment wins where set)", envPath)

	ginMode := getEnv("GIN_MODE", "debug")
	gin.SetMode(ginMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.Database.DSN, cfg.Database.MaxConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()
	log.Println("connected to postgres, migrations applied")

	llmClient := llmprovider.New(cfg.LLM, cfg.LLM.APIKey)
	credResolver := credential.New(st)
	notifySvc := notifier.NewService(cfg.SMTP)
	events := analytics.New(cfg.AnalyticsBuffer)
	defer events.Close()

	exec := executor.New(st, llmClient, cfg.Search, cfg.Dedup, credResolver, notifySvc, events)

	dispatchInterval, reapInterval, staleAfter := dispatcher.DefaultIntervals(cfg.Scheduling)
	disp := dispatcher.New(st, exec, dispatchInterval)
	reaper := dispatcher.NewReaper(st, reapInterval, staleAfter)

	disp.Start(ctx)
	reaper.Start(ctx)
	log.Printf("dispatcher running, dispatch_interval=%s reap_interval=%s stale_after=%s", dispatchInterval, reapInterval, staleAfter)

	srv := executorapi.NewServer(exec)
	httpPort := getEnv("HTTP_PORT", cfg.HTTPPort)

	go func() {
		log.Printf("HTTP server listening on :%s", httpPort)
		if err := srv.Router().Run(":" + httpPort); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutdown signal received, stopping dispatcher and reaper")
	cancel()

	shutdownComplete := make(chan struct{})
	go func() {
		disp.Stop()
		reaper.Stop()
		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		log.Println("graceful shutdown completed")
	case <-time.After(shutdownTimeout):
		log.Printf("shutdown timeout of %s exceeded, forcing exit", shutdownTimeout)
	}
}
