// Command llama-proxy runs the OpenAI-compatible reverse proxy in
// front of a llama.cpp server (or a set of them, routed by model id).
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

	"go.uber.org/zap"

	"github.com/user/llama-proxy-go/internal/api"
	"github.com/user/llama-proxy-go/internal/auth"
	"github.com/user/llama-proxy-go/internal/config"
	"github.com/user/llama-proxy-go/internal/logging"
	"github.com/user/llama-proxy-go/internal/metrics"
	"github.com/user/llama-proxy-go/internal/ratelimit"
	"github.com/user/llama-proxy-go/internal/router"
	"github.com/user/llama-proxy-go/internal/upstream"
	"github.com/user/llama-proxy-go/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v":
			fmt.Println(version.Info())
			os.Exit(0)
		case "--help", "-h":
			printUsage()
			os.Exit(0)
		}
	}
	if err := run(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func printUsage() {
	fmt.Printf("llama-proxy - %s\n\n", version.Short())
	fmt.Println("Usage: llama-proxy [OPTIONS]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --version, -v  Show version information")
	fmt.Println("  --help, -h     Show this help message")
	fmt.Println()
	fmt.Println("Without options, starts the proxy server.")
	fmt.Println()
	fmt.Println("Configuration is read entirely from environment variables; see")
	fmt.Println("Load in internal/config/config.go for the full list.")
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, logging.Dir())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting llama-proxy",
		zap.String("version", version.Short()),
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("default_upstream", cfg.DefaultUpstream),
		zap.Int("model_upstreams", len(cfg.ModelUpstreams)),
	)

	reg := metrics.New()
	authenticator := auth.New(cfg.APIKeys)
	limiter := ratelimit.New(cfg.RateLimitRPM)
	defer limiter.Stop()
	modelRouter := router.New(cfg.DefaultUpstream, cfg.ModelUpstreams)
	upstreamClient := upstream.New(cfg.ConnectTimeoutS, cfg.MaxRetries, cfg.RetryBackoffS, reg)

	server := api.NewServer(api.ServerDeps{
		Config:        cfg,
		Router:        modelRouter,
		Upstream:      upstreamClient,
		Authenticator: authenticator,
		RateLimiter:   limiter,
		Metrics:       reg,
		Logger:        logger,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // streaming responses need a long write timeout
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("server started", zap.String("addr", addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
