package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/AshFrancis/zkvote-relayer/config"
	"github.com/AshFrancis/zkvote-relayer/relayer"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the relayer configuration file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	svc, err := relayer.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize relayer", zap.Error(err))
	}

	svc.Start()
	startHealthServer(svc, cfg.Health.Port, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	svc.Stop()
}

// startHealthServer serves /health and /metrics. A busy port is logged, not
// fatal: the relayer itself keeps running.
func startHealthServer(svc *relayer.Service, port int, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/health", newHealthHandler(svc))
	mux.Handle("/metrics", svc.Metrics().Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("health server listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", zap.Error(err))
		}
	}()
}
