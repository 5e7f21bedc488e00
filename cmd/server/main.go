package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jo-hoe/cutout/internal/backend"
	"github.com/jo-hoe/cutout/internal/common"
	"github.com/jo-hoe/cutout/internal/core"
	"github.com/joho/godotenv"
)

func getConfigPath() string {
	// First check if config path is provided via environment variable
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		return configPath
	}

	// Default to config.yaml in current working directory
	cwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	return filepath.Join(cwd, core.DefaultConfigPath)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to load .env file: %v", err)
	}

	configPath := getConfigPath()
	config, err := core.LoadConfigOrDefault(configPath)
	if err != nil {
		log.Printf("failed to load config from %s: %v", configPath, err)
		panic(err)
	}
	if err := config.ApplyEnvOverrides(os.LookupEnv); err != nil {
		log.Printf("invalid environment configuration: %v", err)
		panic(err)
	}
	common.SetupLogger(config.LogLevel, config.LogFormat)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 10*time.Second)
	coreService, err := core.NewCoreService(startupCtx, config)
	cancelStartup()
	if err != nil {
		slog.Error("failed to create core service", "error", err)
		panic(err)
	}

	server := backend.NewServer(config)
	apiService := backend.NewAPIService(coreService)
	apiService.SetRoutes(server)
	apiService.SetProbeRoutes(server)

	printBanner(config.Port, coreService.Ready())

	portString := fmt.Sprintf(":%d", config.Port)

	// Start HTTP server in a goroutine to allow graceful shutdown
	go func() {
		if err := server.Start(portString); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	slog.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
}

func printBanner(port int, readyErr error) {
	base := fmt.Sprintf("http://localhost:%d", port)
	line := strings.Repeat("=", 60)

	fmt.Println(line)
	fmt.Println("Background Removal Server Starting...")
	fmt.Println(line)
	fmt.Printf("Server will run on: %s\n", base)
	fmt.Printf("Background removal endpoint: %s/api/remove_bg\n", base)
	fmt.Printf("Health check: %s/health\n", base)
	fmt.Printf("Metrics: %s/metrics\n", base)
	if readyErr != nil {
		fmt.Printf("WARNING: background removal unavailable: %v\n", readyErr)
	}
	fmt.Println(line)
}
