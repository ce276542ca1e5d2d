// Package main is the entry point for the inference gateway server.
//
//go:generate swag init --dir ../../ --generalInfo cmd/infergate/main.go --output ../../docs --parseInternal
//
// @title                       infergate API
// @version                     1.0
// @description                 OpenAI-compatible inference gateway with model routing and a response cache.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"infergate/config"
	"infergate/internal/app"
	"infergate/internal/logging"
	"infergate/internal/version"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	configPath := flag.String("config", "", "Path to the config file (default: $INFERGATE_CONFIG, config/config.yaml, config.yaml)")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Bootstrap logger until the configured one is known
	logging.Setup(logging.Options{})

	path := *configPath
	if path == "" {
		path = os.Getenv("INFERGATE_CONFIG")
	}
	result, err := config.LoadFile(path)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Setup(logging.Options{
		Format: result.Config.Logging.Format,
		Level:  result.Config.Logging.Level,
	})

	slog.Info("starting infergate",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
		"config_file", result.Path,
	)

	application, err := app.New(context.Background(), app.Config{
		AppConfig: result,
		Version:   version.Version,
	})
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := application.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := application.Start(":" + result.Config.Server.Port); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	// Start returns as soon as the listener closes; wait for buffered
	// usage records and spans to flush.
	<-shutdownDone
}
