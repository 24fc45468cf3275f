// Package main provides the entry point for the kiln server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kilnworks/kiln/internal/config"
	"github.com/kilnworks/kiln/internal/event"
	"github.com/kilnworks/kiln/internal/logging"
	"github.com/kilnworks/kiln/internal/mcp"
	"github.com/kilnworks/kiln/internal/provider"
	"github.com/kilnworks/kiln/internal/server"
	"github.com/kilnworks/kiln/internal/session"
	"github.com/kilnworks/kiln/internal/storage"
	"github.com/kilnworks/kiln/internal/tool"
	"github.com/kilnworks/kiln/pkg/types"
)

var (
	port      = flag.Int("port", 8080, "Server port")
	directory = flag.String("directory", "", "Working directory")
	logLevel  = flag.String("log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	version   = flag.Bool("version", false, "Print version and exit")
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("kiln-server %s (%s)\n", Version, BuildTime)
		os.Exit(0)
	}

	workDir := *directory
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to get working directory")
		}
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		logging.Fatal().Err(err).Msg("failed to create data directories")
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	level := appConfig.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	logging.Init(logging.Config{Level: logging.ParseLevel(level)})

	logging.Info().Str("version", Version).Str("workDir", workDir).Msg("starting kiln server")

	store := storage.New(paths.StoragePath())

	ctx := context.Background()
	registry := provider.NewRegistry()
	if err := registry.Configure(ctx, appConfig); err != nil {
		logging.Warn().Err(err).Msg("failed to configure some providers")
	}

	mcpClient := mcp.NewClient()
	for name, mcpCfg := range appConfig.MCP {
		cfg := mcpCfg
		if err := mcpClient.AddServer(ctx, name, &cfg); err != nil {
			logging.Warn().Err(err).Str("server", name).Msg("failed to add MCP server")
		}
	}
	defer mcpClient.Close()

	tools := tool.DefaultRegistry(workDir, appConfig.Tools).Map()
	customTools := mcpClient.CustomTools()

	bus := event.NewBus()
	defer bus.Close()

	sessions := session.NewService(store, registry, bus, sessionOptions(appConfig)...)

	serverConfig := server.DefaultConfig()
	serverConfig.Port = *port
	serverConfig.Directory = workDir

	srv := server.New(serverConfig, appConfig, sessions, registry, bus, tools, customTools)

	// Reconfigure providers when the config changes on disk.
	watcher, err := config.NewWatcher(workDir, func(cfg *types.Config) {
		if err := registry.Configure(ctx, cfg); err != nil {
			logging.Warn().Err(err).Msg("failed to reconfigure providers")
		}
		if cfg.LogLevel != "" && *logLevel == "" {
			logging.Init(logging.Config{Level: logging.ParseLevel(cfg.LogLevel)})
		}
		srv.SetAppConfig(cfg)
	})
	if err != nil {
		logging.Warn().Err(err).Msg("config watcher unavailable")
	} else if watcher != nil {
		watcher.Start()
		defer watcher.Stop()
	}

	go func() {
		logging.Info().Int("port", *port).Msg("server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}

	logging.Info().Msg("server stopped")
}

func sessionOptions(cfg *types.Config) []session.Option {
	var opts []session.Option
	if cfg.SystemPrompt != "" {
		opts = append(opts, session.WithSystemPrompt(cfg.SystemPrompt))
	}
	if cfg.MaxIterations > 0 {
		opts = append(opts, session.WithMaxIterations(cfg.MaxIterations))
	}
	return opts
}
