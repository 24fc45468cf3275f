package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

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
	servePort int
	serveDir  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the kiln HTTP server",
	Long: `Start kiln as a headless server that exposes the session engine
over an HTTP API with SSE event streaming.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	initLogging(appConfig, false)
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
	serverConfig.Port = servePort
	serverConfig.Directory = workDir

	srv := server.New(serverConfig, appConfig, sessions, registry, bus, tools, customTools)

	watcher, err := config.NewWatcher(workDir, func(cfg *types.Config) {
		if err := registry.Configure(ctx, cfg); err != nil {
			logging.Warn().Err(err).Msg("failed to reconfigure providers")
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
		logging.Info().Int("port", servePort).Msg("server listening")
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
	return nil
}

// initLogging applies the configured log level, letting the --log-level
// flag win over the config file.
func initLogging(cfg *types.Config, pretty bool) {
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logging.Init(logging.Config{Level: logging.ParseLevel(level), Pretty: pretty})
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
