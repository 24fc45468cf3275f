package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilnworks/kiln/internal/config"
	"github.com/kilnworks/kiln/internal/event"
	"github.com/kilnworks/kiln/internal/logging"
	"github.com/kilnworks/kiln/internal/mcp"
	"github.com/kilnworks/kiln/internal/provider"
	"github.com/kilnworks/kiln/internal/session"
	"github.com/kilnworks/kiln/internal/storage"
	"github.com/kilnworks/kiln/internal/tool"
	"github.com/kilnworks/kiln/pkg/types"
)

var (
	runModel   string
	runProject string
	runDir     string
	runQuiet   bool
)

var runCmd = &cobra.Command{
	Use:   "run [message...]",
	Short: "Send a prompt and stream the response",
	Long: `Send a prompt to a project's session and stream the generated
response to stdout. The conversation is persisted, so repeated runs
against the same project continue the same session.

Examples:
  kiln run "Fix the bug in main.go"
  kiln run --model anthropic/claude-sonnet-4-5 "Explain this code"
  kiln run --project api "Add request logging"`,
	RunE: runPrompt,
}

func init() {
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model to use (provider/model format)")
	runCmd.Flags().StringVar(&runProject, "project", "default", "Project ID")
	runCmd.Flags().StringVar(&runDir, "directory", "", "Working directory")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress tool call output")
}

func runPrompt(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(runDir)
	if err != nil {
		return err
	}

	message := strings.Join(args, " ")
	if message == "" {
		return fmt.Errorf("message required. Usage: kiln run \"your message\"")
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	initLogging(appConfig, true)

	modelRef := runModel
	if modelRef == "" {
		modelRef = appConfig.Model
	}
	if modelRef == "" {
		return fmt.Errorf("no model configured. Use --model or set \"model\" in kiln.json")
	}

	store := storage.New(paths.StoragePath())

	ctx := context.Background()
	registry := provider.NewRegistry()
	if err := registry.Configure(ctx, appConfig); err != nil {
		return fmt.Errorf("failed to configure providers: %w", err)
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
	sessions.LoadSession(ctx, runProject, tools, customTools)

	// Stream output as it is generated; StartGeneration blocks until done.
	subCtx, unsubscribe := context.WithCancel(ctx)
	defer unsubscribe()
	events, err := bus.Subscribe(subCtx, runProject)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		printEvents(events)
	}()

	if _, err := sessions.AddMessage(ctx, runProject, &types.Message{
		Role:    types.RoleUser,
		Content: message,
	}); err != nil {
		return err
	}

	genErr := sessions.StartGeneration(ctx, runProject, modelRef)

	// Give in-flight events a moment to drain; resolve failures produce no
	// terminal event, so don't wait on one.
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	unsubscribe()
	<-done

	if genErr != nil {
		return genErr
	}
	fmt.Println()
	return nil
}

// printEvents renders streamed generation output until a terminal event
// arrives or the subscription closes. Streaming updates carry the full
// accumulated content, so only the unseen suffix is printed.
func printEvents(events <-chan event.Event) {
	var printed int
	for e := range events {
		switch e.Type {
		case event.GenerationFinished:
			return
		case event.StreamingUpdate:
			var data event.StreamingUpdateData
			if err := e.Decode(&data); err != nil {
				continue
			}
			if len(data.Content) > printed {
				fmt.Print(data.Content[printed:])
				printed = len(data.Content)
			}
		case event.MessageAdded:
			var data event.MessageAddedData
			if err := e.Decode(&data); err != nil || data.Message == nil {
				continue
			}
			switch data.Message.Role {
			case types.RoleAssistant:
				// Tool-calling turns start a fresh streamed message.
				printed = 0
				if !runQuiet {
					for _, call := range data.Message.ToolCalls {
						fmt.Fprintf(os.Stderr, "\n[tool] %s %s\n", call.Name, call.Arguments)
					}
				}
			case types.RoleTool:
				if !runQuiet {
					fmt.Fprintf(os.Stderr, "[tool result] %s\n", truncate(data.Message.Content, 200))
				}
			}
		case event.GenerationFailed:
			var data event.GenerationFailedData
			if err := e.Decode(&data); err == nil {
				fmt.Fprintf(os.Stderr, "\ngeneration failed: %s\n", data.Reason)
			}
			return
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
