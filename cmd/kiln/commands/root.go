// Package commands provides the CLI commands for kiln.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "kiln - AI coding session engine",
	Long: `kiln runs AI-assisted coding sessions: per-project conversations with
streaming generation and an agentic tool loop.

Run 'kiln run' for a one-shot prompt, or 'kiln serve' to start the
HTTP server.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("kiln %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(projectsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
