package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kilnworks/kiln/internal/config"
	"github.com/kilnworks/kiln/internal/provider"
)

var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List available models",
	Long: `List all models from configured providers.

Examples:
  kiln models              # List all models
  kiln models anthropic    # List only Anthropic models`,
	RunE: runModels,
}

func runModels(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	registry := provider.NewRegistry()
	if err := registry.Configure(context.Background(), appConfig); err != nil {
		return fmt.Errorf("failed to configure providers: %w", err)
	}

	var providerFilter string
	if len(args) > 0 {
		providerFilter = args[0]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tMODEL\tCONTEXT\tFEATURES\t")

	for _, model := range registry.AllModels() {
		if providerFilter != "" && model.ProviderID != providerFilter {
			continue
		}

		features := ""
		if model.SupportsTools {
			features += "tools "
		}
		if model.SupportsReasoning {
			features += "reasoning "
		}
		fmt.Fprintf(w, "%s\t%s\t%dk\t%s\t\n",
			model.ProviderID,
			model.ID,
			model.ContextLength/1000,
			features,
		)
	}

	return w.Flush()
}
