package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilnworks/kiln/internal/config"
	"github.com/kilnworks/kiln/internal/storage"
)

var projectsDelete string

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List stored project conversations",
	Long: `List the projects with stored conversation history.

Examples:
  kiln projects                  # List all stored projects
  kiln projects --delete api     # Delete the "api" project's history`,
	RunE: runProjects,
}

func init() {
	projectsCmd.Flags().StringVar(&projectsDelete, "delete", "", "Delete a project's stored history")
}

func runProjects(cmd *cobra.Command, args []string) error {
	store := storage.New(config.GetPaths().StoragePath())
	ctx := context.Background()

	if projectsDelete != "" {
		if err := store.DeleteMessages(ctx, projectsDelete); err != nil {
			return fmt.Errorf("failed to delete project %s: %w", projectsDelete, err)
		}
		fmt.Printf("deleted %s\n", projectsDelete)
		return nil
	}

	projects, err := store.ListProjects(ctx)
	if err != nil {
		return err
	}
	for _, p := range projects {
		fmt.Println(p)
	}
	return nil
}
