package cmd

import (
	"context"
	"fmt"

	"github.com/mfenderov/feedfilter/internal/cache"
	"github.com/mfenderov/feedfilter/internal/mcp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the MCP server for post classification.

The server communicates via stdio and provides these tools:
  - classify_posts: Classify posts against the selected topics
  - get_classification: Get a post's classification by id
  - list_topics: List the selected topics
  - search_classifications: Search the archive (when enabled)

Example:
  feedfilter serve`,
	RunE: withApp(runServe),
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
	direct, err := a.direct()
	if err != nil {
		return err
	}

	c := cache.New(a.store)
	if _, err := c.Load(ctx); err != nil {
		return err
	}

	mcpConfig := mcp.Config{
		Name:       a.cfg.MCP.Name,
		Version:    a.cfg.MCP.Version,
		Settings:   a.settingsSource(),
		Classifier: direct,
		Cache:      c,
	}
	archive, err := a.archive(ctx)
	if err != nil {
		return err
	}
	if archive != nil {
		mcpConfig.Archive = archive
	}

	server, err := mcp.NewServer(mcpConfig)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Starting MCP server...")

	return server.ServeStdio()
}
