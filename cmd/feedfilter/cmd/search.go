package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mfenderov/feedfilter/internal/elasticsearch"
	"github.com/mfenderov/feedfilter/pkg/models"
	"github.com/spf13/cobra"
)

var (
	searchLimit  int
	searchTopic  string
	searchFormat string
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search archived classifications",
	Long: `Search posts archived in Elasticsearch (elasticsearch.enabled must be set).

Examples:
  # Newest posts classified as spam
  feedfilter search --topic spam

  # Full-text search
  feedfilter search "election" --limit 5

  # JSON output for scripting
  feedfilter search --topic politics --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: withApp(runSearch),
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "Maximum number of results")
	searchCmd.Flags().StringVar(&searchTopic, "topic", "", "Only posts classified under this topic")
	searchCmd.Flags().StringVar(&searchFormat, "format", "text", "Output format: text or json")
}

func runSearch(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
	archive, err := a.archive(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to Elasticsearch: %w", err)
	}
	if archive == nil {
		return fmt.Errorf("archive disabled - set elasticsearch.enabled")
	}

	q := elasticsearch.SearchQuery{Limit: searchLimit}
	if len(args) > 0 {
		q.Text = args[0]
	}
	if searchTopic != "" {
		q.Topics = []string{searchTopic}
	}

	records, err := archive.Search(ctx, q)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}

	if searchFormat == "json" {
		output, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(output))
		return nil
	}

	fmt.Fprintf(out, "Found %d results:\n\n", len(records))
	for i, r := range records {
		fmt.Fprintf(out, "─── Result %d ───\n", i+1)
		fmt.Fprintf(out, "ID:      %s\n", r.ID)
		fmt.Fprintf(out, "Topics:  %s\n", strings.Join(r.Topics, ", "))
		fmt.Fprintf(out, "When:    %s\n", r.ClassifiedAt.Format("2006-01-02 15:04"))

		fmt.Fprintf(out, "Text:\n%s\n\n", models.TruncateText(r.Text, models.MaxTextLength))
	}
	return nil
}
