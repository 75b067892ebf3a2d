package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mfenderov/feedfilter/internal/cache"
	"github.com/mfenderov/feedfilter/internal/settings"
	"github.com/mfenderov/feedfilter/pkg/models"
	"github.com/spf13/cobra"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Show or edit the topic selection",
	Long: `Show the selected topics, or change them with a subcommand.

Topics are lowercase letters, digits and hyphens. At most 20 can be selected.
Adding a topic invalidates cached classifications; removing one does not.

Examples:
  feedfilter topics
  feedfilter topics add crypto,sports
  feedfilter topics remove politics
  feedfilter topics reset`,
	Args: cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		topics, err := a.settings.Topics(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Topics (%d/%d): %s\n", len(topics), settings.MaxTopics, strings.Join(topics, ", "))
		return nil
	}),
}

var topicsAddCmd = &cobra.Command{
	Use:   "add <topic[,topic...]>",
	Short: "Add topics to the selection",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		result, err := a.settings.AddTopics(ctx, strings.Join(args, ","))
		if errors.Is(err, settings.ErrTopicLimit) {
			return fmt.Errorf("maximum %d topics allowed", settings.MaxTopics)
		}
		if err != nil {
			return err
		}
		if result.Requested == 0 {
			return fmt.Errorf("no valid topics in %q", strings.Join(args, " "))
		}
		if len(result.Added) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing new to add.")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added: %s\n", strings.Join(result.Added, ", "))
		if err := invalidateCache(ctx, cmd, a); err != nil {
			return err
		}
		if result.Truncated {
			fmt.Fprintf(cmd.OutOrStdout(), "Only %d added, the limit is %d topics.\n", len(result.Added), settings.MaxTopics)
		}
		return nil
	}),
}

var topicsRemoveCmd = &cobra.Command{
	Use:   "remove <topic>",
	Short: "Remove a topic from the selection",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		return a.settings.RemoveTopic(ctx, args[0])
	}),
}

var topicsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the default topics",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		prev, err := a.settings.Topics(ctx)
		if err != nil {
			return err
		}
		if err := a.settings.RestoreDefaults(ctx); err != nil {
			return err
		}
		if len(models.Added(prev, settings.DefaultTopics())) > 0 {
			if err := invalidateCache(ctx, cmd, a); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Topics: %s\n", strings.Join(settings.DefaultTopics(), ", "))
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(topicsCmd)
	topicsCmd.AddCommand(topicsAddCmd, topicsRemoveCmd, topicsResetCmd)
}

// invalidateCache drops every cached classification.
func invalidateCache(ctx context.Context, cmd *cobra.Command, a *app) error {
	if err := cache.New(a.store).InvalidateAll(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Cached classifications cleared.")
	return nil
}

// withApp runs fn with the shared clients and a signal-aware context.
func withApp(fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, GetConfig())
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, cmd, a, args)
	}
}
