package cmd

import (
	"context"
	"fmt"

	"github.com/mfenderov/feedfilter/internal/cache"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear cached classifications",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many posts have a cached classification",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		n, err := cache.New(a.store).Load(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cached classifications: %d\n", n)
		return nil
	}),
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget every cached classification",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		if err := a.settings.ClearClassifications(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Classification cache cleared.")
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
}
