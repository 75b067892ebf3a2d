package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Turn filtering on",
	Args:  cobra.NoArgs,
	RunE:  setEnabled(true),
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Turn filtering off; posts are shown and no classification runs",
	Args:  cobra.NoArgs,
	RunE:  setEnabled(false),
}

func init() {
	rootCmd.AddCommand(enableCmd, disableCmd)
}

func setEnabled(enabled bool) func(*cobra.Command, []string) error {
	return withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		if err := a.settings.SetEnabled(ctx, enabled); err != nil {
			return err
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Filtering %s.\n", state)
		return nil
	})
}
