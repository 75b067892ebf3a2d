package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the classification API key",
}

var keySetCmd = &cobra.Command{
	Use:   "set <api-key>",
	Short: "Validate and store an API key",
	Long: `Validate an API key against the provider and store it. An invalid key
is stored as empty, which pauses classification until a valid key is set.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		valid, err := a.settings.SaveAPIKey(ctx, args[0])
		if err != nil {
			return err
		}
		if !valid {
			return fmt.Errorf("invalid API key")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "API key saved.")
		return nil
	}),
}

var keyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether an API key is configured",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		key, err := a.settings.APIKey(ctx)
		if err != nil {
			return err
		}
		switch {
		case a.cfg.LLM.APIKey != "":
			fmt.Fprintln(cmd.OutOrStdout(), "API key set by configuration.")
		case key != "":
			fmt.Fprintln(cmd.OutOrStdout(), "API key stored.")
		default:
			fmt.Fprintln(cmd.OutOrStdout(), "No API key. Run 'feedfilter key set <key>'.")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keySetCmd, keyStatusCmd)
}
