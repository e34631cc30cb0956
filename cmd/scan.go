package cmd

import (
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan <pair>",
	Short: "Quote a pair on both chains and print the opportunity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newOneShotBot(cmd.Context())
		if err != nil {
			return err
		}
		defer b.Close()

		opp, err := b.Detector().Scan(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), opp)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
