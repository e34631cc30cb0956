package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/dualarb/types"
)

var executeCmd = &cobra.Command{
	Use:   "execute <pair>",
	Short: "Re-quote a pair and execute both legs if it clears the threshold",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newOneShotBot(cmd.Context())
		if err != nil {
			return err
		}
		defer b.Close()

		record, err := b.Detector().ExecuteArbitrage(cmd.Context(), args[0], types.ExecutionManual)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), record); err != nil {
			return err
		}
		if failed := record.FailedLegs(); len(failed) > 0 {
			for _, leg := range failed {
				fmt.Fprintln(cmd.ErrOrStderr(), leg.Error())
			}
			return fmt.Errorf("%d of 2 legs failed", len(failed))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(executeCmd)
}
