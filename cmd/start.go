package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/dualarb/utils"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the scan scheduler and HTTP API until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()
		ctx := cmd.Context()

		b, err := newBot(ctx)
		if err != nil {
			return err
		}
		if err := b.Start(); err != nil {
			b.Close()
			return err
		}

		<-ctx.Done()
		log.Info("Shutting down gracefully...", zap.Error(ctx.Err()))
		b.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
