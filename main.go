package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/michaelpento.lv/dualarb/cmd"
	"github.com/michaelpento.lv/dualarb/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	utils.CleanupLogger()
	if err != nil {
		os.Exit(1)
	}
}
