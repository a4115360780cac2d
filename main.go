package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/cmd"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err != nil {
		os.Exit(1)
	}
}
