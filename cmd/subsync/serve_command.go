package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"subsync/internal/daemon"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the subsync daemon in the foreground",
		Long: `Serve starts the daemon: the HTTP API, the generation pipeline, and the
shared result cache. It runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(ctx, cmd)
		},
	}
}

func runServe(cctx *commandContext, cmd *cobra.Command) error {
	cfg, err := cctx.ensureConfig()
	if err != nil {
		return err
	}
	logger := cctx.ensureLogger()

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "subsync daemon listening on %s\n", d.Addr())

	<-ctx.Done()
	d.Stop()
	return nil
}
