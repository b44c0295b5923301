package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the knowledge tools over MCP on stdio",
		Long: `Serve the knowledge tools over MCP on stdio.

On SIGINT or SIGTERM the server stops reading requests and waits for running
tool calls, at most SHUTDOWN_TIMEOUT_MS.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	k, config, err := open()
	if err != nil {
		return err
	}
	defer k.Close()
	logger := k.Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() {
		done <- k.Server().Run(ctx, os.Stdin, os.Stdout)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down", "timeout_ms", config.ShutdownTimeout.Milliseconds())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	select {
	case err := <-done:
		logger.Info("Shutdown complete")
		return err
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timed out, abandoning running tool calls", "pool_in_flight", k.Pool.Stats().InFlight)
		return nil
	}
}
