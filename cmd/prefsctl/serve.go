package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CreativeUnicorns/prefstore/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the prefstore HTTP API.

Declared preferences are served under /api/v1/preferences, including a
Server-Sent Events change stream per key. The server runs until interrupted
(Ctrl+C) or it receives SIGTERM.

Example:
  prefsctl serve -c prefs.yaml
  prefsctl serve -c prefs.yaml --listen-addr 127.0.0.1:9000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen-addr", "", "HTTP listen address; overrides server.listen_addr")
}

func runServe(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	addr := cfg.Server.ListenAddr
	if flagAddr, _ := cmd.Flags().GetString("listen-addr"); flagAddr != "" {
		addr = flagAddr
	}

	srv, err := api.NewServer(api.Config{ListenAddress: addr, Store: store})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		store.Logger().Warn("Shutdown timed out", "timeout", cfg.Server.ShutdownTimeout.Duration().String(), "error", err)
	}
	return <-errChan
}
