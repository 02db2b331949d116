package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MEKXH/letsping/internal/gateway"
	"github.com/spf13/cobra"
)

func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP approval gateway",
		Long: `Serve exposes POST /ask so agents in other processes can request human
approval over HTTP, plus /health, /version and /metrics.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	gate, closeGate, err := newGate(cfg)
	if err != nil {
		return err
	}
	defer closeGate()

	if strings.TrimSpace(cfg.Gateway.Token) == "" && !isLoopbackHost(cfg.Gateway.Host) {
		slog.Warn("gateway has no bearer token and listens beyond loopback", "host", cfg.Gateway.Host)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	server := gateway.New(cfg.Gateway, gate)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway server failed: %w", err)
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "LetsPing gateway listening on http://%s\n", server.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		slog.Error("gateway stopped", "error", runErr)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("gateway shutdown failed", "error", err)
	}
	slog.Info("gateway stopped")
	return runErr
}

func isLoopbackHost(host string) bool {
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
