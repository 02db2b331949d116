package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MEKXH/letsping/internal/approval"
	"github.com/MEKXH/letsping/internal/audit"
	"github.com/MEKXH/letsping/internal/config"
	"github.com/MEKXH/letsping/internal/payload"
	"github.com/MEKXH/letsping/internal/realtime"
)

type gateAsker interface {
	Ask(ctx context.Context, in approval.AskInput) (*approval.Result, error)
}

// buildGate assembles the submitter, realtime waiter and optional audit
// trail from cfg. The returned func releases the realtime connection.
func buildGate(cfg *config.Config) (*approval.Gate, func(), error) {
	if err := cfg.RequireCredentials(); err != nil {
		return nil, nil, err
	}

	submitter, err := approval.NewSubmitter(cfg.Service.APIURL, cfg.Service.AskPath, cfg.Service.Secret, cfg.RequestTimeout())
	if err != nil {
		return nil, nil, fmt.Errorf("configure letsping api: %w", err)
	}

	client, err := realtime.NewClient(cfg.Realtime.URL, cfg.Realtime.AnonKey, realtime.Options{
		EventsPerSecond:   cfg.Realtime.EventsPerSecond,
		HeartbeatInterval: cfg.HeartbeatInterval(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("configure realtime: %w", err)
	}

	cipher := payload.NewCipher(cfg.Service.Secret)
	feed := approval.NewRealtimeFeed(client, cfg.Realtime.Schema, cfg.Realtime.Table)
	waiter := approval.NewWaiter(feed, cipher, cfg.DecisionTimeout(), cfg.ConnectTimeout())

	var opts []approval.Option
	if cfg.Approval.EncryptPayload {
		opts = append(opts, approval.WithEncrypter(cipher))
	}
	if cfg.Audit.Enabled {
		opts = append(opts, approval.WithRecorder(audit.NewWriter(cfg.AuditPath())))
	}

	slog.Debug("approval gate configured",
		"endpoint", submitter.Endpoint(),
		"encrypt", cfg.Approval.EncryptPayload,
		"audit", cfg.Audit.Enabled,
		"timeout", cfg.DecisionTimeout())

	closer := func() {
		if err := client.Close(); err != nil {
			slog.Debug("close realtime client", "error", err)
		}
	}
	return approval.NewGate(submitter, waiter, opts...), closer, nil
}

// newGate is replaced in tests.
var newGate = func(cfg *config.Config) (gateAsker, func(), error) {
	gate, closer, err := buildGate(cfg)
	if err != nil {
		return nil, nil, err
	}
	return gate, closer, nil
}
