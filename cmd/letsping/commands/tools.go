package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MEKXH/letsping/internal/audit"
	"github.com/MEKXH/letsping/internal/tools"
	"github.com/spf13/cobra"
)

// toolDescription is the printed form of one tool schema.
type toolDescription struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters,omitempty"`
}

func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the agent tool schemas",
		RunE:  runTools,
	}
	cmd.AddCommand(newToolsCallCmd())
	return cmd
}

func newToolsCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <tool> <arguments-json>",
		Short: "Invoke a tool the way an agent would",
		Example: `  letsping tools call letsping_ask '{"tool_name":"delete_db","args_json":"{\"db\":\"prod\"}","risk_reason":"drops production"}'`,
		Args:    cobra.ExactArgs(2),
		RunE:    runToolsCall,
	}
}

func newToolRegistry(asker tools.Asker) (*tools.Registry, error) {
	registry := tools.NewRegistry()
	askTool, err := tools.NewAskTool(asker)
	if err != nil {
		return nil, fmt.Errorf("create %s tool: %w", tools.AskToolName, err)
	}
	if err := registry.Register(askTool); err != nil {
		return nil, err
	}
	return registry, nil
}

func runTools(cmd *cobra.Command, args []string) error {
	registry, err := newToolRegistry(nil)
	if err != nil {
		return err
	}
	infos, err := registry.GetToolInfos(context.Background())
	if err != nil {
		return err
	}

	out := make([]toolDescription, 0, len(infos))
	for _, info := range infos {
		desc := toolDescription{Name: info.Name, Description: info.Desc}
		if info.ParamsOneOf != nil {
			params, err := info.ParamsOneOf.ToJSONSchema()
			if err != nil {
				return fmt.Errorf("tool %s schema: %w", info.Name, err)
			}
			desc.Parameters = params
		}
		out = append(out, desc)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runToolsCall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	gate, closeGate, err := newGate(cfg)
	if err != nil {
		return err
	}
	defer closeGate()

	registry, err := newToolRegistry(gate)
	if err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx := audit.WithCaller(parent, audit.Caller{Source: "tool"})
	result, err := registry.Execute(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), result)
	return nil
}
