package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MEKXH/letsping/internal/approval"
	"github.com/MEKXH/letsping/internal/audit"
	"github.com/MEKXH/letsping/internal/config"
	"github.com/MEKXH/letsping/internal/render"
	"github.com/spf13/cobra"
)

const codeMissingConfig = "missing_config"

type askOptions struct {
	tool    string
	args    string
	reason  string
	json    bool
	timeout time.Duration
}

// askOutput is the --json result. Exactly one of the payload fields or
// Error is set.
type askOutput struct {
	Status            approval.Status `json:"status,omitempty"`
	AuthorizedPayload json.RawMessage `json:"authorized_payload,omitempty"`
	Patched           bool            `json:"patched,omitempty"`
	RequestID         string          `json:"request_id,omitempty"`
	Error             string          `json:"error,omitempty"`
	Code              string          `json:"code,omitempty"`
}

func NewAskCmd() *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Ask a human to approve a tool call and wait for the decision",
		Long: `Ask sends the tool call to LetsPing and blocks until a reviewer decides.
On approval the authorized arguments are printed; they may differ from the
ones submitted if the reviewer edited them. Any other outcome exits non-zero
and the action must not be performed.`,
		Example: `  letsping ask --tool stripe_charge --args '{"amount":5000}' --reason "charges a customer"
  echo '{"table":"users"}' | letsping ask --tool drop_table --args - --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.tool, "tool", "", "Name of the tool being gated")
	cmd.Flags().StringVar(&opts.args, "args", "", "Tool arguments as a JSON object, or - to read stdin")
	cmd.Flags().StringVar(&opts.reason, "reason", "", "Why this action needs human approval")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the result as JSON")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Decision timeout (default from approval.timeout_seconds)")
	_ = cmd.MarkFlagRequired("tool")
	_ = cmd.MarkFlagRequired("args")

	return cmd
}

func runAsk(cmd *cobra.Command, opts *askOptions) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return failAsk(out, opts, err)
	}
	if opts.timeout > 0 {
		cfg.Approval.TimeoutSeconds = int(math.Ceil(opts.timeout.Seconds()))
	}

	argsJSON, err := readArgs(opts.args, cmd.InOrStdin())
	if err != nil {
		return failAsk(out, opts, err)
	}

	gate, closeGate, err := newGate(cfg)
	if err != nil {
		return failAsk(out, opts, err)
	}
	defer closeGate()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = audit.WithCaller(ctx, audit.Caller{Source: "cli"})

	in := approval.AskInput{
		ToolName:   opts.tool,
		ArgsJSON:   argsJSON,
		RiskReason: opts.reason,
	}

	var res *approval.Result
	if !opts.json && isTerminal(os.Stdout) {
		res, err = runAskTUI(ctx, cancel, gate, in, cfg.DecisionTimeout())
		renderer, rerr := render.NewRenderer(80)
		if rerr != nil {
			slog.Debug("markdown renderer unavailable", "error", rerr)
		}
		fmt.Fprint(out, render.Render(renderer, render.Decision{Tool: in.ToolName, RiskReason: in.RiskReason, Result: res, Err: err}))
		return err
	}

	res, err = gate.Ask(ctx, in)
	if opts.json {
		if werr := writeAskJSON(out, res, err); werr != nil {
			return werr
		}
		return err
	}
	fmt.Fprint(out, render.Markdown(render.Decision{Tool: in.ToolName, RiskReason: in.RiskReason, Result: res, Err: err}))
	return err
}

func failAsk(out io.Writer, opts *askOptions, err error) error {
	if opts.json {
		if werr := writeAskJSON(out, nil, err); werr != nil {
			return werr
		}
	}
	return err
}

func readArgs(value string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(value) != "-" {
		return value, nil
	}
	data, err := io.ReadAll(io.LimitReader(stdin, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read args from stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func writeAskJSON(w io.Writer, res *approval.Result, askErr error) error {
	var out askOutput
	if askErr != nil {
		out.Error = askErr.Error()
		out.Code = askErrorCode(askErr)
	} else if res != nil {
		out.Status = res.Status
		out.AuthorizedPayload = res.AuthorizedPayload
		out.Patched = res.Patched
		out.RequestID = res.RequestID
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func askErrorCode(err error) string {
	var missing *config.MissingConfigError
	if errors.As(err, &missing) {
		return codeMissingConfig
	}
	return approval.ErrorCode(err)
}
