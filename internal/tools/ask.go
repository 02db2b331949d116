package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MEKXH/letsping/internal/approval"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

// AskToolName is the name agents call to request human approval.
const AskToolName = "letsping_ask"

// Asker requests authorization for one action.
type Asker interface {
	Ask(ctx context.Context, in approval.AskInput) (*approval.Result, error)
}

type AskInput struct {
	ToolName   string `json:"tool_name" jsonschema:"required,description=The name of the tool being gated (e.g. stripe_charge)"`
	ArgsJSON   string `json:"args_json" jsonschema:"required,description=The JSON string of arguments to be approved"`
	RiskReason string `json:"risk_reason" jsonschema:"required,description=Why this action requires human approval"`
}

type askToolImpl struct {
	asker Asker
}

func (t *askToolImpl) execute(ctx context.Context, input *AskInput) (string, error) {
	if t.asker == nil {
		return "", fmt.Errorf("approval gate is not configured")
	}
	res, err := t.asker.Ask(ctx, approval.AskInput{
		ToolName:   input.ToolName,
		ArgsJSON:   input.ArgsJSON,
		RiskReason: input.RiskReason,
	})
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("encode approval result: %w", err)
	}
	return string(out), nil
}

// NewAskTool creates the human approval tool. It blocks until a reviewer
// decides; any error means the gated action must not run.
func NewAskTool(asker Asker) (tool.InvokableTool, error) {
	impl := &askToolImpl{asker: asker}
	return utils.InferTool(
		AskToolName,
		"Request human approval (and optional hot-patching) for a high-risk action. Returns the authorized, possibly reviewer-modified, arguments to use instead of the originals.",
		impl.execute,
	)
}
