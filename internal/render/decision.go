// Package render formats approval decisions as terminal markdown.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MEKXH/letsping/internal/approval"
	"github.com/charmbracelet/glamour"
)

// Renderer turns markdown into styled terminal output.
type Renderer interface {
	Render(string) (string, error)
}

// NewRenderer creates a glamour renderer wrapped at width columns.
func NewRenderer(width int) (Renderer, error) {
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, fmt.Errorf("create markdown renderer: %w", err)
	}
	return r, nil
}

// Decision is the result of one ask as shown to a person.
type Decision struct {
	Tool       string
	RiskReason string
	Result     *approval.Result
	Err        error
}

// Headline names the outcome in a few words.
func Headline(err error) string {
	if err == nil {
		return "Approved"
	}
	switch approval.ErrorCode(err) {
	case approval.CodeInvalidArgument:
		return "Invalid request"
	case approval.CodeDenied:
		return "Blocked by reviewer"
	case approval.CodeTimeout:
		return "No decision in time"
	case approval.CodeUpstreamError:
		return "LetsPing service error"
	case approval.CodeTransportError:
		return "Connection failed"
	case approval.CodeDecryptionFailed:
		return "Unreadable reviewer instructions"
	case approval.CodeCanceled:
		return "Canceled"
	default:
		return "Failed"
	}
}

// Markdown describes d as a markdown document.
func Markdown(d Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s: `%s`\n\n", Headline(d.Err), d.Tool)
	if reason := strings.TrimSpace(d.RiskReason); reason != "" {
		fmt.Fprintf(&b, "**Risk:** %s\n\n", reason)
	}

	if d.Err != nil {
		fmt.Fprintf(&b, "%s\n\n", d.Err.Error())
		b.WriteString("_Do not perform this action._\n")
		return b.String()
	}
	if d.Result == nil {
		return b.String()
	}

	if d.Result.RequestID != "" {
		fmt.Fprintf(&b, "**Request:** `%s`\n\n", d.Result.RequestID)
	}
	if d.Result.Patched {
		b.WriteString("The reviewer **modified** the arguments. Use these instead of the originals:\n\n")
	} else {
		b.WriteString("Authorized arguments:\n\n")
	}
	fmt.Fprintf(&b, "```json\n%s\n```\n", indentJSON(d.Result.AuthorizedPayload))
	return b.String()
}

// Render renders d with r, falling back to plain markdown.
func Render(r Renderer, d Decision) string {
	md := Markdown(d)
	if r == nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
