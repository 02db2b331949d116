package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MEKXH/letsping/internal/approval"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	waitTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#8E4EC6"))
	waitToolStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA"))
	waitDimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
	waitKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8E4EC6")).
			Bold(true)
)

type askDoneMsg struct {
	res *approval.Result
	err error
}

// askModel shows a spinner while a reviewer decides.
type askModel struct {
	spinner   spinner.Model
	input     approval.AskInput
	timeout   time.Duration
	started   time.Time
	now       func() time.Time
	cancel    context.CancelFunc
	ask       func() askDoneMsg
	canceling bool
	done      bool
	res       *approval.Result
	err       error
}

func newAskModel(in approval.AskInput, timeout time.Duration, cancel context.CancelFunc, ask func() askDoneMsg) askModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = waitTitleStyle
	return askModel{
		spinner: s,
		input:   in,
		timeout: timeout,
		started: time.Now(),
		now:     time.Now,
		cancel:  cancel,
		ask:     ask,
	}
}

func (m askModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitCmd())
}

func (m askModel) waitCmd() tea.Cmd {
	if m.ask == nil {
		return nil
	}
	return func() tea.Msg { return m.ask() }
}

func (m askModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			if !m.canceling && m.cancel != nil {
				m.cancel()
			}
			m.canceling = true
		}
		return m, nil
	case askDoneMsg:
		m.done = true
		m.res = msg.res
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m askModel) View() string {
	if m.done {
		return ""
	}

	var b strings.Builder
	status := "Waiting for a reviewer to decide on"
	if m.canceling {
		status = "Canceling request for"
	}
	fmt.Fprintf(&b, "%s %s %s\n", m.spinner.View(), waitTitleStyle.Render(status), waitToolStyle.Render(m.input.ToolName))
	if reason := strings.TrimSpace(m.input.RiskReason); reason != "" {
		fmt.Fprintf(&b, "  %s\n", waitDimStyle.Render("Risk: "+reason))
	}

	elapsed := m.now().Sub(m.started).Truncate(time.Second)
	line := fmt.Sprintf("Elapsed %s", elapsed)
	if m.timeout > 0 {
		line += fmt.Sprintf(" of %s", m.timeout)
	}
	fmt.Fprintf(&b, "  %s\n\n", waitDimStyle.Render(line))
	fmt.Fprintf(&b, "  %s %s\n", waitKeyStyle.Render("Esc"), waitDimStyle.Render("Cancel"))
	return b.String()
}

// runAskTUI runs gate.Ask behind the waiting screen. Canceling from the
// keyboard cancels ctx, which abandons the wait.
func runAskTUI(ctx context.Context, cancel context.CancelFunc, gate gateAsker, in approval.AskInput, timeout time.Duration) (*approval.Result, error) {
	m := newAskModel(in, timeout, cancel, func() askDoneMsg {
		res, err := gate.Ask(ctx, in)
		return askDoneMsg{res: res, err: err}
	})

	final, err := tea.NewProgram(m).Run()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("run waiting screen: %w", err)
	}
	fm, ok := final.(askModel)
	if !ok || !fm.done {
		cancel()
		return nil, context.Canceled
	}
	return fm.res, fm.err
}
