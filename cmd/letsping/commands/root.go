package commands

import (
	"os"
	"strings"

	"github.com/MEKXH/letsping/internal/config"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	logLevelOverride string
	configPathFlag   string
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "letsping",
		Short: "LetsPing - human approval for agent tool calls",
		Long: `LetsPing pauses high-risk agent actions until a human reviewer approves,
rejects, or edits them. Approved arguments are returned to the caller.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" || cmd.Name() == "version" {
				return configureLogger(config.DefaultConfig(), logLevelOverride, false)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return configureLogger(cfg, logLevelOverride, tuiMode(cmd))
		},
	}

	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&configPathFlag, "config", "", "Config file (default ~/.letsping/config.json)")

	cmd.AddCommand(
		NewInitCmd(),
		NewAskCmd(),
		NewServeCmd(),
		NewToolsCmd(),
		NewVersionCmd(),
	)

	return cmd
}

func loadConfig() (*config.Config, error) {
	if path := strings.TrimSpace(configPathFlag); path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

func configPath() string {
	if path := strings.TrimSpace(configPathFlag); path != "" {
		return path
	}
	return config.ConfigPath()
}

// tuiMode reports whether cmd draws the interactive waiting screen.
func tuiMode(cmd *cobra.Command) bool {
	if cmd.Name() != "ask" {
		return false
	}
	if asJSON, err := cmd.Flags().GetBool("json"); err == nil && asJSON {
		return false
	}
	return isTerminal(os.Stdout)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
