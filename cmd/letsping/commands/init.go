package commands

import (
	"fmt"
	"os"

	"github.com/MEKXH/letsping/internal/config"
	"github.com/spf13/cobra"
)

func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize LetsPing configuration",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath()

	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := config.DefaultConfig()
	if err := config.SaveTo(cfg, path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("LetsPing initialized!\n")
	fmt.Printf("Config: %s\n", path)
	fmt.Printf("Audit log: %s\n", cfg.AuditPath())
	fmt.Printf("\nNext steps:\n")
	fmt.Printf("1. Set %s, %s and %s (or edit %s)\n", config.EnvSecret, config.EnvSupabaseURL, config.EnvSupabaseAnon, path)
	fmt.Printf("2. Run 'letsping ask --tool <name> --args '<json>' --reason <why>' to request approval\n")
	fmt.Printf("3. Run 'letsping serve' to expose the approval gateway over HTTP\n")

	return nil
}
