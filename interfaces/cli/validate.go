package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// newValidateCmd creates the validate command.
func (a *App) newValidateCmd() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long: `Validate a server configuration file for correctness.

This command checks:
  - File format (YAML or JSON)
  - Database engine and its connection settings
  - Deletion mode
  - Streaming and cache settings
  - System stream declarations
  - Environment variable references (in strict mode)

Examples:
  # Validate a configuration file
  eventstore validate -c config.yaml

  # Strict validation (fail on missing env vars)
  eventstore validate -c config.yaml --strict`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.validateConfig(strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Enable strict validation (fail on missing env vars)")

	return cmd
}

// validateConfig validates the configuration file and prints a summary.
func (a *App) validateConfig(strict bool) error {
	if a.configPath == "" {
		return errors.New("configuration file path is required (-c flag)")
	}

	cfg, err := a.loadConfig(strict)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Fprintf(a.stdout, "✓ Configuration is valid\n")
	if cfg.Name != "" {
		fmt.Fprintf(a.stdout, "  Name: %s\n", cfg.Name)
	}

	fmt.Fprintf(a.stdout, "\nConfiguration summary:\n")
	fmt.Fprintf(a.stdout, "  Engine: %s\n", cfg.Database.Engine)
	switch cfg.Database.Engine {
	case "mongodb":
		fmt.Fprintf(a.stdout, "  Database: %s\n", cfg.Database.MongoDB.Database)
	case "sqlite":
		fmt.Fprintf(a.stdout, "  Path: %s\n", cfg.Database.SQLite.Path)
	}
	fmt.Fprintf(a.stdout, "  Deletion mode: %s\n", cfg.Deletion.Mode)
	if cfg.Deletion.ForceKeepHistory {
		fmt.Fprintf(a.stdout, "  History: kept on every update\n")
	}
	fmt.Fprintf(a.stdout, "  Integrity: %t\n", cfg.Integrity.Enabled)
	fmt.Fprintf(a.stdout, "  Cache: %s\n", cfg.Cache.Backend)
	if cfg.Tracing.Enabled {
		fmt.Fprintf(a.stdout, "  Tracing: %s %s\n", cfg.Tracing.Exporter, cfg.Tracing.Endpoint)
	}

	if len(cfg.SystemStreams) > 0 {
		fmt.Fprintf(a.stdout, "  System streams: %d\n", len(cfg.SystemStreams))
		for _, s := range cfg.SystemStreams {
			suffix := ""
			if s.Unique {
				suffix = " (unique)"
			}
			fmt.Fprintf(a.stdout, "    - %s%s\n", s.Name, suffix)
		}
	}

	return nil
}
