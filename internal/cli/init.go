package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/burrowlabs/burrow/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Initialize a new Burrow project",
	Long: `Initialize a new Burrow project directory.

Creates:
  - burrow.yaml   Configuration file with defaults
  - data/         Data directory for actor databases`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite existing files")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	projectDir := "."
	if len(args) > 0 {
		projectDir = args[0]
	}

	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return fmt.Errorf("creating project directory: %w", err)
	}

	configPath := filepath.Join(projectDir, "burrow.yaml")
	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	cfg := config.Default()
	cfg.Database.Dir = "data"

	data, err := yaml.Marshal(configFileLayout(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", configPath, err)
	}

	if err := os.MkdirAll(filepath.Join(projectDir, "data"), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("Initialized Burrow project in %s\n", projectDir)
	fmt.Println("\nNext steps:")
	if projectDir != "." {
		fmt.Printf("  cd %s\n", projectDir)
	}
	fmt.Println("  burrow serve")
	return nil
}

// configFileLayout renders the config with yaml keys matching what the
// loader reads back (mapstructure tags use snake_case).
func configFileLayout(cfg *config.Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"host":          cfg.Server.Host,
			"port":          cfg.Server.Port,
			"read_timeout":  cfg.Server.ReadTimeout.String(),
			"write_timeout": cfg.Server.WriteTimeout.String(),
			"idle_timeout":  cfg.Server.IdleTimeout.String(),
		},
		"database": map[string]any{
			"dir":          cfg.Database.Dir,
			"wal_mode":     cfg.Database.WALMode,
			"busy_timeout": cfg.Database.BusyTimeout.String(),
		},
		"actors": map[string]any{
			"hang_threshold":     cfg.Actors.HangThreshold.String(),
			"max_attempts":       cfg.Actors.MaxAttempts,
			"poll_interval":      cfg.Actors.PollInterval.String(),
			"idle_ttl":           cfg.Actors.IdleTTL.String(),
			"heartbeat_interval": cfg.Actors.HeartbeatInterval.String(),
		},
		"auth": map[string]any{
			"enabled": cfg.Auth.Enabled,
		},
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
		},
		"metrics": map[string]any{
			"enabled": cfg.Metrics.Enabled,
			"path":    cfg.Metrics.Path,
		},
	}
}
