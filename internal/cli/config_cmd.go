package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/raveheart1/specflow/internal/config"
	"github.com/raveheart1/specflow/internal/output"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage specflow configuration",
	GroupID: "repository",
	Long: `Manage specflow configuration.

Configuration is loaded with the following priority (highest to lowest):
  1. Environment variables (SPECFLOW_*)
  2. Project config (.specflow/config.yml)
  3. User config (~/.config/specflow/config.yml)
  4. Built-in defaults`,
	Example: `  # Scaffold a commented project config
  specflow config init

  # Print the effective merged configuration
  specflow config show`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented .specflow/config.yml template",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		path := config.ProjectConfigPath()

		if _, err := os.Stat(path); err == nil && !force {
			return fail(fmt.Errorf("%s already exists (use --force to overwrite)", path))
		}
		if err := os.MkdirAll(config.ProjectConfigDir(), 0o755); err != nil {
			return fail(err)
		}
		if err := os.WriteFile(path, []byte(config.DefaultConfigTemplate()), 0o644); err != nil {
			return fail(err)
		}
		output.PrintSuccess(os.Stdout, "Wrote "+path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective merged configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fail(err)
		}

		if jsonRequested(cmd) {
			return printJSON(cfg, ExitSuccess)
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fail(err)
		}
		fmt.Fprint(os.Stdout, string(data))
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
