package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/pagesearch/configs"
	"github.com/Aman-CERP/pagesearch/internal/config"
	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
	"github.com/Aman-CERP/pagesearch/internal/output"
)

const maskedSecret = "********"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage user configuration",
		Long: `Manage the user configuration file.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/pagesearch/config.yaml)
  3. --config file
  4. .env in the working directory
  5. Environment variables (PAGESEARCH_*)`,
		Example: `  # Create user config from template
  pagesearch config init

  # Show effective configuration
  pagesearch config show

  # Print user config file path
  pagesearch config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create user configuration file",
		Long: `Create the user configuration file from the commented template.

The file is created at ~/.config/pagesearch/config.yaml (or
$XDG_CONFIG_HOME/pagesearch/config.yaml if XDG_CONFIG_HOME is set).
With --force an existing file is backed up and replaced.`,
		Example: `  pagesearch config init
  pagesearch config init --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Back up and overwrite an existing configuration")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the effective configuration after merging all sources. The API
key is never printed.`,
		Example: `  pagesearch config show
  pagesearch config show --json
  pagesearch config show --source defaults`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, defaults")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())
	path := config.GetUserConfigPath()

	if config.UserConfigExists() {
		if !force {
			out.Warning("User configuration already exists")
			out.Statusf("📁", "Location: %s", path)
			out.Status("💡", "Use --force to back it up and start from the template")
			return nil
		}
		backup, err := config.BackupFile(path)
		if err != nil {
			return err
		}
		out.Statusf("💾", "Backup: %s", backup)
	}

	if err := os.MkdirAll(config.GetUserConfigDir(), 0755); err != nil {
		return apperr.ConfigError("create config directory", err)
	}
	if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0600); err != nil {
		return apperr.ConfigError(fmt.Sprintf("write config file %s", path), err)
	}

	out.Success("Created user configuration")
	out.Statusf("📁", "Location: %s", path)
	out.Newline()
	out.Status("📋", "Next steps:")
	out.Status("", "  1. Pick an embedding provider and model")
	out.Status("", "  2. Run 'pagesearch config show' to verify")
	return nil
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool, source string) error {
	var (
		cfg *config.Config
		err error
	)
	switch source {
	case "merged":
		cfg, err = loadWithOverrides(configPath)
		if err != nil {
			return err
		}
	case "defaults":
		cfg = config.NewConfig()
	default:
		return apperr.New(apperr.ErrCodeInvalidArgument, fmt.Sprintf("invalid source %q", source), nil).
			WithSuggestion("use --source merged or --source defaults")
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}

	shown := *cfg
	if shown.Embeddings.APIKey != "" {
		shown.Embeddings.APIKey = maskedSecret
	}
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return apperr.InternalError("marshal config", err)
	}
	output.New(cmd.OutOrStdout()).Statusf("📋", "Configuration source: %s", source)
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
