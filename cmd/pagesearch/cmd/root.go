// Package cmd provides the CLI commands for pagesearch.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/pagesearch/internal/logging"
	"github.com/Aman-CERP/pagesearch/internal/profiling"
	"github.com/Aman-CERP/pagesearch/pkg/version"
)

// Global flags
var (
	configPath  string
	dataDirFlag string
	debugMode   bool
	profileOpts profiling.Options

	loggingCleanup func()
	profile        *profiling.Session
)

// NewRootCmd creates the root command for the pagesearch CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pagesearch",
		Short: "Semantic search over your browsing history",
		Long: `pagesearch indexes the pages you visit and answers natural-language
queries over them.

Each query runs vector search over page titles, summaries and passages
alongside keyword search, fuses the lists with Reciprocal Rank Fusion,
and favors pages you visited recently or often.

Everything is stored locally in the data directory (~/.pagesearch).`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("pagesearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.config/pagesearch/config.yaml)")
	cmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Data directory (overrides data_dir)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.pagesearch/logs/")

	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "cpu-profile", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "mem-profile", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "trace", "", "Write an execution trace to this file")
	for _, name := range []string{"cpu-profile", "mem-profile", "trace"} {
		_ = cmd.PersistentFlags().MarkHidden(name)
	}

	cmd.PersistentPreRunE = setup
	cmd.PersistentPostRunE = teardown

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newSavedCmd())
	cmd.AddCommand(newReconfigureCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newClearCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func setup(_ *cobra.Command, _ []string) error {
	if err := startLogging(); err != nil {
		return err
	}
	if profileOpts.Enabled() {
		s, err := profiling.Start(profileOpts)
		if err != nil {
			return err
		}
		profile = s
	}
	return nil
}

// teardown also runs from Execute so failed commands still flush their
// profiles.
func teardown(_ *cobra.Command, _ []string) error {
	var err error
	if profile != nil {
		err = profile.Stop()
		profile = nil
	}
	stopLogging()
	return err
}

// startLogging installs the default logger. The configured level is
// applied later, once the config has been loaded.
func startLogging() error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	if debugMode {
		slog.Info("debug_logging_enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}
	return nil
}

func stopLogging() {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context so long-running commands drain and save before exiting.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := NewRootCmd().ExecuteContext(ctx)
	return errors.Join(err, teardown(nil, nil))
}
