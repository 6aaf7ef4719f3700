// Package cli implements the happycache command tree.
package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hashbrowncipher/happycache/internal/config"
	"github.com/hashbrowncipher/happycache/internal/logging"
)

var Version = "dev"

var verboseFlag bool

// NewRootCmd builds the happycache command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "happycache",
		Short:   "Dump and restore page-cache residency",
		Long:    "happycache — capture which file pages the kernel holds in its page cache, and warm them back in after a reboot.",
		Version: Version,

		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logConfig := logging.DefaultConfig()
			if verboseFlag {
				logConfig.Level = logging.LevelDebug
			}
			logging.SetDefault(logging.NewLogger(logConfig))
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug output")

	rootCmd.AddCommand(newDumpCmd())
	rootCmd.AddCommand(newLoadCmd())
	return rootCmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		logging.Error(err.Error())
		return 1
	}
	return 0
}

func loadSettings() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logging.Warn("ignoring settings file", "error", err)
		return config.Default()
	}
	return cfg
}
