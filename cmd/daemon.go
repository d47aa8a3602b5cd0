package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/warden/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the Warden daemon in the foreground",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return daemon.Run(ctx, daemon.Options{
			ConfigPath: resolveConfigPath(),
			Version:    Version,
		})
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
