// Package cmd holds the warden CLI: the daemon itself plus the small
// client commands that talk to it over the local gateway.
package cmd

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/warden/internal/config"
)

// Version is stamped by the build.
var Version = "dev"

var (
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:     "warden",
	Short:   "Warden is a persistent local AI agent daemon",
	Version: Version,
	PersistentPreRun: func(*cobra.Command, []string) {
		level := slog.LevelInfo
		if flagVerbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the warden version",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Println("warden " + Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.warden/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(versionCmd)
}

// resolveConfigPath picks the config file: flag, then WARDEN_CONFIG,
// then the state directory default.
func resolveConfigPath() string {
	if flagConfig != "" {
		return config.ExpandHome(flagConfig)
	}
	if v := os.Getenv("WARDEN_CONFIG"); v != "" {
		return config.ExpandHome(v)
	}
	return filepath.Join(config.StateDir(nil), "config.json")
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
