package cmd

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/warden/internal/config"
	"github.com/nextlevelbuilder/warden/internal/vault"
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage encrypted credentials in the config vault",
}

var credentialSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Encrypt a credential and store it under <name>",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		path := resolveConfigPath()
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		stateDir := config.StateDir(cfg)
		if err := os.MkdirAll(stateDir, 0700); err != nil {
			return err
		}
		v, err := vault.Open(stateDir)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "value for %q (input hidden is not supported; paste and press enter): ", args[0])
		reader := bufio.NewReader(os.Stdin)
		value, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		value = strings.TrimRight(value, "\r\n")
		if value == "" {
			return fmt.Errorf("empty value")
		}

		cred, err := v.Encrypt(value)
		if err != nil {
			return err
		}
		if cfg.Credentials == nil {
			cfg.Credentials = make(map[string]config.EncryptedCredential)
		}
		cfg.Credentials[args[0]] = cred

		if err := config.Save(path, cfg); err != nil {
			return err
		}
		fmt.Printf("credential %q stored in %s\n", args[0], path)
		return nil
	},
}

var credentialListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credential names",
	RunE: func(*cobra.Command, []string) error {
		cfg, err := config.Load(resolveConfigPath())
		if err != nil {
			return err
		}
		names := make([]string, 0, len(cfg.Credentials))
		for name := range cfg.Credentials {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

func init() {
	credentialCmd.AddCommand(credentialSetCmd, credentialListCmd)
	rootCmd.AddCommand(credentialCmd)
}
