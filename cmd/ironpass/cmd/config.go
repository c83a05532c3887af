package cmd

import (
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/jmcleod/ironpass/internal/config"
	"github.com/jmcleod/ironpass/mirror/github"
)

var remoteBranch string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and change the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
	},
}

var configRemoteCmd = &cobra.Command{
	Use:   "remote url",
	Short: "Set the git host the store is mirrored to",
	Args:  requireArgs(1, "url"),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, _, err := github.ParseRepoURL(args[0]); err != nil {
			return err
		}
		cfg.Remote.URL = args[0]
		if remoteBranch != "" {
			cfg.Remote.Branch = remoteBranch
		}
		path := configPath()
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		printSuccess(cmd, "Remote set to %s (branch %s) in %s", cfg.Remote.URL, cfg.Remote.Branch, path)
		return nil
	},
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return filepath.Join(cfg.DataDir, config.FileName)
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configRemoteCmd)
	configRemoteCmd.Flags().StringVar(&remoteBranch, "branch", "", "branch to mirror")
}
