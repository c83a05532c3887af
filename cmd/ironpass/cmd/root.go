package cmd

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironpass/internal/config"
)

// Version is set at build time.
var Version = "dev"

var (
	cfgFile     string
	dataDirFlag string
	verbose     bool

	cfg    config.Config
	logger *slog.Logger
	stdin  *bufio.Reader
)

var rootCmd = &cobra.Command{
	Use:   "ironpass",
	Short: "ironpass is an encrypted, git-mirrored password store",
	Long: `A hierarchical password store. Every password is encrypted to the keys of
its directory and the store is mirrored to a git host.
Complete documentation is available at https://github.com/jmcleod/ironpass`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printError(rootCmd, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default <data-dir>/config.toml)")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "directory for persistent data")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		dir := dataDirFlag
		if dir == "" {
			var err error
			if dir, err = config.DefaultDataDir(); err != nil {
				return err
			}
		}
		path = filepath.Join(dir, config.FileName)
	}

	c, err := config.Load(path)
	if err != nil {
		return err
	}
	if dataDirFlag != "" {
		c.DataDir = dataDirFlag
	}
	cfg = c

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	stdin = bufio.NewReader(cmd.InOrStdin())
	logger.Debug("configuration loaded", "path", path, "data_dir", cfg.DataDir)
	return nil
}

func requireArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("usage: %s %s", cmd.CommandPath(), usage)
		}
		return nil
	}
}
