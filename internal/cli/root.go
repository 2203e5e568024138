// Package cli provides the command-line interface for colprofile.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/velocols/colprofile/internal/config"
	"github.com/velocols/colprofile/internal/logging"
	"github.com/velocols/colprofile/internal/pathutil"
	"github.com/velocols/colprofile/internal/version"
)

var (
	// Global flags
	cfgFile         string
	credentialsFile string
	logFile         string
	verbose         bool

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "colprofile",
		Short: "Regenerate elevation profiles of the col catalogue",
		Long: `colprofile ` + version.String() + `
Rebuilds the elevation profile and climb segments of every catalogued col
from a rate-limited elevation provider.

Configuration is read from, lowest priority first:
  1. Built-in defaults
  2. Credentials file (~/.config/colprofile/credentials)
  3. YAML config file (--config, COLPROFILE_CONFIG or ./colprofile.yaml)
  4. COLPROFILE_* environment variables`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogger()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&credentialsFile, "credentials", "", "Credentials file path (default ~/.config/colprofile/credentials)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file (rotated)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")

	rootCmd.Version = version.String()

	return rootCmd
}

// setupLogger builds the console logger, adding the rotating file when requested.
func setupLogger() error {
	path := logFile
	if path != "" {
		resolved, err := pathutil.ResolveAbsolutePath(path)
		if err != nil {
			return fmt.Errorf("invalid --log-file: %w", err)
		}
		if err := config.EnsureDirectory(filepath.Dir(resolved)); err != nil {
			return err
		}
		path = resolved
	}

	logger = logging.NewLogger(logging.Options{Console: true, Out: os.Stderr, File: path})
	if verbose {
		logging.SetGlobalLevel(zerolog.DebugLevel)
	}
	return nil
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Loop so repeated Ctrl+C does not kill the process mid-cleanup
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived signal %v, finishing in-flight cols...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newRegenerateCmd())
	rootCmd.AddCommand(newRestoreCmd())
	rootCmd.AddCommand(newBackupsCmd())
	rootCmd.AddCommand(newCatalogueCmd())
	rootCmd.AddCommand(newConfigCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context, cancelled on Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

// loadConfig reads the layered configuration selected by the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile:      cfgFile,
		CredentialsFile: credentialsFile,
	})
	if err != nil {
		return nil, err
	}
	if logFile == "" && cfg.Log.File != "" {
		logFile = cfg.Log.File
		if logger != nil {
			_ = logger.Close()
		}
		if err := setupLogger(); err != nil {
			return nil, err
		}
	}
	if cfg.Log.Verbose && !verbose {
		logging.SetGlobalLevel(zerolog.DebugLevel)
	}
	return cfg, nil
}
