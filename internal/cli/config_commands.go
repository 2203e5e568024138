package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/velocols/colprofile/internal/config"
	"github.com/velocols/colprofile/internal/elevation"
	"github.com/velocols/colprofile/internal/metrics"
	"github.com/velocols/colprofile/internal/models"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage colprofile configuration",
		Long: `Configuration management commands for colprofile.

Commands:
  show             - Display the effective configuration
  path             - Show where configuration is read from
  set-credentials  - Save the elevation provider API key
  test             - Test the elevation provider connection`,
	}

	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigPathCmd())
	configCmd.AddCommand(newConfigSetCredentialsCmd())
	configCmd.AddCommand(newConfigTestCmd())

	return configCmd
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the configuration after defaults, the credentials file, the
config file and environment variables are merged. Secrets are masked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			redacted := cfg.Redacted()

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), redacted)
			}
			data, err := config.MarshalYAML(redacted)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print as JSON instead of YAML")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			printConfigPaths(cmd.OutOrStdout())
			return nil
		},
	}
}

// printConfigPaths lists the searched config files and marks those that exist.
func printConfigPaths(w io.Writer) {
	fmt.Fprintln(w, "Config file search order:")
	if env := os.Getenv(config.ConfigPathEnvVar); env != "" {
		fmt.Fprintf(w, "  %s %s (%s)\n", existsMark(env), env, config.ConfigPathEnvVar)
	}
	for _, p := range config.DefaultConfigPaths() {
		fmt.Fprintf(w, "  %s %s\n", existsMark(p), p)
	}

	creds := credentialsFile
	if creds == "" {
		creds = config.DefaultCredentialsPath()
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Credentials:  %s %s\n", existsMark(creds), creds)
	fmt.Fprintf(w, "Data:         %s\n", config.DataDirectory())
	fmt.Fprintf(w, "Logs:         %s\n", config.LogDirectory())
}

func existsMark(path string) string {
	if _, err := os.Stat(path); err == nil {
		return "✓"
	}
	return "-"
}

func newConfigSetCredentialsCmd() *cobra.Command {
	var baseURL, apiKey string

	cmd := &cobra.Command{
		Use:   "set-credentials",
		Short: "Save the elevation provider API key",
		Long: `Write the elevation provider credentials file
(~/.config/colprofile/credentials unless --credentials is given).

The API key is prompted for without echo when --api-key is not set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewReader(cmd.InOrStdin())
			out := cmd.OutOrStdout()

			path := credentialsFile
			if path == "" {
				path = config.DefaultCredentialsPath()
			}
			existing, err := config.LoadCredentials(path)
			if err != nil {
				return err
			}

			creds := &config.Credentials{BaseURL: baseURL, APIKey: apiKey}
			if creds.BaseURL == "" && !cmd.Flags().Changed("base-url") {
				def := existing.BaseURL
				if def == "" {
					def = config.DefaultProviderURL
				}
				if creds.BaseURL, err = promptLine(in, out, "Provider base URL", def); err != nil {
					return err
				}
			}
			if creds.APIKey == "" {
				if creds.APIKey, err = promptSecret(in, out, "API key"); err != nil {
					return err
				}
			}

			if err := config.SaveCredentials(creds, path); err != nil {
				return err
			}
			GetLogger().Info().Str("path", path).Msg("Credentials saved")
			fmt.Fprintf(out, "✓ Credentials saved to %s (key %s)\n", path, creds.Redacted())
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "Elevation provider base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Elevation provider API key")
	return cmd
}

// samplePath is a short stretch of the Galibier north ramp.
var samplePath = []models.Coordinate{
	{Lat: 45.0640, Lng: 6.4078},
	{Lat: 45.0586, Lng: 6.4050},
}

func newConfigTestCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Test the elevation provider connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := GetLogger()

			httpClient, err := newHTTPClient(cfg, logger)
			if err != nil {
				return err
			}
			provider, err := newProvider(cfg, httpClient, logger, metrics.NewRecorder())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(GetContext(), timeout)
			defer cancel()

			fmt.Fprintf(cmd.OutOrStdout(), "Testing %s...\n", cfg.Elevation.BaseURL)
			start := time.Now()
			res, err := provider.FetchProfile(ctx, elevation.Request{Path: samplePath})
			if err != nil {
				return fmt.Errorf("provider test failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %d samples in %s, %.0f-%.0f m\n",
				len(res.Points), time.Since(start).Round(time.Millisecond), res.MinElevation, res.MaxElevation)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up after this long")
	return cmd
}
