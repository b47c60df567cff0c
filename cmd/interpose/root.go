package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/interpose/pkg/ca"
	"mercator-hq/interpose/pkg/cli"
	"mercator-hq/interpose/pkg/config"
	"mercator-hq/interpose/pkg/inventory"
	"mercator-hq/interpose/pkg/inventory/storage"
	"mercator-hq/interpose/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile      string
	outputFormat string

	// logLevel controls the process logger; a configuration reload
	// changes it in place
	logLevel = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:   "interpose",
	Short: "Interpose - TLS-intercepting CONNECT proxy",
	Long: `Interpose is a forward proxy that accepts HTTP CONNECT tunnels and
terminates the client's TLS session with a certificate minted on the fly
for the requested domain, signed by a local root CA.

It provides:
  - Per-domain leaf certificates issued once and cached
  - Bypass mode and per-domain bypass lists for pinned clients
  - An inventory of issued certificates and tunnel history
  - An admin server with health, metrics and the root CA download`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, cli.Describe(err))
		return cli.ExitCode(err)
	}
	return cli.ExitOK
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "interpose.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, json, csv")
}

// loadConfig reads the configuration named by --config. A missing file
// yields the defaults.
func loadConfig() (*config.Config, error) {
	return config.LoadConfigOrDefaults(cfgFile)
}

// newLogger builds the process logger from cfg and installs it as the
// slog default.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	lc := logging.FromConfig(cfg.Telemetry.Logging)
	lc.LevelVar = logLevel
	logger, err := logging.New(lc)
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)
	return logger, nil
}

// loadRoot loads the persisted root CA, generating it on first use.
func loadRoot(cfg *config.Config, logger *slog.Logger) (*ca.RootCA, error) {
	store := ca.NewFileStore(cfg.CA.CertFile, cfg.CA.KeyFile)
	root, err := ca.LoadOrCreate(store, cfg.CA.CommonName, cfg.CA.ValidityYears, ca.Options{
		Organization: cfg.CA.Organization,
		OnCorrupt:    ca.CorruptPolicy(cfg.CA.OnCorrupt),
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("load root CA: %w", err)
	}
	return root, nil
}

// openInventory opens the configured inventory backend for the read-only
// commands. Callers close it.
func openInventory(cfg *config.Config, logger *slog.Logger) (inventory.Storage, error) {
	if !cfg.Inventory.Enabled {
		return nil, cli.NewConfigError("inventory.enabled", "inventory is disabled")
	}
	store, err := storage.New(cfg.Inventory, logger)
	if err != nil {
		return nil, fmt.Errorf("open inventory: %w", err)
	}
	return store, nil
}

// render writes table to the command's stdout in the --output format.
func render(cmd *cobra.Command, table *cli.Table) error {
	format, err := cli.ParseOutputFormat(outputFormat)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), table)
}
