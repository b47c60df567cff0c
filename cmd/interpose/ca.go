package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/interpose/pkg/ca"
	"mercator-hq/interpose/pkg/cli"
	"mercator-hq/interpose/pkg/telemetry/logging"
)

var caCmd = &cobra.Command{
	Use:   "ca",
	Short: "Manage the root certificate authority",
	Long: `Manage the root CA that signs every minted leaf certificate.

Subcommands:
  init   - Generate the root CA if none is persisted
  info   - Display the persisted root CA
  export - Print the root certificate PEM for trust-store import

Examples:
  # Create the root CA before the first run
  interpose ca init

  # Show the root fingerprint as JSON
  interpose ca info -o json

  # Export the root certificate
  interpose ca export --out interpose-root.pem`,
}

var caExportFlags struct {
	out string
}

var caInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the root CA if none is persisted",
	Args:  cobra.NoArgs,
	RunE:  runCAInit,
}

var caInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Display the persisted root CA",
	Args:  cobra.NoArgs,
	RunE:  runCAInfo,
}

var caExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the root certificate PEM",
	Args:  cobra.NoArgs,
	RunE:  runCAExport,
}

func init() {
	rootCmd.AddCommand(caCmd)
	caCmd.AddCommand(caInitCmd, caInfoCmd, caExportCmd)

	caExportCmd.Flags().StringVar(&caExportFlags.out, "out", "", "write the PEM to this file instead of stdout")
}

func runCAInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	_, statErr := os.Stat(cfg.CA.CertFile)
	existed := statErr == nil

	root, err := loadRoot(cfg, logging.Discard())
	if err != nil {
		return cli.NewCommandError("ca init", err)
	}

	out := cmd.OutOrStdout()
	if existed {
		fmt.Fprintf(out, "Root CA already present at %s\n", cfg.CA.CertFile)
	} else {
		fmt.Fprintf(out, "✓ Root CA written to %s\n", cfg.CA.CertFile)
	}
	fmt.Fprintf(out, "  Subject:     %s\n", root.Subject())
	fmt.Fprintf(out, "  SHA-256:     %s\n", ca.Fingerprint(root.Certificate))
	fmt.Fprintf(out, "  Valid until: %s\n", root.Certificate.NotAfter.Format(time.RFC3339))
	return nil
}

func runCAInfo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(cfg.CA.CertFile)
	if err != nil {
		return cli.NewCommandError("ca info", fmt.Errorf("read root certificate: %w", err))
	}
	certs, err := ca.ParseCertificates(data)
	if err != nil {
		return cli.NewCommandError("ca info", err)
	}

	root := certs[0]
	info := ca.Describe(root)
	table := certificateTable(info)

	_, warning := ca.ExpiryWarning(root, cfg.Telemetry.Health.CAExpiryWarning)
	if err := ca.CheckValidity(root, time.Now()); err != nil {
		warning = err.Error()
	}
	if warning != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "⚠ %s\n", warning)
	}
	return render(cmd, table)
}

func runCAExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(cfg.CA.CertFile)
	if err != nil {
		return cli.NewCommandError("ca export", fmt.Errorf("read root certificate: %w", err))
	}
	if _, err := ca.ParseCertificates(data); err != nil {
		return cli.NewCommandError("ca export", err)
	}

	if caExportFlags.out == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(caExportFlags.out, data, 0o644); err != nil {
		return cli.NewCommandError("ca export", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "✓ Root certificate written to %s\n", caExportFlags.out)
	return nil
}

// certificateTable renders one certificate as field/value rows.
func certificateTable(info *ca.CertificateInfo) *cli.Table {
	rows := [][]string{
		{"Subject", info.Subject},
		{"Issuer", info.Issuer},
		{"Serial", info.SerialNumber},
		{"SHA-256", info.Fingerprint},
		{"Not Before", info.NotBefore.Format(time.RFC3339)},
		{"Not After", info.NotAfter.Format(time.RFC3339)},
		{"CA", fmt.Sprintf("%t", info.IsCA)},
		{"Signature", info.SignatureAlgorithm},
		{"Public Key", info.PublicKeyAlgorithm},
	}
	for _, name := range info.DNSNames {
		rows = append(rows, []string{"DNS Name", name})
	}
	return &cli.Table{
		Headers: []string{"FIELD", "VALUE"},
		Rows:    rows,
		Records: info,
	}
}
