package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/interpose/pkg/ca"
	"mercator-hq/interpose/pkg/cli"
	"mercator-hq/interpose/pkg/inventory"
	"mercator-hq/interpose/pkg/inventory/recorder"
	"mercator-hq/interpose/pkg/issuer"
	"mercator-hq/interpose/pkg/telemetry/logging"
)

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Issue and inspect leaf certificates",
	Long: `Issue and inspect per-domain leaf certificates signed by the root CA.

Subcommands:
  issue    - Mint leaf certificates for one or more domains
  info     - Display certificate details
  validate - Check that a certificate chains to the root CA
  list     - List issued certificates from the inventory

Examples:
  # Mint certificates for two domains into ./certs
  interpose certs issue example.com api.example.com --out-dir certs

  # Check a minted certificate against the root
  interpose certs validate certs/example.com.pem --name example.com

  # List everything issued for a domain
  interpose certs list --domain example.com -o json`,
}

var certsIssueFlags struct {
	outDir string
	record bool
}

var certsValidateFlags struct {
	name string
}

var certsListFlags struct {
	domain string
	serial string
	since  time.Duration
	limit  int
}

var certsIssueCmd = &cobra.Command{
	Use:   "issue <domain>...",
	Short: "Mint leaf certificates for one or more domains",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCertsIssue,
}

var certsInfoCmd = &cobra.Command{
	Use:   "info <cert-file>",
	Short: "Display certificate details",
	Args:  cobra.ExactArgs(1),
	RunE:  runCertsInfo,
}

var certsValidateCmd = &cobra.Command{
	Use:   "validate <cert-file>",
	Short: "Check that a certificate chains to the root CA",
	Args:  cobra.ExactArgs(1),
	RunE:  runCertsValidate,
}

var certsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issued certificates from the inventory",
	Args:  cobra.NoArgs,
	RunE:  runCertsList,
}

func init() {
	rootCmd.AddCommand(certsCmd)
	certsCmd.AddCommand(certsIssueCmd, certsInfoCmd, certsValidateCmd, certsListCmd)

	certsIssueCmd.Flags().StringVar(&certsIssueFlags.outDir, "out-dir", ".", "directory for <domain>.pem and <domain>-key.pem")
	certsIssueCmd.Flags().BoolVar(&certsIssueFlags.record, "record", true, "record issued certificates in the inventory")

	certsValidateCmd.Flags().StringVar(&certsValidateFlags.name, "name", "", "server name to verify (defaults to the subject CN)")

	certsListCmd.Flags().StringVar(&certsListFlags.domain, "domain", "", "filter by domain")
	certsListCmd.Flags().StringVar(&certsListFlags.serial, "serial", "", "filter by serial number")
	certsListCmd.Flags().DurationVar(&certsListFlags.since, "since", 0, "only certificates issued within this duration")
	certsListCmd.Flags().IntVar(&certsListFlags.limit, "limit", 100, "maximum number of rows")
}

func runCertsIssue(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.Discard()

	root, err := loadRoot(cfg, logger)
	if err != nil {
		return cli.NewCommandError("certs issue", err)
	}
	if err := os.MkdirAll(certsIssueFlags.outDir, 0o755); err != nil {
		return cli.NewCommandError("certs issue", err)
	}

	var rec *recorder.Recorder
	if certsIssueFlags.record && cfg.Inventory.Enabled {
		store, err := openInventory(cfg, logger)
		if err != nil {
			return cli.NewCommandError("certs issue", err)
		}
		defer store.Close()
		rec = recorder.NewRecorder(store, &recorder.Config{
			AsyncBuffer:  len(args),
			WriteTimeout: cfg.Inventory.WriteTimeout,
		}, logger, nil)
		defer rec.Close()
	}

	authority := issuer.New(root, cfg.Issuer.ValidityDays)
	progress := cli.NewProgressReporter(cmd.ErrOrStderr())
	progress.Start(len(args))

	ctx := cmd.Context()
	failed := 0
	for _, domain := range args {
		err := issueOne(ctx, authority, rec, domain)
		if err != nil {
			failed++
		}
		progress.Step(domain, err)
	}
	progress.Finish()

	if rec != nil {
		if err := rec.Flush(ctx); err != nil {
			return cli.NewCommandError("certs issue", err)
		}
	}
	if failed > 0 {
		return cli.NewCommandError("certs issue", fmt.Errorf("%d of %d domains failed", failed, len(args)))
	}
	return nil
}

func issueOne(ctx context.Context, authority *issuer.Authority, rec *recorder.Recorder, domain string) error {
	cert, err := authority.Issue(ctx, domain)
	if err != nil {
		return err
	}

	base := filepath.Join(certsIssueFlags.outDir, fileSafe(cert.Domain))
	if err := os.WriteFile(base+".pem", cert.ChainPEM, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(base+"-key.pem", cert.PrivateKeyPEM, 0o600); err != nil {
		return err
	}
	if rec != nil {
		rec.CertificateIssued(ctx, cert)
	}
	return nil
}

// fileSafe maps a domain to a file name; the only character a normalized
// domain may carry that paths dislike is ':' in IPv6 literals.
func fileSafe(domain string) string {
	return strings.ReplaceAll(domain, ":", "_")
}

func runCertsInfo(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return cli.NewCommandError("certs info", fmt.Errorf("read certificate: %w", err))
	}
	certs, err := ca.ParseCertificates(data)
	if err != nil {
		return cli.NewCommandError("certs info", err)
	}
	return render(cmd, certificateTable(ca.Describe(certs[0])))
}

func runCertsValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return cli.NewCommandError("certs validate", fmt.Errorf("read certificate: %w", err))
	}
	certs, err := ca.ParseCertificates(data)
	if err != nil {
		return cli.NewCommandError("certs validate", err)
	}
	rootData, err := os.ReadFile(cfg.CA.CertFile)
	if err != nil {
		return cli.NewCommandError("certs validate", fmt.Errorf("read root certificate: %w", err))
	}
	roots, err := ca.ParseCertificates(rootData)
	if err != nil {
		return cli.NewCommandError("certs validate", err)
	}

	leaf := certs[0]
	name := certsValidateFlags.name
	if name == "" {
		name = leaf.Subject.CommonName
	}

	if err := ca.CheckValidity(leaf, time.Now()); err != nil {
		return cli.NewCommandError("certs validate", err)
	}
	if err := ca.VerifyLeaf(leaf, roots[0], name); err != nil {
		return cli.NewCommandError("certs validate", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ %s is valid for %s and chains to %s\n", args[0], name, roots[0].Subject.CommonName)
	if days, warning := ca.ExpiryWarning(leaf, cfg.Issuer.RenewBefore); warning != "" {
		fmt.Fprintf(out, "⚠ %s\n", warning)
	} else {
		fmt.Fprintf(out, "  Expires in %d days\n", days)
	}
	return nil
}

func runCertsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openInventory(cfg, logging.Discard())
	if err != nil {
		return err
	}
	defer store.Close()

	query := &inventory.CertificateQuery{
		Domain: certsListFlags.domain,
		Serial: certsListFlags.serial,
		Limit:  certsListFlags.limit,
	}
	if certsListFlags.since > 0 {
		query.IssuedAfter = time.Now().Add(-certsListFlags.since)
	}

	records, err := store.QueryCertificates(cmd.Context(), query)
	if err != nil {
		return cli.NewCommandError("certs list", err)
	}

	table := &cli.Table{
		Headers: []string{"DOMAIN", "SERIAL", "ISSUED", "NOT AFTER", "SHA-256"},
		Records: records,
	}
	for _, r := range records {
		table.Rows = append(table.Rows, []string{
			r.Domain,
			r.Serial,
			r.IssuedAt.Format(time.RFC3339),
			r.NotAfter.Format(time.RFC3339),
			r.Fingerprint,
		})
	}
	return render(cmd, table)
}
