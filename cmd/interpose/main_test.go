package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/interpose/pkg/ca"
	"mercator-hq/interpose/pkg/cli"
	"mercator-hq/interpose/pkg/config"
	"mercator-hq/interpose/pkg/inventory"
	"mercator-hq/interpose/pkg/inventory/storage"
	"mercator-hq/interpose/pkg/proxy"
	"mercator-hq/interpose/pkg/telemetry/logging"
)

// testEnv is a config file whose CA and inventory live in a temp dir.
type testEnv struct {
	dir        string
	configPath string
	certFile   string
	dbPath     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	env := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "interpose.yaml"),
		certFile:   filepath.Join(dir, "ca", "ca.pem"),
		dbPath:     filepath.Join(dir, "inventory.db"),
	}
	yaml := fmt.Sprintf(`proxy:
  listen_address: "127.0.0.1:0"
  shutdown_timeout: 2s
ca:
  cert_file: %q
  key_file: %q
  common_name: "Test Root"
inventory:
  backend: sqlite
  sqlite:
    path: %q
    driver: sqlite
admin:
  listen_address: "127.0.0.1:0"
telemetry:
  logging:
    level: error
`, env.certFile, filepath.Join(dir, "ca", "ca-key.pem"), env.dbPath)
	if err := os.WriteFile(env.configPath, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	return env
}

// execute runs the root command with args against env's config.
func (env *testEnv) execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err = rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func resetFlags() {
	cfgFile = "interpose.yaml"
	outputFormat = "text"
	runFlags = struct {
		listenAddress string
		mode          string
		logLevel      string
		dryRun        bool
	}{}
	caExportFlags.out = ""
	certsIssueFlags.outDir = "."
	certsIssueFlags.record = true
	certsValidateFlags.name = ""
	certsListFlags.domain = ""
	certsListFlags.serial = ""
	certsListFlags.since = 0
	certsListFlags.limit = 100
	tunnelsListFlags.domain = ""
	tunnelsListFlags.mode = ""
	tunnelsListFlags.outcome = ""
	tunnelsListFlags.since = 0
	tunnelsListFlags.limit = 100
	tunnelsListFlags.offset = 0
}

func TestVersionCommand(t *testing.T) {
	env := newTestEnv(t)
	out, _, err := env.execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	for _, want := range []string{"Interpose " + Version, "Git Commit: " + GitCommit, "Go Version:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string][]string{
		"run":     nil,
		"ca":      {"init", "info", "export"},
		"certs":   {"issue", "info", "validate", "list"},
		"tunnels": {"list"},
		"version": nil,
	}
	for name, subs := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
			continue
		}
		for _, sub := range subs {
			if c, _, err := rootCmd.Find([]string{name, sub}); err != nil || c.Name() != sub {
				t.Errorf("command %q %q not registered", name, sub)
			}
		}
	}
}

func TestRun_DryRun(t *testing.T) {
	env := newTestEnv(t)

	out, _, err := env.execute(t, "run", "--dry-run", "--mode", "bypass")
	if err != nil {
		t.Fatalf("run --dry-run: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(env.certFile); !os.IsNotExist(err) {
		t.Error("dry run must not create the root CA")
	}
}

func TestRun_InvalidOverride(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.execute(t, "run", "--dry-run", "--mode", "transparent")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if code := cli.ExitCode(err); code != cli.ExitConfig {
		t.Errorf("ExitCode = %d, want %d", code, cli.ExitConfig)
	}
	if !strings.Contains(cli.Describe(err), "proxy.mode") {
		t.Errorf("Describe = %q", cli.Describe(err))
	}
}

func TestCA_InitInfoExport(t *testing.T) {
	env := newTestEnv(t)

	out, _, err := env.execute(t, "ca", "init")
	if err != nil {
		t.Fatalf("ca init: %v", err)
	}
	if !strings.Contains(out, "Root CA written") {
		t.Errorf("first init output = %q", out)
	}
	written, err := os.ReadFile(env.certFile)
	if err != nil {
		t.Fatal(err)
	}

	out, _, err = env.execute(t, "ca", "init")
	if err != nil {
		t.Fatalf("second ca init: %v", err)
	}
	if !strings.Contains(out, "already present") {
		t.Errorf("second init output = %q", out)
	}
	again, _ := os.ReadFile(env.certFile)
	if !bytes.Equal(written, again) {
		t.Error("ca init overwrote an existing root")
	}

	out, _, err = env.execute(t, "ca", "export")
	if err != nil {
		t.Fatalf("ca export: %v", err)
	}
	if out != string(written) {
		t.Error("ca export output differs from the persisted PEM")
	}

	exported := filepath.Join(env.dir, "export.pem")
	if _, _, err := env.execute(t, "ca", "export", "--out", exported); err != nil {
		t.Fatalf("ca export --out: %v", err)
	}
	if data, _ := os.ReadFile(exported); !bytes.Equal(data, written) {
		t.Error("exported file differs from the persisted PEM")
	}

	out, _, err = env.execute(t, "ca", "info", "-o", "json")
	if err != nil {
		t.Fatalf("ca info: %v", err)
	}
	var info ca.CertificateInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("ca info JSON: %v\n%s", err, out)
	}
	if !info.IsCA || !strings.Contains(info.Subject, "Test Root") {
		t.Errorf("info = %+v", info)
	}
}

func TestCA_ExportWithoutRoot(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.execute(t, "ca", "export")
	if err == nil {
		t.Fatal("expected error without a persisted root")
	}
	if code := cli.ExitCode(err); code != cli.ExitFailure {
		t.Errorf("ExitCode = %d", code)
	}
}

func TestCerts_IssueValidateList(t *testing.T) {
	env := newTestEnv(t)
	outDir := filepath.Join(env.dir, "certs")

	_, stderr, err := env.execute(t, "certs", "issue", "example.com", "api.example.com", "--out-dir", outDir)
	if err != nil {
		t.Fatalf("certs issue: %v\n%s", err, stderr)
	}
	for _, name := range []string{"example.com.pem", "example.com-key.pem", "api.example.com.pem"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}

	leafPath := filepath.Join(outDir, "example.com.pem")
	out, _, err := env.execute(t, "certs", "validate", leafPath)
	if err != nil {
		t.Fatalf("certs validate: %v", err)
	}
	if !strings.Contains(out, "is valid for example.com") {
		t.Errorf("validate output = %q", out)
	}

	out, _, err = env.execute(t, "certs", "validate", leafPath, "--name", "sub.example.com")
	if err != nil {
		t.Fatalf("wildcard SAN should cover sub.example.com: %v", err)
	}

	if _, _, err := env.execute(t, "certs", "validate", leafPath, "--name", "other.org"); err == nil {
		t.Error("validate accepted a foreign name")
	}

	out, _, err = env.execute(t, "certs", "info", leafPath)
	if err != nil {
		t.Fatalf("certs info: %v", err)
	}
	if !strings.Contains(out, "*.example.com") {
		t.Errorf("info output missing wildcard SAN:\n%s", out)
	}

	out, _, err = env.execute(t, "certs", "list", "-o", "json")
	if err != nil {
		t.Fatalf("certs list: %v", err)
	}
	var records []inventory.CertificateRecord
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("certs list JSON: %v\n%s", err, out)
	}
	if len(records) != 2 {
		t.Fatalf("listed %d certificates, want 2", len(records))
	}

	out, _, err = env.execute(t, "certs", "list", "--domain", "api.example.com")
	if err != nil {
		t.Fatalf("certs list --domain: %v", err)
	}
	if !strings.Contains(out, "api.example.com") || strings.Count(out, "\n") != 2 {
		t.Errorf("filtered list:\n%s", out)
	}
}

func TestCerts_IssuePartialFailure(t *testing.T) {
	env := newTestEnv(t)

	_, stderr, err := env.execute(t, "certs", "issue", "good.example", "bad domain", "--out-dir", env.dir, "--record=false")
	if err == nil {
		t.Fatal("expected failure for an invalid domain")
	}
	if !strings.Contains(err.Error(), "1 of 2") {
		t.Errorf("err = %v", err)
	}
	if !strings.Contains(stderr, "bad domain") {
		t.Errorf("progress output = %q", stderr)
	}
	if _, err := os.Stat(filepath.Join(env.dir, "good.example.pem")); err != nil {
		t.Errorf("good domain not written: %v", err)
	}
}

func TestTunnels_List(t *testing.T) {
	env := newTestEnv(t)

	cfg, err := config.LoadConfig(env.configPath)
	if err != nil {
		t.Fatal(err)
	}
	store, err := storage.New(cfg.Inventory, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	for i, rec := range []*inventory.TunnelRecord{
		{ID: "t1", Domain: "a.example", Port: 443, Mode: "mitm", Outcome: inventory.OutcomeOK, StartedAt: now.Add(-2 * time.Hour)},
		{ID: "t2", Domain: "b.example", Port: 443, Mode: "bypass", Outcome: inventory.OutcomeError, Error: "dial refused", StartedAt: now.Add(-time.Minute)},
		{ID: "t3", Domain: "a.example", Port: 8443, Mode: "mitm", Outcome: inventory.OutcomeOK, StartedAt: now},
	} {
		rec.EndedAt = rec.StartedAt.Add(time.Duration(i+1) * time.Second)
		if err := store.StoreTunnel(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}
	store.Close()

	out, _, err := env.execute(t, "tunnels", "list", "-o", "csv")
	if err != nil {
		t.Fatalf("tunnels list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("csv lines = %d:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[1], now.Format(time.RFC3339)+",a.example:8443") {
		t.Errorf("newest first expected, got %q", lines[1])
	}

	out, _, err = env.execute(t, "tunnels", "list", "--outcome", "error")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "dial refused") || strings.Contains(out, "a.example") {
		t.Errorf("outcome filter:\n%s", out)
	}

	out, _, err = env.execute(t, "tunnels", "list", "--since", "1h", "-o", "json")
	if err != nil {
		t.Fatal(err)
	}
	var records []inventory.TunnelRecord
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Errorf("--since 1h returned %d records", len(records))
	}
}

func TestTunnels_InventoryDisabled(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv(config.EnvPrefix+"INVENTORY_ENABLED", "false")

	_, _, err := env.execute(t, "tunnels", "list")
	if err == nil {
		t.Fatal("expected error with inventory disabled")
	}
	if code := cli.ExitCode(err); code != cli.ExitConfig {
		t.Errorf("ExitCode = %d", code)
	}
}

func TestBuildApp_ServesProxyAndAdmin(t *testing.T) {
	env := newTestEnv(t)
	cfg, err := config.LoadConfig(env.configPath)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Proxy.Mode = "bypass"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg, logging.Discard())
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.close()

	done := make(chan error, 1)
	go func() { done <- a.serve(ctx) }()

	adminURL := "http://" + a.adminLn.Addr().String()
	resp, err := http.Get(adminURL + "/ca.pem")
	if err != nil {
		t.Fatalf("GET /ca.pem: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.Equal(body, a.root.CertificatePEM) {
		t.Error("/ca.pem differs from the loaded root")
	}

	origin, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer origin.Close()
	go func() {
		c, err := origin.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		io.Copy(c, c)
	}()

	conn, err := net.Dial("tcp", a.proxyLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	target := origin.Addr().String()
	fmt.Fprintf(conn, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", target, target)

	br := bufio.NewReader(conn)
	status, err := br.ReadString('\n')
	if err != nil || !strings.Contains(status, "200") {
		t.Fatalf("CONNECT status = %q, %v", status, err)
	}
	if _, err := br.ReadString('\n'); err != nil {
		t.Fatal(err)
	}
	conn.Write([]byte("ping"))
	echo := make([]byte, 4)
	if _, err := io.ReadFull(br, echo); err != nil || string(echo) != "ping" {
		t.Fatalf("echo = %q, %v", echo, err)
	}
	conn.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return")
	}
}

func TestApp_Reload(t *testing.T) {
	env := newTestEnv(t)
	resetFlags()
	t.Cleanup(resetFlags)
	cfgFile = env.configPath
	cfg, err := runtimeConfig()
	if err != nil {
		t.Fatal(err)
	}

	a, err := buildApp(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.close()
	a.cfgPath = env.configPath
	defer logLevel.Set(slog.LevelInfo)

	if a.proxy.ModeFor("app.pinned.example") != proxy.ModeMITM {
		t.Fatal("domain bypassed before reload")
	}

	original, err := os.ReadFile(env.configPath)
	if err != nil {
		t.Fatal(err)
	}
	updated := strings.Replace(string(original), "proxy:\n", "proxy:\n  bypass_domains: [\"*.pinned.example\"]\n", 1)
	updated = strings.Replace(updated, "level: error", "level: debug", 1)
	if err := os.WriteFile(env.configPath, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}
	a.reload()

	if a.proxy.ModeFor("app.pinned.example") != proxy.ModeBypass {
		t.Error("bypass list not applied on reload")
	}
	if logLevel.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want DEBUG", logLevel.Level())
	}

	broken := strings.Replace(updated, "shutdown_timeout: 2s", "mode: tap", 1)
	if err := os.WriteFile(env.configPath, []byte(broken), 0o600); err != nil {
		t.Fatal(err)
	}
	a.reload()
	if a.proxy.ModeFor("app.pinned.example") != proxy.ModeBypass {
		t.Error("failed reload changed the bypass list")
	}
}
