package ca

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/interpose/pkg/telemetry/logging"
)

var oidBasicConstraints = asn1.ObjectIdentifier{2, 5, 29, 19}

func testOptions() Options {
	return Options{Organization: "Interpose Test", Logger: logging.Discard()}
}

// TestGenerate_SelfSigned tests the properties of a freshly minted root.
func TestGenerate_SelfSigned(t *testing.T) {
	root, err := Generate("Test Root", "Interpose Test", 10)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	cert := root.Certificate

	if cert.Subject.CommonName != "Test Root" || cert.Issuer.CommonName != "Test Root" {
		t.Errorf("expected self-signed subject/issuer, got %q / %q", cert.Subject.CommonName, cert.Issuer.CommonName)
	}
	if err := cert.CheckSignatureFrom(cert); err != nil {
		t.Errorf("root signature does not verify against itself: %v", err)
	}
	if !cert.IsCA || !cert.BasicConstraintsValid {
		t.Error("expected CA basic constraints")
	}

	var critical bool
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oidBasicConstraints) {
			critical = ext.Critical
		}
	}
	if !critical {
		t.Error("basicConstraints must be critical")
	}

	if cert.KeyUsage&x509.KeyUsageCertSign == 0 || cert.KeyUsage&x509.KeyUsageCRLSign == 0 {
		t.Errorf("expected CertSign|CRLSign key usage, got %v", cert.KeyUsage)
	}
	if cert.SignatureAlgorithm != x509.ECDSAWithSHA256 {
		t.Errorf("signature algorithm = %v, want ECDSAWithSHA256", cert.SignatureAlgorithm)
	}
	if root.PrivateKey.Curve != elliptic.P256() {
		t.Error("expected P-256 key")
	}

	ecdhKey, _ := root.PrivateKey.PublicKey.ECDH()
	want := sha1.Sum(ecdhKey.Bytes())
	if !bytes.Equal(cert.SubjectKeyId, want[:]) {
		t.Error("SubjectKeyId is not SHA-1 of the public key")
	}
	if !bytes.Equal(cert.AuthorityKeyId, cert.SubjectKeyId) {
		t.Error("AuthorityKeyId should mirror SubjectKeyId")
	}

	years := cert.NotAfter.Sub(cert.NotBefore).Hours() / 24 / 365
	if years < 9.9 || years > 10.1 {
		t.Errorf("validity = %.2f years, want 10", years)
	}
}

// TestGenerate_PEMFormat tests the persisted PEM labels.
func TestGenerate_PEMFormat(t *testing.T) {
	root, err := Generate("Test Root", "", 1)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if block, _ := pem.Decode(root.CertificatePEM); block == nil || block.Type != "CERTIFICATE" {
		t.Error("certificate PEM label should be CERTIFICATE")
	}
	if block, _ := pem.Decode(root.PrivateKeyPEM); block == nil || block.Type != "PRIVATE KEY" {
		t.Error("key PEM label should be PRIVATE KEY (PKCS#8)")
	}
	for _, line := range strings.Split(string(root.CertificatePEM), "\n") {
		if len(line) > 64 {
			t.Errorf("PEM line longer than 64 columns: %d", len(line))
		}
	}
}

// TestLoadOrCreate_RoundTrip tests that persisted material reloads into a
// usable signing root.
func TestLoadOrCreate_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "ca", "ca.pem"), filepath.Join(dir, "ca", "ca-key.pem"))

	first, err := LoadOrCreate(store, "Round Trip Root", 10, testOptions())
	if err != nil {
		t.Fatalf("LoadOrCreate() error = %v", err)
	}

	info, err := os.Stat(store.KeyFile)
	if err != nil {
		t.Fatalf("key file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file mode = %v, want 0600", info.Mode().Perm())
	}

	second, err := LoadOrCreate(store, "Ignored Name", 10, testOptions())
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	if second.Subject() != "Round Trip Root" {
		t.Errorf("reloaded subject = %q, want %q", second.Subject(), "Round Trip Root")
	}
	if second.Certificate.SerialNumber.Cmp(first.Certificate.SerialNumber) != 0 {
		t.Error("reload should return the persisted root, not a new one")
	}

	// The reloaded key must be able to sign a leaf that verifies under the root.
	leafKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "leaf.test"},
		DNSNames:     []string{"leaf.test"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, second.Certificate, &leafKey.PublicKey, second.PrivateKey)
	if err != nil {
		t.Fatalf("re-sign with reloaded key: %v", err)
	}
	leaf, _ := x509.ParseCertificate(der)
	if err := VerifyLeaf(leaf, second.Certificate, "leaf.test"); err != nil {
		t.Errorf("leaf signed by reloaded root does not verify: %v", err)
	}
}

// TestLoadOrCreate_NoOverwrite tests that valid material is never rewritten.
func TestLoadOrCreate_NoOverwrite(t *testing.T) {
	store := &MemoryStore{}

	if _, err := LoadOrCreate(store, "Root", 10, testOptions()); err != nil {
		t.Fatalf("LoadOrCreate() error = %v", err)
	}
	if _, err := LoadOrCreate(store, "Root", 10, testOptions()); err != nil {
		t.Fatalf("LoadOrCreate() error = %v", err)
	}
	if store.Saves() != 1 {
		t.Errorf("Save called %d times, want 1", store.Saves())
	}
}

// TestLoadOrCreate_Corrupt tests both corrupt material policies.
func TestLoadOrCreate_Corrupt(t *testing.T) {
	tests := []struct {
		name    string
		cert    []byte
		key     []byte
		policy  CorruptPolicy
		wantErr error
	}{
		{name: "garbage regenerates", cert: []byte("not pem"), key: []byte("not pem"), policy: CorruptRegenerate},
		{name: "garbage fails", cert: []byte("not pem"), key: []byte("not pem"), policy: CorruptFail, wantErr: ErrCorruptMaterial},
		{name: "wrong key regenerates", policy: CorruptRegenerate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &MemoryStore{}
			if tt.cert != nil {
				_ = store.Save(tt.cert, tt.key)
			} else {
				a, _ := Generate("A", "", 1)
				b, _ := Generate("B", "", 1)
				_ = store.Save(a.CertificatePEM, b.PrivateKeyPEM)
			}

			opts := testOptions()
			opts.OnCorrupt = tt.policy
			root, err := LoadOrCreate(store, "Fresh", 10, opts)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadOrCreate() error = %v", err)
			}
			if root.Subject() != "Fresh" {
				t.Errorf("expected regenerated root, got %q", root.Subject())
			}
			if store.Saves() != 2 {
				t.Errorf("expected regenerated material to be persisted")
			}
		})
	}
}

// TestLoadOrCreate_PartialFiles tests that a missing key triggers generation.
func TestLoadOrCreate_PartialFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "ca.pem"), filepath.Join(dir, "ca-key.pem"))

	existing, _ := Generate("Orphan", "", 1)
	if err := os.WriteFile(store.CertFile, existing.CertificatePEM, 0644); err != nil {
		t.Fatal(err)
	}

	root, err := LoadOrCreate(store, "New Root", 10, testOptions())
	if err != nil {
		t.Fatalf("LoadOrCreate() error = %v", err)
	}
	if root.Subject() != "New Root" {
		t.Errorf("expected a generated root, got %q", root.Subject())
	}
	if _, err := os.Stat(store.KeyFile); err != nil {
		t.Errorf("key file should exist after generation: %v", err)
	}
}

// TestDecode_NotCA tests that a leaf cannot be loaded as a root.
func TestDecode_NotCA(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "leaf"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, _ := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	keyDER, _ := x509.MarshalPKCS8PrivateKey(key)

	_, err := Decode(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}),
	)
	if err == nil || !strings.Contains(err.Error(), "not a CA") {
		t.Errorf("expected not-a-CA error, got %v", err)
	}
}

// TestNextSerial tests that serials are unique and increasing.
func TestNextSerial(t *testing.T) {
	prev := NextSerial()
	for i := 0; i < 1000; i++ {
		next := NextSerial()
		if next.Cmp(prev) <= 0 {
			t.Fatalf("serial %v not greater than %v", next, prev)
		}
		prev = next
	}
}

// TestNextSerial_Concurrent tests uniqueness across goroutines.
func TestNextSerial_Concurrent(t *testing.T) {
	const workers, per = 8, 200
	results := make(chan string, workers*per)
	done := make(chan struct{})
	for w := 0; w < workers; w++ {
		go func() {
			for i := 0; i < per; i++ {
				results <- NextSerial().String()
			}
			done <- struct{}{}
		}()
	}
	for w := 0; w < workers; w++ {
		<-done
	}
	close(results)

	seen := make(map[string]bool)
	for s := range results {
		if seen[s] {
			t.Fatalf("duplicate serial %s", s)
		}
		seen[s] = true
	}
}
