package ca

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

// TestDescribe tests certificate summaries.
func TestDescribe(t *testing.T) {
	root, err := Generate("Info Root", "Interpose", 1)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	info := Describe(root.Certificate)
	if !strings.Contains(info.Subject, "CN=Info Root") {
		t.Errorf("Subject = %q", info.Subject)
	}
	if !info.IsCA {
		t.Error("expected IsCA")
	}
	if len(info.Fingerprint) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(info.Fingerprint))
	}
	if info.Fingerprint != Fingerprint(root.Certificate) {
		t.Error("fingerprint mismatch")
	}
}

// TestParseCertificates tests multi-block decoding.
func TestParseCertificates(t *testing.T) {
	a, _ := Generate("A", "", 1)
	b, _ := Generate("B", "", 1)

	certs, err := ParseCertificates(bytes.Join([][]byte{a.CertificatePEM, a.PrivateKeyPEM, b.CertificatePEM}, nil))
	if err != nil {
		t.Fatalf("ParseCertificates() error = %v", err)
	}
	if len(certs) != 2 {
		t.Fatalf("got %d certs, want 2", len(certs))
	}
	if certs[0].Subject.CommonName != "A" || certs[1].Subject.CommonName != "B" {
		t.Error("certificates out of order")
	}

	if _, err := ParseCertificates([]byte("nothing")); err == nil {
		t.Error("expected error for input without certificates")
	}
}

// TestCheckValidity tests the validity window.
func TestCheckValidity(t *testing.T) {
	root, _ := Generate("V", "", 1)
	cert := root.Certificate

	if err := CheckValidity(cert, time.Now()); err != nil {
		t.Errorf("fresh root should be valid: %v", err)
	}
	if err := CheckValidity(cert, cert.NotAfter.Add(time.Hour)); err == nil {
		t.Error("expected expired error")
	}
	if err := CheckValidity(cert, cert.NotBefore.Add(-time.Hour)); err == nil {
		t.Error("expected not-yet-valid error")
	}
}

// TestExpiryWarning tests the expiry threshold.
func TestExpiryWarning(t *testing.T) {
	root, _ := Generate("W", "", 1)

	days, warning := ExpiryWarning(root.Certificate, 30*24*time.Hour)
	if warning != "" {
		t.Errorf("unexpected warning: %s", warning)
	}
	if days < 360 {
		t.Errorf("days = %d, want about 365", days)
	}

	if _, warning := ExpiryWarning(root.Certificate, 2*365*24*time.Hour); warning == "" {
		t.Error("expected warning with a two-year threshold")
	}
}
