package issuer

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"net"
	"strings"
	"time"

	"mercator-hq/interpose/pkg/ca"
)

// OIDSubjectAltName identifies the subjectAltName extension.
var OIDSubjectAltName = asn1.ObjectIdentifier{2, 5, 29, 17}

// DomainCertificate is a leaf minted for one domain and signed by the root.
type DomainCertificate struct {
	Domain         string
	PrivateKey     *ecdsa.PrivateKey
	PrivateKeyPEM  []byte
	Certificate    *x509.Certificate
	CertificatePEM []byte

	// ChainPEM is the leaf PEM followed by the root PEM.
	ChainPEM []byte

	// Request is the signing request the leaf was built from.
	Request *x509.CertificateRequest

	tlsCert *tls.Certificate
}

// TLSCertificate returns the leaf, its chain and key in crypto/tls form.
func (d *DomainCertificate) TLSCertificate() *tls.Certificate {
	return d.tlsCert
}

// Serial returns the leaf serial number in decimal.
func (d *DomainCertificate) Serial() string {
	return d.Certificate.SerialNumber.String()
}

// Issuer mints leaf certificates.
type Issuer interface {
	Issue(ctx context.Context, domain string) (*DomainCertificate, error)
}

// Func adapts a function to the Issuer interface.
type Func func(ctx context.Context, domain string) (*DomainCertificate, error)

// Issue calls f.
func (f Func) Issue(ctx context.Context, domain string) (*DomainCertificate, error) {
	return f(ctx, domain)
}

// Authority issues leaves under a fixed root with a fixed validity.
type Authority struct {
	root         *ca.RootCA
	validityDays int
}

// New returns an Authority signing with root.
func New(root *ca.RootCA, validityDays int) *Authority {
	return &Authority{root: root, validityDays: validityDays}
}

// Issue implements Issuer. Key generation and signing are short and
// CPU-bound, so ctx is only checked before starting.
func (a *Authority) Issue(ctx context.Context, domain string) (*DomainCertificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, &IssueError{Domain: domain, Stage: StageValidate, Err: err}
	}
	return Issue(a.root, domain, a.validityDays)
}

// Root returns the signing root.
func (a *Authority) Root() *ca.RootCA {
	return a.root
}

// Issue mints a leaf for domain. A fresh P-256 key signs a CSR for
// {domain, *.domain}; the root then signs a certificate that copies the
// CSR's public key, subject and subjectAltName extension verbatim.
//
// IP literals are certified for the address itself instead.
func Issue(root *ca.RootCA, domain string, validityDays int) (*DomainCertificate, error) {
	domain, err := NormalizeDomain(domain)
	if err != nil {
		return nil, &IssueError{Domain: domain, Stage: StageValidate, Err: err}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, &IssueError{Domain: domain, Stage: StageKey, Err: err}
	}

	csr, err := buildRequest(domain, key)
	if err != nil {
		return nil, &IssueError{Domain: domain, Stage: StageRequest, Err: err}
	}

	san, ok := requestedSAN(csr)
	if !ok {
		return nil, &IssueError{Domain: domain, Stage: StageRequest, Err: fmt.Errorf("request carries no subjectAltName extension")}
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          ca.NextSerial(),
		Subject:               csr.Subject,
		NotBefore:             now,
		NotAfter:              now.AddDate(0, 0, validityDays),
		BasicConstraintsValid: true,
		IsCA:                  false,
		ExtraExtensions:       []pkix.Extension{san},
		SignatureAlgorithm:    x509.ECDSAWithSHA256,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, root.Certificate, csr.PublicKey, root.PrivateKey)
	if err != nil {
		return nil, &IssueError{Domain: domain, Stage: StageSign, Err: err}
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, &IssueError{Domain: domain, Stage: StageSign, Err: err}
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, &IssueError{Domain: domain, Stage: StageEncode, Err: err}
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: ca.PEMTypeCertificate, Bytes: der})
	chainPEM := make([]byte, 0, len(certPEM)+len(root.CertificatePEM))
	chainPEM = append(chainPEM, certPEM...)
	chainPEM = append(chainPEM, root.CertificatePEM...)

	return &DomainCertificate{
		Domain:         domain,
		PrivateKey:     key,
		PrivateKeyPEM:  pem.EncodeToMemory(&pem.Block{Type: ca.PEMTypePrivateKey, Bytes: keyDER}),
		Certificate:    leaf,
		CertificatePEM: certPEM,
		ChainPEM:       chainPEM,
		Request:        csr,
		tlsCert: &tls.Certificate{
			Certificate: [][]byte{der, root.Certificate.Raw},
			PrivateKey:  key,
			Leaf:        leaf,
		},
	}, nil
}

// buildRequest creates and verifies a CSR proving possession of key.
func buildRequest(domain string, key *ecdsa.PrivateKey) (*x509.CertificateRequest, error) {
	template := &x509.CertificateRequest{
		Subject:            pkix.Name{CommonName: domain},
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	if ip := net.ParseIP(domain); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{domain, "*." + domain}
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("request signature: %w", err)
	}
	return csr, nil
}

// requestedSAN returns the subjectAltName from the CSR's extension request.
func requestedSAN(csr *x509.CertificateRequest) (pkix.Extension, bool) {
	for _, ext := range csr.Extensions {
		if ext.Id.Equal(OIDSubjectAltName) {
			return ext, true
		}
	}
	return pkix.Extension{}, false
}

// NormalizeDomain lower-cases host, strips a trailing dot and IPv6
// brackets, and rejects names that cannot be certified.
func NormalizeDomain(host string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(host))
	d = strings.TrimSuffix(d, ".")
	d = strings.TrimPrefix(strings.TrimSuffix(d, "]"), "[")
	if d == "" {
		return "", fmt.Errorf("empty domain")
	}
	if len(d) > 253 {
		return "", fmt.Errorf("domain %q too long", host)
	}
	if net.ParseIP(d) != nil {
		return d, nil
	}
	for _, label := range strings.Split(d, ".") {
		if label == "" || len(label) > 63 {
			return "", fmt.Errorf("invalid domain %q", host)
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
				return "", fmt.Errorf("invalid character %q in domain %q", r, host)
			}
		}
	}
	return d, nil
}
