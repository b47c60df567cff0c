package ca

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// PEM block labels used for persisted material.
const (
	PEMTypeCertificate = "CERTIFICATE"
	PEMTypePrivateKey  = "PRIVATE KEY"
)

// CorruptPolicy decides what LoadOrCreate does with undecodable material.
type CorruptPolicy string

const (
	// CorruptRegenerate logs a warning and mints a fresh root.
	CorruptRegenerate CorruptPolicy = "regenerate"
	// CorruptFail returns ErrCorruptMaterial.
	CorruptFail CorruptPolicy = "fail"
)

// RootCA is the trust anchor every leaf certificate chains to. It is
// immutable once returned and safe for concurrent use.
type RootCA struct {
	PrivateKey     *ecdsa.PrivateKey
	Certificate    *x509.Certificate
	CertificatePEM []byte
	PrivateKeyPEM  []byte
}

// Options tunes LoadOrCreate.
type Options struct {
	// Organization is the subject O of a generated root.
	Organization string

	// OnCorrupt defaults to CorruptRegenerate.
	OnCorrupt CorruptPolicy

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// LoadOrCreate returns the root persisted in store, or generates and
// persists a fresh one when the material is absent. Existing valid
// material is never overwritten.
func LoadOrCreate(store Store, commonName string, validityYears int, opts Options) (*RootCA, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	certPEM, keyPEM, err := store.Load()
	switch {
	case err == nil:
		root, decodeErr := Decode(certPEM, keyPEM)
		if decodeErr == nil {
			logger.Info("root CA loaded",
				"subject", root.Certificate.Subject.CommonName,
				"not_after", root.Certificate.NotAfter.Format(time.RFC3339),
			)
			return root, nil
		}
		if opts.OnCorrupt == CorruptFail {
			return nil, fmt.Errorf("%w: %v", ErrCorruptMaterial, decodeErr)
		}
		logger.Warn("persisted root CA is corrupt, regenerating; certificates trusted under the previous root will no longer validate",
			"error", decodeErr,
		)
	case isNotExist(err):
		logger.Info("no persisted root CA, generating", "common_name", commonName)
	default:
		if opts.OnCorrupt == CorruptFail {
			return nil, fmt.Errorf("%w: %v", ErrCorruptMaterial, err)
		}
		logger.Warn("cannot read persisted root CA, regenerating", "error", err)
	}

	root, err := Generate(commonName, opts.Organization, validityYears)
	if err != nil {
		return nil, err
	}
	if err := store.Save(root.CertificatePEM, root.PrivateKeyPEM); err != nil {
		return nil, fmt.Errorf("persist root CA: %w", err)
	}

	logger.Info("root CA generated",
		"subject", root.Certificate.Subject.CommonName,
		"serial", root.Certificate.SerialNumber.String(),
		"not_after", root.Certificate.NotAfter.Format(time.RFC3339),
	)
	return root, nil
}

// Generate creates a self-signed P-256 root valid for validityYears.
// Failures wrap ErrTrustAnchor.
func Generate(commonName, organization string, validityYears int) (*RootCA, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: generate key: %v", ErrTrustAnchor, err)
	}

	ski, err := SubjectKeyID(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrustAnchor, err)
	}

	subject := pkix.Name{CommonName: commonName}
	if organization != "" {
		subject.Organization = []string{organization}
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          NextSerial(),
		Subject:               subject,
		NotBefore:             now,
		NotAfter:              now.AddDate(validityYears, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          ski,
		AuthorityKeyId:        ski,
		SignatureAlgorithm:    x509.ECDSAWithSHA256,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %v", ErrTrustAnchor, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrTrustAnchor, err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal key: %v", ErrTrustAnchor, err)
	}

	return &RootCA{
		PrivateKey:     key,
		Certificate:    cert,
		CertificatePEM: pem.EncodeToMemory(&pem.Block{Type: PEMTypeCertificate, Bytes: der}),
		PrivateKeyPEM:  pem.EncodeToMemory(&pem.Block{Type: PEMTypePrivateKey, Bytes: keyDER}),
	}, nil
}

// Decode rebuilds a RootCA from its PEM artifacts. The key must be a PKCS#8
// ECDSA key matching the certificate, and the certificate must be a CA.
func Decode(certPEM, keyPEM []byte) (*RootCA, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil || certBlock.Type != PEMTypeCertificate {
		return nil, errors.New("certificate PEM block not found")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	if !cert.IsCA {
		return nil, errors.New("certificate is not a CA")
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil || keyBlock.Type != PEMTypePrivateKey {
		return nil, errors.New("private key PEM block not found")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want ECDSA", parsed)
	}
	if !key.PublicKey.Equal(cert.PublicKey) {
		return nil, errors.New("private key does not match certificate")
	}

	return &RootCA{
		PrivateKey:     key,
		Certificate:    cert,
		CertificatePEM: certPEM,
		PrivateKeyPEM:  keyPEM,
	}, nil
}

// SubjectKeyID is the SHA-1 of the uncompressed public point.
func SubjectKeyID(pub *ecdsa.PublicKey) ([]byte, error) {
	ecdhKey, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("encode public key: %w", err)
	}
	sum := sha1.Sum(ecdhKey.Bytes())
	return sum[:], nil
}

// CertPool returns a pool containing only this root.
func (r *RootCA) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(r.Certificate)
	return pool
}

// Subject returns the root's subject common name.
func (r *RootCA) Subject() string {
	return r.Certificate.Subject.CommonName
}
