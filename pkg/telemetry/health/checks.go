package health

import (
	"context"
	"crypto/x509"
	"fmt"
	"time"
)

// Pinger is implemented by storage backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CertificateCheck fails when the certificate returned by current is
// missing, not yet valid, or expires within warn.
func CertificateCheck(current func() *x509.Certificate, warn time.Duration) CheckFunc {
	return func(ctx context.Context) error {
		cert := current()
		if cert == nil {
			return fmt.Errorf("no certificate loaded")
		}
		now := time.Now()
		if now.Before(cert.NotBefore) {
			return fmt.Errorf("certificate not valid until %s", cert.NotBefore.UTC().Format(time.RFC3339))
		}
		if now.Add(warn).After(cert.NotAfter) {
			return fmt.Errorf("certificate expires at %s", cert.NotAfter.UTC().Format(time.RFC3339))
		}
		return nil
	}
}

// PingCheck wraps a Pinger as a CheckFunc.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}
