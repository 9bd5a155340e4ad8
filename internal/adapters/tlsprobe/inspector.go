package tlsprobe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/trust"
)

// Inspector implements trust.CertInspector by completing a TLS handshake
// with the domain's HTTPS endpoint
type Inspector struct {
	port    string
	timeout time.Duration
	roots   *x509.CertPool
	logger  *zap.Logger
}

// NewInspector creates a certificate inspector. roots nil uses the system pool.
func NewInspector(port string, timeout time.Duration, roots *x509.CertPool, logger *zap.Logger) *Inspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if port == "" {
		port = "443"
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Inspector{port: port, timeout: timeout, roots: roots, logger: logger}
}

func (i *Inspector) Available() bool { return true }

// Inspect returns the leaf certificate the domain presents. A certificate
// that fails verification is reported with Valid false rather than an error.
func (i *Inspector) Inspect(ctx context.Context, domain string) (*trust.CertInfo, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: i.timeout},
		Config:    &tls.Config{ServerName: domain, RootCAs: i.roots, MinVersion: tls.VersionTLS12},
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(domain, i.port))
	if err != nil {
		var verr *tls.CertificateVerificationError
		if errors.As(err, &verr) && len(verr.UnverifiedCertificates) > 0 {
			i.logger.Debug("Certificate failed verification",
				zap.String("domain", domain),
				zap.Error(verr.Err))
			return describe(verr.UnverifiedCertificates[0], false), nil
		}
		return nil, fmt.Errorf("tls handshake with %s: %w", domain, err)
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("tls handshake with %s: no peer certificate", domain)
	}
	return describe(state.PeerCertificates[0], true), nil
}

func describe(cert *x509.Certificate, verified bool) *trust.CertInfo {
	now := time.Now()
	issuer := cert.Issuer.CommonName
	if len(cert.Issuer.Organization) > 0 {
		issuer = cert.Issuer.Organization[0] + " " + issuer
	}
	return &trust.CertInfo{
		Issuer:    issuer,
		Subject:   cert.Subject.CommonName,
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		Valid:     verified && now.After(cert.NotBefore) && now.Before(cert.NotAfter),
	}
}
