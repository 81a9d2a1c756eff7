package checker

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// CertInfo summarizes a server's leaf TLS certificate.
type CertInfo struct {
	Subject            string    `json:"subject"`
	Issuer             string    `json:"issuer"`
	NotBefore          time.Time `json:"not_before"`
	NotAfter           time.Time `json:"not_after"`
	DaysToExpiration   int       `json:"days_to_expiration"`
	DNSNames           []string  `json:"dns_names,omitempty"`
	SerialNumber       string    `json:"serial_number"`
	SignatureAlgorithm string    `json:"signature_algorithm"`
}

// Map renders the cert info for storage in a CheckResult's extra data.
func (c *CertInfo) Map() map[string]any {
	return map[string]any{
		"subject":             c.Subject,
		"issuer":              c.Issuer,
		"not_before":          c.NotBefore.Format(time.RFC3339),
		"not_after":           c.NotAfter.Format(time.RFC3339),
		"days_to_expiration":  c.DaysToExpiration,
		"dns_names":           c.DNSNames,
		"serial_number":       c.SerialNumber,
		"signature_algorithm": c.SignatureAlgorithm,
	}
}

// inspectCert connects to addr (host:port), completes a TLS handshake, and
// returns details of the presented leaf certificate. Verification is skipped
// here: the point is to report on whatever certificate the server presents,
// including expired or mismatched ones.
func inspectCert(ctx context.Context, addr, serverName string) (*CertInfo, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			ServerName:         serverName,
			InsecureSkipVerify: true, //nolint:gosec // G402: inspection must see invalid certs too
		},
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tls dial %s: %w", addr, err)
	}
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return nil, fmt.Errorf("tls dial %s: unexpected connection type", addr)
	}

	certs := tlsConn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, fmt.Errorf("tls dial %s: no peer certificate", addr)
	}

	leaf := certs[0]
	now := time.Now().UTC()
	return &CertInfo{
		Subject:            leaf.Subject.String(),
		Issuer:             leaf.Issuer.String(),
		NotBefore:          leaf.NotBefore.UTC(),
		NotAfter:           leaf.NotAfter.UTC(),
		DaysToExpiration:   int(leaf.NotAfter.Sub(now).Hours() / 24),
		DNSNames:           leaf.DNSNames,
		SerialNumber:       leaf.SerialNumber.String(),
		SignatureAlgorithm: leaf.SignatureAlgorithm.String(),
	}, nil
}
