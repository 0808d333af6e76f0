package photostream

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TrustMode selects how server certificates are verified.
type TrustMode string

const (
	// TrustSystem verifies against the host's root certificates.
	TrustSystem TrustMode = "system"
	// TrustCA verifies against a PEM bundle.
	TrustCA TrustMode = "ca"
	// TrustInsecure accepts any certificate and host name.
	TrustInsecure TrustMode = "insecure"
)

// TrustConfig configures certificate verification for secure endpoints.
// The zero value is TrustSystem.
type TrustConfig struct {
	Mode       TrustMode `json:"mode" yaml:"mode" validate:"omitempty,oneof=system ca insecure"`
	CAFile     string    `json:"ca_file,omitempty" yaml:"ca_file,omitempty" validate:"required_if=Mode ca"`
	ServerName string    `json:"server_name,omitempty" yaml:"server_name,omitempty"`
}

// Insecure reports whether verification is disabled.
func (t TrustConfig) Insecure() bool {
	return t.Mode == TrustInsecure
}

// TLSConfig builds the client TLS configuration for the trust mode.
func (t TrustConfig) TLSConfig() (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: t.ServerName,
	}
	switch t.Mode {
	case "", TrustSystem:
	case TrustCA:
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca file %s: no certificates found", t.CAFile)
		}
		cfg.RootCAs = pool
	case TrustInsecure:
		cfg.InsecureSkipVerify = true
	default:
		return nil, fmt.Errorf("unknown trust mode %q", t.Mode)
	}
	return cfg, nil
}
