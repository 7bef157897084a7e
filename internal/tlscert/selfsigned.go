package tlscert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultTTL = 365 * 24 * time.Hour
	// certificates closer than this to expiry are reissued
	renewBefore = 7 * 24 * time.Hour
)

// Issued describes a certificate written by EnsureSelfSigned.
type Issued struct {
	NotAfter    time.Time
	Fingerprint string
	Created     bool
}

// IssueSelfSigned creates a self-signed server certificate for hosts. Each
// host is added as an IP or DNS subject alternative name.
func IssueSelfSigned(hosts []string, ttl time.Duration) (certPEM, keyPEM []byte, notAfter time.Time, fingerprint string, err error) {
	if ttl == 0 {
		ttl = defaultTTL
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, time.Time{}, "", fmt.Errorf("generate key: %w", err)
	}
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, time.Time{}, "", fmt.Errorf("serial: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   "mcpanel",
			Organization: []string{"mcpanel"},
		},
		NotBefore:             time.Now().Add(-5 * time.Minute),
		NotAfter:              time.Now().Add(ttl),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, host := range hosts {
		host = strings.TrimSpace(host)
		switch ip := net.ParseIP(host); {
		case host == "":
		case ip != nil && !ip.IsUnspecified():
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		case ip == nil:
			tmpl.DNSNames = append(tmpl.DNSNames, host)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, time.Time{}, "", fmt.Errorf("create cert: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM, tmpl.NotAfter, Fingerprint(der), nil
}

// Fingerprint returns the hex SHA-256 of a DER certificate.
func Fingerprint(der []byte) string {
	h := sha256.Sum256(der)
	return fmt.Sprintf("%x", h[:])
}

// EnsureSelfSigned keeps a usable certificate pair at certPath and keyPath.
// An existing valid pair is reused and a missing or nearly expired one is
// replaced. A pair that exists but cannot be parsed is an error.
func EnsureSelfSigned(certPath, keyPath string, hosts []string, ttl time.Duration) (Issued, error) {
	if issued, err := loadPair(certPath, keyPath); err == nil {
		if time.Until(issued.NotAfter) > renewBefore {
			return issued, nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Issued{}, err
	}

	certPEM, keyPEM, notAfter, fingerprint, err := IssueSelfSigned(hosts, ttl)
	if err != nil {
		return Issued{}, err
	}
	if err := writeFile(certPath, certPEM, 0o644); err != nil {
		return Issued{}, err
	}
	if err := writeFile(keyPath, keyPEM, 0o600); err != nil {
		return Issued{}, err
	}
	return Issued{NotAfter: notAfter, Fingerprint: fingerprint, Created: true}, nil
}

func loadPair(certPath, keyPath string) (Issued, error) {
	for _, p := range []string{certPath, keyPath} {
		if _, err := os.Stat(p); err != nil {
			return Issued{}, err
		}
	}
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return Issued{}, fmt.Errorf("load certificate pair: %w", err)
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return Issued{}, fmt.Errorf("parse certificate: %w", err)
	}
	return Issued{NotAfter: leaf.NotAfter, Fingerprint: Fingerprint(leaf.Raw)}, nil
}

func writeFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create certificate dir: %w", err)
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
