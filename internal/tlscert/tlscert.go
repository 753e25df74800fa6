// Package tlscert provisions the self-signed certificate used when the
// dashboard is served over HTTPS on the local network.
package tlscert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// RenewBefore is the remaining validity under which a certificate is
// regenerated.
const RenewBefore = 30 * 24 * time.Hour

// Config describes where the certificate lives and what it covers.
type Config struct {
	Enabled  bool
	Dir      string
	CertFile string
	KeyFile  string
	Hostname string
	Days     int
	Now      func() time.Time
}

// Ensure makes sure a usable certificate/key pair exists. It returns false
// when HTTPS is disabled or the pair could not be produced; callers fall
// back to plain HTTP in that case.
func Ensure(cfg Config, logger zerolog.Logger) bool {
	logger = logger.With().Str("component", "tls").Logger()
	if !cfg.Enabled {
		return false
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Days <= 0 {
		cfg.Days = 365
	}
	if cfg.Hostname == "" {
		cfg.Hostname = Hostname()
	}

	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		logger.Error().Err(err).Str("dir", cfg.Dir).Msg("cannot create certs dir")
		return false
	}

	notAfter, err := existingExpiry(cfg.CertFile, cfg.KeyFile)
	switch {
	case err == nil && notAfter.Sub(cfg.Now()) > RenewBefore:
		return true
	case err == nil:
		logger.Info().Time("not_after", notAfter).Msg("certificate expiring soon, regenerating")
	case !errors.Is(err, os.ErrNotExist):
		logger.Warn().Err(err).Msg("existing certificate unusable, regenerating")
	}

	logger.Info().Str("hostname", cfg.Hostname).Msg("generating self-signed certificate")
	if err := Generate(cfg); err != nil {
		logger.Error().Err(err).Msg("certificate generation failed")
		return false
	}
	logger.Info().
		Str("cert", cfg.CertFile).
		Int("days", cfg.Days).
		Str("hostname", cfg.Hostname).
		Msg("certificate generated")
	return true
}

// Generate writes a fresh RSA-2048 self-signed certificate valid for
// cfg.Hostname, localhost and 127.0.0.1.
func Generate(cfg Config) error {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generating key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generating serial: %w", err)
	}

	now := cfg.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cfg.Hostname},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(0, 0, cfg.Days),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              uniqueNames(cfg.Hostname, "localhost"),
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("creating certificate: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	if err := writeFile(cfg.KeyFile, keyPEM, 0o600); err != nil {
		return err
	}
	return writeFile(cfg.CertFile, certPEM, 0o644)
}

// Hostname returns the machine hostname, or a fallback name.
func Hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "vessel.local"
}

// existingExpiry loads the pair and returns the certificate's NotAfter.
func existingExpiry(certFile, keyFile string) (time.Time, error) {
	if _, err := os.Stat(certFile); err != nil {
		return time.Time{}, err
	}
	if _, err := os.Stat(keyFile); err != nil {
		return time.Time{}, err
	}
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return time.Time{}, fmt.Errorf("loading key pair: %w", err)
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing certificate: %w", err)
	}
	return leaf.NotAfter, nil
}

func writeFile(path string, data []byte, perm os.FileMode) error {
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return os.Chmod(path, perm)
}

func uniqueNames(names ...string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0:0]
	for _, n := range names {
		if n != "" && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
