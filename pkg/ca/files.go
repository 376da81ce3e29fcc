package ca

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrFileExists is returned when issuance would overwrite existing trust
// material. An existing trust root is never clobbered; the operator must
// remove it deliberately.
var ErrFileExists = errors.New("file already exists")

// ControlCertificateFilename returns the certificate filename for a
// control service bound to hostname.
func ControlCertificateFilename(hostname string) string {
	return fmt.Sprintf("control-%s.crt", hostname)
}

// ControlKeyFilename returns the key filename for a control service bound
// to hostname.
func ControlKeyFilename(hostname string) string {
	return fmt.Sprintf("control-%s.key", hostname)
}

// WriteAuthority writes the authority's root certificate and key into dir
// as cluster.crt and cluster.key. It refuses to overwrite either file.
func WriteAuthority(a *Authority, dir string) error {
	certPath := filepath.Join(dir, AuthorityCertificateFilename)
	keyPath := filepath.Join(dir, AuthorityKeyFilename)

	for _, p := range []string{certPath, keyPath} {
		if _, err := os.Stat(p); err == nil {
			return fmt.Errorf("%w: %s", ErrFileExists, p)
		}
	}

	if err := writeKey(keyPath, a.rootKey); err != nil {
		return err
	}
	return writeCert(certPath, a.rootCert)
}

// LoadAuthority loads a previously initialized authority from dir. It
// fails if cluster.crt or cluster.key is missing, because certificate
// issuance requires the root key in the working context.
func LoadAuthority(dir string) (*Authority, error) {
	cert, err := readCert(filepath.Join(dir, AuthorityCertificateFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to load cluster certificate: %w", err)
	}

	key, err := readKey(filepath.Join(dir, AuthorityKeyFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to load cluster key: %w", err)
	}

	return &Authority{rootCert: cert, rootKey: key}, nil
}

// WriteCredential writes a credential's certificate and key into dir under
// the given base filenames. Existing files are never overwritten.
func WriteCredential(cred *Credential, dir, certFilename, keyFilename string) error {
	certPath := filepath.Join(dir, certFilename)
	keyPath := filepath.Join(dir, keyFilename)

	for _, p := range []string{certPath, keyPath} {
		if _, err := os.Stat(p); err == nil {
			return fmt.Errorf("%w: %s", ErrFileExists, p)
		}
	}

	if err := writeKey(keyPath, cred.Key); err != nil {
		return err
	}
	return writeCert(certPath, cred.Cert)
}

// LoadCACert loads the cluster root certificate from a file.
func LoadCACert(path string) (*x509.Certificate, error) {
	cert, err := readCert(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA certificate: %w", err)
	}
	return cert, nil
}

// LoadTLSCertificate loads a certificate/key pair for use in a TLS
// handshake, with the Leaf parsed so identity checks don't re-parse.
func LoadTLSCertificate(certPath, keyPath string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		cert.Leaf = leaf
	}

	return &cert, nil
}

// ServerTLSConfig builds a TLS config for a listener that requires client
// certificates signed by the cluster CA. The handshake itself gates all
// further protocol: an untrusted client never gets past it.
func ServerTLSConfig(cert *tls.Certificate, root *x509.Certificate) *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(root)

	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}
}

// ClientTLSConfig builds a TLS config for dialing a control service:
// present our certificate, verify the server against the cluster CA.
func ClientTLSConfig(cert *tls.Certificate, root *x509.Certificate, serverName string) *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(root)

	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      pool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}
}

func writeKey(path string, key *rsa.PrivateKey) error {
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.WriteFile(path, keyPEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	return nil
}

func writeCert(path string, cert *x509.Certificate) error {
	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: cert.Raw,
	})
	if err := os.WriteFile(path, certPEM, 0644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	return nil
}

func readCert(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no certificate PEM block in %s", path)
	}

	return x509.ParseCertificate(block.Bytes)
}

func readKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return nil, fmt.Errorf("no private key PEM block in %s", path)
	}

	return x509.ParsePKCS1PrivateKey(block.Bytes)
}
