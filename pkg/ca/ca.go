package ca

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/google/uuid"
)

const (
	// AuthorityCertificateFilename is the cluster root certificate file.
	AuthorityCertificateFilename = "cluster.crt"
	// AuthorityKeyFilename is the cluster root private key file.
	AuthorityKeyFilename = "cluster.key"

	// ControlServiceCommonName distinguishes control-service certificates
	// from node and user certificates.
	ControlServiceCommonName = "control-service"

	// NodeCommonNamePrefix prefixes the node UUID in node certificate CNs.
	NodeCommonNamePrefix = "node-"
	// UserCommonNamePrefix prefixes the username in API client CNs.
	UserCommonNamePrefix = "user-"

	// Certificates are long-lived; rotation is re-issuance by the operator.
	certValidity = 20 * 365 * 24 * time.Hour

	// Root key size: 4096 bits (long-lived, high security)
	rootKeySize = 4096
	// Leaf key size: 2048 bits (shorter-lived, faster)
	leafKeySize = 2048

	organization = "Drover Cluster"
)

// Authority is a cluster certificate authority: the root key and
// certificate used to sign all subordinate certificates. The root key
// stays wherever the authority was initialized; it is never transmitted.
type Authority struct {
	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey
}

// Credential pairs an issued certificate with its private key before it is
// written to disk.
type Credential struct {
	Cert *x509.Certificate
	Key  *rsa.PrivateKey
}

// NewAuthority generates a self-signed root certificate for a new cluster.
// The cluster name becomes the root CN; a fresh cluster UUID is recorded in
// the OU of every certificate the authority signs, so certificates from
// different clusters never validate against each other's identity checks.
func NewAuthority(clusterName string) (*Authority, error) {
	if clusterName == "" {
		return nil, fmt.Errorf("cluster name must not be empty")
	}

	rootKey, err := rsa.GenerateKey(rand.Reader, rootKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate root key: %w", err)
	}

	serialNumber, err := randomSerial()
	if err != nil {
		return nil, err
	}

	clusterID := uuid.New()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization:       []string{organization},
			OrganizationalUnit: []string{clusterID.String()},
			CommonName:         clusterName,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(certValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLenZero:        true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create root certificate: %w", err)
	}

	rootCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse root certificate: %w", err)
	}

	return &Authority{rootCert: rootCert, rootKey: rootKey}, nil
}

// ClusterName returns the name the authority was initialized with.
func (a *Authority) ClusterName() string {
	return a.rootCert.Subject.CommonName
}

// ClusterID returns the cluster UUID recorded in the root certificate OU.
func (a *Authority) ClusterID() (uuid.UUID, error) {
	return ClusterID(a.rootCert)
}

// Certificate returns the root certificate.
func (a *Authority) Certificate() *x509.Certificate {
	return a.rootCert
}

// IssueControlCredential issues a control-service certificate bound to the
// given hostname. The CN is always "control-service"; the hostname goes in
// the SAN so standard HTTPS verification works for agents and API clients.
func (a *Authority) IssueControlCredential(hostname string) (*Credential, error) {
	if hostname == "" {
		return nil, fmt.Errorf("hostname must not be empty")
	}

	template := &x509.Certificate{
		Subject: pkix.Name{
			Organization:       []string{organization},
			OrganizationalUnit: a.rootCert.Subject.OrganizationalUnit,
			CommonName:         ControlServiceCommonName,
		},
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	// A literal IP goes in IPAddresses, anything else is a DNS name.
	if ip := net.ParseIP(hostname); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{hostname}
	}

	return a.sign(template)
}

// IssueNodeCredential issues a node certificate bound to a freshly
// generated UUID, which becomes the node's durable identity. Every call
// produces a distinct identity.
func (a *Authority) IssueNodeCredential() (*Credential, uuid.UUID, error) {
	nodeID := uuid.New()
	template := &x509.Certificate{
		Subject: pkix.Name{
			Organization:       []string{organization},
			OrganizationalUnit: a.rootCert.Subject.OrganizationalUnit,
			CommonName:         NodeCommonNamePrefix + nodeID.String(),
		},
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}

	cred, err := a.sign(template)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return cred, nodeID, nil
}

// IssueUserCredential issues an API client certificate for the given
// username. Client certificates carry clientAuth only: under no
// circumstances may an API client impersonate a server.
func (a *Authority) IssueUserCredential(username string) (*Credential, error) {
	if username == "" {
		return nil, fmt.Errorf("username must not be empty")
	}

	template := &x509.Certificate{
		Subject: pkix.Name{
			Organization:       []string{organization},
			OrganizationalUnit: a.rootCert.Subject.OrganizationalUnit,
			CommonName:         UserCommonNamePrefix + username,
		},
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	return a.sign(template)
}

// Verify checks that a certificate chains to this authority's root.
func (a *Authority) Verify(cert *x509.Certificate) error {
	return VerifyAgainst(cert, a.rootCert)
}

func (a *Authority) sign(template *x509.Certificate) (*Credential, error) {
	key, err := rsa.GenerateKey(rand.Reader, leafKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	serialNumber, err := randomSerial()
	if err != nil {
		return nil, err
	}
	template.SerialNumber = serialNumber
	template.NotBefore = time.Now()
	template.NotAfter = time.Now().Add(certValidity)

	certDER, err := x509.CreateCertificate(rand.Reader, template, a.rootCert, &key.PublicKey, a.rootKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &Credential{Cert: cert, Key: key}, nil
}

// VerifyAgainst checks that cert is signed by the given root certificate.
func VerifyAgainst(cert, root *x509.Certificate) error {
	if cert == nil {
		return fmt.Errorf("certificate is nil")
	}
	if root == nil {
		return fmt.Errorf("root certificate is nil")
	}

	roots := x509.NewCertPool()
	roots.AddCert(root)

	opts := x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}

	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("certificate verification failed: %w", err)
	}
	return nil
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serial, nil
}
