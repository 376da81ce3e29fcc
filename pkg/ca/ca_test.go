package ca

import (
	"crypto/x509"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
)

func TestNewAuthority(t *testing.T) {
	authority, err := NewAuthority("mycluster")
	if err != nil {
		t.Fatalf("Failed to create authority: %v", err)
	}

	if authority.ClusterName() != "mycluster" {
		t.Errorf("Expected cluster name mycluster, got %s", authority.ClusterName())
	}

	if !authority.Certificate().IsCA {
		t.Error("Root certificate should be a CA")
	}

	// Root is self-signed
	if err := VerifyAgainst(authority.Certificate(), authority.Certificate()); err != nil {
		t.Errorf("Root certificate should verify against itself: %v", err)
	}

	if _, err := authority.ClusterID(); err != nil {
		t.Errorf("Root certificate should carry a cluster UUID: %v", err)
	}
}

func TestNewAuthorityEmptyName(t *testing.T) {
	if _, err := NewAuthority(""); err == nil {
		t.Error("Expected error for empty cluster name")
	}
}

func TestWriteAuthorityRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()

	authority, err := NewAuthority("mycluster")
	if err != nil {
		t.Fatalf("Failed to create authority: %v", err)
	}

	if err := WriteAuthority(authority, dir); err != nil {
		t.Fatalf("Failed to write authority: %v", err)
	}

	// Both files exist with the documented names
	for _, name := range []string{AuthorityCertificateFilename, AuthorityKeyFilename} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("Expected %s to exist: %v", name, err)
		}
	}

	// Key is owner-only
	info, err := os.Stat(filepath.Join(dir, AuthorityKeyFilename))
	if err != nil {
		t.Fatalf("Failed to stat key: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("Expected key permissions 0600, got %o", perm)
	}

	// A second initialize must not clobber the trust root
	second, err := NewAuthority("other")
	if err != nil {
		t.Fatalf("Failed to create second authority: %v", err)
	}
	err = WriteAuthority(second, dir)
	if !errors.Is(err, ErrFileExists) {
		t.Errorf("Expected ErrFileExists, got %v", err)
	}
}

func TestLoadAuthorityRoundTrip(t *testing.T) {
	dir := t.TempDir()

	authority, err := NewAuthority("mycluster")
	if err != nil {
		t.Fatalf("Failed to create authority: %v", err)
	}
	if err := WriteAuthority(authority, dir); err != nil {
		t.Fatalf("Failed to write authority: %v", err)
	}

	loaded, err := LoadAuthority(dir)
	if err != nil {
		t.Fatalf("Failed to load authority: %v", err)
	}

	if !loaded.Certificate().Equal(authority.Certificate()) {
		t.Error("Loaded root certificate should match original")
	}

	// A loaded authority can still issue certificates
	if _, _, err := loaded.IssueNodeCredential(); err != nil {
		t.Errorf("Loaded authority failed to issue: %v", err)
	}
}

func TestLoadAuthorityMissing(t *testing.T) {
	if _, err := LoadAuthority(t.TempDir()); err == nil {
		t.Error("Expected error when root key/certificate are absent")
	}
}

func TestIssueControlCredential(t *testing.T) {
	authority, err := NewAuthority("mycluster")
	if err != nil {
		t.Fatalf("Failed to create authority: %v", err)
	}

	tests := []struct {
		name     string
		hostname string
		wantDNS  bool
	}{
		{"DNS hostname", "example.org", true},
		{"IP address", "10.0.0.5", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred, err := authority.IssueControlCredential(tt.hostname)
			if err != nil {
				t.Fatalf("Failed to issue control credential: %v", err)
			}

			if cred.Cert.Subject.CommonName != ControlServiceCommonName {
				t.Errorf("Expected CN %s, got %s", ControlServiceCommonName, cred.Cert.Subject.CommonName)
			}
			if !IsControlService(cred.Cert) {
				t.Error("Certificate should identify as control service")
			}

			if tt.wantDNS {
				if len(cred.Cert.DNSNames) != 1 || cred.Cert.DNSNames[0] != tt.hostname {
					t.Errorf("Expected DNS SAN %s, got %v", tt.hostname, cred.Cert.DNSNames)
				}
			} else {
				if len(cred.Cert.IPAddresses) != 1 || !cred.Cert.IPAddresses[0].Equal(net.ParseIP(tt.hostname)) {
					t.Errorf("Expected IP SAN %s, got %v", tt.hostname, cred.Cert.IPAddresses)
				}
			}

			// Valid under cluster.crt
			if err := authority.Verify(cred.Cert); err != nil {
				t.Errorf("Control certificate should verify: %v", err)
			}
		})
	}
}

func TestControlCredentialFilenames(t *testing.T) {
	dir := t.TempDir()

	authority, err := NewAuthority("mycluster")
	if err != nil {
		t.Fatalf("Failed to create authority: %v", err)
	}

	cred, err := authority.IssueControlCredential("example.org")
	if err != nil {
		t.Fatalf("Failed to issue control credential: %v", err)
	}

	certName := ControlCertificateFilename("example.org")
	keyName := ControlKeyFilename("example.org")
	if certName != "control-example.org.crt" || keyName != "control-example.org.key" {
		t.Errorf("Unexpected filenames: %s, %s", certName, keyName)
	}

	if err := WriteCredential(cred, dir, certName, keyName); err != nil {
		t.Fatalf("Failed to write credential: %v", err)
	}

	loaded, err := LoadTLSCertificate(filepath.Join(dir, certName), filepath.Join(dir, keyName))
	if err != nil {
		t.Fatalf("Failed to load written credential: %v", err)
	}
	if err := authority.Verify(loaded.Leaf); err != nil {
		t.Errorf("Written credential should verify under cluster.crt: %v", err)
	}
}

func TestIssueNodeCredentialUniqueIdentity(t *testing.T) {
	authority, err := NewAuthority("mycluster")
	if err != nil {
		t.Fatalf("Failed to create authority: %v", err)
	}

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		cred, nodeID, err := authority.IssueNodeCredential()
		if err != nil {
			t.Fatalf("Failed to issue node credential: %v", err)
		}

		if seen[nodeID.String()] {
			t.Fatalf("Node UUID %s reused across invocations", nodeID)
		}
		seen[nodeID.String()] = true

		// CN round-trips to the same UUID
		parsed, err := NodeID(cred.Cert)
		if err != nil {
			t.Fatalf("Failed to parse node ID from certificate: %v", err)
		}
		if parsed != nodeID {
			t.Errorf("Certificate CN UUID %s does not match issued %s", parsed, nodeID)
		}

		if err := authority.Verify(cred.Cert); err != nil {
			t.Errorf("Node certificate should verify: %v", err)
		}
	}
}

func TestIssueUserCredential(t *testing.T) {
	authority, err := NewAuthority("mycluster")
	if err != nil {
		t.Fatalf("Failed to create authority: %v", err)
	}

	cred, err := authority.IssueUserCredential("alice")
	if err != nil {
		t.Fatalf("Failed to issue user credential: %v", err)
	}

	name, err := Username(cred.Cert)
	if err != nil {
		t.Fatalf("Failed to extract username: %v", err)
	}
	if name != "alice" {
		t.Errorf("Expected username alice, got %s", name)
	}

	// Client certs must never carry ServerAuth
	for _, usage := range cred.Cert.ExtKeyUsage {
		if usage == x509.ExtKeyUsageServerAuth {
			t.Error("User certificate should not have ServerAuth extended key usage")
		}
	}
}

func TestVerifyRejectsForeignAuthority(t *testing.T) {
	authority, err := NewAuthority("mycluster")
	if err != nil {
		t.Fatalf("Failed to create authority: %v", err)
	}
	foreign, err := NewAuthority("othercluster")
	if err != nil {
		t.Fatalf("Failed to create foreign authority: %v", err)
	}

	cred, _, err := foreign.IssueNodeCredential()
	if err != nil {
		t.Fatalf("Failed to issue foreign credential: %v", err)
	}

	if err := authority.Verify(cred.Cert); err == nil {
		t.Error("Certificate from a foreign authority should not verify")
	}
}

func TestClusterIDSharedAcrossIssuance(t *testing.T) {
	authority, err := NewAuthority("mycluster")
	if err != nil {
		t.Fatalf("Failed to create authority: %v", err)
	}

	clusterID, err := authority.ClusterID()
	if err != nil {
		t.Fatalf("Failed to get cluster ID: %v", err)
	}

	nodeCred, _, err := authority.IssueNodeCredential()
	if err != nil {
		t.Fatalf("Failed to issue node credential: %v", err)
	}
	controlCred, err := authority.IssueControlCredential("example.org")
	if err != nil {
		t.Fatalf("Failed to issue control credential: %v", err)
	}

	for _, cert := range []*x509.Certificate{nodeCred.Cert, controlCred.Cert} {
		id, err := ClusterID(cert)
		if err != nil {
			t.Fatalf("Failed to extract cluster ID: %v", err)
		}
		if id != clusterID {
			t.Errorf("Expected cluster ID %s, got %s", clusterID, id)
		}
	}
}

func TestIdentityParsingRejectsWrongClass(t *testing.T) {
	authority, err := NewAuthority("mycluster")
	if err != nil {
		t.Fatalf("Failed to create authority: %v", err)
	}

	userCred, err := authority.IssueUserCredential("alice")
	if err != nil {
		t.Fatalf("Failed to issue user credential: %v", err)
	}

	var trustErr *TrustError
	if _, err := NodeID(userCred.Cert); !errors.As(err, &trustErr) {
		t.Errorf("Expected TrustError parsing node ID from user cert, got %v", err)
	}

	controlCred, err := authority.IssueControlCredential("example.org")
	if err != nil {
		t.Fatalf("Failed to issue control credential: %v", err)
	}
	if _, err := Username(controlCred.Cert); !errors.As(err, &trustErr) {
		t.Errorf("Expected TrustError parsing username from control cert, got %v", err)
	}
}
