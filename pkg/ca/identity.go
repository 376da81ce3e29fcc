package ca

import (
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TrustError reports a peer that presented a certificate which failed
// verification or carried the wrong identity class. A TrustError is fatal
// to the connection it occurred on and nothing else.
type TrustError struct {
	Subject string
	Reason  string
}

func (e *TrustError) Error() string {
	if e.Subject == "" {
		return "untrusted peer: " + e.Reason
	}
	return fmt.Sprintf("untrusted peer %q: %s", e.Subject, e.Reason)
}

// ClusterID extracts the cluster UUID from a certificate's OU.
func ClusterID(cert *x509.Certificate) (uuid.UUID, error) {
	ous := cert.Subject.OrganizationalUnit
	if len(ous) == 0 {
		return uuid.Nil, &TrustError{Subject: cert.Subject.CommonName, Reason: "no cluster UUID in certificate"}
	}
	id, err := uuid.Parse(ous[0])
	if err != nil {
		return uuid.Nil, &TrustError{Subject: cert.Subject.CommonName, Reason: "malformed cluster UUID in certificate"}
	}
	return id, nil
}

// NodeID extracts the node UUID from a node certificate's CN. It returns a
// TrustError if the certificate is not a node certificate.
func NodeID(cert *x509.Certificate) (uuid.UUID, error) {
	cn := cert.Subject.CommonName
	if !strings.HasPrefix(cn, NodeCommonNamePrefix) {
		return uuid.Nil, &TrustError{Subject: cn, Reason: "not a node certificate"}
	}
	id, err := uuid.Parse(strings.TrimPrefix(cn, NodeCommonNamePrefix))
	if err != nil {
		return uuid.Nil, &TrustError{Subject: cn, Reason: "malformed node UUID in certificate"}
	}
	return id, nil
}

// Username extracts the username from an API client certificate's CN. It
// returns a TrustError if the certificate is not a user certificate.
func Username(cert *x509.Certificate) (string, error) {
	cn := cert.Subject.CommonName
	if !strings.HasPrefix(cn, UserCommonNamePrefix) {
		return "", &TrustError{Subject: cn, Reason: "not an API user certificate"}
	}
	name := strings.TrimPrefix(cn, UserCommonNamePrefix)
	if name == "" {
		return "", &TrustError{Subject: cn, Reason: "empty username in certificate"}
	}
	return name, nil
}

// IsControlService reports whether the certificate identifies a control
// service.
func IsControlService(cert *x509.Certificate) bool {
	return cert.Subject.CommonName == ControlServiceCommonName
}
