package cert

import (
	"crypto"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/websecurify/proxify/cert/generator"
)

// Credential is a private key and the certificate that goes with it. A root
// credential's certificate is self-signed and is used to sign host
// certificates.
type Credential struct {
	PrivateKey  crypto.Signer
	Certificate *x509.Certificate
}

// IssueRoot generates a new self-signed CA credential.
//
// If serialNumber is empty a random serial number is used. If keyLength is
// zero, generator.DefaultKeyLength is used.
func IssueRoot(
	commonName string,
	serialNumber string,
	keyLength int,
) (*Credential, error) {
	g := &generator.SelfSignedGenerator{KeyLength: keyLength}

	key, certificate, err := g.Generate(commonName, serialNumber)
	if err != nil {
		return nil, fmt.Errorf("unable to issue root certificate '%s': %w", commonName, err)
	}

	return &Credential{
		PrivateKey:  key,
		Certificate: certificate,
	}, nil
}

// TLSCertificate returns the credential in the form used by crypto/tls.
func (c *Credential) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{c.Certificate.Raw},
		PrivateKey:  c.PrivateKey,
		Leaf:        c.Certificate,
	}
}

// CertPool returns a pool containing only the credential's certificate, for
// use by clients that should trust certificates it signs.
func (c *Credential) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(c.Certificate)
	return pool
}

// Record is a host certificate and its key, issued for a single domain.
//
// Records are never modified once created.
type Record struct {
	Domain      string
	PrivateKey  *rsa.PrivateKey
	Certificate *x509.Certificate

	tls *tls.Certificate
}

// NewRecord returns a record for an existing key pair.
func NewRecord(
	domain string,
	key *rsa.PrivateKey,
	certificate *x509.Certificate,
	chain ...*x509.Certificate,
) *Record {
	raw := [][]byte{certificate.Raw}
	for _, c := range chain {
		raw = append(raw, c.Raw)
	}

	return &Record{
		Domain:      domain,
		PrivateKey:  key,
		Certificate: certificate,
		tls: &tls.Certificate{
			Certificate: raw,
			PrivateKey:  key,
			Leaf:        certificate,
		},
	}
}

// IssueLeaf generates a key pair for domain and a certificate signed by
// signer.
//
// If serialNumber is empty the serial number is the hex MD5 digest of the
// domain. If keyLength is zero, generator.DefaultKeyLength is used.
func IssueLeaf(
	domain string,
	signer *Credential,
	serialNumber string,
	keyLength int,
) (*Record, error) {
	if signer == nil {
		return nil, ErrNoCredential
	}

	g := &generator.IssuerSignedGenerator{
		IssuerCertificate: signer.Certificate,
		IssuerKey:         signer.PrivateKey,
		KeyLength:         keyLength,
	}

	key, certificate, err := g.Generate(domain, serialNumber)
	if err != nil {
		return nil, fmt.Errorf("unable to issue certificate for '%s': %w", domain, err)
	}

	return NewRecord(domain, key, certificate), nil
}

// TLSCertificate returns the record in the form used by crypto/tls.
func (r *Record) TLSCertificate() *tls.Certificate {
	if r.tls != nil {
		return r.tls
	}

	return &tls.Certificate{
		Certificate: [][]byte{r.Certificate.Raw},
		PrivateKey:  r.PrivateKey,
		Leaf:        r.Certificate,
	}
}
