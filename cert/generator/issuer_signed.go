package generator

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
)

// ErrUnsupportedIssuerKey is returned by IssuerSignedGenerator.Generate() if
// the issuer key is neither an RSA nor an ECDSA key.
var ErrUnsupportedIssuerKey = errors.New("issuer key must be an RSA or ECDSA key")

// IssuerSignedGenerator generates host certificates signed by a separate
// issuer certificate, typically a self-signed CA certificate.
type IssuerSignedGenerator struct {
	// IssuerCertificate is the X509 certificate of the issuer.
	IssuerCertificate *x509.Certificate

	// IssuerKey is the issuer's private key. It must be an RSA or ECDSA key.
	IssuerKey crypto.Signer

	// KeyLength is the size of the generated RSA key in bits. If it is zero,
	// DefaultKeyLength is used.
	KeyLength int

	// Subject holds the subject attributes applied to the certificate. The
	// common name is always replaced by the domain. If it is nil,
	// DefaultSubject is used.
	Subject *pkix.Name
}

// Generate creates a new key pair and certificate for domain. If serialNumber
// is empty the serial number is derived from the domain, see
// DomainSerialNumber().
func (generator *IssuerSignedGenerator) Generate(
	domain string,
	serialNumber string,
) (*rsa.PrivateKey, *x509.Certificate, error) {
	if generator.IssuerCertificate == nil || generator.IssuerKey == nil {
		return nil, nil, errors.New("issuer certificate and key are required")
	}

	algorithm := signatureAlgorithm(generator.IssuerKey)
	if algorithm == x509.UnknownSignatureAlgorithm {
		return nil, nil, ErrUnsupportedIssuerKey
	}

	if serialNumber == "" {
		serialNumber = DomainSerialNumber(domain)
	}

	template, err := newTemplateCertificate(
		subject(generator.Subject, domain),
		serialNumber,
		false,
	)
	if err != nil {
		return nil, nil, err
	}

	san, err := subjectAltName(domain)
	if err != nil {
		return nil, nil, err
	}
	template.ExtraExtensions = []pkix.Extension{san}
	template.SignatureAlgorithm = algorithm

	key, err := rsa.GenerateKey(rand.Reader, keyLength(generator.KeyLength))
	if err != nil {
		return nil, nil, err
	}

	raw, err := x509.CreateCertificate(
		rand.Reader,
		template,
		generator.IssuerCertificate,
		&key.PublicKey,
		generator.IssuerKey,
	)
	if err != nil {
		return nil, nil, err
	}

	certificate, err := x509.ParseCertificate(raw)
	if err != nil {
		return nil, nil, err
	}

	return key, certificate, nil
}
