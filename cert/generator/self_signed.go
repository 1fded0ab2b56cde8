package generator

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
)

// SelfSignedGenerator generates self-signed certificate authority key pairs.
type SelfSignedGenerator struct {
	// KeyLength is the size of the generated RSA key in bits. If it is zero,
	// DefaultKeyLength is used.
	KeyLength int

	// Subject holds the subject attributes applied to the certificate. The
	// common name is always replaced. If it is nil, DefaultSubject is used.
	Subject *pkix.Name
}

// Generate creates a new CA key pair and certificate with the given common
// name. If serialNumber is empty a random serial number is used.
func (generator *SelfSignedGenerator) Generate(
	commonName string,
	serialNumber string,
) (*rsa.PrivateKey, *x509.Certificate, error) {
	if serialNumber == "" {
		var err error
		serialNumber, err = RandomSerialNumber()
		if err != nil {
			return nil, nil, err
		}
	}

	key, err := rsa.GenerateKey(rand.Reader, keyLength(generator.KeyLength))
	if err != nil {
		return nil, nil, err
	}

	template, err := newTemplateCertificate(
		subject(generator.Subject, commonName),
		serialNumber,
		true,
	)
	if err != nil {
		return nil, nil, err
	}
	template.SignatureAlgorithm = x509.SHA256WithRSA

	raw, err := x509.CreateCertificate(
		rand.Reader,
		template,
		template,
		&key.PublicKey,
		key,
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
