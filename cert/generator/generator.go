package generator

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"time"
)

// DefaultKeyLength is the RSA modulus size used when a generator's KeyLength
// attribute is not specified.
const DefaultKeyLength = 2048

// DefaultValidityYears is the number of years before and after the current time
// that a generated certificate is valid for.
const DefaultValidityYears = 10

// DefaultSubject holds the subject attributes, other than the common name, that
// are applied to generated certificates when a generator's Subject attribute is
// not specified.
var DefaultSubject = pkix.Name{
	Country:            []string{"GB"},
	Organization:       []string{"SecApps"},
	Province:           []string{"SA"},
	OrganizationalUnit: []string{"SecApps"},
}

// validity returns the NotBefore and NotAfter values for a certificate
// generated at now.
func validity(now time.Time) (time.Time, time.Time) {
	return now.AddDate(-DefaultValidityYears, 0, 0),
		now.AddDate(DefaultValidityYears, 0, 0)
}

func keyLength(n int) int {
	if n == 0 {
		return DefaultKeyLength
	}

	return n
}

func subject(base *pkix.Name, commonName string) pkix.Name {
	s := DefaultSubject
	if base != nil {
		s = *base
	}

	s.CommonName = commonName
	return s
}

// signatureAlgorithm picks a SHA-256 based signature algorithm that matches
// the signing key. Only RSA and ECDSA keys are supported.
func signatureAlgorithm(key crypto.Signer) x509.SignatureAlgorithm {
	switch key.Public().(type) {
	case *rsa.PublicKey:
		return x509.SHA256WithRSA
	case *ecdsa.PublicKey:
		return x509.ECDSAWithSHA256
	default:
		return x509.UnknownSignatureAlgorithm
	}
}
