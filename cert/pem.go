package cert

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// ErrInvalidPEM is returned when PEM input does not contain the expected
// block.
var ErrInvalidPEM = errors.New("invalid PEM data")

// EncodePrivateKeyPEM renders a private key in PEM format. RSA keys use the
// PKCS #1 "RSA PRIVATE KEY" form, all other keys use PKCS #8.
func EncodePrivateKeyPEM(key crypto.Signer) ([]byte, error) {
	if k, ok := key.(*rsa.PrivateKey); ok {
		return pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(k),
		}), nil
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// EncodePublicKeyPEM renders a public key as a PEM "PUBLIC KEY" block.
func EncodePublicKeyPEM(key crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, err
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// EncodeCertificatePEM renders a certificate as a PEM "CERTIFICATE" block.
func EncodeCertificatePEM(c *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})
}

// ParsePrivateKeyPEM parses the first private key block in data. PKCS #1,
// PKCS #8 and SEC 1 (EC) encodings are accepted.
func ParsePrivateKeyPEM(data []byte) (crypto.Signer, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("%w: no private key found", ErrInvalidPEM)
		}

		switch block.Type {
		case "RSA PRIVATE KEY":
			return x509.ParsePKCS1PrivateKey(block.Bytes)
		case "EC PRIVATE KEY":
			return x509.ParseECPrivateKey(block.Bytes)
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}

			signer, ok := key.(crypto.Signer)
			if !ok {
				return nil, fmt.Errorf("%w: unsupported private key type %T", ErrInvalidPEM, key)
			}

			return signer, nil
		}
	}
}

// ParsePublicKeyPEM parses the first "PUBLIC KEY" block in data.
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	block := findBlock(data, "PUBLIC KEY")
	if block == nil {
		return nil, fmt.Errorf("%w: no public key found", ErrInvalidPEM)
	}

	return x509.ParsePKIXPublicKey(block.Bytes)
}

// ParseCertificatePEM parses the first "CERTIFICATE" block in data.
func ParseCertificatePEM(data []byte) (*x509.Certificate, error) {
	block := findBlock(data, "CERTIFICATE")
	if block == nil {
		return nil, fmt.Errorf("%w: no certificate found", ErrInvalidPEM)
	}

	return x509.ParseCertificate(block.Bytes)
}

// ParseRecordPEM builds a host certificate record from PEM encoded certificate
// and key data. The key must be an RSA key.
func ParseRecordPEM(domain string, certificatePEM, keyPEM []byte) (*Record, error) {
	certificate, err := ParseCertificatePEM(certificatePEM)
	if err != nil {
		return nil, err
	}

	key, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: host keys must be RSA keys, got %T", ErrInvalidPEM, key)
	}

	return NewRecord(domain, rsaKey, certificate), nil
}

// LoadCredential reads a certificate and private key from PEM files.
func LoadCredential(certificatePath, keyPath string) (*Credential, error) {
	certificatePEM, err := os.ReadFile(certificatePath)
	if err != nil {
		return nil, err
	}

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	certificate, err := ParseCertificatePEM(certificatePEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", certificatePath, err)
	}

	key, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", keyPath, err)
	}

	return &Credential{PrivateKey: key, Certificate: certificate}, nil
}

// SaveCredential writes a credential to PEM files. The key file is only
// readable by its owner.
func SaveCredential(c *Credential, certificatePath, keyPath string) error {
	keyPEM, err := EncodePrivateKeyPEM(c.PrivateKey)
	if err != nil {
		return err
	}

	if err := os.WriteFile(certificatePath, EncodeCertificatePEM(c.Certificate), 0644); err != nil {
		return err
	}

	return os.WriteFile(keyPath, keyPEM, 0600)
}

func findBlock(data []byte, blockType string) *pem.Block {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil || block.Type == blockType {
			return block
		}
	}
}
