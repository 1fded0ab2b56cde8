package generator

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"time"
)

func newTemplateCertificate(
	subject pkix.Name,
	serialNumber string,
	isCA bool,
) (*x509.Certificate, error) {
	serial, err := ParseSerialNumber(serialNumber)
	if err != nil {
		return nil, err
	}

	notBefore, notAfter := validity(time.Now())

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		BasicConstraintsValid: true,
		IsCA:                  isCA,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
	}

	if isCA {
		template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
	} else {
		template.KeyUsage = x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	}

	return template, nil
}
