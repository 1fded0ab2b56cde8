package generator

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"regexp"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var oidExtensionSubjectAltName = asn1.ObjectIdentifier{2, 5, 29, 17}

// dottedQuad matches anything shaped like an IPv4 address. Octets are not
// range checked.
var dottedQuad = regexp.MustCompile(`^\d+?\.\d+?\.\d+?\.\d+?$`)

// GeneralName tags, see RFC 5280 section 4.2.1.6.
const (
	tagDNSName   = 2
	tagIPAddress = 7
)

// IsDottedQuad returns true if domain is rendered as an IPv4 address, in which
// case its certificate carries an IP subjectAltName instead of a DNS one.
func IsDottedQuad(domain string) bool {
	return dottedQuad.MatchString(domain)
}

// subjectAltName builds a subjectAltName extension with a single entry for
// domain.
//
// The extension is encoded by hand rather than via x509.Certificate.IPAddresses
// because every dotted-quad must produce an IP entry, including ones such as
// "999.999.999.999" that net.ParseIP() rejects.
func subjectAltName(domain string) (pkix.Extension, error) {
	var b cryptobyte.Builder

	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		if IsDottedQuad(domain) {
			b.AddASN1(cryptobyte_asn1.Tag(tagIPAddress).ContextSpecific(), func(b *cryptobyte.Builder) {
				b.AddBytes(ipv4Octets(domain))
			})
		} else {
			b.AddASN1(cryptobyte_asn1.Tag(tagDNSName).ContextSpecific(), func(b *cryptobyte.Builder) {
				b.AddBytes([]byte(domain))
			})
		}
	})

	der, err := b.Bytes()
	if err != nil {
		return pkix.Extension{}, err
	}

	return pkix.Extension{
		Id:    oidExtensionSubjectAltName,
		Value: der,
	}, nil
}

// ipv4Octets converts a dotted-quad to four bytes. Out of range octets wrap
// modulo 256.
func ipv4Octets(domain string) []byte {
	octets := make([]byte, 0, 4)
	var current byte

	for i := 0; i < len(domain); i++ {
		c := domain[i]
		if c == '.' {
			octets = append(octets, current)
			current = 0
			continue
		}

		current = current*10 + (c - '0')
	}

	return append(octets, current)
}
