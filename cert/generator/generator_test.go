package generator_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"time"

	"github.com/websecurify/proxify/cert/generator"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

const testKeyLength = 1024

var _ = Describe("type SelfSignedGenerator", func() {
	var subject *generator.SelfSignedGenerator

	BeforeEach(func() {
		subject = &generator.SelfSignedGenerator{KeyLength: testKeyLength}
	})

	Describe("func Generate()", func() {
		It("generates a CA certificate", func() {
			key, c, err := subject.Generate("Test Root", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(key.N.BitLen()).To(Equal(testKeyLength))
			Expect(c.IsCA).To(BeTrue())
			Expect(c.BasicConstraintsValid).To(BeTrue())
			Expect(c.KeyUsage & x509.KeyUsageCertSign).NotTo(BeZero())
			Expect(c.CheckSignatureFrom(c)).To(Succeed())
		})

		It("uses the default subject attributes", func() {
			_, c, err := subject.Generate("Test Root", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Subject.CommonName).To(Equal("Test Root"))
			Expect(c.Subject.Country).To(Equal([]string{"GB"}))
			Expect(c.Subject.Organization).To(Equal([]string{"SecApps"}))
			Expect(c.Subject.Province).To(Equal([]string{"SA"}))
			Expect(c.Subject.OrganizationalUnit).To(Equal([]string{"SecApps"}))
		})

		It("uses the configured subject attributes", func() {
			subject.Subject = &pkix.Name{Organization: []string{"Acme"}}

			_, c, err := subject.Generate("Test Root", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Subject.CommonName).To(Equal("Test Root"))
			Expect(c.Subject.Organization).To(Equal([]string{"Acme"}))
			Expect(c.Subject.Country).To(BeEmpty())
		})

		It("is valid from ten years ago until ten years from now", func() {
			_, c, err := subject.Generate("Test Root", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.NotBefore).To(BeTemporally("~", time.Now().AddDate(-10, 0, 0), time.Minute))
			Expect(c.NotAfter).To(BeTemporally("~", time.Now().AddDate(10, 0, 0), time.Minute))
		})

		It("uses the given serial number", func() {
			_, c, err := subject.Generate("Test Root", "01")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.SerialNumber.Int64()).To(Equal(int64(1)))
		})

		It("uses a random serial number by default", func() {
			_, a, err := subject.Generate("Test Root", "")
			Expect(err).NotTo(HaveOccurred())
			_, b, err := subject.Generate("Test Root", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(a.SerialNumber).NotTo(Equal(b.SerialNumber))
		})

		It("returns an error if the serial number is invalid", func() {
			_, _, err := subject.Generate("Test Root", "not-a-number")
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("type IssuerSignedGenerator", func() {
	var (
		issuer  *x509.Certificate
		subject *generator.IssuerSignedGenerator
	)

	BeforeEach(func() {
		root := &generator.SelfSignedGenerator{KeyLength: testKeyLength}
		key, c, err := root.Generate("Test Root", "")
		Expect(err).NotTo(HaveOccurred())

		issuer = c
		subject = &generator.IssuerSignedGenerator{
			IssuerCertificate: c,
			IssuerKey:         key,
			KeyLength:         testKeyLength,
		}
	})

	Describe("func Generate()", func() {
		It("generates a leaf certificate signed by the issuer", func() {
			_, c, err := subject.Generate("example.com", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.IsCA).To(BeFalse())
			Expect(c.Subject.CommonName).To(Equal("example.com"))
			Expect(c.Issuer.String()).To(Equal(issuer.Subject.String()))
			Expect(c.SignatureAlgorithm).To(Equal(x509.SHA256WithRSA))
			Expect(c.CheckSignatureFrom(issuer)).To(Succeed())
		})

		It("verifies against the issuer for the domain", func() {
			_, c, err := subject.Generate("example.com", "")
			Expect(err).NotTo(HaveOccurred())

			roots := x509.NewCertPool()
			roots.AddCert(issuer)

			_, err = c.Verify(x509.VerifyOptions{
				DNSName: "example.com",
				Roots:   roots,
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns an error if there is no issuer", func() {
			subject.IssuerKey = nil

			_, _, err := subject.Generate("example.com", "")
			Expect(err).To(HaveOccurred())
		})

		It("returns an error if the issuer key is not an RSA or ECDSA key", func() {
			_, key, err := ed25519.GenerateKey(rand.Reader)
			Expect(err).NotTo(HaveOccurred())

			subject.IssuerKey = key

			_, _, err = subject.Generate("example.com", "")
			Expect(err).To(MatchError(generator.ErrUnsupportedIssuerKey))
		})

		DescribeTable(
			"adds a single subjectAltName entry",
			func(domain string, dns []string, ip []string) {
				_, c, err := subject.Generate(domain, "")
				Expect(err).NotTo(HaveOccurred())

				var ips []string
				for _, addr := range c.IPAddresses {
					ips = append(ips, addr.String())
				}

				Expect(c.DNSNames).To(Equal(dns))
				Expect(ips).To(Equal(ip))
			},
			Entry("DNS entry for a domain name", "example.com", []string{"example.com"}, nil),
			Entry("IP entry for a dotted-quad", "203.0.113.5", nil, []string{"203.0.113.5"}),
			Entry("IP entry for an out of range dotted-quad", "999.999.999.999", nil, []string{"231.231.231.231"}),
			Entry("DNS entry for a partial dotted-quad", "1.2.3", []string{"1.2.3"}, nil),
		)

		DescribeTable(
			"uses the hex MD5 of the domain as the default serial number",
			func(domain, expected string) {
				_, c, err := subject.Generate(domain, "")
				Expect(err).NotTo(HaveOccurred())
				Expect(fmt.Sprintf("%032x", c.SerialNumber)).To(Equal(expected))
			},
			Entry("example.com", "example.com", "5ababd603b22780302dd8d83498e5172"),
			Entry("203.0.113.5", "203.0.113.5", generator.DomainSerialNumber("203.0.113.5")),
		)
	})
})

var _ = DescribeTable(
	"func IsDottedQuad()",
	func(domain string, expected bool) {
		Expect(generator.IsDottedQuad(domain)).To(Equal(expected))
	},
	Entry("IPv4 address", "203.0.113.5", true),
	Entry("out of range octets", "999.999.999.999", true),
	Entry("domain name", "example.com", false),
	Entry("three parts", "1.2.3", false),
	Entry("trailing dot", "1.2.3.4.", false),
	Entry("IPv6 address", "::1", false),
)

var _ = Describe("func DomainSerialNumber()", func() {
	It("returns the lowercase hex MD5 of the domain", func() {
		Expect(generator.DomainSerialNumber("example.com")).To(Equal("5ababd603b22780302dd8d83498e5172"))
	})

	It("returns distinct serial numbers for distinct domains", func() {
		Expect(generator.DomainSerialNumber("a.example.com")).NotTo(Equal(generator.DomainSerialNumber("b.example.com")))
	})
})
