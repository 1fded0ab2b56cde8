package cert_test

import (
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/websecurify/proxify/cert"
	"github.com/websecurify/proxify/cert/generator"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Authority", func() {
	var (
		authority *cert.Authority
		issued    []cert.Entry
		mutex     sync.Mutex
	)

	BeforeEach(func() {
		issued = nil
		authority = &cert.Authority{
			Default:   testRoot,
			KeyLength: testKeyLength,
		}
		authority.Subscribe(func(e cert.Entry) {
			mutex.Lock()
			defer mutex.Unlock()
			issued = append(issued, e)
		})
	})

	issuedCount := func() int {
		mutex.Lock()
		defer mutex.Unlock()
		return len(issued)
	}

	Describe("func GetOrCreate()", func() {
		It("issues a certificate for the domain", func() {
			r, err := authority.GetOrCreate("example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Domain).To(Equal("example.com"))
			Expect(r.Certificate.Subject.CommonName).To(Equal("example.com"))
			Expect(r.Certificate.Issuer.String()).To(Equal(testRoot.Certificate.Subject.String()))
			Expect(r.Certificate.CheckSignatureFrom(testRoot.Certificate)).To(Succeed())
		})

		It("returns the cached record on subsequent calls", func() {
			a, err := authority.GetOrCreate("example.com")
			Expect(err).NotTo(HaveOccurred())
			b, err := authority.GetOrCreate("example.com")
			Expect(err).NotTo(HaveOccurred())

			Expect(b).To(BeIdenticalTo(a))
			Expect(b.Certificate.Signature).To(Equal(a.Certificate.Signature))
			Expect(issuedCount()).To(Equal(1))
		})

		It("issues distinct certificates for distinct domains", func() {
			a, err := authority.GetOrCreate("a.example.com")
			Expect(err).NotTo(HaveOccurred())
			b, err := authority.GetOrCreate("b.example.com")
			Expect(err).NotTo(HaveOccurred())

			Expect(a.Certificate.Subject.String()).NotTo(Equal(b.Certificate.Subject.String()))
			Expect(a.Certificate.SerialNumber).NotTo(Equal(b.Certificate.SerialNumber))
			Expect(fmt.Sprintf("%032x", a.Certificate.SerialNumber)).To(Equal(generator.DomainSerialNumber("a.example.com")))
			Expect(fmt.Sprintf("%032x", b.Certificate.SerialNumber)).To(Equal(generator.DomainSerialNumber("b.example.com")))
			Expect(issuedCount()).To(Equal(2))
		})

		It("notifies observers after the entry is stored", func() {
			var found bool
			authority.Subscribe(func(e cert.Entry) {
				_, found = authority.Lookup(e.Domain)
			})

			_, err := authority.GetOrCreate("example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
		})

		It("issues exactly one certificate under concurrent first access", func() {
			const n = 16

			var wg sync.WaitGroup
			records := make([]*cert.Record, n)

			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()

					r, err := authority.GetOrCreate("concurrent.example.com")
					Expect(err).NotTo(HaveOccurred())
					records[i] = r
				}(i)
			}

			wg.Wait()

			for _, r := range records {
				Expect(r).To(BeIdenticalTo(records[0]))
			}
			Expect(issuedCount()).To(Equal(1))
			Expect(authority.Len()).To(Equal(1))
		})

		It("uses the override credential for the domain", func() {
			override, err := cert.IssueRoot("Override Root", "", testKeyLength)
			Expect(err).NotTo(HaveOccurred())

			authority.Overrides = map[string]*cert.Credential{
				"override.example.com": override,
			}

			r, err := authority.GetOrCreate("override.example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Certificate.Issuer.CommonName).To(Equal("Override Root"))

			r, err = authority.GetOrCreate("example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Certificate.Issuer.CommonName).To(Equal("Test Root"))
		})

		It("uses the credential of the most specific matching pattern", func() {
			wildcard, err := cert.IssueRoot("Wildcard Root", "", testKeyLength)
			Expect(err).NotTo(HaveOccurred())

			specific, err := cert.IssueRoot("Specific Root", "", testKeyLength)
			Expect(err).NotTo(HaveOccurred())

			authority.Overrides = map[string]*cert.Credential{
				"*.example.com":     wildcard,
				"*.api.example.com": specific,
			}

			r, err := authority.GetOrCreate("www.example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Certificate.Issuer.CommonName).To(Equal("Wildcard Root"))

			r, err = authority.GetOrCreate("v1.api.example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Certificate.Issuer.CommonName).To(Equal("Specific Root"))

			r, err = authority.GetOrCreate("example.org")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Certificate.Issuer.CommonName).To(Equal("Test Root"))
		})

		It("returns an error without caching if there is no credential", func() {
			authority.Default = nil

			_, err := authority.GetOrCreate("example.com")
			Expect(err).To(MatchError(cert.ErrNoCredential))
			Expect(authority.Len()).To(Equal(0))
			Expect(issuedCount()).To(Equal(0))
		})

		It("logs the issued certificate", func() {
			logger, hook := test.NewNullLogger()
			authority.Logger = logger

			_, err := authority.GetOrCreate("example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(hook.LastEntry().Message).To(HavePrefix("Issued certificate for 'example.com', expires at "))
			Expect(hook.LastEntry().Message).To(HaveSuffix(", issued by 'Test Root'"))
		})
	})

	Describe("func Insert()", func() {
		It("adds the record to the cache and notifies observers", func() {
			r, err := cert.IssueLeaf("seeded.example.com", testRoot, "", testKeyLength)
			Expect(err).NotTo(HaveOccurred())

			authority.Insert("seeded.example.com", r)

			found, err := authority.GetOrCreate("seeded.example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeIdenticalTo(r))
			Expect(issuedCount()).To(Equal(1))
			Expect(issued[0].Record).To(BeIdenticalTo(r))
		})
	})

	Describe("func Clear()", func() {
		It("removes every record", func() {
			_, err := authority.GetOrCreate("example.com")
			Expect(err).NotTo(HaveOccurred())

			authority.Clear()

			_, ok := authority.Lookup("example.com")
			Expect(ok).To(BeFalse())
			Expect(authority.Len()).To(Equal(0))
		})
	})

	Describe("func GetCertificate()", func() {
		It("returns the certificate for the normalized server name", func() {
			c, err := authority.GetCertificate(&tls.ClientHelloInfo{ServerName: "Example.COM"})
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Leaf.Subject.CommonName).To(Equal("example.com"))
		})

		It("returns an error if there is no server name", func() {
			_, err := authority.GetCertificate(&tls.ClientHelloInfo{})
			Expect(err).To(HaveOccurred())
		})
	})
})
