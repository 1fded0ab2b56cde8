package cert

import (
	"crypto/tls"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/websecurify/proxify/logging"
	"github.com/websecurify/proxify/name"
	"golang.org/x/sync/singleflight"
)

// ErrNoCredential is returned when a certificate is requested but no signing
// credential is available for the domain.
var ErrNoCredential = errors.New("no signing credential")

// Entry describes a certificate that has been added to an authority's cache.
type Entry struct {
	Domain string
	Record *Record
}

// Observer is notified of each new cache entry.
type Observer func(Entry)

// Authority issues and caches host certificates.
//
// At most one certificate is issued per domain, no matter how many goroutines
// request it concurrently. Cached certificates never expire, they are only
// removed by Clear().
type Authority struct {
	// Default is the credential used to sign host certificates when the domain
	// has no override. Credentials must hold an RSA or ECDSA key, issuing with
	// any other key fails with generator.ErrUnsupportedIssuerKey.
	Default *Credential

	// Overrides maps domains, or host name patterns such as "*.example.com",
	// to credentials used in place of Default. The most specific matching
	// pattern is used. It must not be modified once the authority is in use.
	Overrides map[string]*Credential

	// KeyLength is the size in bits of the RSA keys generated for host
	// certificates. If it is zero, generator.DefaultKeyLength is used.
	KeyLength int

	// Logger is the destination for messages about certificate issuance.
	Logger logrus.FieldLogger

	mutex     sync.RWMutex
	entries   map[string]*Record
	observers []Observer
	group     singleflight.Group
}

// Subscribe registers fn to be called with every new cache entry, whether it
// was issued or inserted. Observers are called synchronously, after the entry
// has been stored.
func (a *Authority) Subscribe(fn Observer) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.observers = append(a.observers, fn)
}

// Lookup returns the cached record for domain, if any.
func (a *Authority) Lookup(domain string) (*Record, bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	r, ok := a.entries[domain]
	return r, ok
}

// Len returns the number of cached records.
func (a *Authority) Len() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return len(a.entries)
}

// Clear removes every record from the cache.
func (a *Authority) Clear() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.entries = nil
}

// GetOrCreate returns the cached record for domain, issuing a new one if there
// is none.
func (a *Authority) GetOrCreate(domain string) (*Record, error) {
	if r, ok := a.Lookup(domain); ok {
		return r, nil
	}

	v, err, _ := a.group.Do(domain, func() (interface{}, error) {
		// Another call may have stored the record between Lookup() and Do().
		if r, ok := a.Lookup(domain); ok {
			return r, nil
		}

		r, err := IssueLeaf(domain, a.credential(domain), "", a.KeyLength)
		if err != nil {
			return nil, err
		}

		logging.Default(a.Logger).Infof(
			"Issued certificate for '%s', expires at %s, issued by '%s'",
			domain,
			r.Certificate.NotAfter.Format(time.RFC3339),
			r.Certificate.Issuer.CommonName,
		)

		a.store(domain, r)

		return r, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*Record), nil
}

// Insert adds a precomputed record to the cache, replacing any existing
// record for the domain.
func (a *Authority) Insert(domain string, r *Record) {
	a.store(domain, r)
}

// GetCertificate returns the certificate for the server name in a TLS client
// hello. It can be used as the GetCertificate function of a tls.Config.
func (a *Authority) GetCertificate(info *tls.ClientHelloInfo) (*tls.Certificate, error) {
	domain := name.FromTLS(info)
	if domain == "" {
		return nil, errors.New("client hello has no server name")
	}

	r, err := a.GetOrCreate(domain)
	if err != nil {
		return nil, err
	}

	return r.TLSCertificate(), nil
}

func (a *Authority) credential(domain string) *Credential {
	if c, ok := a.Overrides[domain]; ok {
		return c
	}

	credential, pattern, score := a.Default, "", 0

	for p, c := range a.Overrides {
		m, err := name.NewMatcher(p)
		if err != nil {
			continue
		}

		s := m.Match(domain)
		if s > score || (s == score && s > 0 && p < pattern) {
			credential, pattern, score = c, p, s
		}
	}

	return credential
}

func (a *Authority) store(domain string, r *Record) {
	a.mutex.Lock()
	if a.entries == nil {
		a.entries = map[string]*Record{}
	}
	a.entries[domain] = r
	observers := a.observers
	a.mutex.Unlock()

	e := Entry{Domain: domain, Record: r}
	for _, fn := range observers {
		fn(e)
	}
}
