package name

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/idna"
)

// ServerName is a host name in both of its renderings.
type ServerName struct {
	Unicode  string
	Punycode string
}

// Parse produces a ServerName value from a string, or panics if
// it is unable to do so.
func Parse(name string) ServerName {
	n, err := TryParse(name)
	if err != nil {
		panic(err)
	}

	return n
}

// TryParse attempts to produce a ServerName value from a string. The name must
// be a syntactically valid domain name.
func TryParse(name string) (ServerName, error) {
	var n ServerName
	var err error

	lowercase := strings.TrimSuffix(strings.ToLower(name), ".")
	n.Punycode, err = idna.ToASCII(lowercase)
	if err != nil {
		return n, err
	} else if !isDomainName(n.Punycode) {
		return n, fmt.Errorf("invalid server name '%s'", name)
	}

	n.Unicode, err = idna.ToUnicode(lowercase)

	return n, err
}

// Normalize returns the form of host used to key certificates and listeners:
// lowercase ASCII, with international names converted to punycode.
//
// Hosts that are not valid domain names, such as IP addresses, are accepted
// and returned lowercased.
func Normalize(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")

	if ascii, err := idna.ToASCII(host); err == nil {
		return ascii
	}

	return host
}

// SplitHost splits a "host:port" string on its first colon. The port is empty
// if there is none. An IPv6 literal must be enclosed in square brackets, which
// are removed.
func SplitHost(hostport string) (host, port string) {
	if strings.HasPrefix(hostport, "[") {
		if end := strings.IndexByte(hostport, ']'); end != -1 {
			host = hostport[1:end]
			port = strings.TrimPrefix(hostport[end+1:], ":")
			return host, port
		}
	}

	if i := strings.IndexByte(hostport, ':'); i != -1 {
		return hostport[:i], hostport[i+1:]
	}

	return hostport, ""
}

// JoinHost is the inverse of SplitHost.
func JoinHost(host, port string) string {
	if strings.IndexByte(host, ':') != -1 {
		host = "[" + host + "]"
	}

	if port == "" {
		return host
	}

	return host + ":" + port
}

// FromHTTP returns the normalized host name from an HTTP request's Host
// header, without the port.
func FromHTTP(request *http.Request) string {
	host, _ := SplitHost(request.Host)
	return Normalize(host)
}

// FromTLS returns the normalized server name from a TLS client hello.
func FromTLS(info *tls.ClientHelloInfo) string {
	return Normalize(info.ServerName)
}

// isDomainName checks if the given domain name is valid.
func isDomainName(domainName string) bool {
	if len(domainName) == 0 || len(domainName) > 255 {
		return false
	}

	hasLetter := false
	atomLength := 0
	previous := byte('.')

	for i := 0; i < len(domainName); i++ {
		c := domainName[i]

		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', c == '_':
			hasLetter = true
			atomLength++
		case '0' <= c && c <= '9':
			atomLength++
		case c == '-':
			if previous == '.' {
				return false
			}
			atomLength++
		case c == '.':
			if previous == '.' || previous == '-' || atomLength > 63 || atomLength == 0 {
				return false
			}
			atomLength = 0
		default:
			return false
		}

		previous = c
	}

	return hasLetter &&
		previous != '-' &&
		previous != '.' &&
		atomLength < 64
}
