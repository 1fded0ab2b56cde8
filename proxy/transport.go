package proxy

import (
	"crypto/tls"
	"net/http"
	"time"
)

// DefaultTransports returns the transports used when a proxy's Transports
// field is nil. Both "http" and "https" share a single *http.Transport that
// does not use an upstream proxy and does not negotiate HTTP/2.
//
// tlsConfig configures connections to HTTPS servers, it may be nil.
func DefaultTransports(tlsConfig *tls.Config) map[string]http.RoundTripper {
	t := &http.Transport{
		Proxy:                 nil,
		DialContext:           http.DefaultTransport.(*http.Transport).DialContext,
		MaxIdleConns:          http.DefaultTransport.(*http.Transport).MaxIdleConns,
		IdleConnTimeout:       http.DefaultTransport.(*http.Transport).IdleConnTimeout,
		TLSHandshakeTimeout:   http.DefaultTransport.(*http.Transport).TLSHandshakeTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       tlsConfig,
		TLSNextProto:          map[string]func(string, *tls.Conn) http.RoundTripper{},
		// Bodies are relayed exactly as the server encoded them.
		DisableCompression: true,
	}

	return map[string]http.RoundTripper{
		"http":  t,
		"https": t,
	}
}
