package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/websecurify/proxify/listener"
	"github.com/websecurify/proxify/logging"
	"github.com/websecurify/proxify/statuspage"
	"go.uber.org/multierr"
)

// Proxy is an intercepting HTTP forward proxy.
//
// It forwards plain HTTP requests, and relays CONNECT tunnels either as-is or
// through a TLS terminator from Registry, in which case the decrypted requests
// are handled by the proxy as though they were made to it directly.
type Proxy struct {
	// Registry provides the terminators used to decrypt intercepted tunnels.
	// Its Handler must be the proxy.
	Registry *listener.Registry

	// Transports maps request protocols ("http", "https") to the round
	// tripper used to send requests upstream. If it is nil,
	// DefaultTransports(nil) is used.
	Transports map[string]http.RoundTripper

	// Interceptors are called, in order, for every exchange.
	Interceptors []Interceptor

	// DefaultFilter is the initial filter of every decision. If it is empty,
	// FilterPassthrough is used.
	DefaultFilter Filter

	// Transparent enables requests whose target is not an absolute URL. The
	// upstream server is taken from the Host header.
	Transparent bool

	// Dialer connects to the targets of passed-through tunnels. If it is nil,
	// a zero net.Dialer is used.
	Dialer Dialer

	// StatusPageWriter renders error responses.
	StatusPageWriter *statuspage.Writer

	Logger logrus.FieldLogger

	once       sync.Once
	transports map[string]http.RoundTripper

	mutex   sync.Mutex
	server  *http.Server
	tunnels map[net.Conn]struct{}
}

// shutdownPollInterval is how often Shutdown() checks for active tunnels.
const shutdownPollInterval = 50 * time.Millisecond

// NewProxy returns a proxy that decrypts intercepted tunnels using
// certificates from certs.
func NewProxy(certs listener.CertificateSource, logger logrus.FieldLogger) *Proxy {
	p := &Proxy{
		Logger: logger,
	}

	p.Registry = &listener.Registry{
		Certificates: certs,
		Handler:      p,
		Logger:       logger,
	}

	return p
}

// ServeHTTP handles a request received by the proxy, or by one of its
// terminators.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.serveConnect(w, r)
	} else {
		p.serveRequest(w, r)
	}
}

// Serve accepts connections on l until Shutdown() or Close() is called. If l
// fails or is closed, every terminator is stopped before Serve returns.
func (p *Proxy) Serve(l net.Listener) error {
	server := &http.Server{
		Handler:  p,
		ErrorLog: logging.ErrorLog(p.Logger),
		// Disable HTTP/2, CONNECT tunnels require HTTP/1.x.
		TLSNextProto: map[string]func(*http.Server, *tls.Conn, http.Handler){},
	}

	p.mutex.Lock()
	p.server = server
	p.mutex.Unlock()

	err := server.Serve(l)
	if err == http.ErrServerClosed {
		return nil
	}

	// The terminators only serve tunnels accepted on l.
	return multierr.Append(err, p.closeRegistry())
}

// ListenAndServe listens on the TCP address addr and serves connections.
func (p *Proxy) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	return p.Serve(l)
}

// Shutdown stops accepting connections and waits for active requests and
// tunnels to finish, then stops the terminators. If ctx is canceled first,
// the remaining tunnels and terminators are closed immediately.
func (p *Proxy) Shutdown(ctx context.Context) error {
	var err error

	if server := p.currentServer(); server != nil {
		err = multierr.Append(err, server.Shutdown(ctx))
	}

	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()

	for p.tunnelCount() != 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return multierr.Combine(
				err,
				p.closeTunnels(),
				p.closeRegistry(),
				ctx.Err(),
			)
		}
	}

	if p.Registry != nil {
		err = multierr.Append(err, p.Registry.Shutdown(ctx))
	}

	return err
}

// Close immediately closes the listener, every tunnel and every terminator.
func (p *Proxy) Close() error {
	var err error

	if server := p.currentServer(); server != nil {
		err = server.Close()
	}

	return multierr.Combine(
		err,
		p.closeTunnels(),
		p.closeRegistry(),
	)
}

func (p *Proxy) closeRegistry() error {
	if p.Registry == nil {
		return nil
	}

	return p.Registry.Close()
}

func (p *Proxy) currentServer() *http.Server {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.server
}

func (p *Proxy) logger() logrus.FieldLogger {
	return logging.Default(p.Logger)
}

func (p *Proxy) statusPageWriter() *statuspage.Writer {
	if p.StatusPageWriter != nil {
		return p.StatusPageWriter
	}

	return &statuspage.Writer{}
}

func (p *Proxy) defaultFilter() Filter {
	if p.DefaultFilter == "" {
		return FilterPassthrough
	}

	return p.DefaultFilter
}

func (p *Proxy) transport(protocol string) (http.RoundTripper, bool) {
	if p.Transports != nil {
		t, ok := p.Transports[protocol]
		return t, ok
	}

	p.once.Do(func() {
		p.transports = DefaultTransports(nil)
	})

	t, ok := p.transports[protocol]
	return t, ok
}

// track registers the connections of a tunnel so that they can be closed by
// Close().
func (p *Proxy) track(conns ...net.Conn) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.tunnels == nil {
		p.tunnels = map[net.Conn]struct{}{}
	}

	for _, c := range conns {
		p.tunnels[c] = struct{}{}
	}
}

func (p *Proxy) untrack(conns ...net.Conn) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, c := range conns {
		delete(p.tunnels, c)
	}
}

func (p *Proxy) tunnelCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.tunnels)
}

func (p *Proxy) closeTunnels() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var err error
	for c := range p.tunnels {
		err = multierr.Append(err, ignoreClosed(c.Close()))
	}

	return err
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}
