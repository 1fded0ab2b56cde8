package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/websecurify/proxify/cert"
	"github.com/websecurify/proxify/logging"
	"github.com/websecurify/proxify/name"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned when a terminator is requested from a closed
// registry.
var ErrClosed = errors.New("listener registry is closed")

const (
	// DefaultDialAttempts is the number of times Dial() tries to connect to a
	// terminator that refuses the connection.
	DefaultDialAttempts = 5

	// DefaultDialRetryDelay is the delay between those attempts.
	DefaultDialRetryDelay = 10 * time.Millisecond
)

// CertificateSource provides host certificates for terminators.
type CertificateSource interface {
	GetOrCreate(domain string) (*cert.Record, error)
}

// Registry holds the TLS terminators used to decrypt intercepted tunnels.
//
// Each terminator listens on an ephemeral loopback port with a certificate for
// one host, and serves the decrypted requests with Handler. There is at most
// one terminator per host and port.
type Registry struct {
	// Certificates supplies the certificate presented by each terminator.
	Certificates CertificateSource

	// Handler serves requests received by every terminator. The terminator's
	// Context is available from the request context via FromContext().
	Handler http.Handler

	Logger logrus.FieldLogger

	// TLSConfig is the base configuration of every terminator. Its certificate
	// and protocol settings are replaced. It may be nil.
	TLSConfig *tls.Config

	// DialAttempts is the number of connection attempts made by Dial(). If it
	// is zero, DefaultDialAttempts is used.
	DialAttempts int

	// DialRetryDelay is the delay between connection attempts. If it is zero,
	// DefaultDialRetryDelay is used.
	DialRetryDelay time.Duration

	mutex   sync.Mutex
	entries map[string]*entry
	closed  bool
	group   singleflight.Group
}

type entry struct {
	context Context
	addr    string
	server  *http.Server
	done    chan struct{}
}

// Terminator returns the loopback address of the terminator for hostname and
// port, starting one if necessary.
func (r *Registry) Terminator(hostname, port string) (string, error) {
	key := HostKey(hostname, port)

	if addr, ok := r.lookup(key); ok {
		return addr, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		if addr, ok := r.lookup(key); ok {
			return addr, nil
		}

		return r.start(Context{
			Protocol: "https",
			Hostname: hostname,
			Port:     port,
			HostKey:  key,
		})
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// Lookup returns the address of the terminator for hostname and port, if one
// is running.
func (r *Registry) Lookup(hostname, port string) (string, bool) {
	return r.lookup(HostKey(hostname, port))
}

// Len returns the number of running terminators.
func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return len(r.entries)
}

// Dial connects to the terminator for hostname and port, starting one if
// necessary.
//
// A refused connection means the terminator has stopped, or has not finished
// starting. It is logged and retried, up to DialAttempts times.
func (r *Registry) Dial(ctx context.Context, hostname, port string) (net.Conn, error) {
	attempts := r.DialAttempts
	if attempts == 0 {
		attempts = DefaultDialAttempts
	}

	delay := r.DialRetryDelay
	if delay == 0 {
		delay = DefaultDialRetryDelay
	}

	var dialer net.Dialer

	for attempt := 1; ; attempt++ {
		addr, err := r.Terminator(hostname, port)
		if err != nil {
			return nil, err
		}

		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		} else if !errors.Is(err, syscall.ECONNREFUSED) || attempt >= attempts {
			return nil, err
		}

		logging.Default(r.Logger).Debugf(
			"Connection to terminator for '%s' at %s refused, retrying",
			HostKey(hostname, port),
			addr,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Remove stops the terminator for hostname and port, if one is running. A
// later call to Terminator() starts a new one.
func (r *Registry) Remove(hostname, port string) error {
	r.mutex.Lock()
	e, ok := r.entries[HostKey(hostname, port)]
	r.mutex.Unlock()

	if !ok {
		return nil
	}

	err := e.server.Close()
	<-e.done

	return err
}

// Close immediately stops every terminator, closing their connections.
func (r *Registry) Close() error {
	var err error

	for _, e := range r.shut() {
		err = multierr.Append(err, e.server.Close())
		<-e.done
	}

	return err
}

// Shutdown stops every terminator, waiting for active connections to become
// idle or for ctx to be canceled.
func (r *Registry) Shutdown(ctx context.Context) error {
	var (
		group sync.WaitGroup
		mutex sync.Mutex
		err   error
	)

	for _, e := range r.shut() {
		group.Add(1)
		go func(e *entry) {
			defer group.Done()

			if shutdownErr := e.server.Shutdown(ctx); shutdownErr != nil {
				mutex.Lock()
				err = multierr.Append(err, shutdownErr)
				mutex.Unlock()
			}

			<-e.done
		}(e)
	}

	group.Wait()

	return err
}

func (r *Registry) lookup(key string) (string, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if e, ok := r.entries[key]; ok {
		return e.addr, true
	}

	return "", false
}

// shut marks the registry as closed and returns its entries.
func (r *Registry) shut() []*entry {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.closed = true

	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}

	return entries
}

func (r *Registry) start(c Context) (string, error) {
	logger := logging.Default(r.Logger)

	r.mutex.Lock()
	closed := r.closed
	r.mutex.Unlock()

	if closed {
		return "", ErrClosed
	}

	record, err := r.Certificates.GetOrCreate(name.Normalize(c.Hostname))
	if err != nil {
		return "", err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("unable to start terminator for '%s': %w", c.HostKey, err)
	}

	e := &entry{
		context: c,
		addr:    ln.Addr().String(),
		done:    make(chan struct{}),
	}

	e.server = &http.Server{
		Handler: r.Handler,
		ConnContext: func(ctx context.Context, _ net.Conn) context.Context {
			return WithContext(ctx, c)
		},
		ErrorLog: logging.ErrorLog(logger),
		// Disable HTTP/2, requests are forwarded as HTTP/1.1.
		TLSNextProto: map[string]func(*http.Server, *tls.Conn, http.Handler){},
	}

	config := &tls.Config{}
	if r.TLSConfig != nil {
		config = r.TLSConfig.Clone()
	}
	config.Certificates = []tls.Certificate{*record.TLSCertificate()}
	config.GetCertificate = nil
	config.NextProtos = []string{"http/1.1"}

	tlsListener := tls.NewListener(ln, config)

	r.mutex.Lock()
	if r.closed {
		r.mutex.Unlock()
		ln.Close()
		return "", ErrClosed
	}
	if r.entries == nil {
		r.entries = map[string]*entry{}
	}
	r.entries[c.HostKey] = e
	r.mutex.Unlock()

	logger.Debugf("Started terminator for '%s' at %s", c.HostKey, e.addr)

	go r.serve(e, tlsListener)

	return e.addr, nil
}

func (r *Registry) serve(e *entry, ln net.Listener) {
	defer close(e.done)

	err := e.server.Serve(ln)

	r.mutex.Lock()
	if r.entries[e.context.HostKey] == e {
		delete(r.entries, e.context.HostKey)
	}
	r.mutex.Unlock()

	logger := logging.Default(r.Logger)
	if err != nil && err != http.ErrServerClosed {
		logger.Warnf("Terminator for '%s' at %s failed: %s", e.context.HostKey, e.addr, err)
	} else {
		logger.Debugf("Stopped terminator for '%s' at %s", e.context.HostKey, e.addr)
	}
}
