// Package proxyprotocol accepts connections that may be prefixed with a PROXY
// protocol (v1 or v2) header, as sent by load balancers such as HAProxy or AWS
// ELB, and reports the client address it carries.
package proxyprotocol

import (
	"bufio"
	"bytes"
	"net"
	"sync"
	"time"

	proxyproto "github.com/pires/go-proxyproto"
	"github.com/sirupsen/logrus"
	"github.com/websecurify/proxify/logging"
)

// DefaultHeaderTimeout is the time allowed for a client to send the PROXY
// header.
const DefaultHeaderTimeout = 5 * time.Second

var (
	signatureV1 = []byte("PROXY")
	signatureV2 = []byte("\r\n\r\n\x00\r\nQUIT\n")
)

// Listener is a net.Listener that wraps each accepted connection in a Conn.
type Listener struct {
	net.Listener

	// HeaderTimeout is the time allowed to read the PROXY header. If it is
	// zero, DefaultHeaderTimeout is used.
	HeaderTimeout time.Duration

	Logger logrus.FieldLogger
}

// NewListener returns a listener that accepts PROXY protocol connections
// from l.
func NewListener(l net.Listener, logger logrus.FieldLogger) *Listener {
	return &Listener{
		Listener: l,
		Logger:   logger,
	}
}

// Accept waits for and returns the next connection.
func (l *Listener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	c := NewConn(conn)
	c.timeout = l.HeaderTimeout
	c.logger = l.Logger

	return c, nil
}

// Conn is a connection that may begin with a PROXY header.
//
// The header is read on the first call to Read(), RemoteAddr() or LocalAddr(),
// so that Accept() is never blocked by a slow client. Connections without a
// header are passed through unchanged.
type Conn struct {
	net.Conn

	reader  *bufio.Reader
	timeout time.Duration
	logger  logrus.FieldLogger

	once   sync.Once
	header *proxyproto.Header
	err    error
}

// NewConn returns a Conn that reads from conn.
func NewConn(conn net.Conn) *Conn {
	return &Conn{
		Conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// Read reads data from the connection, after the PROXY header.
func (c *Conn) Read(b []byte) (int, error) {
	c.once.Do(c.readHeader)

	if c.err != nil {
		return 0, c.err
	}

	return c.reader.Read(b)
}

// RemoteAddr returns the source address from the PROXY header, or the remote
// address of the underlying connection if there is none.
func (c *Conn) RemoteAddr() net.Addr {
	c.once.Do(c.readHeader)

	if c.header != nil && c.header.SourceAddress != nil {
		return &net.TCPAddr{
			IP:   c.header.SourceAddress,
			Port: int(c.header.SourcePort),
		}
	}

	return c.Conn.RemoteAddr()
}

// LocalAddr returns the destination address from the PROXY header, or the
// local address of the underlying connection if there is none.
func (c *Conn) LocalAddr() net.Addr {
	c.once.Do(c.readHeader)

	if c.header != nil && c.header.DestinationAddress != nil {
		return &net.TCPAddr{
			IP:   c.header.DestinationAddress,
			Port: int(c.header.DestinationPort),
		}
	}

	return c.Conn.LocalAddr()
}

// CloseWrite shuts down the writing side of the underlying connection, if it
// supports doing so. Otherwise it closes the connection.
func (c *Conn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}

	return c.Conn.Close()
}

// Header returns the PROXY header, or nil if the connection did not send one.
func (c *Conn) Header() *proxyproto.Header {
	c.once.Do(c.readHeader)
	return c.header
}

func (c *Conn) readHeader() {
	timeout := c.timeout
	if timeout == 0 {
		timeout = DefaultHeaderTimeout
	}

	c.Conn.SetReadDeadline(time.Now().Add(timeout)) // nolint:errcheck
	defer c.Conn.SetReadDeadline(time.Time{})       // nolint:errcheck

	if !c.hasSignature() {
		return
	}

	header, err := proxyproto.Read(c.reader)
	if err == proxyproto.ErrNoProxyProtocol {
		return
	} else if err != nil {
		logging.Default(c.logger).Debugf(
			"Rejected connection from %s, invalid PROXY header: %s",
			c.Conn.RemoteAddr(),
			err,
		)
		c.err = err
		return
	}

	c.header = header
}

// hasSignature returns true if the connection begins with a PROXY header
// signature.
func (c *Conn) hasSignature() bool {
	b, err := c.reader.Peek(1)
	if err != nil {
		return false
	}

	signature := signatureV1
	if b[0] == signatureV2[0] {
		signature = signatureV2
	}

	b, err = c.reader.Peek(len(signature))
	if err != nil {
		return false
	}

	return bytes.Equal(b, signature)
}
