package health

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	proxyproto "github.com/pires/go-proxyproto"
)

// Checker is an interface for querying the health of the server.
type Checker interface {
	// Check returns the health-check status.
	Check() Status
}

// DefaultTimeout is the time allowed for a check when ProxyChecker.Timeout
// is zero.
const DefaultTimeout = 500 * time.Millisecond

// checkRequest is a request the proxy answers without contacting an upstream server,
// in both transparent and forward mode.
const checkRequest = "OPTIONS * HTTP/1.1\r\nHost:\r\nConnection: close\r\n\r\n"

// ProxyChecker checks that a proxy accepts connections and answers HTTP
// requests.
type ProxyChecker struct {
	// Address is the proxy's listen address.
	Address string

	// ProxyProtocol causes the checker to send a PROXY v2 LOCAL header before
	// the request, for proxies that expect one.
	ProxyProtocol bool

	Timeout time.Duration
}

// Check returns the health-check status.
func (c *ProxyChecker) Check() Status {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	conn, err := net.DialTimeout("tcp", c.Address, timeout)
	if err != nil {
		return Status{false, fmt.Sprintf("Unable to connect to the proxy at %s: %s.", c.Address, err)}
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return Status{false, err.Error()}
	}

	if c.ProxyProtocol {
		header := &proxyproto.Header{
			Command: proxyproto.LOCAL,
			Version: 2,
		}
		if _, err := header.WriteTo(conn); err != nil {
			return Status{false, fmt.Sprintf("Unable to send PROXY header: %s.", err)}
		}
	}

	if _, err := io.WriteString(conn, checkRequest); err != nil {
		return Status{false, fmt.Sprintf("Unable to send request: %s.", err)}
	}

	res, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		return Status{false, fmt.Sprintf("The proxy did not respond: %s.", err)}
	}
	res.Body.Close()

	return Status{true, fmt.Sprintf("The proxy at %s is accepting requests.", c.Address)}
}
