package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	humanize "github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/websecurify/proxify/pipeline"
	"github.com/websecurify/proxify/statuspage"
)

// connectEstablished is written to the client once the tunnel's upstream
// connection is ready.
const connectEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

// serveConnect handles a CONNECT request by relaying a tunnel to its target,
// or to a terminator for the target if the tunnel is intercepted.
func (p *Proxy) serveConnect(w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		p.statusPageWriter().Write(w, r, http.StatusNotImplemented, "") // nolint:errcheck
		return
	}

	conn, buffered, err := hijacker.Hijack()
	if err != nil {
		p.logger().Warnf("Unable to hijack CONNECT connection from %s: %s", r.RemoteAddr, err)
		return
	}

	logger := p.logger().WithField("tunnel", uuid.New().String())

	target := r.URL.Host
	if target == "" {
		target = r.Host
	}

	hostname, port, err := net.SplitHostPort(target)
	if err != nil || hostname == "" || port == "" {
		logger.Infof("Rejected CONNECT to '%s' from %s, invalid target", target, r.RemoteAddr)
		conn.Close()
		return
	}

	d := &ConnectDecision{
		ID: nextID(),
		Head: &ConnectHead{
			Hostname:   hostname,
			Port:       port,
			Header:     r.Header.Clone(),
			RemoteAddr: r.RemoteAddr,
		},
		Filter:   p.defaultFilter(),
		Pipeline: &pipeline.Pipeline{},
	}
	logger = logger.WithField("exchange", d.ID)

	if err := emit(p.Interceptors, func(i Interceptor) error {
		return i.OnConnect(d)
	}); err != nil {
		logger.Warnf("Rejected CONNECT to '%s' from %s: %s", target, r.RemoteAddr, err)
		conn.Close()
		return
	}

	if d.Filter == FilterDeny {
		logger.Infof("Denied CONNECT to '%s' from %s", target, r.RemoteAddr)
		statuspage.WriteRaw(conn, http.StatusUnauthorized, "") // nolint:errcheck
		conn.Close()
		return
	}

	head := d.Head
	if d.Filter == FilterPipeline && !d.Pipeline.Empty() {
		head, err = connectHeadFrom(r.Context(), d)
		if err != nil {
			logger.Warnf("Rejected CONNECT to '%s' from %s: %s", target, r.RemoteAddr, err)
			conn.Close()
			return
		}
	}

	upstream, err := p.dialTunnel(r.Context(), d.Filter, head)
	if err != nil {
		// The client never receives a status line, matching a dropped
		// connection.
		logger.Warnf("Unable to connect to '%s' for %s: %s", head.Authority(), r.RemoteAddr, err)
		conn.Close()
		return
	}

	if err := establish(conn, upstream, buffered.Reader); err != nil {
		logger.Debugf("Unable to establish tunnel to '%s' for %s: %s", head.Authority(), r.RemoteAddr, err)
		conn.Close()
		upstream.Close()
		return
	}

	p.track(conn, upstream)
	defer p.untrack(conn, upstream)

	logger.Debugf("Opened tunnel to '%s' for %s (%s)", head.Authority(), r.RemoteAddr, d.Filter)

	in, out, err := Pipe(conn, upstream)

	entry := logger.WithFields(logrus.Fields{
		"bytes_in":  in,
		"bytes_out": out,
	})
	if err != nil && !errors.Is(err, net.ErrClosed) {
		entry = entry.WithError(err)
	}

	entry.Infof(
		"Closed tunnel to '%s' for %s (%s), %s in, %s out",
		head.Authority(),
		r.RemoteAddr,
		d.Filter,
		humanize.Bytes(uint64(in)),
		humanize.Bytes(uint64(out)),
	)
}

func (p *Proxy) dialTunnel(ctx context.Context, filter Filter, head *ConnectHead) (net.Conn, error) {
	if filter != FilterPipeline {
		return p.dialer().DialContext(ctx, "tcp", head.Authority())
	}

	if p.Registry == nil {
		return nil, errors.New("no listener registry, unable to intercept tunnel")
	}

	return p.Registry.Dial(ctx, head.Hostname, head.Port)
}

// establish tells the client that the tunnel is open, and forwards any bytes
// the client sent ahead of the response.
func establish(conn, upstream net.Conn, buffered *bufio.Reader) error {
	if _, err := io.WriteString(conn, connectEstablished); err != nil {
		return err
	}

	if n := buffered.Buffered(); n > 0 {
		head, err := buffered.Peek(n)
		if err != nil {
			return err
		}

		if _, err := upstream.Write(head); err != nil {
			return err
		}
	}

	return nil
}

func connectHeadFrom(ctx context.Context, d *ConnectDecision) (*ConnectHead, error) {
	e := d.Pipeline.Open(ctx, d.Head, nil)
	defer e.Close()

	h, err := e.Head()
	if err == pipeline.ErrNoHead {
		return d.Head, nil
	} else if err != nil {
		return nil, err
	}

	head, ok := h.(*ConnectHead)
	if !ok {
		return nil, fmt.Errorf("%w: expected *ConnectHead, got %T", ErrInvalidHead, h)
	}

	return head, nil
}
