package proxy

import (
	"context"
	"net"
)

// Dialer connects to the targets of tunnels that are passed through.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

func (p *Proxy) dialer() Dialer {
	if p.Dialer != nil {
		return p.Dialer
	}

	return &net.Dialer{}
}
