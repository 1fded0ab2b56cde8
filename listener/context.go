package listener

import "context"

// Context describes the virtual server that a terminator stands in for. It is
// attached to the context of every connection accepted by the terminator.
type Context struct {
	Protocol string
	Hostname string
	Port     string
	HostKey  string
}

type contextKey struct{}

// WithContext returns a copy of parent that carries c.
func WithContext(parent context.Context, c Context) context.Context {
	return context.WithValue(parent, contextKey{}, c)
}

// FromContext returns the terminator context carried by ctx, if any.
func FromContext(ctx context.Context) (Context, bool) {
	c, ok := ctx.Value(contextKey{}).(Context)
	return c, ok
}

// HostKey returns the key that identifies the terminator for a host and port.
func HostKey(hostname, port string) string {
	return hostname + ":" + port
}
