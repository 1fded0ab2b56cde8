package proxy

import (
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/websecurify/proxify/name"
	"github.com/websecurify/proxify/pipeline"
)

// Filter determines how the proxy handles an exchange.
type Filter string

const (
	// FilterPassthrough forwards traffic unchanged.
	FilterPassthrough Filter = "passthrough"

	// FilterPipeline routes traffic through the decision's pipeline. For
	// CONNECT requests it also decrypts the tunnel, so that the requests
	// inside it are intercepted individually.
	FilterPipeline Filter = "pipeline"

	// FilterDeny rejects the exchange with 401 Unauthorized.
	FilterDeny Filter = "deny"
)

// RequestHead describes a request to be sent upstream.
type RequestHead struct {
	Method string

	// Protocol is the URL scheme of the upstream request, "http" or "https".
	Protocol string

	Hostname string
	Port     string

	// Path is the request URI, including the query string.
	Path string

	// Host is the value of the Host header sent upstream. If it is empty, it
	// is derived from Hostname and Port.
	Host string

	Header http.Header
}

// Authority returns the hostname and port of the upstream server.
func (h *RequestHead) Authority() string {
	return name.JoinHost(h.Hostname, h.Port)
}

// URL returns the absolute URL of the upstream request.
func (h *RequestHead) URL() (*url.URL, error) {
	path := h.Path
	if path == "" {
		path = "/"
	}

	return url.Parse(h.Protocol + "://" + h.Authority() + path)
}

// ResponseHead describes a response to be sent to the client.
type ResponseHead struct {
	StatusCode int
	Header     http.Header
}

// ConnectHead describes the target of a CONNECT request.
type ConnectHead struct {
	Hostname   string
	Port       string
	Header     http.Header
	RemoteAddr string
}

// Authority returns the "host:port" form of the tunnel target.
func (h *ConnectHead) Authority() string {
	return name.JoinHost(h.Hostname, h.Port)
}

// RequestDecision is passed to interceptors before a request is forwarded.
//
// When Filter is FilterPipeline and Pipeline is not empty, the request head
// and body are streamed through the pipeline. The first item it emits must be
// a *RequestHead, which replaces Head.
type RequestDecision struct {
	ID         uint64
	RemoteAddr string
	Head       *RequestHead
	Filter     Filter
	Pipeline   *pipeline.Pipeline
}

// ResponseDecision is passed to interceptors before a response is written to
// the client. Its ID matches the ID of the request decision for the same
// exchange.
//
// When Filter is FilterPipeline and Pipeline is not empty, the response head
// and body are streamed through the pipeline. The first item it emits must be
// a *ResponseHead, which replaces Head.
type ResponseDecision struct {
	ID       uint64
	Request  *RequestHead
	Head     *ResponseHead
	Filter   Filter
	Pipeline *pipeline.Pipeline
}

// ConnectDecision is passed to interceptors before a tunnel is established.
//
// When Filter is FilterPipeline and Pipeline is not empty, the connect head
// alone is streamed through the pipeline before the tunnel is dialed, and the
// *ConnectHead it emits replaces Head.
type ConnectDecision struct {
	ID       uint64
	Head     *ConnectHead
	Filter   Filter
	Pipeline *pipeline.Pipeline
}

var lastID uint64

// nextID returns the next exchange ID. IDs increase monotonically across all
// proxies in the process.
func nextID() uint64 {
	return atomic.AddUint64(&lastID, 1)
}
