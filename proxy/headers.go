package proxy

import (
	"net/http"

	"github.com/golang/gddo/httputil/header"
)

// isHopByHopHeader checks if a given header name is a Hop-by-Hop header, and
// hence should not be forwarded. The name must already be canonicalized with
// http.CanonicalHeaderKey().
func isHopByHopHeader(name string) bool {
	switch name {
	case
		"Connection",
		"Proxy-Connection",
		"Keep-Alive",
		"Proxy-Authenticate",
		"Proxy-Authorization",
		"Te",
		"Trailer",
		"Transfer-Encoding",
		"Upgrade":
		return true
	default:
		return false
	}
}

// removeHopByHopHeaders deletes the hop-by-hop headers from h, including any
// header named by a "Connection" token.
func removeHopByHopHeaders(h http.Header) {
	for _, token := range header.ParseList(h, "Connection") {
		h.Del(token)
	}

	for name := range h {
		if isHopByHopHeader(name) {
			delete(h, name)
		}
	}
}

// copyHeaders copies every end-to-end header in source to target.
func copyHeaders(target, source http.Header) {
	for name, values := range source {
		if !isHopByHopHeader(name) {
			target[name] = append([]string(nil), values...)
		}
	}
}
