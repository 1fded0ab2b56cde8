package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/websecurify/proxify/listener"
	"github.com/websecurify/proxify/name"
	"github.com/websecurify/proxify/pipeline"
)

// abortError is returned when the response fails after its head has been
// written. The client connection is aborted so that the client does not
// mistake a truncated body for a complete one.
type abortError struct {
	err error
}

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

// serveRequest handles a request that is forwarded to an upstream server.
func (p *Proxy) serveRequest(w http.ResponseWriter, r *http.Request) {
	lc := &LogContext{
		Logger:      p.logger(),
		RemoteAddr:  r.RemoteAddr,
		RequestLine: fmt.Sprintf("%s %s %s", r.Method, r.RequestURI, r.Proto),
	}
	lc.Metrics.Start()

	err := p.forward(w, r, lc)
	lc.Log(err)

	var abort *abortError
	if errors.As(err, &abort) {
		panic(http.ErrAbortHandler)
	}
}

func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, lc *LogContext) error {
	head, err := p.requestHead(r)
	if err != nil {
		p.writeStatus(w, r, lc, http.StatusBadRequest)
		return err
	}
	lc.Request = head

	if _, ok := p.transport(head.Protocol); !ok {
		return p.unsupported(w, lc, head.Protocol)
	}

	d := &RequestDecision{
		ID:         nextID(),
		RemoteAddr: r.RemoteAddr,
		Head:       head,
		Filter:     p.defaultFilter(),
		Pipeline:   &pipeline.Pipeline{},
	}
	lc.ID = d.ID

	err = emit(p.Interceptors, func(i Interceptor) error {
		return i.OnRequest(d)
	})
	lc.Filter = d.Filter
	if err != nil {
		p.writeStatus(w, r, lc, http.StatusBadGateway)
		return err
	}

	if d.Filter == FilterDeny {
		w.Header().Set("Connection", "close")
		p.writeStatus(w, r, lc, http.StatusUnauthorized)
		return ErrDenied
	}

	head = d.Head
	contentLength := r.ContentLength
	var body io.ReadCloser = &countingReader{r.Body, &lc.Metrics.BytesIn}

	if d.Filter == FilterPipeline && !d.Pipeline.Empty() {
		var src io.Reader
		if contentLength != 0 {
			src = body
		}

		e := d.Pipeline.Open(r.Context(), head, src)
		defer e.Close()

		raw, err := e.Head()
		h, err := requestHeadFrom(raw, err, head)
		if err != nil {
			p.writeStatus(w, r, lc, http.StatusBadGateway)
			return err
		}

		head = h

		body, contentLength, err = pipedBody(e)
		if err != nil {
			p.writeStatus(w, r, lc, http.StatusBadGateway)
			return err
		}
	}
	lc.Request = head

	transport, ok := p.transport(head.Protocol)
	if !ok {
		return p.unsupported(w, lc, head.Protocol)
	}

	out, err := newUpstreamRequest(r.Context(), head, body, contentLength)
	if err != nil {
		p.writeStatus(w, r, lc, http.StatusBadRequest)
		return err
	}

	res, err := transport.RoundTrip(out)
	if err != nil {
		p.writeStatus(w, r, lc, http.StatusBadGateway)
		return err
	}
	defer res.Body.Close()

	return p.respond(w, r, lc, d, head, res)
}

// respond intercepts the upstream response and writes it to the client.
func (p *Proxy) respond(
	w http.ResponseWriter,
	r *http.Request,
	lc *LogContext,
	d *RequestDecision,
	request *RequestHead,
	res *http.Response,
) error {
	rd := &ResponseDecision{
		ID:      d.ID,
		Request: request,
		Head: &ResponseHead{
			StatusCode: res.StatusCode,
			Header:     res.Header.Clone(),
		},
		Filter:   p.defaultFilter(),
		Pipeline: &pipeline.Pipeline{},
	}

	err := emit(p.Interceptors, func(i Interceptor) error {
		return i.OnResponse(rd)
	})
	lc.Filter = rd.Filter
	if err != nil {
		p.writeStatus(w, r, lc, http.StatusBadGateway)
		return err
	}

	if rd.Filter == FilterDeny {
		w.Header().Set("Connection", "close")
		p.writeStatus(w, r, lc, http.StatusUnauthorized)
		return ErrDenied
	}

	head := rd.Head
	var body io.Reader = res.Body
	piped := rd.Filter == FilterPipeline && !rd.Pipeline.Empty()

	if piped {
		e := rd.Pipeline.Open(r.Context(), head, res.Body)
		defer e.Close()

		raw, err := e.Head()
		h, err := responseHeadFrom(raw, err, head)
		if err != nil {
			p.writeStatus(w, r, lc, http.StatusBadGateway)
			return err
		}

		head = h
		body = e
	}

	header := head.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	removeHopByHopHeaders(header)
	if piped {
		// The length of the transformed body is unknown.
		header.Del("Content-Length")
	}

	copyHeaders(w.Header(), header)
	lc.StatusCode = head.StatusCode
	w.WriteHeader(head.StatusCode)
	lc.Metrics.FirstByteSent()

	n, err := copyBody(w, body)
	lc.Metrics.BytesOut = n
	lc.Metrics.LastByteSent()

	if err != nil {
		return &abortError{err}
	}

	return nil
}

// requestHead builds the head of the upstream request for r.
func (p *Proxy) requestHead(r *http.Request) (*RequestHead, error) {
	h := &RequestHead{
		Method: r.Method,
		Path:   r.URL.RequestURI(),
		Host:   r.Host,
		Header: r.Header.Clone(),
	}

	if r.URL.Host != "" {
		h.Protocol = strings.ToLower(r.URL.Scheme)
		h.Hostname, h.Port = name.SplitHost(r.URL.Host)
	} else if p.Transparent {
		h.Hostname, h.Port = name.SplitHost(r.Host)
		h.Protocol = "http"
		if h.Port == "443" {
			h.Protocol = "https"
		}
	}

	// Requests decrypted by a terminator are sent to the server it stands in
	// for.
	if c, ok := listener.FromContext(r.Context()); ok {
		h.Protocol = c.Protocol
		h.Hostname = c.Hostname
		h.Port = c.Port
	}

	if h.Hostname == "" {
		return nil, ErrMissingHost
	}

	return h, nil
}

func (p *Proxy) unsupported(w http.ResponseWriter, lc *LogContext, protocol string) error {
	lc.StatusCode = http.StatusNotImplemented
	w.WriteHeader(http.StatusNotImplemented)
	lc.Metrics.FirstByteSent()
	lc.Metrics.LastByteSent()

	return fmt.Errorf("%w '%s'", ErrUnsupportedProtocol, protocol)
}

func (p *Proxy) writeStatus(w http.ResponseWriter, r *http.Request, lc *LogContext, statusCode int) {
	lc.StatusCode = statusCode
	lc.Metrics.FirstByteSent()

	n, err := p.statusPageWriter().Write(w, r, statusCode, "")
	if err != nil {
		p.logger().Debugf("Unable to write status page: %s", err)
	}

	lc.Metrics.BytesOut = n
	lc.Metrics.LastByteSent()
}

func newUpstreamRequest(
	ctx context.Context,
	head *RequestHead,
	body io.ReadCloser,
	contentLength int64,
) (*http.Request, error) {
	u, err := head.URL()
	if err != nil {
		return nil, err
	}

	out, err := http.NewRequestWithContext(ctx, head.Method, u.String(), nil)
	if err != nil {
		return nil, err
	}

	if head.Header != nil {
		out.Header = head.Header.Clone()
	}
	removeHopByHopHeaders(out.Header)

	if head.Host != "" {
		out.Host = head.Host
	}

	if contentLength == 0 {
		body.Close()
		out.Body = http.NoBody
	} else {
		out.Body = body
		out.ContentLength = contentLength
	}

	return out, nil
}

// pipedBody returns the body data emitted by a pipeline endpoint. The length
// of the data is unknown unless the pipeline emits none, in which case it is
// zero.
func pipedBody(e *pipeline.Endpoint) (io.ReadCloser, int64, error) {
	r := bufio.NewReaderSize(e, pipeline.ChunkSize)

	if _, err := r.Peek(1); err == io.EOF {
		return ioutil.NopCloser(r), 0, nil
	} else if err != nil {
		return nil, 0, err
	}

	return ioutil.NopCloser(r), -1, nil
}

func requestHeadFrom(h interface{}, err error, fallback *RequestHead) (*RequestHead, error) {
	if err == pipeline.ErrNoHead {
		return fallback, nil
	} else if err != nil {
		return nil, err
	}

	head, ok := h.(*RequestHead)
	if !ok {
		return nil, fmt.Errorf("%w: expected *RequestHead, got %T", ErrInvalidHead, h)
	}

	return head, nil
}

func responseHeadFrom(h interface{}, err error, fallback *ResponseHead) (*ResponseHead, error) {
	if err == pipeline.ErrNoHead {
		return fallback, nil
	} else if err != nil {
		return nil, err
	}

	head, ok := h.(*ResponseHead)
	if !ok {
		return nil, fmt.Errorf("%w: expected *ResponseHead, got %T", ErrInvalidHead, h)
	}

	return head, nil
}

// copyBody copies body to w, flushing after each write so that streamed
// responses reach the client without delay.
func copyBody(w http.ResponseWriter, body io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, pipeline.ChunkSize)

	var written int64

	for {
		n, err := body.Read(buf)
		if n > 0 {
			m, writeErr := w.Write(buf[:n])
			written += int64(m)

			if writeErr != nil {
				return written, writeErr
			}

			if flusher != nil {
				flusher.Flush()
			}
		}

		if err == io.EOF {
			return written, nil
		} else if err != nil {
			return written, err
		}
	}
}
