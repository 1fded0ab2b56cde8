package statuspage

import (
	"bytes"
	"fmt"
	htmlTemplate "html/template"
	"io"
	"net/http"
	textTemplate "text/template"

	"github.com/golang/gddo/httputil/header"
)

// Error is an error that is rendered as a status page.
type Error struct {
	StatusCode int
	Message    string
}

func (e Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
	}

	return fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Writer writes status pages in HTML or plain-text format using a template.
type Writer struct {
	HTMLTemplate *htmlTemplate.Template
	TextTemplate *textTemplate.Template
}

// Context holds the data needed to render a status page.
type Context struct {
	Code    int
	Text    string
	Message string
}

// Write outputs a status page for statusCode to w, in response to request.
// Additional headers, such as "Connection: close", must be set before calling
// Write.
func (wr *Writer) Write(
	w http.ResponseWriter,
	request *http.Request,
	statusCode int,
	message string,
) (int64, error) {
	if message == "" {
		message = StatusMessage(statusCode)
	}

	var buf bytes.Buffer
	var contentType string
	ctx := Context{
		statusCode,
		http.StatusText(statusCode),
		message,
	}

	if useHTML(request) {
		tmpl := wr.HTMLTemplate
		if tmpl == nil {
			tmpl = defaultHTMLTemplate
		}

		if err := tmpl.Execute(&buf, ctx); err == nil {
			contentType = "text/html"
		}
	}

	if contentType == "" {
		tmpl := wr.TextTemplate
		if tmpl == nil {
			tmpl = defaultTextTemplate
		}
		contentType = "text/plain"
		buf.Reset()
		if err := tmpl.Execute(&buf, ctx); err != nil {
			return 0, err
		}
	}

	w.Header().Set("Content-Type", contentType+"; charset=utf-8")
	w.Header().Del("Content-Length")
	w.WriteHeader(statusCode)

	return buf.WriteTo(w)
}

// WriteError outputs a status page for err. If err is not an Error, a 500
// Internal Server Error page is written.
func (wr *Writer) WriteError(
	w http.ResponseWriter,
	request *http.Request,
	err error,
) (statusCode int, bodySize int64, writeErr error) {
	statusCode = http.StatusInternalServerError
	message := ""

	if e, ok := err.(Error); ok {
		statusCode = e.StatusCode
		message = e.Message
	}

	bodySize, writeErr = wr.Write(w, request, statusCode, message)
	return
}

// WriteRaw writes a complete plain-text HTTP/1.1 response directly to w. It is
// used once a connection has been hijacked. The response always closes the
// connection.
func WriteRaw(w io.Writer, statusCode int, message string) error {
	if message == "" {
		message = StatusMessage(statusCode)
	}

	body := fmt.Sprintf("%d %s\n\n%s\n", statusCode, http.StatusText(statusCode), message)

	_, err := fmt.Fprintf(
		w,
		"HTTP/1.1 %d %s\r\n"+
			"Connection: close\r\n"+
			"Content-Type: text/plain; charset=utf-8\r\n"+
			"Content-Length: %d\r\n"+
			"\r\n"+
			"%s",
		statusCode,
		http.StatusText(statusCode),
		len(body),
		body,
	)

	return err
}

var (
	defaultHTMLTemplate = htmlTemplate.Must(
		htmlTemplate.New("status-page").Parse(
			`<!DOCTYPE html>
<html>
<head><title>{{.Code}} {{.Text}}</title></head>
<body>
<h1>{{.Code}} {{.Text}}</h1>
<p>{{.Message}}</p>
</body>
</html>
`),
	)
	defaultTextTemplate = textTemplate.Must(
		textTemplate.New("status-page").Parse("{{.Code}} {{.Text}}\n\n{{.Message}}\n"),
	)
)

func useHTML(request *http.Request) bool {
	if request == nil {
		return false
	}

	htmlQ := -1.0
	textQ := 0.0

	for _, spec := range header.ParseAccept(request.Header, "Accept") {
		if spec.Value == "text/html" || spec.Value == "application/xhtml+xml" {
			if spec.Q > htmlQ {
				htmlQ = spec.Q
			}
		} else if spec.Value == "text/plain" || spec.Value == "*/*" {
			if spec.Q > textQ {
				textQ = spec.Q
			}
		}
	}

	return htmlQ > textQ
}
