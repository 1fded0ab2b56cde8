package proxy

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	humanize "github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// LogContext holds information about an exchange used for logging.
type LogContext struct {
	Logger     logrus.FieldLogger
	ID         uint64
	RemoteAddr string
	Filter     Filter
	StatusCode int
	Metrics    Metrics

	// Request is the request head as forwarded upstream, after interception.
	Request *RequestHead

	// RequestLine is the method, request URI and protocol version received
	// from the client.
	RequestLine string

	buffer bytes.Buffer
}

// Log writes a log entry for the context to the logger.
//
// The log format consists of the following space separated fields:
//
// - event type
// - remote address
// - upstream host
// - interception filter
// - request information (method, URI and protocol)
// - http status code
// - time to first byte
// - time to last byte
// - bytes inbound
// - bytes outbound
// - message (optional)
//
// The event type is the upper-case protocol of the upstream request, "HTTP" or
// "HTTPS", or "-" if the request was rejected before its protocol was known.
//
// All fields are always present, except for the message which is optional. If a
// field value is unknown or not applicable, a hyphen is used in place. If a
// field value contains spaces or other special characters it is rendered as a
// double-quoted Go string. This allows log output to be parsed programatically.
func (ctx *LogContext) Log(err error) {
	if ctx.Logger == nil {
		return
	}

	// event type + upstream host
	if ctx.Request == nil {
		ctx.write("")
		ctx.write(ctx.RemoteAddr)
		ctx.write("")
	} else {
		ctx.write(strings.ToUpper(ctx.Request.Protocol))
		ctx.write(ctx.RemoteAddr)
		ctx.write(ctx.Request.Authority())
	}

	ctx.write(string(ctx.Filter))
	ctx.write(ctx.RequestLine)

	// status code
	if ctx.StatusCode == 0 {
		ctx.write("")
	} else {
		ctx.write("%d", ctx.StatusCode)
	}

	// time to first byte
	if ctx.Metrics.IsFirstByteSent() {
		ctx.write(
			"f/%sms",
			humanize.FormatFloat("#,###.##", ctx.Metrics.TimeToFirstByte),
		)
	} else {
		ctx.write("")
	}

	// time to last byte
	if ctx.Metrics.IsLastByteSent() {
		ctx.write(
			"l/%sms",
			humanize.FormatFloat("#,###.##", ctx.Metrics.TimeToLastByte),
		)

		// bytes in
		ctx.write(
			"i/%s",
			humanize.FormatFloat("#,###.", float64(atomic.LoadInt64(&ctx.Metrics.BytesIn))),
		)

		// bytes out
		ctx.write(
			"o/%s",
			humanize.FormatFloat("#,###.", float64(ctx.Metrics.BytesOut)),
		)
	} else {
		ctx.write("")
		ctx.write("")
		ctx.write("")
	}

	// optional message
	if err != nil {
		ctx.write(err.Error())
	}

	ctx.Logger.WithField("exchange", ctx.ID).Info(ctx.buffer.String())
	ctx.buffer.Reset()
}

// write is a helper function that writes to a string to a buffer, quoting the
// string if it contains whitespace or special characters.
func (ctx *LogContext) write(str string, v ...interface{}) {
	if ctx.buffer.Len() != 0 {
		ctx.buffer.WriteRune(' ')
	}

	if len(v) != 0 {
		str = fmt.Sprintf(str, v...)
	}

	if str == "" {
		ctx.buffer.WriteRune('-')
		return
	}

	if strings.ContainsAny(str, " \a\b\f\n\r\t\v\"") {
		ctx.buffer.WriteString(strconv.Quote(str))
	} else {
		ctx.buffer.WriteString(str)
	}
}
