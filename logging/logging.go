// Package logging holds the small amount of glue needed to share a logrus
// logger between components.
package logging

import (
	"io"
	"log"

	"github.com/sirupsen/logrus"
)

var discard = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Default returns l, or a logger that discards everything if l is nil.
func Default(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return discard
	}

	return l
}

// ErrorLog returns a standard library logger that forwards to l at debug
// level, for use as http.Server.ErrorLog.
func ErrorLog(l logrus.FieldLogger) *log.Logger {
	return log.New(&writer{Default(l)}, "", 0)
}

type writer struct {
	logger logrus.FieldLogger
}

func (w *writer) Write(p []byte) (int, error) {
	n := len(p)
	if n > 0 && p[n-1] == '\n' {
		p = p[:n-1]
	}

	w.logger.Debug(string(p))

	return n, nil
}
