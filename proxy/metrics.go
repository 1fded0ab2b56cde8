package proxy

import (
	"io"
	"sync/atomic"
	"time"
)

// Metrics stores basic measurements for an exchange.
type Metrics struct {
	// BytesIn is the number of body bytes received from the client. For
	// tunnels it is the number of bytes relayed from the client.
	BytesIn int64

	// BytesOut is the number of body bytes sent to the client.
	BytesOut int64

	StartedAt       time.Time
	TimeToFirstByte float64
	TimeToLastByte  float64
}

// Start the timer.
func (metrics *Metrics) Start() {
	metrics.StartedAt = time.Now()
}

// FirstByteSent records the time offset to the first byte.
func (metrics *Metrics) FirstByteSent() {
	metrics.TimeToFirstByte = sinceMillis(metrics.StartedAt)
}

// IsFirstByteSent returns true if the first byte has been sent.
func (metrics *Metrics) IsFirstByteSent() bool {
	return metrics.TimeToFirstByte > 0
}

// LastByteSent records the time offset to the last byte.
func (metrics *Metrics) LastByteSent() {
	metrics.TimeToLastByte = sinceMillis(metrics.StartedAt)
}

// IsLastByteSent returns true if the last byte has been sent.
func (metrics *Metrics) IsLastByteSent() bool {
	return metrics.TimeToLastByte > 0
}

func sinceMillis(t time.Time) float64 {
	return float64(time.Since(t)) / float64(time.Millisecond)
}

// countingReader counts the bytes read from an io.ReadCloser. The count is
// updated atomically, as the transport reads request bodies on its own
// goroutine.
type countingReader struct {
	io.ReadCloser
	n *int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	atomic.AddInt64(r.n, int64(n))
	return n, err
}
