package proxy

import (
	"io"
	"net"
)

type closeWriter interface {
	CloseWrite() error
}

type pipeResult struct {
	n   int64
	err error
}

// Pipe relays data in both directions between client and upstream until both
// directions have finished, then closes both connections.
//
// When one side reaches EOF, the write side of the other is closed so that
// the close propagates. If either direction fails, both connections are
// closed immediately.
func Pipe(client, upstream net.Conn) (bytesIn, bytesOut int64, err error) {
	in := make(chan pipeResult, 1)
	out := make(chan pipeResult, 1)

	go pipe(in, client, upstream)
	go pipe(out, upstream, client)

	var first, second pipeResult
	select {
	case first = <-in:
		second = <-out
		bytesIn, bytesOut = first.n, second.n
	case first = <-out:
		second = <-in
		bytesIn, bytesOut = second.n, first.n
	}

	client.Close()
	upstream.Close()

	err = first.err
	if err == nil {
		err = second.err
	}

	return bytesIn, bytesOut, err
}

func pipe(result chan<- pipeResult, source, target net.Conn) {
	n, err := io.Copy(target, source)

	if err != nil {
		source.Close()
		target.Close()
	} else if cw, ok := target.(closeWriter); ok {
		cw.CloseWrite()
	} else {
		target.Close()
	}

	result <- pipeResult{n, err}
}
