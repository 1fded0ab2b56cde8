// Package pipeline composes transforms into a streaming data path.
//
// A stream is a sequence of items. The first item carries the head (a request,
// response or connect head) and the remaining items carry body data. Stages
// are connected by unbuffered channels, so a slow reader at the end of the
// pipeline pauses every stage and, ultimately, reads from the source.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ChunkSize is the maximum number of bytes in each data item read from a
// source.
const ChunkSize = 32 * 1024

// ErrNoHead is returned by Endpoint.Head() when the pipeline did not emit a
// head as its first item.
var ErrNoHead = errors.New("pipeline did not emit a head")

// Item is a unit of data passed between stages. Exactly one of Head and Data
// is normally set.
type Item struct {
	Head interface{}
	Data []byte
}

// Transform is a single stage of a pipeline. It reads items from in until it
// is closed, and writes items to out. It must not close out. It should return
// promptly once ctx is canceled, Send() takes care of this for writes.
type Transform interface {
	Transform(ctx context.Context, in <-chan Item, out chan<- Item) error
}

// TransformFunc adapts a function to the Transform interface.
type TransformFunc func(ctx context.Context, in <-chan Item, out chan<- Item) error

// Transform calls fn(ctx, in, out).
func (fn TransformFunc) Transform(ctx context.Context, in <-chan Item, out chan<- Item) error {
	return fn(ctx, in, out)
}

// Pipeline is an ordered chain of transforms.
//
// The zero value is an empty pipeline, which passes its input through
// unchanged. A pipeline is built by a single goroutine, and may be opened any
// number of times once built.
type Pipeline struct {
	stages []Transform
}

// Last appends t to the tail of the pipeline. The output of the existing
// chain becomes the input of t.
func (p *Pipeline) Last(t Transform) *Pipeline {
	p.stages = append(p.stages, t)
	return p
}

// First prepends t to the head of the pipeline. The output of t becomes the
// input of the existing chain, and t becomes the pipeline's entry point.
func (p *Pipeline) First(t Transform) *Pipeline {
	p.stages = append([]Transform{t}, p.stages...)
	return p
}

// Len returns the number of transforms in the pipeline.
func (p *Pipeline) Len() int {
	if p == nil {
		return 0
	}

	return len(p.stages)
}

// Empty returns true if no transforms have been attached.
func (p *Pipeline) Empty() bool {
	return p.Len() == 0
}

// Open starts streaming head followed by the contents of body through the
// pipeline. The returned endpoint yields the pipeline's output, it must be
// closed once it is no longer needed.
//
// body may be nil, in which case only the head is streamed.
func (p *Pipeline) Open(ctx context.Context, head interface{}, body io.Reader) *Endpoint {
	ctx, cancel := context.WithCancel(ctx)

	e := &Endpoint{cancel: cancel}

	src := make(chan Item)
	go e.feed(ctx, src, head, body)

	var in <-chan Item = src
	for _, t := range p.stages {
		out := make(chan Item)
		go e.run(ctx, t, in, out)
		in = out
	}

	e.out = in

	return e
}

// Endpoint is the output side of an open pipeline.
type Endpoint struct {
	out    <-chan Item
	cancel context.CancelFunc

	once    sync.Once
	started bool
	head    interface{}
	headErr error
	buf     []byte

	mutex sync.Mutex
	err   error
}

// Head returns the head emitted by the pipeline. It blocks until the first
// item is available. If the first item is data, ErrNoHead is returned and the
// data is made available to Read().
func (e *Endpoint) Head() (interface{}, error) {
	e.once.Do(func() {
		e.started = true

		it, ok := <-e.out
		if !ok {
			e.headErr = e.failure()
			if e.headErr == nil {
				e.headErr = ErrNoHead
			}
			return
		}

		if it.Head == nil {
			e.headErr = ErrNoHead
			e.buf = it.Data
			return
		}

		e.head = it.Head
		e.buf = it.Data
	})

	return e.head, e.headErr
}

// Read reads body data from the pipeline's output. Heads emitted after the
// first item are discarded. If Head() has not been called, the first item is
// consumed as the head before reading.
func (e *Endpoint) Read(p []byte) (int, error) {
	if !e.started {
		e.Head() // nolint:errcheck
	}

	for len(e.buf) == 0 {
		it, ok := <-e.out
		if !ok {
			if err := e.failure(); err != nil {
				return 0, err
			}
			return 0, io.EOF
		}

		e.buf = it.Data
	}

	n := copy(p, e.buf)
	e.buf = e.buf[n:]

	return n, nil
}

// Close stops the pipeline. Any output that has not been read is discarded.
func (e *Endpoint) Close() error {
	e.cancel()

	go func() {
		for range e.out {
		}
	}()

	return nil
}

// Err returns the first error produced by the source or by a transform, if
// any.
func (e *Endpoint) Err() error {
	return e.failure()
}

func (e *Endpoint) failure() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	return e.err
}

func (e *Endpoint) fail(err error) {
	e.mutex.Lock()
	if e.err == nil {
		e.err = err
	}
	e.mutex.Unlock()

	e.cancel()
}

func (e *Endpoint) feed(ctx context.Context, out chan<- Item, head interface{}, body io.Reader) {
	defer close(out)

	if err := Send(ctx, out, Item{Head: head}); err != nil || body == nil {
		return
	}

	for {
		buf := make([]byte, ChunkSize)
		n, err := body.Read(buf)

		if n > 0 {
			if err := Send(ctx, out, Item{Data: buf[:n]}); err != nil {
				return
			}
		}

		if err == io.EOF {
			return
		} else if err != nil {
			e.fail(err)
			return
		}
	}
}

func (e *Endpoint) run(ctx context.Context, t Transform, in <-chan Item, out chan<- Item) {
	defer func() {
		// Unblock the previous stage if t returned before consuming its input.
		for range in {
		}
	}()
	defer close(out)

	defer func() {
		if r := recover(); r != nil {
			e.fail(fmt.Errorf("pipeline transform panicked: %v", r))
		}
	}()

	if err := t.Transform(ctx, in, out); err != nil {
		e.fail(err)
	}
}

// Send writes it to out, or returns ctx.Err() if ctx is canceled first.
func Send(ctx context.Context, out chan<- Item, it Item) error {
	select {
	case out <- it:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
