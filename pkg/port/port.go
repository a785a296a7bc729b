// Package port is the in-process analogue of a postMessage port: a typed,
// unidirectional Go channel of []byte frames, wrapped so call sites read
// Send/Recv rather than raw channel syntax.
package port

import "context"

// T is one direction of a message port.
type T struct {
	ch chan []byte
}

// New creates a port with the given buffer depth.
func New(depth int) *T {
	return &T{ch: make(chan []byte, depth)}
}

// Send delivers b, blocking until there is room or ctx is done.
func (p *T) Send(ctx context.Context, b []byte) (err error) {
	select {
	case p.ch <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend delivers b without blocking, reporting false if the port's buffer
// is full.
func (p *T) TrySend(b []byte) (ok bool) {
	select {
	case p.ch <- b:
		return true
	default:
		return false
	}
}

// Recv waits for the next frame, blocking until one arrives or ctx is done.
func (p *T) Recv(ctx context.Context) (b []byte, err error) {
	select {
	case b = <-p.ch:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Chan exposes the underlying channel for use in select statements
// alongside other ports or timers.
func (p *T) Chan() <-chan []byte { return p.ch }

// Close closes the underlying channel. Only the sending side should call
// this.
func (p *T) Close() { close(p.ch) }

// Pair is a pair of ports. Each side of a port relationship holds the
// opposite Pair from the other.
type Pair struct {
	Out *T
	In  *T
}

// NewPair creates two ports of the given depth wired as a request/response
// pair, the shape every cross-component port in the runtime uses (parser<->
// signer, dispatcher->pipeline, etc).
func NewPair(depth int) (a, b Pair) {
	toB := New(depth)
	toA := New(depth)
	a = Pair{Out: toB, In: toA}
	b = Pair{Out: toA, In: toB}
	return
}
