package toolrpc

import (
	"context"
	"sync"

	"github.com/halcyonhq/halcyon/pkg/transport"
	"github.com/halcyonhq/halcyon/pkg/wire"
)

// pipeEnd is an in-memory bidirectional transport for tests. Closing either
// end drops the shared connection, mirroring how a socket behaves.
type pipeEnd struct {
	in   <-chan *wire.Message
	out  chan<- *wire.Message
	done chan struct{}
	once *sync.Once
}

var _ transport.Transport = (*pipeEnd)(nil)

// newPipe returns two connected transport ends.
func newPipe() (*pipeEnd, *pipeEnd) {
	ab := make(chan *wire.Message, 16)
	ba := make(chan *wire.Message, 16)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &pipeEnd{in: ba, out: ab, done: done, once: once}
	b := &pipeEnd{in: ab, out: ba, done: done, once: once}
	return a, b
}

func (p *pipeEnd) Send(ctx context.Context, m *wire.Message) error {
	select {
	case <-p.done:
		return transport.ErrClosed
	default:
	}
	select {
	case p.out <- m:
		return nil
	case <-p.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive(ctx context.Context) (*wire.Message, error) {
	select {
	case m := <-p.in:
		return m, nil
	case <-p.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
