package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/creachadair/reconos"
)

// ErrTruncated is reported by Send when the peer accepted fewer bytes than
// the record contained. The accepted prefix was delivered; the rest is lost.
var ErrTruncated = errors.New("record truncated")

var errSendClosed = errors.New("send on closed channel")

// link is the state shared by the two ends of a rendezvous pair.
type link struct {
	ctx    context.Context
	cancel context.CancelFunc

	// Calls in progress hold mu for reading. The last Close takes it for
	// writing so that the pipes are idle when they are closed.
	mu    sync.RWMutex
	open  int // number of ends not yet closed
	pipes [2]*reconos.Pipe
}

type rendezvous struct {
	*link
	out, in *reconos.Pipe
	max     int
	closed  bool
}

// Rendezvous returns a pair of connected channels that pass records through
// a pair of reconos pipes, one in each direction. Sends to client will be
// received by server, and vice versa. Records longer than maxLen bytes are
// truncated to maxLen, and Send reports ErrTruncated.
//
// Closing either end shuts down both directions: pending and subsequent
// calls to Recv report io.EOF, and calls to Send report an error. The pipes
// are closed when both ends have been closed.
//
// If opts != nil it is used to construct both pipes. Rendezvous reports an
// error if either pipe cannot be created; in that case nothing is allocated.
func Rendezvous(maxLen int, opts *reconos.PipeOptions) (client, server Channel, err error) {
	if maxLen < 0 {
		return nil, nil, fmt.Errorf("invalid maximum record length %d", maxLen)
	}
	c2s, err := reconos.NewPipe(opts)
	if err != nil {
		return nil, nil, err
	}
	s2c, err := reconos.NewPipe(opts)
	if err != nil {
		c2s.Close()
		return nil, nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	lk := &link{ctx: ctx, cancel: cancel, open: 2, pipes: [2]*reconos.Pipe{c2s, s2c}}
	client = &rendezvous{link: lk, out: c2s, in: s2c, max: maxLen}
	server = &rendezvous{link: lk, out: s2c, in: c2s, max: maxLen}
	return client, server, nil
}

func (r *rendezvous) Send(msg []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.ctx.Err() != nil {
		return errSendClosed
	}
	n, err := r.out.SendContext(r.ctx, msg)
	if err != nil {
		return errSendClosed
	} else if n < len(msg) {
		return fmt.Errorf("%w: sent %d of %d bytes", ErrTruncated, n, len(msg))
	}
	return nil
}

func (r *rendezvous) Recv() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.ctx.Err() != nil {
		return nil, io.EOF
	}
	buf := make([]byte, r.max)
	n, err := r.in.RecvContext(r.ctx, buf)
	if err != nil {
		return nil, io.EOF
	}
	return buf[:n], nil
}

func (r *rendezvous) Close() error {
	r.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.open--
	if r.open > 0 {
		return nil
	}
	return errors.Join(r.pipes[0].Close(), r.pipes[1].Close())
}
