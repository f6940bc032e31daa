// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package reconos

import (
	"context"
	"sync/atomic"

	"github.com/creachadair/reconos/code"
	"github.com/creachadair/reconos/metrics"
	"golang.org/x/sync/semaphore"
)

// Phases of the producer and consumer sides of a pipe.
const (
	phaseIdle     int32 = iota // no call in progress
	phaseWaiting               // blocked on the peer
	phaseReserved              // producer holds a reservation awaiting Commit
	phaseCommit                // producer is copying its reservation
)

// States of the consumer's published request. A producer claims a request by
// moving it from published to claimed; a cancelled consumer withdraws it by
// moving it from published to withdrawn. Exactly one of the two can win, and
// neither move is undone.
const (
	reqNone      int32 = iota // no request outstanding
	reqPublished              // buf and n are published, read is posted
	reqClaimed                // a producer owns the hand-off window
	reqWithdrawn              // the consumer is taking its request back
)

// A Pipe is a synchronous rendezvous channel that moves one message at a time
// from a single producer to a single consumer. The consumer publishes a
// destination buffer and its capacity; the producer copies at most that many
// bytes into it. Nothing is buffered: each call blocks until its counterpart
// arrives.
//
// The producer side is either Send, or Reserve followed by Commit. The
// consumer side is Recv. Any producer variant works against Recv.
//
// A Pipe supports one producer and one consumer at a time. Overlapping calls
// on the same side, a Commit with no reservation, and any use after Close
// are protocol violations and cause a panic whose value matches
// ErrProtocolMisuse under errors.Is.
type Pipe struct {
	read  *semaphore.Weighted // posted by the consumer when buf and n are published
	write *semaphore.Weighted // posted by the producer when buf holds the transfer

	// The hand-off window: buf and n may be touched by the producer only after
	// it acquires read, and by the consumer only before it posts read or after
	// it acquires write. No lock protects them.
	buf []byte
	n   int

	offer   int  // producer-private: length offered to the last Reserve
	aborted bool // set by Abort before posting write

	// Closed by a withdrawing consumer once it has recovered the read signal.
	reclaimed chan struct{}

	prod   atomic.Int32
	cons   atomic.Int32
	req    atomic.Int32
	closed atomic.Bool

	budget *Budget
	log    func(string, ...any)
	m      *metrics.M
}

// NewPipe constructs a new pipe with both signals unavailable. It reports an
// error with code.ResourceExhausted if opts has a budget with fewer than two
// signals available; in that case no signals remain allocated.
func NewPipe(opts *PipeOptions) (*Pipe, error) {
	b := opts.budget()
	if err := b.take(signalsPerPipe); err != nil {
		return nil, err
	}
	p := &Pipe{
		read:   newSignal(),
		write:  newSignal(),
		budget: b,
		log:    opts.logFunc(),
		m:      opts.metrics(),
	}
	pipesActiveGauge.Add(1)
	p.log("Pipe created")
	return p, nil
}

// newSignal returns a binary signal in the unavailable state.
func newSignal() *semaphore.Weighted {
	s := semaphore.NewWeighted(1)
	s.TryAcquire(1)
	return s
}

// Send blocks until a consumer is waiting, copies min(len(data), capacity)
// bytes of data into its buffer, and returns the number of bytes copied.
// Bytes beyond the consumer's capacity are dropped.
func (p *Pipe) Send(data []byte) int {
	n, _ := p.SendContext(context.Background(), data)
	return n
}

// SendContext behaves as Send, but gives up if ctx ends before a consumer
// arrives. In that case it returns 0 and the error from ctx, and the pipe is
// unchanged. Once a consumer has been claimed the copy always completes.
func (p *Pipe) SendContext(ctx context.Context, data []byte) (int, error) {
	p.enter(&p.prod, "Send", "producer")
	if err := p.claim(ctx); err != nil {
		p.prod.Store(phaseIdle)
		p.cancelled("Send", err)
		return 0, err
	}

	n := copy(p.buf[:min(len(data), p.n)], data)
	p.n = n
	p.complete(n, len(data))

	p.prod.Store(phaseIdle)
	p.write.Release(1)
	return n, nil
}

// Reserve blocks until a consumer is waiting and fixes the length of the
// transfer at min(limit, capacity), which it returns. It does not copy any data
// or release the consumer; the caller must follow with exactly one call to
// Commit. A negative limit is treated as zero.
func (p *Pipe) Reserve(limit int) int {
	n, _ := p.ReserveContext(context.Background(), limit)
	return n
}

// ReserveContext behaves as Reserve, but gives up if ctx ends before a
// consumer arrives. In that case it returns 0 and the error from ctx, no
// reservation is held, and Commit must not be called.
func (p *Pipe) ReserveContext(ctx context.Context, limit int) (int, error) {
	p.enter(&p.prod, "Reserve", "producer")
	if err := p.claim(ctx); err != nil {
		p.prod.Store(phaseIdle)
		p.cancelled("Reserve", err)
		return 0, err
	}

	limit = max(limit, 0)
	p.n = min(limit, p.n)
	p.offer = limit
	n := p.n
	p.prod.Store(phaseReserved)
	p.log("Reserved %d bytes (offered %d)", n, limit)
	return n, nil
}

// Commit copies exactly the number of bytes fixed by the preceding Reserve
// from data into the consumer's buffer and releases the consumer. Any bytes of
// data beyond the reserved length are ignored.
//
// Commit panics if no reservation is pending, or if len(data) is less than
// the reserved length.
func (p *Pipe) Commit(data []byte) {
	if p.closed.Load() {
		p.misuse("Commit", "pipe is closed")
	}
	if p.prod.Load() != phaseReserved {
		p.misuse("Commit", "no reservation is pending")
	}
	n := p.n
	if len(data) < n {
		p.misuse("Commit", "data has %d bytes, reservation is %d", len(data), n)
	}
	if !p.prod.CompareAndSwap(phaseReserved, phaseCommit) {
		p.misuse("Commit", "concurrent commit")
	}

	copy(p.buf[:n], data)
	p.complete(n, p.offer)

	p.prod.Store(phaseIdle)
	p.write.Release(1)
}

// Abort gives up the pending reservation without copying any data. The
// consumer is released and its RecvContext reports an error matching
// ErrAborted. Abort panics if no reservation is pending.
func (p *Pipe) Abort() {
	if p.closed.Load() {
		p.misuse("Abort", "pipe is closed")
	}
	if !p.prod.CompareAndSwap(phaseReserved, phaseCommit) {
		p.misuse("Abort", "no reservation is pending")
	}
	p.aborted = true
	abortedCount.Add(1)
	p.m.Count(metrics.Aborted, 1)
	p.log("Reservation of %d bytes aborted", p.n)

	p.prod.Store(phaseIdle)
	p.write.Release(1)
}

// claim waits for a published request and takes ownership of it. Once claim
// succeeds the hand-off must be completed, whatever happens to ctx.
func (p *Pipe) claim(ctx context.Context) error {
	for {
		if err := p.read.Acquire(ctx, 1); err != nil {
			return err
		}
		if p.req.CompareAndSwap(reqPublished, reqClaimed) {
			return nil
		}

		// The consumer withdrew this request and is waiting to recover the
		// signal. Hand it back and wait for the next request.
		done := p.reclaimed
		p.read.Release(1)
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Recv publishes dst as the destination of the next transfer, with capacity
// len(dst), and blocks until a producer has filled it. It returns the number
// of bytes the producer copied, which is never more than len(dst). If the
// producer aborts its reservation Recv returns 0; use RecvContext to tell
// this apart from an empty transfer.
func (p *Pipe) Recv(dst []byte) int {
	n, _ := p.RecvContext(context.Background(), dst)
	return n
}

// RecvContext behaves as Recv, but stops waiting if ctx ends.
//
// If no producer has claimed the request when ctx ends, the request is
// withdrawn and RecvContext returns 0 and the error from ctx. If a producer
// has already claimed it, RecvContext waits for that producer to finish and
// reports the completed transfer with a nil error. Either way dst is not
// touched by the pipe once RecvContext returns.
//
// If the producer aborts its reservation, RecvContext returns 0 and an error
// matching ErrAborted.
func (p *Pipe) RecvContext(ctx context.Context, dst []byte) (int, error) {
	p.enter(&p.cons, "Recv", "consumer")
	p.n = len(dst)
	p.buf = dst
	p.req.Store(reqPublished)
	p.read.Release(1)

	if err := p.write.Acquire(ctx, 1); err != nil {
		if p.withdraw() {
			p.cons.Store(phaseIdle)
			p.cancelled("Recv", err)
			return 0, err
		}
		// A producer owns the window and will post write when it is done.
		p.log("Recv cancelled with a producer engaged; finishing hand-off")
		p.write.Acquire(context.Background(), 1)
	}

	n := p.n
	aborted := p.aborted
	p.buf, p.aborted = nil, false
	p.req.Store(reqNone)
	p.cons.Store(phaseIdle)
	if aborted {
		return 0, Errorf(code.Aborted, "Recv", "producer aborted a %d-byte reservation", n)
	}
	return n, nil
}

// withdraw takes back the published request, reporting false if a producer
// claimed it first. On success the read signal is unavailable again: a
// producer that holds it without a claim always gives it back.
func (p *Pipe) withdraw() bool {
	done := make(chan struct{})
	p.reclaimed = done
	if !p.req.CompareAndSwap(reqPublished, reqWithdrawn) {
		return false
	}
	p.read.Acquire(context.Background(), 1)
	p.buf = nil
	p.req.Store(reqNone)
	close(done)
	return true
}

// Close releases the signals of p. The caller must ensure no transfer is in
// progress; Close panics if it observes a producer or consumer still active.
// Closing a pipe more than once reports ErrClosed.
func (p *Pipe) Close() error {
	if p.closed.Swap(true) {
		return ErrClosed
	}
	if p.prod.Load() != phaseIdle || p.cons.Load() != phaseIdle {
		p.misuse("Close", "transfer in flight")
	}
	p.buf = nil
	p.budget.give(signalsPerPipe)
	pipesActiveGauge.Add(-1)
	p.log("Pipe closed")
	return nil
}

// enter marks the start of a call on one side of the pipe, or panics if the
// pipe is closed or that side is already busy.
func (p *Pipe) enter(side *atomic.Int32, op, role string) {
	if p.closed.Load() {
		p.misuse(op, "pipe is closed")
	}
	if !side.CompareAndSwap(phaseIdle, phaseWaiting) {
		if side == &p.prod && side.Load() == phaseReserved {
			p.misuse(op, "reservation pending; Commit must come first")
		}
		p.misuse(op, "concurrent %s", role)
	}
}

// complete records a finished copy of n bytes out of an offer of size
// offered. Truncated transfers are reported separately from exact ones.
func (p *Pipe) complete(n, offered int) {
	transfersCount.Add(1)
	bytesCopiedCount.Add(int64(n))
	if n < offered {
		truncatedCount.Add(1)
		p.log("Transfer truncated: %d of %d bytes", n, offered)
	} else {
		p.log("Transfer complete: %d bytes", n)
	}
	p.m.RecordTransfer(n, offered)
}

func (p *Pipe) cancelled(op string, err error) {
	cancelledWaitsCount.Add(1)
	p.m.Count(metrics.Cancelled, 1)
	p.log("%s wait abandoned: %v", op, err)
}

func (p *Pipe) misuse(op, msg string, args ...any) {
	err := Errorf(code.ProtocolMisuse, op, msg, args...)
	p.log("Protocol misuse: %v", err)
	panic(err)
}
