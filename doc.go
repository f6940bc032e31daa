/*
Package reconos implements the software side of the message channels used by
hardware threads and software threads on a reconfigurable platform.

# Pipes

The *Pipe type is a synchronous rendezvous channel between one producer and
one consumer. A pipe holds no data of its own: the consumer lends a buffer for
the duration of a single transfer, and the producer copies into it. The length
of each transfer is the smaller of the consumer's capacity and the producer's
offer.

	p, err := reconos.NewPipe(nil) // nil for default options
	if err != nil {
	   log.Fatalf("NewPipe: %v", err)
	}
	defer p.Close()

	go func() {
	   p.Send([]byte{1, 2, 3, 4})
	}()

	buf := make([]byte, 10)
	n := p.Recv(buf) // n == 4, buf[:4] == {1, 2, 3, 4}

If the consumer's buffer is shorter than the data offered, the excess is
dropped; the producer learns this from the return value of Send. A producer
that needs to know the transfer length before it has its data in hand may
split the call into Reserve and Commit:

	n := p.Reserve(64)         // blocks until a consumer is waiting
	data := produce(n)         // generate exactly n bytes
	p.Commit(data)             // copy and release the consumer

Calls block until their counterpart arrives. The SendContext, ReserveContext
and RecvContext methods allow a wait to be abandoned through a context; a
cancelled wait never leaves half a hand-off behind.

A producer that has reserved a transfer but cannot produce its data may call
Abort instead of Commit. The consumer is released without data, and
RecvContext reports an error matching ErrAborted.

# Protocol Misuse

A pipe serves exactly one producer and one consumer at a time. A second
concurrent call on either side, a Commit without a Reserve, and any use of a
closed pipe are programming errors, and the pipe panics with an *Error whose
code is code.ProtocolMisuse. NewPipe reports code.ResourceExhausted if the
Budget supplied in its options has no room for two more signals.

# Metrics

Pipes record aggregate statistics in an expvar.Map returned by PipeMetrics,
and optionally in a per-pipe *metrics.M given in PipeOptions. Transfers that
were truncated are counted separately from those that fit exactly.
*/
package reconos
