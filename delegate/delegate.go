// Package delegate implements the software proxy of a hardware thread.
//
// A hardware thread cannot call into the pipes of package reconos directly.
// Instead it writes requests as words on its OSIF port, and a Delegate running
// on the software side reads each request, performs the pipe operation on the
// thread's behalf, and writes the results back.
//
// # Protocol
//
// Each request begins with a command word holding an operation code in its
// top byte and a pipe index in the low 24 bits (see Command).
//
//	OpPipeWrite  hw→sw: cmd, max     sw→hw: n     hw→sw: ⌈n/4⌉ data words
//	OpPipeRead   hw→sw: cmd, max     sw→hw: n, ⌈n/4⌉ data words
//	OpExit       hw→sw: cmd          (no reply; the delegate stops)
//
// A write uses the split Reserve/Commit form of the pipe, so the hardware
// thread learns the negotiated length before it streams the payload. If the
// thread fails before the payload is complete, the reservation is aborted and
// the software consumer sees reconos.ErrAborted rather than partial data. Data
// words carry payload bytes in little-endian order; the last word is padded
// with zeroes.
package delegate

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"math"

	"github.com/creachadair/reconos"
	"github.com/creachadair/reconos/metrics"
	"github.com/creachadair/reconos/osif"
)

// Operation codes for command words.
const (
	OpPipeWrite = 0x01 // the hardware thread produces into a pipe
	OpPipeRead  = 0x02 // the hardware thread consumes from a pipe
	OpExit      = 0xFF // the hardware thread has finished
)

const indexMask = 1<<24 - 1

// DefaultMaxTransfer is the largest transfer a delegate will negotiate when
// no other limit is given in its options.
const DefaultMaxTransfer = 64 << 10

// Command constructs a command word for op on the pipe at index.
func Command(op uint8, index int) uint32 { return uint32(op)<<24 | uint32(index)&indexMask }

// ParseCommand splits a command word into its operation and pipe index.
func ParseCommand(w uint32) (op uint8, index int) { return uint8(w >> 24), int(w & indexMask) }

// Errors reported by Run.
var (
	ErrUnknownOp = errors.New("delegate: unknown operation")
	ErrNoPipe    = errors.New("delegate: no such pipe")
)

// Options control the behaviour of a Delegate. A nil *Options provides
// sensible defaults.
type Options struct {
	// If not nil, send debug logs to this writer.
	LogWriter io.Writer

	// A label for the delegate in log messages, typically the thread name.
	Name string

	// The largest transfer to negotiate on behalf of the hardware thread.
	// If zero, DefaultMaxTransfer is used.
	MaxTransfer int

	// If not nil, count requests here by operation.
	Metrics *metrics.M
}

func (o *Options) logFunc() func(string, ...any) {
	if o == nil || o.LogWriter == nil {
		return func(string, ...any) {}
	}
	prefix := "[delegate] "
	if o.Name != "" {
		prefix = "[delegate " + o.Name + "] "
	}
	logger := log.New(o.LogWriter, prefix, log.LstdFlags|log.Lshortfile)
	return func(msg string, args ...any) { logger.Output(2, fmt.Sprintf(msg, args...)) }
}

func (o *Options) maxTransfer() int {
	if o == nil || o.MaxTransfer <= 0 {
		return DefaultMaxTransfer
	}
	return min(o.MaxTransfer, math.MaxInt32)
}

func (o *Options) metrics() *metrics.M {
	if o == nil {
		return nil
	}
	return o.Metrics
}

// A Delegate serves the requests of one hardware thread.
type Delegate struct {
	port  osif.Port
	pipes []*reconos.Pipe
	max   int
	log   func(string, ...any)
	m     *metrics.M
}

// New constructs a delegate that reads requests from port and resolves pipe
// indexes in pipes. The delegate takes ownership of port.
func New(port osif.Port, pipes []*reconos.Pipe, opts *Options) *Delegate {
	return &Delegate{
		port:  port,
		pipes: pipes,
		max:   opts.maxTransfer(),
		log:   opts.logFunc(),
		m:     opts.metrics(),
	}
}

// Run serves requests until the hardware thread sends OpExit, the port
// fails, or ctx ends. It returns nil after OpExit, the error from ctx if ctx
// ended, or otherwise the error that stopped it. The port is closed when Run
// returns.
func (d *Delegate) Run(ctx context.Context) error {
	// A port read cannot observe ctx, so closing the port unblocks it.
	stop := context.AfterFunc(ctx, func() { d.port.Close() })
	defer stop()
	defer d.port.Close()

	var cmd [1]uint32
	for {
		if err := osif.ReadFull(d.port, cmd[:]); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("delegate: read command: %w", err)
		}
		op, index := ParseCommand(cmd[0])
		if op == OpExit {
			d.m.Count("exit", 1)
			d.log("Hardware thread exited")
			return nil
		}
		if err := d.serve(ctx, op, index); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

func (d *Delegate) serve(ctx context.Context, op uint8, index int) error {
	if op != OpPipeWrite && op != OpPipeRead {
		return fmt.Errorf("%w: %#02x", ErrUnknownOp, op)
	}
	if index >= len(d.pipes) {
		return fmt.Errorf("%w: %d", ErrNoPipe, index)
	}
	p := d.pipes[index]

	var arg [1]uint32
	if err := osif.ReadFull(d.port, arg[:]); err != nil {
		return fmt.Errorf("delegate: read length: %w", err)
	}
	// The length word is unsigned; clamp it before it becomes an int, which
	// may be 32 bits wide.
	limit := int(min(arg[0], uint32(d.max)))

	if op == OpPipeWrite {
		d.m.Count("pipe_write", 1)
		return d.pipeWrite(ctx, p, index, limit)
	}
	d.m.Count("pipe_read", 1)
	return d.pipeRead(ctx, p, index, limit)
}

// pipeWrite relays a transfer from the hardware thread into pipe p.
func (d *Delegate) pipeWrite(ctx context.Context, p *reconos.Pipe, index, limit int) error {
	n, err := p.ReserveContext(ctx, limit)
	if err != nil {
		return err
	}
	// From here the consumer is held until the reservation is committed or
	// aborted, and one of the two must happen even if the hardware thread
	// fails partway.
	err = d.reply(uint32(n))
	words := make([]uint32, WordsFor(n))
	if err == nil {
		err = osif.ReadFull(d.port, words)
	}
	if err != nil {
		p.Abort()
		d.log("Pipe %d: write of %d bytes aborted after reservation: %v", index, n, err)
		return fmt.Errorf("delegate: pipe %d write: %w", index, err)
	}
	data := make([]byte, n)
	Unpack(data, words)
	p.Commit(data)
	d.log("Pipe %d: wrote %d of %d bytes", index, n, limit)
	return nil
}

// pipeRead relays a transfer from pipe p to the hardware thread.
func (d *Delegate) pipeRead(ctx context.Context, p *reconos.Pipe, index, limit int) error {
	buf := make([]byte, limit)
	n, err := p.RecvContext(ctx, buf)
	if errors.Is(err, reconos.ErrAborted) {
		// The thread has no way to receive an error; it sees an empty transfer.
		d.log("Pipe %d: producer aborted; replying with an empty transfer", index)
		n, err = 0, nil
	}
	if err != nil {
		return err
	}
	out := make([]uint32, 1+WordsFor(n))
	out[0] = uint32(n)
	Pack(out[1:], buf[:n])
	if _, err := d.port.Write(out); err != nil {
		return fmt.Errorf("delegate: pipe %d read: %w", index, err)
	}
	d.log("Pipe %d: read %d bytes (capacity %d)", index, n, limit)
	return nil
}

func (d *Delegate) reply(w uint32) error {
	_, err := d.port.Write([]uint32{w})
	return err
}

// WordsFor reports the number of data words needed to carry n bytes.
func WordsFor(n int) int { return (n + 3) / 4 }

// Pack packs data into words in little-endian order. The words slice must
// have at least WordsFor(len(data)) elements.
func Pack(words []uint32, data []byte) {
	for i := 0; i < WordsFor(len(data)); i++ {
		var w [4]byte
		copy(w[:], data[4*i:])
		words[i] = binary.LittleEndian.Uint32(w[:])
	}
}

// Unpack fills data from words packed by Pack.
func Unpack(data []byte, words []uint32) {
	for i := 0; i < WordsFor(len(data)); i++ {
		var w [4]byte
		binary.LittleEndian.PutUint32(w[:], words[i])
		copy(data[4*i:], w[:])
	}
}
