// Package osif provides access to the OSIF, the word-oriented FIFO interface
// through which a hardware thread issues requests to its software delegate.
//
// A Port reads and writes 32-bit words. On Linux, Open attaches to the ReconOS
// OSIF character device. Loopback returns a connected in-memory pair, where
// one end plays the part of the hardware thread.
package osif

import (
	"errors"
	"io"
	"sync"
)

// DevicePath is the default location of the OSIF character device.
const DevicePath = "/dev/reconos-osif"

// A Port is one end of an OSIF word stream.
type Port interface {
	// Read reads up to len(words) words, blocking until at least one is
	// available. It returns io.EOF when the peer has closed the port.
	Read(words []uint32) (int, error)

	// Write writes all of words, or reports an error.
	Write(words []uint32) (int, error)

	// Close shuts down the port.
	Close() error
}

// ErrClosed is reported by calls on a port that has been closed.
var ErrClosed = errors.New("osif: port is closed")

// ReadFull reads exactly len(words) words from p. It reports
// io.ErrUnexpectedEOF if the port closes after some but not all words were
// read.
func ReadFull(p Port, words []uint32) error {
	var nr int
	for nr < len(words) {
		n, err := p.Read(words[nr:])
		nr += n
		if err == io.EOF && nr > 0 && nr < len(words) {
			return io.ErrUnexpectedEOF
		} else if err != nil && nr < len(words) {
			return err
		}
	}
	return nil
}

// Loopback returns a connected pair of in-memory ports. Words written to hw
// are read from sw, and vice versa. A Write blocks until the peer has taken
// the words into a Read. Closing a port ends pending and later calls on it
// with ErrClosed; the peer's reads then report io.EOF and its writes report
// ErrClosed.
func Loopback() (hw, sw Port) {
	h2s := make(chan []uint32)
	s2h := make(chan []uint32)
	hdone, sdone := make(chan struct{}), make(chan struct{})
	hw = &loopback{send: h2s, recv: s2h, done: hdone, peer: sdone}
	sw = &loopback{send: s2h, recv: h2s, done: sdone, peer: hdone}
	return
}

type loopback struct {
	send chan<- []uint32
	recv <-chan []uint32
	done chan struct{}   // closed by Close
	peer <-chan struct{} // closed when the peer closes

	mu   sync.Mutex
	buf  []uint32 // received words not yet read
	once sync.Once
}

func (p *loopback) Read(words []uint32) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.buf) == 0 {
		select {
		case msg := <-p.recv:
			p.buf = msg
		case <-p.done:
			return 0, ErrClosed
		case <-p.peer:
			return 0, io.EOF
		}
	}
	n := copy(words, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

func (p *loopback) Write(words []uint32) (int, error) {
	select {
	case <-p.done:
		return 0, ErrClosed
	default:
	}
	if len(words) == 0 {
		return 0, nil
	}
	cp := make([]uint32, len(words))
	copy(cp, words)
	select {
	case p.send <- cp:
		return len(words), nil
	case <-p.done:
		return 0, ErrClosed
	case <-p.peer:
		return 0, ErrClosed
	}
}

func (p *loopback) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
