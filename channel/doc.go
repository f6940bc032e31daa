// Package channel defines a message-oriented Channel built on reconos pipes.
//
// A Channel sends and receives whole records. The Rendezvous function returns
// a connected pair of channels that carry each record through a reconos.Pipe,
// so that a Send completes only when the peer has called Recv. No records are
// buffered in either direction.
package channel

// A Channel represents the ability to transmit and receive data records.  A
// channel does not interpret the contents of a record. The methods of a
// Channel need not be safe for concurrent use.
type Channel interface {
	// Send transmits a record on the channel.
	Send([]byte) error

	// Recv returns the next available record from the channel.  If no further
	// messages are available, it returns io.EOF.
	Recv() ([]byte, error)

	// Close shuts down the channel, after which no further records may be
	// sent or received.
	Close() error
}
