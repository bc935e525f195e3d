// Package netconn implements the connection and pairing model of spec
// §4.F/§4.H: a Connection wraps one socket and its protocol state machine,
// and a Manager pairs a client-facing Connection with a server-facing one,
// forwarding packets between them with the sequence byte rewritten for the
// destination side.
package netconn

import (
	"net"

	"github.com/arjenlentz/dpm/internal/buffer"
	"github.com/arjenlentz/dpm/internal/protostate"
	"github.com/arjenlentz/dpm/script"
)

// Connection is one socket plus the state the reactor and Manager need to
// drive it. All fields are only ever touched from the reactor's single
// thread (spec §4.G: "single-threaded, non-blocking").
type Connection struct {
	ID   script.ConnID
	Conn net.Conn
	Fd   uintptr // captured once at registration, used by the reactor's epoll set

	Machine *protostate.Machine
	Read    *buffer.Read
	Write   *buffer.Write

	Peer  *Connection // the paired connection on the other side, if any
	Alive bool

	// Flush-list membership (spec §4.H: "a deferred flush list batches
	// writes instead of issuing one syscall per forwarded packet"). An
	// intrusive singly-linked list avoids allocating a separate node per
	// connection per tick.
	inFlushList bool
	flushNext   *Connection

	// WantWrite is set by Manager.DrainFlushList when a write fails or
	// leaves bytes unsent, and cleared once the write buffer drains. The
	// reactor registers connections for EPOLLIN only and does not consult
	// this flag; bytes left unsent by a failed write are retried only when
	// the connection is next queued on the flush list.
	WantWrite bool
}

func newConnection(id script.ConnID, conn net.Conn, m *protostate.Machine) *Connection {
	return &Connection{
		ID:      id,
		Conn:    conn,
		Machine: m,
		Read:    buffer.NewRead(),
		Write:   buffer.NewWrite(),
		Alive:   true,
	}
}

// Paired reports whether this connection currently has a live peer.
func (c *Connection) Paired() bool {
	return c.Peer != nil
}
