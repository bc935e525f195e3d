//go:build linux

// Package reactor implements the single-threaded, non-blocking,
// readiness-driven event loop of spec §4.G. Socket readiness is polled
// with epoll via golang.org/x/sys/unix, extending the raw-fd technique
// go-sql-driver-mysql/conncheck.go uses (grab the fd through
// net.Conn.(syscall.Conn).SyscallConn(), then talk to it with unix.*
// syscalls) from a one-shot liveness check into the proxy's whole I/O loop.
package reactor

import (
	"context"
	"fmt"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/arjenlentz/dpm/internal/logging"
	"github.com/arjenlentz/dpm/internal/netconn"
	"github.com/arjenlentz/dpm/internal/protostate"
	"github.com/arjenlentz/dpm/internal/wire"
	"github.com/arjenlentz/dpm/script"
)

const maxEvents = 256

// Reactor owns the epoll set, the connection manager, and the backend
// dial target. One goroutine, the caller of Run, drives a Reactor for its
// entire lifetime; the Reactor starts no goroutines of its own (spec §4.G:
// "the core never spawns a goroutine per connection").
type Reactor struct {
	epfd int

	manager *netconn.Manager
	log     *logging.Logger

	backendNetwork, backendAddr string

	fds map[int]*fdEntry
}

type fdEntry struct {
	kind fdKind
	ln   net.Listener
	conn *netconn.Connection
}

type fdKind int

const (
	fdListener fdKind = iota
	fdConnection
)

// New creates a Reactor backed by a fresh epoll instance.
func New(manager *netconn.Manager, log *logging.Logger, backendNetwork, backendAddr string) (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	r := &Reactor{
		epfd:           epfd,
		manager:        manager,
		log:            log,
		backendNetwork: backendNetwork,
		backendAddr:    backendAddr,
		fds:            make(map[int]*fdEntry),
	}
	manager.OnRegister(r.onNewConnection)
	return r, nil
}

// Listen binds a listener socket (spec §5 SUPPLEMENTED FEATURES: UDS
// listener mode with stale-socket unlink) and registers it with the epoll
// set for EPOLLIN (incoming connections). A "unix" socket path is set to
// mode 0700 after binding.
func (r *Reactor) Listen(network, addr string, unlinkStale bool) error {
	if network == "unix" && unlinkStale {
		if fi, err := os.Stat(addr); err == nil && fi.Mode()&os.ModeSocket != 0 {
			if err := os.Remove(addr); err != nil {
				return fmt.Errorf("reactor: unlink stale socket %s: %w", addr, err)
			}
		}
	}

	ln, err := net.Listen(network, addr)
	if err != nil {
		return fmt.Errorf("reactor: listen %s %s: %w", network, addr, err)
	}
	if network == "unix" {
		if err := os.Chmod(addr, 0o700); err != nil {
			ln.Close()
			return fmt.Errorf("reactor: chmod %s: %w", addr, err)
		}
	}

	fd, err := rawFd(ln.(syscall.Conn))
	if err != nil {
		ln.Close()
		return err
	}

	if err := r.addFd(fd, unix.EPOLLIN, &fdEntry{kind: fdListener, ln: ln}); err != nil {
		ln.Close()
		return err
	}
	if r.log != nil {
		r.log.Logf(logging.Info, "listening on %s://%s", network, addr)
	}
	return nil
}

// Run drives the event loop until ctx is canceled (spec §4.G operation:
// "blocks in the readiness wait, dispatches exactly the fds reported
// ready, then drains the flush list once before waiting again").
func (r *Reactor) Run(ctx context.Context) error {
	events := make([]unix.EpollEvent, maxEvents)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := unix.EpollWait(r.epfd, events, 250 /* ms, so ctx.Done is checked promptly */)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("reactor: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			r.dispatch(events[i])
		}

		r.manager.DrainFlushList(func(c *netconn.Connection, data []byte) (int, error) {
			return c.Conn.Write(data)
		})
	}
}

func (r *Reactor) dispatch(ev unix.EpollEvent) {
	fd := int(ev.Fd)
	entry, ok := r.fds[fd]
	if !ok {
		return
	}

	if ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		r.closeFd(fd)
		return
	}

	switch entry.kind {
	case fdListener:
		r.acceptLoop(fd, entry.ln)
	case fdConnection:
		if ev.Events&unix.EPOLLIN != 0 {
			r.readable(entry.conn)
		}
	}
}

// acceptLoop accepts one pending connection on a ready listener and hands
// it to the engine's OnNewClient hook, if an engine is bound. Accept on a
// net.Listener blocks when nothing is pending, so the backlog is not drained
// here; the level-triggered listener fd is reported ready again by the next
// wait while more connections are pending.
func (r *Reactor) acceptLoop(fd int, ln net.Listener) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	c := r.manager.Register(conn, protostate.ClientSide)
	r.log.Logf(logging.Verbose, "accepted %s as conn %d", conn.RemoteAddr(), c.ID)
	if engine := r.manager.Engine(); engine != nil {
		engine.OnNewClient(c.ID)
	}
}

// onNewConnection is invoked by netconn.Manager whenever a Connection is
// registered (accepted or dialed), and adds it to the epoll set.
func (r *Reactor) onNewConnection(c *netconn.Connection) {
	sc, ok := c.Conn.(syscall.Conn)
	if !ok {
		return
	}
	fd, err := rawFd(sc)
	if err != nil {
		if r.log != nil {
			r.log.Log(logging.Warning, "reactor: could not extract fd:", err)
		}
		return
	}
	c.Fd = uintptr(fd)
	_ = r.addFd(fd, unix.EPOLLIN, &fdEntry{kind: fdConnection, conn: c})
}

const readChunk = 4096

func (r *Reactor) readable(c *netconn.Connection) {
	c.Read.Grow(readChunk)
	dst := c.Read.Free()
	n, err := c.Conn.Read(dst)
	if n > 0 {
		c.Read.Advance(n)
	}
	if err != nil {
		r.teardown(c)
		return
	}

	for {
		expected := c.Machine.Seq
		clientFacing := c.Machine.Side == protostate.ClientSide
		found, ferr := wire.Next(c.Read, expected, clientFacing)
		if ferr != nil {
			if r.log != nil {
				r.log.Log(logging.Info, "framing error on conn", c.ID, ferr)
			}
			r.teardown(c)
			return
		}
		if found == nil {
			c.Read.Reset() // reclaim consumed space before the next read grows the buffer
			return
		}

		payload := wire.Payload(c.Read, found)
		firstByte := byte(0)
		if len(payload) > 0 {
			firstByte = payload[0]
		}
		kind := c.Machine.NextDecoderKind(firstByte, len(payload))
		c.Machine.IncomingSeq()
		c.Machine.Received(kind)

		r.handlePacket(c, kind, payload)

		c.Read.Consume(found.Header.PacketSize())
	}
}

func (r *Reactor) handlePacket(c *netconn.Connection, kind wire.Kind, payload []byte) {
	verdict := script.VerdictDefault
	if engine := r.manager.Engine(); engine != nil {
		verdict = engine.OnPacket(c.ID, kind, payload)
	}
	if verdict == script.VerdictNoProxy {
		return
	}

	if c.Peer != nil {
		var opcode byte
		if len(payload) > 0 {
			opcode = payload[0]
		}
		r.manager.Forward(c.Peer, kind, opcode, rawPacketBytes(c, payload))
	}
	if verdict == script.VerdictFlushDisconnect {
		r.manager.Unpair(c.ID)
	}
}

// rawPacketBytes reconstructs the 4-byte header in front of payload so
// Forward can rewrite the sequence byte in place; payload itself is the
// body slice handlePacket was given.
func rawPacketBytes(c *netconn.Connection, payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	length := len(payload)
	out[0] = byte(length)
	out[1] = byte(length >> 8)
	out[2] = byte(length >> 16)
	out[3] = 0 // overwritten by Forward via OutgoingSeq
	copy(out[4:], payload)
	return out
}

func (r *Reactor) teardown(c *netconn.Connection) {
	if c.Fd != 0 {
		r.closeFd(int(c.Fd))
	}
	r.manager.Disconnect(c.ID)
}

func (r *Reactor) addFd(fd int, events uint32, entry *fdEntry) error {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: events, Fd: int32(fd)}); err != nil {
		return fmt.Errorf("reactor: epoll_ctl add: %w", err)
	}
	r.fds[fd] = entry
	return nil
}

func (r *Reactor) closeFd(fd int) {
	entry, ok := r.fds[fd]
	if !ok {
		return
	}
	unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	delete(r.fds, fd)
	if entry.ln != nil {
		entry.ln.Close()
	}
}

// rawFd extracts the underlying file descriptor from a syscall.Conn, the
// same technique go-sql-driver-mysql/conncheck.go uses to poll a
// database/sql connection's liveness without a read.
func rawFd(sc syscall.Conn) (int, error) {
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	cerr := raw.Control(func(f uintptr) { fd = int(f) })
	if cerr != nil {
		return 0, cerr
	}
	return fd, nil
}
