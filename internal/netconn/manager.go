package netconn

import (
	"errors"
	"net"
	"time"

	"github.com/arjenlentz/dpm/internal/logging"
	"github.com/arjenlentz/dpm/internal/protostate"
	"github.com/arjenlentz/dpm/internal/wire"
	"github.com/arjenlentz/dpm/script"
)

// ErrUnknownConn is returned when a Core method is called with a ConnID the
// Manager has never registered or has already closed.
var ErrUnknownConn = errors.New("netconn: unknown connection id")

// ErrAlreadyPaired is returned by Pair when either side already has a peer.
var ErrAlreadyPaired = errors.New("netconn: connection already paired")

// Dialer opens outbound server-facing connections; production wiring uses
// net.Dialer, tests substitute a fake to avoid touching the network.
type Dialer interface {
	Dial(network, addr string) (net.Conn, error)
}

type netDialer struct{}

func (netDialer) Dial(network, addr string) (net.Conn, error) {
	return net.Dial(network, addr)
}

// Manager owns every live Connection and the deferred flush list (spec
// §4.F, §4.H). It implements script.Core so an Engine can act on
// connections without importing this package's concrete types.
//
// Every method runs on the reactor's single thread; Manager holds no lock.
type Manager struct {
	conns  map[script.ConnID]*Connection
	nextID script.ConnID

	flushHead, flushTail *Connection

	engine script.Engine
	dialer Dialer
	log    *logging.Logger

	// onRegister lets the reactor learn about newly Connect()-ed sockets
	// so it can add them to its epoll set; nil is valid for tests that
	// never call Connect.
	onRegister func(*Connection)
}

// NewManager builds an empty Manager. engine may be nil, in which case
// every script hook is skipped and packets forward unconditionally (spec
// §4.I: "absence of a loaded script is equivalent to every hook returning
// the default verdict").
func NewManager(engine script.Engine, log *logging.Logger) *Manager {
	return &Manager{
		conns:  make(map[script.ConnID]*Connection),
		engine: engine,
		dialer: netDialer{},
		log:    log,
	}
}

// SetDialer overrides the Dialer used by Connect, for tests.
func (m *Manager) SetDialer(d Dialer) { m.dialer = d }

// SetEngine binds the scripting engine after construction, for callers
// that need the Manager to exist (as a script.Core) before the engine that
// will use it can itself be built -- e.g. cmd/dpmd wires a luabridge.Bridge
// whose constructor requires a Core to call back into.
func (m *Manager) SetEngine(engine script.Engine) { m.engine = engine }

// OnRegister installs a callback invoked whenever a new Connection is
// registered (via Register or Connect), so the reactor can add it to its
// polling set.
func (m *Manager) OnRegister(fn func(*Connection)) { m.onRegister = fn }

// Register adopts an already-accepted or already-dialed net.Conn as a
// tracked Connection in the given initial protocol state.
func (m *Manager) Register(conn net.Conn, side protostate.Side) *Connection {
	m.nextID++
	var mach *protostate.Machine
	if side == protostate.ClientSide {
		mach = protostate.NewClientMachine()
	} else {
		mach = protostate.NewServerMachine()
	}
	c := newConnection(m.nextID, conn, mach)
	m.conns[c.ID] = c
	if m.onRegister != nil {
		m.onRegister(c)
	}
	return c
}

// Get returns the Connection for id, or nil if unknown.
func (m *Manager) Get(id script.ConnID) *Connection {
	return m.conns[id]
}

// Pair links client and server so forwarded packets on one are relayed to
// the other (spec §4.H).
func (m *Manager) Pair(client, server script.ConnID) error {
	c, ok1 := m.conns[client]
	s, ok2 := m.conns[server]
	if !ok1 || !ok2 {
		return ErrUnknownConn
	}
	if c.Paired() || s.Paired() {
		return ErrAlreadyPaired
	}
	c.Peer, s.Peer = s, c
	return nil
}

// Unpair breaks id's pairing, leaving both connections open.
func (m *Manager) Unpair(id script.ConnID) {
	c, ok := m.conns[id]
	if !ok || c.Peer == nil {
		return
	}
	c.Peer.Peer = nil
	c.Peer = nil
}

// Forward copies payload into dst's write buffer on behalf of the connection
// that paired with it. Per spec §4.H step 1, forwarding first runs the state
// machine's "sent" step on the *destination*: a forwarded command advances
// dst's state (S_WAIT_CMD -> S_GOT_CMD -> dispatch table), not the state of
// the connection the command was read from. The sequence byte is then
// rewritten to dst's own counter (step 4), not copied verbatim from the
// source header.
func (m *Manager) Forward(dst *Connection, kind wire.Kind, opcode byte, payload []byte) {
	if kind == wire.KindCommand {
		dst.Machine.Received(wire.KindCommand)
		dst.Machine.Dispatch(opcode)
	}

	seq := dst.Machine.OutgoingSeq()
	off := dst.Write.Append(payload)
	if len(payload) >= 4 {
		dst.Write.At(off, len(payload))[3] = seq
	}
	m.enqueueFlush(dst)
}

// Write implements script.Core: it appends raw bytes to id's own outbound
// buffer (used by a script injecting a packet rather than forwarding one).
func (m *Manager) Write(id script.ConnID, payload []byte) error {
	c, ok := m.conns[id]
	if !ok {
		return ErrUnknownConn
	}
	c.Write.Append(payload)
	m.enqueueFlush(c)
	return nil
}

// Disconnect implements script.Core: tears down id and its peer, if any.
func (m *Manager) Disconnect(id script.ConnID) {
	c, ok := m.conns[id]
	if !ok {
		return
	}
	m.closeOne(c)
	if c.Peer != nil {
		m.closeOne(c.Peer)
	}
}

func (m *Manager) closeOne(c *Connection) {
	if !c.Alive {
		return
	}
	c.Alive = false
	c.Machine.Close()
	_ = c.Conn.Close()
	delete(m.conns, c.ID)
	if m.engine != nil {
		m.engine.OnClose(c.ID)
	}
}

// Connect implements script.Core: dials a new outbound server-facing
// connection and registers it (spec §5 SUPPLEMENTED FEATURES:
// proxy_connect).
func (m *Manager) Connect(network, addr string) (script.ConnID, error) {
	conn, err := m.dialer.Dial(network, addr)
	if err != nil {
		return 0, err
	}
	c := m.Register(conn, protostate.ServerSide)
	return c.ID, nil
}

// NowMicros implements script.Core (spec §5 SUPPLEMENTED FEATURES: time
// helpers exposed to scripts).
func (m *Manager) NowMicros() int64 { return time.Now().UnixMicro() }

// NowMillis implements script.Core.
func (m *Manager) NowMillis() int64 { return time.Now().UnixMilli() }

// Engine returns the bound scripting engine, or nil.
func (m *Manager) Engine() script.Engine { return m.engine }

func (m *Manager) enqueueFlush(c *Connection) {
	if c.inFlushList || !c.Alive {
		return
	}
	c.inFlushList = true
	c.flushNext = nil
	if m.flushTail == nil {
		m.flushHead = c
		m.flushTail = c
	} else {
		m.flushTail.flushNext = c
		m.flushTail = c
	}
}

// DrainFlushList performs one pass over every connection queued for a
// write, per spec §4.H ("a single pass per reactor tick, not a loop until
// empty, so one connection's backpressure cannot starve the others").
// writeFn performs the actual (possibly partial) socket write and reports
// how many bytes were consumed.
func (m *Manager) DrainFlushList(writeFn func(c *Connection, data []byte) (int, error)) {
	cur := m.flushHead
	m.flushHead, m.flushTail = nil, nil

	for cur != nil {
		next := cur.flushNext
		cur.flushNext = nil
		cur.inFlushList = false

		if cur.Alive {
			data := cur.Write.Unsent()
			if len(data) > 0 {
				n, err := writeFn(cur, data)
				if n > 0 {
					cur.Write.Advance(n)
				}
				if err != nil {
					cur.WantWrite = true
				} else if !cur.Write.Drained() {
					cur.WantWrite = true
					m.enqueueFlush(cur)
				} else {
					cur.WantWrite = false
				}
			}
		}
		cur = next
	}
}

// Len reports how many connections are currently tracked, for tests and
// diagnostics.
func (m *Manager) Len() int { return len(m.conns) }
