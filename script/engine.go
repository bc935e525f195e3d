// Package script defines the boundary between the proxy core and a
// pluggable scripting engine (spec §4.I): the core never imports a
// concrete scripting language, and a scripting adapter never imports the
// core's connection internals -- both sides talk only through ConnID,
// Verdict, and the primitive types declared here.
package script

import "github.com/arjenlentz/dpm/internal/wire"

// ConnID identifies a connection across the Core/Engine boundary without
// leaking the core's internal *netconn.Connection type into script code.
type ConnID uint64

// Verdict is the return code a script callback hands back to the core
// (spec §4.I): it tells the core whether to forward a packet unmodified,
// not forward this packet, or forward it and then tear the pairing down.
type Verdict int

const (
	// VerdictDefault forwards the packet (or continues the default
	// handshake/auth flow) exactly as the core would with no script loaded.
	VerdictDefault Verdict = iota
	// VerdictNoProxy tells the core the script has fully handled this
	// event itself; the core must not also forward the packet.
	VerdictNoProxy
	// VerdictFlushDisconnect tells the core to forward the packet as with
	// VerdictDefault and then tear down the connection pairing; both
	// connections stay open and the forwarded bytes are flushed with the
	// rest of the flush list.
	VerdictFlushDisconnect
)

// Engine is implemented by a concrete scripting language adapter (e.g.
// script/luabridge). All methods run on the reactor's single thread and
// must not block.
type Engine interface {
	// OnNewClient fires once a client-facing connection has been accepted
	// and registered, before any packet on it is read. The core does not
	// act on the returned Verdict.
	OnNewClient(id ConnID) Verdict

	// OnPacket fires for every decoded packet received on any connection,
	// before the core would forward it to the peer (if the connection is
	// paired).
	OnPacket(id ConnID, kind wire.Kind, payload []byte) Verdict

	// OnClose fires once a connection (and its pairing, if any) has been
	// torn down, so scripts can release any per-connection state.
	OnClose(id ConnID)

	// Close releases engine-wide resources (e.g. the Lua VM pool).
	Close() error
}

// Core is implemented by the proxy core (internal/netconn.Manager) and
// called by an Engine to act on connections. Every method takes only
// ConnID and primitive/[]byte arguments so Core never needs to import
// wire.* packet types, keeping this package's two halves free of an import
// cycle.
type Core interface {
	// Write appends raw bytes to id's outbound flush buffer.
	Write(id ConnID, payload []byte) error

	// Disconnect tears down id (and its peer, if paired).
	Disconnect(id ConnID)

	// Pair links two connections so packets forwarded on one are relayed
	// (with sequence byte rewritten) to the other, per spec §4.H.
	Pair(client, server ConnID) error

	// Unpair breaks a pairing without closing either side.
	Unpair(id ConnID)

	// Connect opens a new outbound server-facing connection to network
	// ("tcp"/"unix"), addr, returning its ConnID once registered with the
	// reactor (spec §5 SUPPLEMENTED FEATURES: proxy_connect).
	Connect(network, addr string) (ConnID, error)

	// NowMicros and NowMillis expose the time helpers spec §5
	// SUPPLEMENTED FEATURES asks scripts be given, instead of scripts
	// reaching for a language-native clock that wouldn't be mockable from
	// the core's test harness.
	NowMicros() int64
	NowMillis() int64
}
