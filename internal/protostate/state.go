// Package protostate implements the dual-sided protocol state machine of
// spec §4.E: one automaton per connection, parameterized by which side of
// the proxy the connection faces, that disambiguates successor packet types
// from the current state plus the first byte of the next packet.
package protostate

import "github.com/arjenlentz/dpm/internal/wire"

// Side tells the machine which half of the proxy a connection represents.
type Side int

const (
	ClientSide Side = iota
	ServerSide
)

// State enumerates every automaton state from spec §4.E. Client-facing
// states are prefixed C_, server-facing S_, shared M_.
type State int

const (
	CWaitHandshake State = iota
	CWaitAuth
	CWaiting
	CSentCmd

	SConnect
	SWaitAuth
	SSendingOK
	SRecvErr
	SWaitCmd
	SGotCmd
	SSendingRSet
	SSentRSet
	SSendingFields
	SSentFields
	SSendingRows
	SSendingStats

	MClosing
)

func (s State) String() string {
	switch s {
	case CWaitHandshake:
		return "C_WAIT_HS"
	case CWaitAuth:
		return "C_WAIT_AUTH"
	case CWaiting:
		return "C_WAITING"
	case CSentCmd:
		return "C_SENT_CMD"
	case SConnect:
		return "S_CONNECT"
	case SWaitAuth:
		return "S_WAIT_AUTH"
	case SSendingOK:
		return "S_SENDING_OK"
	case SRecvErr:
		return "S_RECV_ERR"
	case SWaitCmd:
		return "S_WAIT_CMD"
	case SGotCmd:
		return "S_GOT_CMD"
	case SSendingRSet:
		return "S_SENDING_RSET"
	case SSentRSet:
		return "S_SENT_RSET"
	case SSendingFields:
		return "S_SENDING_FIELDS"
	case SSentFields:
		return "S_SENT_FIELDS"
	case SSendingRows:
		return "S_SENDING_ROWS"
	case SSendingStats:
		return "S_SENDING_STATS"
	case MClosing:
		return "M_CLOSING"
	default:
		return "?"
	}
}

// Command opcodes this core dispatches on (spec §4.E, §6). Values match the
// MySQL command-phase byte values.
const (
	CmdSleep      = 0x00
	CmdQuit       = 0x01
	CmdInitDB     = 0x02
	CmdQuery      = 0x03
	CmdFieldList  = 0x04
	CmdStatistics = 0x09
)

// Machine is the per-connection automaton.
type Machine struct {
	Side    Side
	State   State
	LastCmd byte
	Seq     byte
}

// NewClientMachine returns a machine in its initial client-facing state
// (spec §4.E: "an accepted client-facing connection starts in C_WAIT_HS").
func NewClientMachine() *Machine {
	return &Machine{Side: ClientSide, State: CWaitHandshake}
}

// NewServerMachine returns a machine in its initial server-facing state
// (spec §4.E: "an outbound server-facing connection starts in S_CONNECT").
func NewServerMachine() *Machine {
	return &Machine{Side: ServerSide, State: SConnect}
}

// NextDecoderKind picks the packet kind to decode next, purely as a
// function of the current state, the first payload byte, and the body
// length (used only to tell an EOF from a field or row) (spec §4.E:
// "MySQL does not tag response packets... disambiguation... using the
// first payload byte").
func (m *Machine) NextDecoderKind(firstByte byte, bodyLen int) wire.Kind {
	switch m.State {
	case CWaitHandshake:
		return wire.KindHandshake
	case CWaitAuth:
		return wire.KindAuth
	case CWaiting, CSentCmd:
		return wire.KindCommand

	case SConnect:
		return wire.KindHandshake

	case SWaitAuth:
		if firstByte == 0xff {
			return wire.KindErr
		}
		return wire.KindOK

	case SSendingOK:
		if firstByte == 0xff {
			return wire.KindErr
		}
		return wire.KindOK

	case SSendingRSet:
		if firstByte == 0xff {
			return wire.KindErr
		}
		if wire.IsEOFMarker(firstByte, bodyLen) {
			return wire.KindEOF
		}
		if firstByte == 0x00 {
			return wire.KindOK
		}
		return wire.KindResultSetHeader

	case SSentRSet, SSendingFields:
		if firstByte == 0xff {
			return wire.KindErr
		}
		if wire.IsEOFMarker(firstByte, bodyLen) {
			return wire.KindEOF
		}
		return wire.KindField

	case SSentFields, SSendingRows:
		if firstByte == 0xff {
			return wire.KindErr
		}
		if wire.IsEOFMarker(firstByte, bodyLen) {
			return wire.KindEOF
		}
		return wire.KindRow

	case SSendingStats:
		return wire.KindOK

	case SWaitCmd:
		return wire.KindCommand

	default:
		return wire.KindErr
	}
}

// Received advances the state machine after a packet of the given kind has
// been decoded (spec §4.E). It returns the new state.
func (m *Machine) Received(kind wire.Kind) State {
	switch {
	case kind == wire.KindErr && isServerResponseState(m.State):
		m.State = SRecvErr
		m.Seq = 0
		return m.State
	}

	switch m.State {
	case CWaitHandshake:
		m.State = CWaitAuth
	case CWaitAuth:
		m.State = CWaiting
	case CWaiting, CSentCmd:
		m.State = CWaiting
		m.Seq = 1 // spec §4.E: "a received command packet on the client-facing
		// side sets that side's counter to 1"

	case SConnect:
		m.State = SWaitAuth
	case SWaitAuth:
		m.State = SWaitCmd
		m.Seq = 0

	case SSendingOK:
		m.State = SWaitCmd
		m.Seq = 0
	case SSendingRSet:
		if kind == wire.KindOK {
			m.State = SWaitCmd
			m.Seq = 0
		} else {
			m.State = SSentRSet
		}
	case SSentRSet, SSendingFields:
		if kind == wire.KindEOF {
			m.State = SSentFields
		} else {
			m.State = SSendingFields
		}
	case SSentFields, SSendingRows:
		if kind == wire.KindEOF {
			m.State = SWaitCmd
			m.Seq = 0
		} else {
			m.State = SSendingRows
		}
	case SSendingStats:
		m.State = SWaitCmd
		m.Seq = 0
	case SWaitCmd:
		m.State = SGotCmd
	}
	return m.State
}

func isServerResponseState(s State) bool {
	switch s {
	case SSendingOK, SSendingRSet, SSentRSet, SSendingFields, SSentFields, SSendingRows, SSendingStats:
		return true
	default:
		return false
	}
}

// Dispatch transitions a server-facing machine out of S_GOT_CMD based on
// the command opcode just issued (spec §4.E command-dispatch table), and
// resets the sequence counter (spec §4.E: "Reset to 0... on command
// dispatch"). ok reports whether the opcode was recognized; unrecognized
// opcodes stay in S_WAIT_CMD and the caller should log a warning.
func (m *Machine) Dispatch(opcode byte) (next State, ok bool) {
	m.LastCmd = opcode
	m.Seq = 0
	switch opcode {
	case CmdQuery:
		m.State = SSendingRSet
		return m.State, true
	case CmdFieldList:
		m.State = SSendingFields
		return m.State, true
	case CmdInitDB, CmdQuit:
		m.State = SSendingOK
		return m.State, true
	case CmdStatistics:
		m.State = SSendingStats
		return m.State, true
	default:
		m.State = SWaitCmd
		return m.State, false
	}
}

// IncomingSeq advances Seq for a packet just received, and returns the
// value the just-received packet should have carried (before increment).
func (m *Machine) IncomingSeq() byte {
	cur := m.Seq
	m.Seq++
	return cur
}

// OutgoingSeq returns the sequence byte to stamp on the next packet sent
// from this side, and advances Seq (spec §3 invariant 2: "incremented
// exactly once per packet sent").
func (m *Machine) OutgoingSeq() byte {
	cur := m.Seq
	m.Seq++
	return cur
}

// Close transitions the machine to the terminal M_CLOSING state.
func (m *Machine) Close() {
	m.State = MClosing
}
