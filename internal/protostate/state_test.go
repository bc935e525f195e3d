package protostate

import (
	"testing"

	"github.com/arjenlentz/dpm/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestResultSetStreamVisitsSpecStates pins spec.md §8 scenario S4.
func TestResultSetStreamVisitsSpecStates(t *testing.T) {
	m := &Machine{Side: ServerSide, State: SSendingRSet}

	type step struct {
		firstByte byte
		bodyLen   int
		want      State
	}
	steps := []step{
		{firstByte: 2, bodyLen: 1, want: SSentRSet},      // rset(field_count=2)
		{firstByte: 3, bodyLen: 20, want: SSendingFields}, // field
		{firstByte: 3, bodyLen: 20, want: SSendingFields}, // field
		{firstByte: 0xfe, bodyLen: 5, want: SSentFields},  // EOF
		{firstByte: 0x10, bodyLen: 8, want: SSendingRows}, // row
		{firstByte: 0x10, bodyLen: 8, want: SSendingRows}, // row
		{firstByte: 0xfe, bodyLen: 5, want: SWaitCmd},     // EOF
	}

	var visited []State
	for _, s := range steps {
		kind := m.NextDecoderKind(s.firstByte, s.bodyLen)
		m.Received(kind)
		visited = append(visited, m.State)
		assert.Equal(t, s.want, m.State)
	}
	require.Equal(t, []State{
		SSentRSet, SSendingFields, SSendingFields, SSentFields,
		SSendingRows, SSendingRows, SWaitCmd,
	}, visited)
}

// TestErrMidStreamResetsSequence pins spec.md §8 scenario S5.
func TestErrMidStreamResetsSequence(t *testing.T) {
	m := &Machine{Side: ServerSide, State: SSendingFields, Seq: 4}

	kind := m.NextDecoderKind(0xff, 30)
	require.Equal(t, wire.KindErr, kind)

	m.Received(kind)
	assert.Equal(t, SRecvErr, m.State)
	assert.Equal(t, byte(0), m.Seq)
}

func TestCommandDispatchTable(t *testing.T) {
	cases := []struct {
		opcode byte
		want   State
		ok     bool
	}{
		{CmdQuery, SSendingRSet, true},
		{CmdFieldList, SSendingFields, true},
		{CmdInitDB, SSendingOK, true},
		{CmdQuit, SSendingOK, true},
		{CmdStatistics, SSendingStats, true},
		{0x42, SWaitCmd, false},
	}
	for _, c := range cases {
		m := &Machine{Side: ServerSide, State: SWaitCmd, Seq: 9}
		got, ok := m.Dispatch(c.opcode)
		assert.Equal(t, c.want, got)
		assert.Equal(t, c.ok, ok)
		assert.Equal(t, byte(0), m.Seq, "dispatch always resets the sequence counter")
	}
}

func TestClientCommandSetsSeqToOne(t *testing.T) {
	m := NewClientMachine()
	m.State = CWaiting
	m.Received(wire.KindCommand)
	assert.Equal(t, byte(1), m.Seq)
}

func TestInitialStates(t *testing.T) {
	assert.Equal(t, CWaitHandshake, NewClientMachine().State)
	assert.Equal(t, SConnect, NewServerMachine().State)
}

// TestWaitAuthDecodesAuthResultNotHandshake checks the server-facing side
// after the greeting has been read: in S_WAIT_AUTH the next packet is the
// auth result (OK/ERR), not another handshake, and an OK moves the machine
// straight to S_WAIT_CMD with the sequence counter reset.
func TestWaitAuthDecodesAuthResultNotHandshake(t *testing.T) {
	m := &Machine{Side: ServerSide, State: SWaitAuth}

	assert.Equal(t, wire.KindOK, m.NextDecoderKind(0x00, 7))
	assert.Equal(t, wire.KindErr, m.NextDecoderKind(0xff, 30))

	m.Received(wire.KindOK)
	assert.Equal(t, SWaitCmd, m.State)
	assert.Equal(t, byte(0), m.Seq)
}
