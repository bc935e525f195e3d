package netconn

import (
	"net"
	"testing"

	"github.com/arjenlentz/dpm/internal/protostate"
	"github.com/arjenlentz/dpm/internal/wire"
	"github.com/arjenlentz/dpm/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

// TestForwardRewritesSequenceByte pins spec.md §8 scenario S6 and universal
// invariant 4: forwarding rewrites the destination's sequence byte rather
// than copying the source's verbatim.
func TestForwardRewritesSequenceByte(t *testing.T) {
	m := NewManager(nil, nil)
	ca, _ := pipePair(t)
	sa, _ := pipePair(t)

	client := m.Register(ca, protostate.ClientSide)
	server := m.Register(sa, protostate.ServerSide)
	require.NoError(t, m.Pair(client.ID, server.ID))

	server.Machine.Seq = 7 // destination already mid-sequence

	packet := []byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x02, 0x00, 0x00}
	m.Forward(server, wire.KindOK, 0, packet)

	unsent := server.Write.Unsent()
	require.Len(t, unsent, len(packet))
	assert.Equal(t, byte(7), unsent[3], "sequence byte must be rewritten to the destination's counter")
	assert.Equal(t, byte(8), server.Machine.Seq, "forwarding advances the destination's sequence counter")
}

// TestForwardCommandDispatchesOnDestination pins spec §4.H step 1: a
// forwarded command runs the *destination*'s sent step (S_WAIT_CMD ->
// S_GOT_CMD -> dispatch), not the source connection's.
func TestForwardCommandDispatchesOnDestination(t *testing.T) {
	m := NewManager(nil, nil)
	ca, _ := pipePair(t)
	sa, _ := pipePair(t)

	client := m.Register(ca, protostate.ClientSide)
	server := m.Register(sa, protostate.ServerSide)
	require.NoError(t, m.Pair(client.ID, server.ID))

	server.Machine.State = protostate.SWaitCmd
	server.Machine.Seq = 3

	// header(4) + body: opcode CmdQuery(0x03) + "SELECT 1"
	body := append([]byte{protostate.CmdQuery}, []byte("SELECT 1")...)
	packet := make([]byte, 4+len(body))
	packet[0] = byte(len(body))
	copy(packet[4:], body)

	m.Forward(server, wire.KindCommand, protostate.CmdQuery, packet)

	assert.Equal(t, protostate.SSendingRSet, server.Machine.State, "destination advances via the dispatch table, not the source")
	assert.Equal(t, byte(1), server.Machine.Seq, "dispatch resets seq to 0 before OutgoingSeq stamps the forwarded packet")
	assert.Equal(t, protostate.CWaitHandshake, client.Machine.State, "forwarding a command must not touch the source machine's state")
}

func TestPairRejectsUnknownOrAlreadyPaired(t *testing.T) {
	m := NewManager(nil, nil)
	ca, _ := pipePair(t)
	sa, _ := pipePair(t)
	client := m.Register(ca, protostate.ClientSide)
	server := m.Register(sa, protostate.ServerSide)

	assert.ErrorIs(t, m.Pair(999, server.ID), ErrUnknownConn)

	require.NoError(t, m.Pair(client.ID, server.ID))

	other, _ := pipePair(t)
	third := m.Register(other, protostate.ServerSide)
	assert.ErrorIs(t, m.Pair(client.ID, third.ID), ErrAlreadyPaired)
}

func TestDisconnectTearsDownBothSides(t *testing.T) {
	m := NewManager(nil, nil)
	ca, _ := pipePair(t)
	sa, _ := pipePair(t)
	client := m.Register(ca, protostate.ClientSide)
	server := m.Register(sa, protostate.ServerSide)
	require.NoError(t, m.Pair(client.ID, server.ID))

	m.Disconnect(client.ID)
	assert.Equal(t, 0, m.Len())
	assert.False(t, client.Alive)
	assert.False(t, server.Alive)
}

func TestDrainFlushListSinglePass(t *testing.T) {
	m := NewManager(nil, nil)
	ca, _ := pipePair(t)
	client := m.Register(ca, protostate.ClientSide)

	client.Write.Append([]byte("hello"))
	m.enqueueFlush(client)

	var wrote []byte
	m.DrainFlushList(func(c *Connection, data []byte) (int, error) {
		wrote = append(wrote, data...)
		return len(data), nil
	})
	assert.Equal(t, "hello", string(wrote))
	assert.True(t, client.Write.Drained())
	assert.False(t, client.inFlushList)
}

func TestConnectUsesDialerAndRegisters(t *testing.T) {
	m := NewManager(nil, nil)
	ca, cb := net.Pipe()
	t.Cleanup(func() { ca.Close(); cb.Close() })

	m.SetDialer(fakeDialer{conn: cb})
	id, err := m.Connect("tcp", "127.0.0.1:3306")
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Equal(t, 1, m.Len())

	_ = ca
}

type fakeDialer struct{ conn net.Conn }

func (f fakeDialer) Dial(network, addr string) (net.Conn, error) { return f.conn, nil }

func TestCoreSatisfiedByManager(t *testing.T) {
	var _ script.Core = (*Manager)(nil)
}
