package luabridge

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/arjenlentz/dpm/internal/wire"
	"github.com/arjenlentz/dpm/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCore struct {
	written map[script.ConnID][]byte
	paired  [][2]script.ConnID
}

func newFakeCore() *fakeCore {
	return &fakeCore{written: make(map[script.ConnID][]byte)}
}

func (f *fakeCore) Write(id script.ConnID, payload []byte) error {
	f.written[id] = append(f.written[id], payload...)
	return nil
}
func (f *fakeCore) Disconnect(id script.ConnID) {}
func (f *fakeCore) Pair(client, server script.ConnID) error {
	f.paired = append(f.paired, [2]script.ConnID{client, server})
	return nil
}
func (f *fakeCore) Unpair(id script.ConnID)             {}
func (f *fakeCore) Connect(n, a string) (script.ConnID, error) { return 42, nil }
func (f *fakeCore) NowMicros() int64                    { return 1000 }
func (f *fakeCore) NowMillis() int64                    { return 1 }

func loadScript(t *testing.T, core script.Core, src string) *Bridge {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "script.lua")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	b, err := New([]string{path}, core, nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestOnPacketReturnsDefaultWithNoHook(t *testing.T) {
	b := loadScript(t, newFakeCore(), "-- no hooks defined\n")
	v := b.OnPacket(1, wire.KindCommand, []byte("x"))
	assert.Equal(t, script.VerdictDefault, v)
}

func TestOnPacketHonorsVerdictConstant(t *testing.T) {
	b := loadScript(t, newFakeCore(), `
function on_packet(id, kind, payload)
  return dpm.NOPROXY
end
`)
	v := b.OnPacket(7, wire.KindRow, []byte("data"))
	assert.Equal(t, script.VerdictNoProxy, v)
}

func TestLuaWriteCallsCore(t *testing.T) {
	core := newFakeCore()
	b := loadScript(t, core, `
function on_new_client(id)
  dpm.write(id, "hello")
  return dpm.DEFAULT
end
`)
	v := b.OnNewClient(3)
	assert.Equal(t, script.VerdictDefault, v)
	assert.Equal(t, "hello", string(core.written[3]))
}

func TestLuaPairCallsCore(t *testing.T) {
	core := newFakeCore()
	b := loadScript(t, core, `
function on_new_client(id)
  dpm.pair(id, dpm.connect("tcp", "127.0.0.1:3306"))
  return dpm.NOPROXY
end
`)
	b.OnNewClient(5)
	require.Len(t, core.paired, 1)
	assert.Equal(t, script.ConnID(5), core.paired[0][0])
	assert.Equal(t, script.ConnID(42), core.paired[0][1])
}

func TestOnCloseIgnoresMissingHook(t *testing.T) {
	b := loadScript(t, newFakeCore(), "")
	b.OnClose(1) // must not panic
}

func TestNewRejectsMissingFile(t *testing.T) {
	_, err := New([]string{"/nonexistent/path.lua"}, newFakeCore(), nil)
	assert.True(t, err != nil || errors.Is(err, os.ErrNotExist))
}
