// Package luabridge is the default script.Engine implementation, backed by
// gopher-lua. It is the only concrete scripting language the core knows
// about; any other engine plugs into the same script.Engine interface
// without this package's help.
package luabridge

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/arjenlentz/dpm/internal/logging"
	"github.com/arjenlentz/dpm/internal/wire"
	"github.com/arjenlentz/dpm/script"
)

// Bridge adapts one gopher-lua state to script.Engine. gopher-lua's
// *lua.LState is not safe for concurrent use, which is not a problem here:
// the reactor calls every Engine method from its single thread (spec
// §4.G).
type Bridge struct {
	L    *lua.LState
	core script.Core
	log  *logging.Logger
}

// New loads every script in paths, in order, into a fresh Lua state and
// wires the "dpm" global table to core (spec §4.I, §5 SUPPLEMENTED
// FEATURES).
func New(paths []string, core script.Core, log *logging.Logger) (*Bridge, error) {
	L := lua.NewState()
	b := &Bridge{L: L, core: core, log: log}
	b.registerAPI()

	for _, p := range paths {
		if err := L.DoFile(p); err != nil {
			L.Close()
			return nil, fmt.Errorf("luabridge: loading %s: %w", p, err)
		}
	}
	return b, nil
}

func (b *Bridge) registerAPI() {
	api := b.L.NewTable()
	b.L.SetGlobal("dpm", api)

	b.L.SetField(api, "write", b.L.NewFunction(b.luaWrite))
	b.L.SetField(api, "disconnect", b.L.NewFunction(b.luaDisconnect))
	b.L.SetField(api, "pair", b.L.NewFunction(b.luaPair))
	b.L.SetField(api, "unpair", b.L.NewFunction(b.luaUnpair))
	b.L.SetField(api, "connect", b.L.NewFunction(b.luaConnect))
	b.L.SetField(api, "now_micros", b.L.NewFunction(b.luaNowMicros))
	b.L.SetField(api, "now_millis", b.L.NewFunction(b.luaNowMillis))

	// Verdict constants, so scripts write "return dpm.NOPROXY" instead of
	// a magic number.
	b.L.SetField(api, "DEFAULT", lua.LNumber(script.VerdictDefault))
	b.L.SetField(api, "NOPROXY", lua.LNumber(script.VerdictNoProxy))
	b.L.SetField(api, "FLUSH_DISCONNECT", lua.LNumber(script.VerdictFlushDisconnect))
}

func (b *Bridge) luaWrite(L *lua.LState) int {
	id := script.ConnID(L.CheckInt64(1))
	payload := L.CheckString(2)
	if err := b.core.Write(id, []byte(payload)); err != nil {
		L.Push(lua.LString(err.Error()))
		return 1
	}
	return 0
}

func (b *Bridge) luaDisconnect(L *lua.LState) int {
	b.core.Disconnect(script.ConnID(L.CheckInt64(1)))
	return 0
}

func (b *Bridge) luaPair(L *lua.LState) int {
	a := script.ConnID(L.CheckInt64(1))
	c := script.ConnID(L.CheckInt64(2))
	if err := b.core.Pair(a, c); err != nil {
		L.Push(lua.LString(err.Error()))
		return 1
	}
	return 0
}

func (b *Bridge) luaUnpair(L *lua.LState) int {
	b.core.Unpair(script.ConnID(L.CheckInt64(1)))
	return 0
}

func (b *Bridge) luaConnect(L *lua.LState) int {
	network := L.CheckString(1)
	addr := L.CheckString(2)
	id, err := b.core.Connect(network, addr)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LNumber(id))
	return 1
}

func (b *Bridge) luaNowMicros(L *lua.LState) int {
	L.Push(lua.LNumber(b.core.NowMicros()))
	return 1
}

func (b *Bridge) luaNowMillis(L *lua.LState) int {
	L.Push(lua.LNumber(b.core.NowMillis()))
	return 1
}

// OnNewClient implements script.Engine by calling the global Lua function
// on_new_client(id), if the loaded scripts define one.
func (b *Bridge) OnNewClient(id script.ConnID) script.Verdict {
	return b.callHook("on_new_client", lua.LNumber(id))
}

// OnPacket implements script.Engine by calling on_packet(id, kind, payload).
func (b *Bridge) OnPacket(id script.ConnID, kind wire.Kind, payload []byte) script.Verdict {
	return b.callHook("on_packet", lua.LNumber(id), lua.LString(kind.String()), lua.LString(payload))
}

// OnClose implements script.Engine by calling on_close(id); any return
// value is ignored since there is nothing left to do with a connection
// that has already been torn down.
func (b *Bridge) OnClose(id script.ConnID) {
	fn := b.L.GetGlobal("on_close")
	if fn.Type() != lua.LTFunction {
		return
	}
	if err := b.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, lua.LNumber(id)); err != nil {
		b.logErr("on_close", err)
	}
}

// Close releases the Lua VM.
func (b *Bridge) Close() error {
	b.L.Close()
	return nil
}

func (b *Bridge) callHook(name string, args ...lua.LValue) script.Verdict {
	fn := b.L.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return script.VerdictDefault
	}

	if err := b.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		b.logErr(name, err)
		return script.VerdictDefault
	}

	ret := b.L.Get(-1)
	b.L.Pop(1)

	n, ok := ret.(lua.LNumber)
	if !ok {
		return script.VerdictDefault
	}
	return script.Verdict(int(n))
}

func (b *Bridge) logErr(hook string, err error) {
	if b.log != nil {
		b.log.Log(logging.Warning, "luabridge:", hook, "hook error:", err.Error())
	}
}

var _ script.Engine = (*Bridge)(nil)
