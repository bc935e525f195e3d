// Package wire implements the typed, owned packet records of spec §3 and
// the single-packet framer of spec §4.D.
//
// Each packet kind exposes Decode/Encode functions operating on a payload
// slice (the framer has already stripped the 4-byte header); Decode returns
// an owned Go value so there is nothing to separately "free" the way the
// teacher's C-flavored vtable would require (spec §9 re-architecture hint:
// "replace a hand-rolled vtable... with a closed sum type"). The zero value
// of every record is safe to discard — Go's GC is the "dispose" operation.
package wire

import (
	"errors"
	"fmt"

	"github.com/arjenlentz/dpm/internal/codec"
)

// Capability flags the proxy advertises (spec §6).
const (
	ClientLongPassword    = 1 << 0
	ClientLongFlag        = 1 << 2
	ClientConnectWithDB   = 1 << 3
	ClientProtocol41      = 1 << 9
	ClientTransactions    = 1 << 13
	ClientSecureConn      = 1 << 15
	ClientPluginAuth      = 1 << 19
	ClientConnectAttrs    = 1 << 20
	ClientPluginAuthLenencData = 1 << 21
)

// DefaultCapabilities are the flags in spec §6: "LONG_PASSWORD, LONG_FLAG,
// CONNECT_WITH_DB, PROTOCOL_41, TRANSACTIONS, SECURE_CONNECTION."
const DefaultCapabilities = ClientLongPassword | ClientLongFlag | ClientConnectWithDB |
	ClientProtocol41 | ClientTransactions | ClientSecureConn

// DefaultCharset is charset id 8 (latin1_swedish_ci), spec §6.
const DefaultCharset = 8

// StatusAutocommit is the only default server status flag, spec §6.
const StatusAutocommit = 0x0002

// ServerVersion is the version string the proxy advertises, spec §6.
const ServerVersion = "5.0.37"

// ProtocolVersion10 is the only handshake protocol version this core
// supports (spec §3: "must equal 10").
const ProtocolVersion10 = 10

// ErrMaxMessageLen bounds ERR message bytes (spec §6: "bounded to a fixed
// maximum (≈512)").
const ErrMaxMessageLen = 512

// MaxServerVersionLen bounds the handshake server-version string (spec §3:
// "≤ 60 bytes").
const MaxServerVersionLen = 60

var (
	// ErrLargePacketContinuation is the spec §4.D step 4 / §4 supplemented
	// feature: length==0 with sequence==0xFF signals a large-packet
	// continuation, which this core does not support (spec Non-goals).
	ErrLargePacketContinuation = errors.New("wire: large-packet continuation is unsupported")
	// ErrUnsupportedProtocolVersion is a protocol violation (spec §7).
	ErrUnsupportedProtocolVersion = errors.New("wire: unsupported handshake protocol version")
	// ErrServerVersionTooLong is a protocol violation (spec §7).
	ErrServerVersionTooLong = errors.New("wire: server version string too long")
	// ErrUsernameTooLong is a protocol violation (spec §7).
	ErrUsernameTooLong = errors.New("wire: username too long")
	// ErrMessageTooLong is a protocol violation (spec §7).
	ErrMessageTooLong = errors.New("wire: error message too long")
	// ErrEOFAmbiguous means a 0xFE first byte appeared with a body that is
	// too long to be a genuine EOF packet (spec §3: "only valid when the
	// packet body is < 9 bytes").
	ErrEOFAmbiguous = errors.New("wire: 0xFE body too long to be EOF")
)

// Kind tags which packet record a packet decodes to.
type Kind int

const (
	KindHandshake Kind = iota
	KindAuth
	KindOK
	KindErr
	KindCommand
	KindResultSetHeader
	KindField
	KindRow
	KindEOF
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindAuth:
		return "auth"
	case KindOK:
		return "ok"
	case KindErr:
		return "err"
	case KindCommand:
		return "command"
	case KindResultSetHeader:
		return "resultset_header"
	case KindField:
		return "field"
	case KindRow:
		return "row"
	case KindEOF:
		return "eof"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Handshake is the server's initial greeting (spec §3).
type Handshake struct {
	ProtocolVersion byte
	ServerVersion   string
	ThreadID        uint32
	Scramble        [20]byte
	Capabilities    uint16
	Charset         byte
	Status          uint16
}

// DecodeHandshake decodes a Handshake packet body (payload only, no header).
func DecodeHandshake(payload []byte) (*Handshake, error) {
	pos := 0
	h := &Handshake{}
	h.ProtocolVersion = payload[pos]
	pos++
	if h.ProtocolVersion != ProtocolVersion10 {
		return nil, ErrUnsupportedProtocolVersion
	}
	ver := codec.ReadString(payload, codec.NullStr, &pos, 0)
	if len(ver) > MaxServerVersionLen {
		return nil, ErrServerVersionTooLong
	}
	h.ServerVersion = string(ver)
	h.ThreadID = uint32(codec.ReadFixedLenInt(payload, codec.Int4, &pos))
	copy(h.Scramble[0:8], codec.ReadString(payload, codec.FixedStr, &pos, 8))
	pos++ // filler 0x00
	h.Capabilities = uint16(codec.ReadFixedLenInt(payload, codec.Int2, &pos))
	h.Charset = payload[pos]
	pos++
	h.Status = uint16(codec.ReadFixedLenInt(payload, codec.Int2, &pos))
	pos += 13 // filler/zero
	tail := codec.ReadString(payload, codec.FixedStr, &pos, 12)
	copy(h.Scramble[8:20], tail)
	pos++ // auth-plugin-data-part-2 separator (always 0x00 on the wire)
	return h, nil
}

// Encode writes the Handshake packet body into buf, returning the number of
// bytes written.
func (h *Handshake) Encode(buf []byte) int {
	pos := 0
	codec.WriteFixedLenInt(buf, codec.Int1, uint64(h.ProtocolVersion), &pos)
	codec.WriteString(buf, h.ServerVersion, codec.NullStr, &pos, 0)
	codec.WriteFixedLenInt(buf, codec.Int4, uint64(h.ThreadID), &pos)
	codec.WriteString(buf, string(h.Scramble[0:8]), codec.FixedStr, &pos, 8)
	codec.WriteFixedLenInt(buf, codec.Int1, 0, &pos) // filler
	codec.WriteFixedLenInt(buf, codec.Int2, uint64(h.Capabilities), &pos)
	codec.WriteFixedLenInt(buf, codec.Int1, uint64(h.Charset), &pos)
	codec.WriteFixedLenInt(buf, codec.Int2, uint64(h.Status), &pos)
	for i := 0; i < 13; i++ {
		buf[pos] = 0
		pos++
	}
	codec.WriteString(buf, string(h.Scramble[8:20]), codec.FixedStr, &pos, 12)
	codec.WriteFixedLenInt(buf, codec.Int1, 0, &pos) // auth-plugin-data-part-2 separator
	return pos
}

// EncodedLen returns the exact body length Encode will write. The 12-byte
// scramble tail (spec §3: "12-byte tail with a separator") carries one
// extra terminating 0x00 beyond the 12 scramble bytes themselves.
func (h *Handshake) EncodedLen() int {
	return 1 + len(h.ServerVersion) + 1 + 4 + 8 + 1 + 2 + 1 + 2 + 13 + 12 + 1
}

// Auth is the client's handshake response (spec §3).
type Auth struct {
	Capabilities  uint32
	MaxPacketSize uint32
	Charset       byte
	Username      string
	Scramble      []byte // nil/empty means "no scramble present"
	Database      string
	HasDatabase   bool
}

// DecodeAuth decodes an Auth packet body.
func DecodeAuth(payload []byte, maxUsernameLen int) (*Auth, error) {
	pos := 0
	a := &Auth{}
	a.Capabilities = uint32(codec.ReadFixedLenInt(payload, codec.Int4, &pos))
	a.MaxPacketSize = uint32(codec.ReadFixedLenInt(payload, codec.Int4, &pos))
	a.Charset = payload[pos]
	pos++
	pos += 23 // zero filler
	user := codec.ReadString(payload, codec.NullStr, &pos, 0)
	if maxUsernameLen > 0 && len(user) > maxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	a.Username = string(user)

	if pos < len(payload) {
		scrambleLen := int(payload[pos])
		pos++
		if scrambleLen > 0 {
			a.Scramble = append([]byte(nil), payload[pos:pos+scrambleLen]...)
			pos += scrambleLen
		}
	}
	if pos < len(payload) && (a.Capabilities&ClientConnectWithDB) != 0 {
		db := codec.ReadString(payload, codec.NullStr, &pos, 0)
		a.Database = string(db)
		a.HasDatabase = true
	}
	return a, nil
}

// Encode appends the Auth packet body into buf.
func (a *Auth) Encode(buf []byte) int {
	pos := 0
	codec.WriteFixedLenInt(buf, codec.Int4, uint64(a.Capabilities), &pos)
	codec.WriteFixedLenInt(buf, codec.Int4, uint64(a.MaxPacketSize), &pos)
	codec.WriteFixedLenInt(buf, codec.Int1, uint64(a.Charset), &pos)
	for i := 0; i < 23; i++ {
		buf[pos] = 0
		pos++
	}
	codec.WriteString(buf, a.Username, codec.NullStr, &pos, 0)
	buf[pos] = byte(len(a.Scramble))
	pos++
	pos += copy(buf[pos:], a.Scramble)
	if a.HasDatabase {
		codec.WriteString(buf, a.Database, codec.NullStr, &pos, 0)
	}
	return pos
}

// EncodedLen returns the exact body length Encode will write.
func (a *Auth) EncodedLen() int {
	n := 4 + 4 + 1 + 23 + len(a.Username) + 1 + 1 + len(a.Scramble)
	if a.HasDatabase {
		n += len(a.Database) + 1
	}
	return n
}

// OK is the generic success response (spec §3).
type OK struct {
	AffectedRows uint64
	InsertID     uint64
	Status       uint16
	Warnings     uint16
	Message      string
	HasMessage   bool
}

// DecodeOK decodes an OK packet body. payload starts with the 0x00
// field-count byte the caller used as the discriminator; decoding skips it.
func DecodeOK(payload []byte) (*OK, error) {
	pos := 1 // field-count byte 0x00
	ok := &OK{}
	ok.AffectedRows, _ = codec.ReadLenEncInt(payload, &pos)
	ok.InsertID, _ = codec.ReadLenEncInt(payload, &pos)
	ok.Status = uint16(codec.ReadFixedLenInt(payload, codec.Int2, &pos))
	ok.Warnings = uint16(codec.ReadFixedLenInt(payload, codec.Int2, &pos))
	if pos < len(payload) {
		ok.Message = string(payload[pos:])
		ok.HasMessage = true
	}
	return ok, nil
}

// Encode appends the OK packet body (including the leading 0x00) into buf.
func (o *OK) Encode(buf []byte) int {
	pos := 0
	codec.WriteFixedLenInt(buf, codec.Int1, 0x00, &pos)
	codec.WriteLenEncInt(buf, o.AffectedRows, &pos)
	codec.WriteLenEncInt(buf, o.InsertID, &pos)
	codec.WriteFixedLenInt(buf, codec.Int2, uint64(o.Status), &pos)
	codec.WriteFixedLenInt(buf, codec.Int2, uint64(o.Warnings), &pos)
	if o.HasMessage {
		codec.WriteString(buf, o.Message, codec.EOFStr, &pos, 0)
	}
	return pos
}

// EncodedLen returns the exact body length Encode will write.
func (o *OK) EncodedLen() int {
	n := 1 + codec.LenencWidth(o.AffectedRows) + codec.LenencWidth(o.InsertID) + 2 + 2
	if o.HasMessage {
		n += len(o.Message)
	}
	return n
}

// Err is the generic failure response (spec §3).
type Err struct {
	Code     uint16
	SQLState string // exactly 5 bytes
	Message  string
}

// DecodeErr decodes an ERR packet body. payload starts with the 0xFF
// field-count byte the caller used as the discriminator; decoding skips it.
func DecodeErr(payload []byte) (*Err, error) {
	pos := 1 // field-count byte 0xFF
	e := &Err{}
	e.Code = uint16(codec.ReadFixedLenInt(payload, codec.Int2, &pos))
	pos++ // '#' marker
	e.SQLState = string(codec.ReadString(payload, codec.FixedStr, &pos, 5))
	msg := payload[pos:]
	if len(msg) > ErrMaxMessageLen {
		return nil, ErrMessageTooLong
	}
	e.Message = string(msg)
	return e, nil
}

// Encode appends the ERR packet body (including the leading 0xFF) into buf.
func (e *Err) Encode(buf []byte) int {
	if len(e.Message) > ErrMaxMessageLen {
		panic("wire: ERR message exceeds ErrMaxMessageLen")
	}
	pos := 0
	codec.WriteFixedLenInt(buf, codec.Int1, 0xff, &pos)
	codec.WriteFixedLenInt(buf, codec.Int2, uint64(e.Code), &pos)
	buf[pos] = '#'
	pos++
	state := e.SQLState
	for len(state) < 5 {
		state += "0"
	}
	codec.WriteString(buf, state[:5], codec.FixedStr, &pos, 5)
	codec.WriteString(buf, e.Message, codec.EOFStr, &pos, 0)
	return pos
}

// EncodedLen returns the exact body length Encode will write.
func (e *Err) EncodedLen() int {
	return 1 + 2 + 1 + 5 + len(e.Message)
}

// Command is a client command packet (spec §3). Arg is the remainder of the
// packet after the opcode byte, held exactly as on the wire: the wire format
// carries no terminator and DecodeCommand appends none. Encode writes Arg
// verbatim and adds no terminator of its own (spec §9c).
type Command struct {
	Opcode byte
	Arg    []byte
}

// DecodeCommand decodes a Command packet body.
func DecodeCommand(payload []byte) (*Command, error) {
	return &Command{Opcode: payload[0], Arg: append([]byte(nil), payload[1:]...)}, nil
}

// Encode appends the Command packet body into buf. Arg is written verbatim,
// and no NUL is added after it (spec §9c).
func (c *Command) Encode(buf []byte) int {
	pos := 0
	codec.WriteFixedLenInt(buf, codec.Int1, uint64(c.Opcode), &pos)
	pos += copy(buf[pos:], c.Arg)
	return pos
}

// EncodedLen returns the exact body length Encode will write.
func (c *Command) EncodedLen() int {
	return 1 + len(c.Arg)
}

// ResultSetHeader announces the column count of a forthcoming result set
// (spec §3).
type ResultSetHeader struct {
	FieldCount uint64
	Extra      []byte
	HasExtra   bool
}

// DecodeResultSetHeader decodes a result-set header packet body.
func DecodeResultSetHeader(payload []byte) (*ResultSetHeader, error) {
	pos := 0
	h := &ResultSetHeader{}
	h.FieldCount, _ = codec.ReadLenEncInt(payload, &pos)
	if pos < len(payload) {
		h.Extra = append([]byte(nil), payload[pos:]...)
		h.HasExtra = true
	}
	return h, nil
}

// Encode appends the result-set header packet body into buf.
func (h *ResultSetHeader) Encode(buf []byte) int {
	pos := 0
	codec.WriteLenEncInt(buf, h.FieldCount, &pos)
	if h.HasExtra {
		pos += copy(buf[pos:], h.Extra)
	}
	return pos
}

// EncodedLen returns the exact body length Encode will write.
func (h *ResultSetHeader) EncodedLen() int {
	n := codec.LenencWidth(h.FieldCount)
	if h.HasExtra {
		n += len(h.Extra)
	}
	return n
}

// Field is a single column descriptor (spec §3).
type Field struct {
	Catalog      string
	Schema       string
	Table        string
	OrgTable     string
	Name         string
	OrgName      string
	Charset      uint16
	ColumnLength uint32
	Type         byte
	Flags        uint16
	Decimals     byte
	Default      []byte
	HasDefault   bool
}

// DecodeField decodes a field-descriptor packet body.
func DecodeField(payload []byte) (*Field, error) {
	pos := 0
	f := &Field{}
	f.Catalog = string(codec.ReadString(payload, codec.LenencStr, &pos, 0))
	f.Schema = string(codec.ReadString(payload, codec.LenencStr, &pos, 0))
	f.Table = string(codec.ReadString(payload, codec.LenencStr, &pos, 0))
	f.OrgTable = string(codec.ReadString(payload, codec.LenencStr, &pos, 0))
	f.Name = string(codec.ReadString(payload, codec.LenencStr, &pos, 0))
	f.OrgName = string(codec.ReadString(payload, codec.LenencStr, &pos, 0))
	pos++ // filler (length of fixed fields, always 0x0c)
	f.Charset = uint16(codec.ReadFixedLenInt(payload, codec.Int2, &pos))
	f.ColumnLength = uint32(codec.ReadFixedLenInt(payload, codec.Int4, &pos))
	f.Type = payload[pos]
	pos++
	f.Flags = uint16(codec.ReadFixedLenInt(payload, codec.Int2, &pos))
	f.Decimals = payload[pos]
	pos++
	pos += 2 // filler
	if pos < len(payload) {
		def := codec.ReadString(payload, codec.LenencStr, &pos, 0)
		if def != nil {
			f.Default = def
			f.HasDefault = true
		}
	}
	return f, nil
}

// Encode appends the field-descriptor packet body into buf.
func (f *Field) Encode(buf []byte) int {
	pos := 0
	codec.WriteString(buf, f.Catalog, codec.LenencStr, &pos, 0)
	codec.WriteString(buf, f.Schema, codec.LenencStr, &pos, 0)
	codec.WriteString(buf, f.Table, codec.LenencStr, &pos, 0)
	codec.WriteString(buf, f.OrgTable, codec.LenencStr, &pos, 0)
	codec.WriteString(buf, f.Name, codec.LenencStr, &pos, 0)
	codec.WriteString(buf, f.OrgName, codec.LenencStr, &pos, 0)
	codec.WriteFixedLenInt(buf, codec.Int1, 0x0c, &pos)
	codec.WriteFixedLenInt(buf, codec.Int2, uint64(f.Charset), &pos)
	codec.WriteFixedLenInt(buf, codec.Int4, uint64(f.ColumnLength), &pos)
	codec.WriteFixedLenInt(buf, codec.Int1, uint64(f.Type), &pos)
	codec.WriteFixedLenInt(buf, codec.Int2, uint64(f.Flags), &pos)
	codec.WriteFixedLenInt(buf, codec.Int1, uint64(f.Decimals), &pos)
	codec.WriteFixedLenInt(buf, codec.Int2, 0, &pos)
	if f.HasDefault {
		codec.WriteString(buf, string(f.Default), codec.LenencStr, &pos, 0)
	}
	return pos
}

// EncodedLen returns the exact body length Encode will write.
func (f *Field) EncodedLen() int {
	n := lenencStrLen(f.Catalog) + lenencStrLen(f.Schema) + lenencStrLen(f.Table) +
		lenencStrLen(f.OrgTable) + lenencStrLen(f.Name) + lenencStrLen(f.OrgName) +
		1 + 2 + 4 + 1 + 2 + 1 + 2
	if f.HasDefault {
		n += codec.LenencWidth(uint64(len(f.Default))) + len(f.Default)
	}
	return n
}

func lenencStrLen(s string) int {
	return codec.LenencWidth(uint64(len(s))) + len(s)
}

// Row is an opaque result-set row, retained and exposed by reference (spec §3).
type Row struct {
	Raw []byte
}

// DecodeRow wraps a row packet's payload without copying semantics beyond
// what the caller already owns.
func DecodeRow(payload []byte) (*Row, error) {
	return &Row{Raw: payload}, nil
}

// Encode appends the row payload verbatim into buf.
func (r *Row) Encode(buf []byte) int {
	return copy(buf, r.Raw)
}

// EncodedLen returns the exact body length Encode will write.
func (r *Row) EncodedLen() int {
	return len(r.Raw)
}

// EOF terminates a stream of field descriptors or rows (spec §3). It is
// ambiguous with a field/row leading 0xFE byte, so it is only ever decoded
// when the body is shorter than 9 bytes.
type EOF struct {
	Warnings uint16
	Status   uint16
}

// DecodeEOF decodes an EOF packet body, payload including the leading 0xFE
// marker. It returns ErrEOFAmbiguous when the payload is 9 bytes or longer
// (spec §3).
func DecodeEOF(payload []byte) (*EOF, error) {
	if len(payload) >= 9 {
		return nil, ErrEOFAmbiguous
	}
	pos := 1 // marker 0xFE
	e := &EOF{}
	e.Warnings = uint16(codec.ReadFixedLenInt(payload, codec.Int2, &pos))
	e.Status = uint16(codec.ReadFixedLenInt(payload, codec.Int2, &pos))
	return e, nil
}

// Encode appends the EOF packet body (including the leading 0xFE) into buf.
func (e *EOF) Encode(buf []byte) int {
	pos := 0
	codec.WriteFixedLenInt(buf, codec.Int1, 0xfe, &pos)
	codec.WriteFixedLenInt(buf, codec.Int2, uint64(e.Warnings), &pos)
	codec.WriteFixedLenInt(buf, codec.Int2, uint64(e.Status), &pos)
	return pos
}

// EncodedLen returns the exact body length Encode will write (always 5).
func (e *EOF) EncodedLen() int {
	return 5
}

// IsEOFMarker reports whether a response packet's first byte and length
// identify it as an EOF packet rather than a field/row whose payload
// happens to start with 0xFE (spec §3, §4.E).
func IsEOFMarker(firstByte byte, bodyLen int) bool {
	return firstByte == 0xfe && bodyLen < 9
}
