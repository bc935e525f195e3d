package wire

import (
	"github.com/arjenlentz/dpm/internal/buffer"
	"github.com/arjenlentz/dpm/internal/codec"
)

// Header is the 4-byte packet header: 3-byte little-endian length, 1-byte
// sequence number (spec §4.D step 1, §6).
type Header struct {
	Length   int
	Sequence byte
}

// PacketSize is the total on-wire size of a packet, header included.
func (h Header) PacketSize() int {
	return h.Length + codec.Int4
}

// Found describes one complete packet located in a read buffer:
// Header.PacketSize() is the total on-wire size (header included); the
// caller advances the read buffer's consume cursor by that amount once it
// has processed the payload.
type Found struct {
	Header       Header
	SeqMismatch  bool
	FreshCommand bool // spec §4.D step 3: client-facing seq==0 restart
}

// Next attempts to locate one complete packet at the front of r (spec
// §4.D). It returns (nil, nil) when more I/O is needed before a full packet
// is available, and a non-nil error only for a fatal framing violation
// (large-packet continuation).
//
// expectedSeq is the connection's expected sequence number; clientFacing
// tells Next whether a seq==0 mismatch should be tolerated as the start of a
// fresh command (spec §4.E: "a client-side mismatch is tolerated... when the
// sequence byte is 0").
func Next(r *buffer.Read, expectedSeq byte, clientFacing bool) (*Found, error) {
	avail := r.Bytes()
	if len(avail) < codec.Int4 {
		return nil, nil
	}

	pos := 0
	length := int(codec.ReadFixedLenInt(avail, codec.Int3, &pos))
	seq := avail[pos]

	if length == 0 && seq == 0xFF {
		return nil, ErrLargePacketContinuation
	}

	hdr := Header{Length: length, Sequence: seq}
	if len(avail) < hdr.PacketSize() {
		return nil, nil // need more bytes
	}

	found := &Found{Header: hdr}
	if seq != expectedSeq {
		if clientFacing && seq == 0 {
			found.FreshCommand = true
		} else {
			found.SeqMismatch = true
		}
	}
	return found, nil
}

// Payload returns the packet body (header stripped) for a Found result,
// given the same read buffer Next was called on.
func Payload(r *buffer.Read, f *Found) []byte {
	return r.Bytes()[codec.Int4:f.Header.PacketSize()]
}
