package wire

import "fmt"

// BigAssembler is the reassembly slot for "big" packets (spec §3, §4.1):
// streaming concatenation of 0x00 0x08 chunks terminated by a 0x00 0x09
// chunk, capped at MaxBigPacket. A caller owns one per connection and
// serializes access via the connection's reassembly mutex (spec §5).
type BigAssembler struct {
	buf []byte
}

// AppendChunk appends a non-terminal fragment, aborting (clearing state and
// returning an error) if the running total would exceed MaxBigPacket.
func (a *BigAssembler) AppendChunk(payload []byte) error {
	if len(a.buf)+len(payload) > MaxBigPacket {
		a.Reset()
		return fmt.Errorf("wire: big packet reassembly exceeds %d bytes", MaxBigPacket)
	}
	a.buf = append(a.buf, payload...)
	return nil
}

// Finish appends the terminal fragment and returns the fully assembled
// buffer, then clears the slot. The caller dispatches the result as a
// normal payload, whose first byte selects the handler (spec §4.1).
func (a *BigAssembler) Finish(final []byte) ([]byte, error) {
	if err := a.AppendChunk(final); err != nil {
		return nil, err
	}
	out := a.buf
	a.buf = nil
	return out, nil
}

// Reset discards any in-progress reassembly, used on overflow or connection
// teardown.
func (a *BigAssembler) Reset() { a.buf = nil }

// PresizedAssembler is the reassembly slot for a sized/presized transfer
// (spec §3, §4.1): the first chunk carries the total length, subsequent
// chunks carry raw bytes, delivered to the sink per-chunk with (offset,
// total, payload).
type PresizedAssembler struct {
	total     uint32
	offset    uint32
	started   bool
	cancelled bool
}

// Sink receives one presized chunk: offset is where this chunk starts,
// total is the announced transfer length, payload is the chunk's bytes.
type Sink func(offset, total uint32, payload []byte)

// Feed processes one raw 0x00 0x0A payload (the bytes after the ProtocolType
// and SubPresizedData header), calling sink once per chunk. The first call
// for a session must carry the 4-byte LE total length prefix.
func (a *PresizedAssembler) Feed(raw []byte, sink Sink) error {
	if a.cancelled {
		return nil
	}
	if !a.started {
		if len(raw) < 4 {
			return fmt.Errorf("wire: first presized chunk shorter than the 4-byte total-length prefix")
		}
		a.total = le32Decode(raw[:4])
		a.started = true
		raw = raw[4:]
	}
	if len(raw) == 0 {
		return nil
	}
	sink(a.offset, a.total, raw)
	a.offset += uint32(len(raw))
	return nil
}

// Done reports whether every byte of the announced transfer has arrived.
func (a *PresizedAssembler) Done() bool {
	return a.started && a.offset >= a.total
}

// Cancel marks the transfer as cooperatively cancelled (spec §4.1: a 0x00
// 0x0B from the receiver elicits a 0x00 0x0C from the sender, and both
// sides discard state); further Feed calls are ignored.
func (a *PresizedAssembler) Cancel() {
	a.cancelled = true
}

func le32Decode(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
