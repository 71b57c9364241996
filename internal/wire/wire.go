// Package wire implements the "core" protocol framing of spec §4.1: the
// type-byte-0x00 sub-packet table, the grouped-packet envelope, and the
// big/presized chunk codecs. Integer fields are little-endian (spec §6).
// Grounded on the teacher's pkg/raknet/protocol.go BitStream and
// source/protocol/raknet.go's DataPacket encapsulation, rewritten for the
// spec's own sub-type table instead of RakNet's.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Outer type byte: 0x00 selects a protocol sub-type (spec §4.1); anything
// else is a game-layer type dispatched to a registered handler.
const ProtocolType = 0x00

// Protocol sub-types, exhaustive per spec §4.1's table.
const (
	SubKeyInit              = 0x01
	SubKeyResponse          = 0x02
	SubReliable             = 0x03
	SubAck                  = 0x04
	SubSyncRequest          = 0x05
	SubSyncResponse         = 0x06
	SubDisconnect           = 0x07
	SubBigChunk             = 0x08
	SubBigFinal             = 0x09
	SubPresizedData         = 0x0A
	SubCancelRequest        = 0x0B
	SubCancelAck            = 0x0C
	SubGrouped              = 0x0E
	SubKeyInitContinuum     = 0x11
	SubContinuumKeyResponse = 0x13
)

// Size limits named in spec §3, §4.1, §6.
const (
	MaxPacketSize   = 512
	MaxBigPacket    = 64 * 1024
	GroupedItemCap  = 255
	KeyInitLen      = 8
	KeyResponseLen  = 6
	MaxGroupedDepth = 1 // grouped-inside-grouped (depth >= 2) must be refused
)

// ClientKindByte is the client-kind byte carried by KeyInit (spec §6).
const (
	ClientKindVIE       = 0x01
	ClientKindContinuum = 0x11
)

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// EncodeKeyInit builds the 8-byte connection-init datagram: 00 01 <key:4 LE>
// <kind:1> 00 (spec §6).
func EncodeKeyInit(key uint32, kind byte) []byte {
	buf := make([]byte, 0, KeyInitLen)
	buf = append(buf, ProtocolType, SubKeyInit)
	buf = append(buf, le32(key)...)
	buf = append(buf, kind, 0x00)
	return buf
}

// DecodeKeyInit parses an 8-byte connection-init datagram (either SubKeyInit
// or SubKeyInitContinuum form at buf[1]).
func DecodeKeyInit(buf []byte) (key uint32, kind byte, ok bool) {
	if len(buf) != KeyInitLen || buf[0] != ProtocolType {
		return 0, 0, false
	}
	if buf[1] != SubKeyInit && buf[1] != SubKeyInitContinuum {
		return 0, 0, false
	}
	key = binary.LittleEndian.Uint32(buf[2:6])
	kind = buf[6]
	if buf[7] != 0x00 {
		return 0, 0, false
	}
	return key, kind, true
}

// EncodeKeyResponse builds the 6-byte handshake completion: 00 02 <key:4 LE>
// (spec §6). When no encryption is negotiated the echoed key equals the
// client's key.
func EncodeKeyResponse(key uint32) []byte {
	buf := make([]byte, 0, KeyResponseLen)
	buf = append(buf, ProtocolType, SubKeyResponse)
	buf = append(buf, le32(key)...)
	return buf
}

// EncodeOutOfSlots builds the 2-byte "out of slots" reply (spec §6).
func EncodeOutOfSlots() []byte {
	return []byte{ProtocolType, SubDisconnect}
}

// EncodeReliable wraps payload with a 32-bit LE sequence under 0x00 0x03
// (spec §4.1, §4.2).
func EncodeReliable(seq uint32, payload []byte) []byte {
	buf := make([]byte, 0, 6+len(payload))
	buf = append(buf, ProtocolType, SubReliable)
	buf = append(buf, le32(seq)...)
	buf = append(buf, payload...)
	return buf
}

// DecodeReliable extracts the sequence and inner payload from a 0x00 0x03
// datagram.
func DecodeReliable(buf []byte) (seq uint32, payload []byte, ok bool) {
	if len(buf) < 6 || buf[0] != ProtocolType || buf[1] != SubReliable {
		return 0, nil, false
	}
	seq = binary.LittleEndian.Uint32(buf[2:6])
	return seq, buf[6:], true
}

// EncodeAck builds the unreliable 0x00 0x04 acknowledgement for seq.
func EncodeAck(seq uint32) []byte {
	buf := make([]byte, 0, 6)
	buf = append(buf, ProtocolType, SubAck)
	buf = append(buf, le32(seq)...)
	return buf
}

// DecodeAck extracts the acknowledged sequence from a 0x00 0x04 datagram.
func DecodeAck(buf []byte) (seq uint32, ok bool) {
	if len(buf) < 6 || buf[0] != ProtocolType || buf[1] != SubAck {
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf[2:6]), true
}

// EncodeBigChunk wraps one non-terminal big-packet fragment under 0x00 0x08.
func EncodeBigChunk(payload []byte) []byte {
	return append([]byte{ProtocolType, SubBigChunk}, payload...)
}

// EncodeBigFinal wraps the terminal big-packet fragment under 0x00 0x09.
func EncodeBigFinal(payload []byte) []byte {
	return append([]byte{ProtocolType, SubBigFinal}, payload...)
}

// EncodePresizedFirst wraps the first presized chunk, carrying the 4-byte
// LE total length ahead of the payload (spec §4.1).
func EncodePresizedFirst(total uint32, chunk []byte) []byte {
	buf := make([]byte, 0, 6+len(chunk))
	buf = append(buf, ProtocolType, SubPresizedData)
	buf = append(buf, le32(total)...)
	buf = append(buf, chunk...)
	return buf
}

// EncodePresizedChunk wraps a subsequent presized chunk (raw bytes only).
func EncodePresizedChunk(chunk []byte) []byte {
	return append([]byte{ProtocolType, SubPresizedData}, chunk...)
}

// EncodeCancelRequest builds the receiver's 0x00 0x0B cancellation request.
func EncodeCancelRequest() []byte { return []byte{ProtocolType, SubCancelRequest} }

// EncodeCancelAck builds the sender's 0x00 0x0C cancellation acknowledgement.
func EncodeCancelAck() []byte { return []byte{ProtocolType, SubCancelAck} }

// GroupedItem is one length-prefixed sub-packet inside a Grouped envelope.
type GroupedItem []byte

// EncodeGrouped builds the 0x00 0x0E envelope containing items, each
// length-prefixed with a single byte (spec §4.1, §8's bijection property).
// Returns an error if any item exceeds GroupedItemCap bytes.
func EncodeGrouped(items []GroupedItem) ([]byte, error) {
	buf := []byte{ProtocolType, SubGrouped}
	for _, item := range items {
		if len(item) > GroupedItemCap {
			return nil, fmt.Errorf("wire: grouped item of %d bytes exceeds %d-byte cap", len(item), GroupedItemCap)
		}
		buf = append(buf, byte(len(item)))
		buf = append(buf, item...)
	}
	return buf, nil
}

// DecodeGrouped parses a 0x00 0x0E envelope's body (buf without the 0x00
// 0x0E prefix) into its length-prefixed items. It rejects (per spec §8) a
// declared item length that exceeds the remaining bytes, dropping the whole
// datagram rather than returning a partial item list.
func DecodeGrouped(body []byte) ([]GroupedItem, error) {
	var items []GroupedItem
	off := 0
	for off < len(body) {
		n := int(body[off])
		off++
		if off+n > len(body) {
			return nil, fmt.Errorf("wire: grouped item length %d exceeds remaining %d bytes", n, len(body)-off)
		}
		items = append(items, GroupedItem(body[off:off+n]))
		off += n
	}
	return items, nil
}
