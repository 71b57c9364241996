package wire

import "encoding/binary"

// PingRequestLen is the fixed size of the client's opaque timestamp probe
// (spec §6's ping protocol, served on game-port + 1).
const PingRequestLen = 4

// EncodePingReply builds the 8-byte reply: population (4 LE) followed by
// the echoed 4-byte client timestamp, unchanged.
func EncodePingReply(population uint32, echoed []byte) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], population)
	copy(buf[4:8], echoed)
	return buf
}
