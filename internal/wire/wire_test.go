package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyInitRoundTrip(t *testing.T) {
	buf := EncodeKeyInit(0xdeadbeef, ClientKindContinuum)
	key, kind, ok := DecodeKeyInit(buf)
	require.True(t, ok)
	require.Equal(t, uint32(0xdeadbeef), key)
	require.Equal(t, byte(ClientKindContinuum), kind)
}

func TestDecodeKeyInitRejectsWrongLength(t *testing.T) {
	_, _, ok := DecodeKeyInit([]byte{ProtocolType, SubKeyInit, 1, 2, 3})
	require.False(t, ok)
}

func TestReliableRoundTrip(t *testing.T) {
	payload := []byte("hello reliable world")
	buf := EncodeReliable(42, payload)
	seq, got, ok := DecodeReliable(buf)
	require.True(t, ok)
	require.Equal(t, uint32(42), seq)
	require.Equal(t, payload, got)
}

func TestAckRoundTrip(t *testing.T) {
	buf := EncodeAck(7)
	seq, ok := DecodeAck(buf)
	require.True(t, ok)
	require.Equal(t, uint32(7), seq)
}

// TestGroupedBijection is one of the testable properties named for the
// grouping envelope: encode-then-decode recovers the exact item list.
func TestGroupedBijection(t *testing.T) {
	items := []GroupedItem{
		[]byte("a"),
		[]byte("a slightly longer sub-packet"),
		{},
		[]byte("final item"),
	}
	buf, err := EncodeGrouped(items)
	require.NoError(t, err)
	require.Equal(t, byte(ProtocolType), buf[0])
	require.Equal(t, byte(SubGrouped), buf[1])

	got, err := DecodeGrouped(buf[2:])
	require.NoError(t, err)
	require.Len(t, got, len(items))
	for i, item := range items {
		require.Equal(t, []byte(item), []byte(got[i]))
	}
}

func TestEncodeGroupedRejectsOversizedItem(t *testing.T) {
	oversized := make([]byte, GroupedItemCap+1)
	_, err := EncodeGrouped([]GroupedItem{oversized})
	require.Error(t, err)
}

func TestDecodeGroupedRejectsTruncatedItem(t *testing.T) {
	// declares a 10-byte item but only supplies 3
	body := []byte{10, 'a', 'b', 'c'}
	_, err := DecodeGrouped(body)
	require.Error(t, err)
}

func TestDecodeGroupedEmptyBody(t *testing.T) {
	got, err := DecodeGrouped(nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestPresizedFirstCarriesTotalLength(t *testing.T) {
	buf := EncodePresizedFirst(1000, []byte("chunk-one"))
	require.Equal(t, byte(ProtocolType), buf[0])
	require.Equal(t, byte(SubPresizedData), buf[1])
	require.Equal(t, uint32(1000), le32Decode(buf[2:6]))
	require.Equal(t, []byte("chunk-one"), buf[6:])
}
