package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBigAssemblerConcatenatesInOrder(t *testing.T) {
	var a BigAssembler
	require.NoError(t, a.AppendChunk([]byte("hello, ")))
	require.NoError(t, a.AppendChunk([]byte("big ")))
	got, err := a.Finish([]byte("packet"))
	require.NoError(t, err)
	require.Equal(t, "hello, big packet", string(got))
}

func TestBigAssemblerRejectsOverflow(t *testing.T) {
	var a BigAssembler
	require.NoError(t, a.AppendChunk(make([]byte, MaxBigPacket)))
	err := a.AppendChunk([]byte("one too many bytes"))
	require.Error(t, err)
	// overflow resets the slot
	require.NoError(t, a.AppendChunk([]byte("fresh start")))
}

func TestPresizedAssemblerDeliversOffsetsAscending(t *testing.T) {
	var a PresizedAssembler
	var offsets []uint32
	var totals []uint32
	sink := func(offset, total uint32, payload []byte) {
		offsets = append(offsets, offset)
		totals = append(totals, total)
	}

	first := EncodePresizedFirst(9, []byte("abc"))
	require.NoError(t, a.Feed(first[2:], sink))
	require.NoError(t, a.Feed(EncodePresizedChunk([]byte("def"))[2:], sink))
	require.NoError(t, a.Feed(EncodePresizedChunk([]byte("ghi"))[2:], sink))

	require.Equal(t, []uint32{0, 3, 6}, offsets)
	require.Equal(t, []uint32{9, 9, 9}, totals)
	require.True(t, a.Done())
}

func TestPresizedAssemblerRejectsShortFirstChunk(t *testing.T) {
	var a PresizedAssembler
	err := a.Feed([]byte{1, 2}, func(uint32, uint32, []byte) {})
	require.Error(t, err)
}

func TestPresizedAssemblerIgnoresFeedAfterCancel(t *testing.T) {
	var a PresizedAssembler
	first := EncodePresizedFirst(3, []byte("a"))
	called := false
	require.NoError(t, a.Feed(first[2:], func(uint32, uint32, []byte) { called = true }))
	require.True(t, called)

	a.Cancel()
	called = false
	require.NoError(t, a.Feed(EncodePresizedChunk([]byte("b"))[2:], func(uint32, uint32, []byte) { called = true }))
	require.False(t, called)
}
