package reliable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWindowAcceptsInOrder(t *testing.T) {
	w := NewWindow(4)
	outcome, delivered := w.Accept(0, []byte("a"))
	require.Equal(t, Accepted, outcome)
	require.Equal(t, [][]byte{[]byte("a")}, delivered)
	require.Equal(t, uint32(1), w.Expected())
}

func TestWindowStashesOutOfOrderThenDeliversRun(t *testing.T) {
	w := NewWindow(8)

	outcome, delivered := w.Accept(2, []byte("c"))
	require.Equal(t, Accepted, outcome)
	require.Empty(t, delivered)

	outcome, delivered = w.Accept(1, []byte("b"))
	require.Equal(t, Accepted, outcome)
	require.Empty(t, delivered)

	outcome, delivered = w.Accept(0, []byte("a"))
	require.Equal(t, Accepted, outcome)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, delivered)
	require.Equal(t, uint32(3), w.Expected())
}

// TestWindowDuplicateBoundary checks spec's boundary behavior at
// expected-1: a sequence already delivered is a duplicate, still ack-owed.
func TestWindowDuplicateBoundary(t *testing.T) {
	w := NewWindow(4)
	w.Accept(0, []byte("a"))

	outcome, delivered := w.Accept(0, []byte("a-again"))
	require.Equal(t, Duplicate, outcome)
	require.Nil(t, delivered)
	require.Equal(t, uint64(1), w.Duplicates)
}

// TestWindowOutOfWindowBoundary checks the upper boundary: seq ==
// expected+size is rejected outright, with no ack and no state change.
func TestWindowOutOfWindowBoundary(t *testing.T) {
	w := NewWindow(4)
	outcome, delivered := w.Accept(4, []byte("too far ahead"))
	require.Equal(t, OutOfWindow, outcome)
	require.Nil(t, delivered)
	require.Equal(t, uint32(0), w.Expected())
}

func TestWindowHighestInWindowSequenceStillAccepted(t *testing.T) {
	w := NewWindow(4)
	outcome, _ := w.Accept(3, []byte("edge"))
	require.Equal(t, Accepted, outcome)
}

func TestWindowDefaultSizeWhenZero(t *testing.T) {
	w := NewWindow(0)
	outcome, _ := w.Accept(DefaultWindowSize-1, []byte("x"))
	require.Equal(t, Accepted, outcome)
}
