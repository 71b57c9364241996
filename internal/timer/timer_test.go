package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunInThreadExecutes(t *testing.T) {
	s := New(2)
	defer s.Close()

	done := make(chan int, 1)
	s.RunInThread(func(arg interface{}) { done <- arg.(int) }, 7)

	select {
	case v := <-done:
		require.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for RunInThread callback")
	}
}

func TestSetTimerFiresRepeatedlyUntilStop(t *testing.T) {
	s := New(1)
	defer s.Close()

	var count int32
	cb := func(arg interface{}) Result {
		n := atomic.AddInt32(&count, 1)
		if n >= 3 {
			return Stop
		}
		return Continue
	}
	s.SetTimer(cb, time.Millisecond, 2*time.Millisecond, nil, "key")

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&count) == 3
	}, time.Second, 2*time.Millisecond)

	// no further fires after Stop
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(3), atomic.LoadInt32(&count))
}

func TestClearTimerPreventsFurtherFires(t *testing.T) {
	s := New(1)
	defer s.Close()

	var count int32
	cb := func(arg interface{}) Result {
		atomic.AddInt32(&count, 1)
		return Continue
	}
	s.SetTimer(cb, time.Millisecond, time.Millisecond, nil, "k")

	require.Eventually(t, func() bool { return atomic.LoadInt32(&count) > 0 }, time.Second, time.Millisecond)

	cleaned := false
	s.ClearTimer(cb, "k", func(arg interface{}) { cleaned = true })
	require.True(t, cleaned)

	seen := atomic.LoadInt32(&count)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, seen, atomic.LoadInt32(&count))
}
