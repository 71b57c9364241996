package bandwidth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNoLimitAlwaysAdmits(t *testing.T) {
	n := NewNoLimit()
	require.True(t, n.Check(1<<20, Ack))
	require.Equal(t, 30, n.CanBufferPackets())
}

func testConfig() Config {
	return Config{
		LimitMin:   2500,
		LimitMax:   102400,
		Burst:      2048,
		PriPercent: [5]int{20, 40, 20, 15, 5},
	}
}

func TestNewTokenBucketRejectsBadPercentages(t *testing.T) {
	require.Panics(t, func() {
		NewTokenBucket(Config{PriPercent: [5]int{10, 10, 10, 10, 10}})
	})
}

func TestTokenBucketAdmitsAfterIter(t *testing.T) {
	tb := NewTokenBucket(testConfig())
	start := time.Now()
	tb.lastIter = start.Add(-1 * time.Second)
	tb.Iter(start)

	require.True(t, tb.Check(100, Ack))
}

func TestTokenBucketDeniesWithoutBudget(t *testing.T) {
	tb := NewTokenBucket(testConfig())
	tb.lastIter = time.Now()
	require.False(t, tb.Check(1, Ack))
}

// TestTokenBucketHigherPriorityReservesLowerPools verifies spec §4.4's
// admission rule: admitting a packet of priority pri also debits every
// lower-priority (higher-index) pool, so a high-priority burst can still
// starve everything behind it.
func TestTokenBucketHigherPriorityReservesLowerPools(t *testing.T) {
	tb := NewTokenBucket(testConfig())
	start := time.Now()
	tb.lastIter = start.Add(-1 * time.Second)
	tb.Iter(start)

	before := tb.pools[UnreliableLow]
	require.True(t, tb.Check(50, Ack))
	require.Less(t, tb.pools[UnreliableLow], before)
}

func TestTokenBucketAdjustForAckRampsTowardMax(t *testing.T) {
	tb := NewTokenBucket(testConfig())
	before := tb.limit
	tb.AdjustForAck()
	require.Greater(t, tb.limit, before)
}

func TestTokenBucketAdjustForRetryRampsTowardMin(t *testing.T) {
	tb := NewTokenBucket(testConfig())
	tb.limit = 50000
	tb.AdjustForRetry()
	require.Equal(t, 25000.0, tb.limit)
}

func TestTokenBucketAdjustForRetryFloorsAtMin(t *testing.T) {
	tb := NewTokenBucket(testConfig())
	tb.limit = float64(tb.cfg.LimitMin) + 1
	tb.AdjustForRetry()
	require.Equal(t, float64(tb.cfg.LimitMin), tb.limit)
}
