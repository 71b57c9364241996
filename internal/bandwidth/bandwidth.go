// Package bandwidth implements the per-connection bandwidth limiter of
// spec §4.4: a polymorphic capability the send scheduler queries before
// each packet it ships, with a no-limit variant and a token-bucket variant
// with per-priority pools.
package bandwidth

import (
	"fmt"
	"sync"
	"time"
)

// Priority orders the five send-scheduler queues of spec §4.3, highest
// priority first.
type Priority int

const (
	Ack Priority = iota
	Reliable
	UnreliableHigh
	Unreliable
	UnreliableLow
	numPriorities
)

func (p Priority) String() string {
	switch p {
	case Ack:
		return "ack"
	case Reliable:
		return "reliable"
	case UnreliableHigh:
		return "unreliable-high"
	case Unreliable:
		return "unreliable"
	case UnreliableLow:
		return "unreliable-low"
	default:
		return "unknown"
	}
}

// Limiter is the capability set of spec §4.4.
type Limiter interface {
	Iter(now time.Time)
	Check(bytes int, pri Priority) bool
	AdjustForAck()
	AdjustForRetry()
	CanBufferPackets() int
	Info() string
}

// NoLimit always admits; CanBufferPackets returns the configured constant
// (default 30, per spec §4.2's congestion-proxy bound).
type NoLimit struct {
	Buffer int
}

// NewNoLimit returns a Limiter that never denies admission.
func NewNoLimit() *NoLimit { return &NoLimit{Buffer: 30} }

func (n *NoLimit) Iter(time.Time)                 {}
func (n *NoLimit) Check(int, Priority) bool        { return true }
func (n *NoLimit) AdjustForAck()                   {}
func (n *NoLimit) AdjustForRetry()                 {}
func (n *NoLimit) CanBufferPackets() int           { return n.Buffer }
func (n *NoLimit) Info() string                    { return "no-limit" }

// Config is the token-bucket configuration, sourced from the §6 Bandwidth
// keys (LimitMinimum, LimitMaximum, SendAtOnce/Burst, PriLimit0..4).
type Config struct {
	LimitMin    int
	LimitMax    int
	Scale       int // LimitScale key; stored but not read by TokenBucket
	Burst       int // spec: "= 4*max-packet"; split across pools by PriPercent
	UseHitLimit bool
	PriPercent  [5]int // must sum to 100
	BufferCap   int    // can-buffer-packets() constant
}

// TokenBucket is the default limiter (spec §4.4): current limit ramps
// between LimitMin and LimitMax; each Iter converts elapsed time into bytes
// split across the priority pools by PriPercent, each pool capped at its
// PriPercent share of Burst; Check(bytes, pri) succeeds
// only if bytes fit in pri's pool AND every lower-priority pool (so that
// admitting a high-priority packet also reserves room for everything it
// would starve).
type TokenBucket struct {
	mu sync.Mutex

	cfg     Config
	limit   float64 // current bytes/sec limit, ramps within [LimitMin, LimitMax]
	pools   [5]float64
	lastIter time.Time
}

// NewTokenBucket constructs a limiter at the configuration's minimum limit,
// pools empty.
func NewTokenBucket(cfg Config) *TokenBucket {
	sum := 0
	for _, p := range cfg.PriPercent {
		sum += p
	}
	if sum != 100 {
		panic(fmt.Sprintf("bandwidth: PriPercent must sum to 100, got %d", sum))
	}
	return &TokenBucket{
		cfg:      cfg,
		limit:    float64(cfg.LimitMin),
		lastIter: time.Now(),
	}
}

// Iter converts elapsed milliseconds since the last Iter into bytes at the
// current limit, distributing them across the five pools by PriPercent and
// capping each pool at its PriPercent share of Burst.
func (t *TokenBucket) Iter(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsedMS := now.Sub(t.lastIter).Milliseconds()
	t.lastIter = now
	if elapsedMS <= 0 {
		return
	}

	availableBytes := t.limit * float64(elapsedMS) / 1000.0
	for i := range t.pools {
		t.pools[i] += availableBytes * float64(t.cfg.PriPercent[i]) / 100.0
		if cap := float64(t.cfg.Burst) * float64(t.cfg.PriPercent[i]) / 100.0; t.pools[i] > cap {
			t.pools[i] = cap
		}
	}
}

// Check succeeds iff bytes fits in pool pri and every pool of strictly lower
// priority (index > pri, since Ack=0 is highest), per spec §4.4; on success
// it subtracts bytes from those pools.
func (t *TokenBucket) Check(bytes int, pri Priority) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := float64(bytes)
	for i := int(pri); i < int(numPriorities); i++ {
		if t.pools[i] < b {
			if t.cfg.UseHitLimit {
				t.ratchetDown()
			}
			return false
		}
	}
	for i := int(pri); i < int(numPriorities); i++ {
		t.pools[i] -= b
	}
	return true
}

// AdjustForAck increases the current limit toward LimitMax (additive),
// called once per acknowledged reliable packet.
func (t *TokenBucket) AdjustForAck() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limit += float64(t.cfg.LimitMin) / 8
	if t.limit > float64(t.cfg.LimitMax) {
		t.limit = float64(t.cfg.LimitMax)
	}
}

// AdjustForRetry decreases the current limit toward LimitMin
// (multiplicative), called once per retransmission.
func (t *TokenBucket) AdjustForRetry() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limit *= 0.5
	if t.limit < float64(t.cfg.LimitMin) {
		t.limit = float64(t.cfg.LimitMin)
	}
}

func (t *TokenBucket) ratchetDown() {
	t.limit *= 0.9
	if t.limit < float64(t.cfg.LimitMin) {
		t.limit = float64(t.cfg.LimitMin)
	}
}

// CanBufferPackets reports how many outstanding reliable packets the client
// can be assumed to buffer, the §4.2 congestion-proxy bound.
func (t *TokenBucket) CanBufferPackets() int {
	if t.cfg.BufferCap > 0 {
		return t.cfg.BufferCap
	}
	return 30
}

func (t *TokenBucket) Info() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf("token-bucket limit=%.0fB/s pools=%v", t.limit, t.pools)
}
