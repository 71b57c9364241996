// Package transport owns the UDP sockets, the "core" protocol framing and
// dispatch, and the per-connection send scheduler (spec §4.1, §4.3).
// Grounded on the teacher's source/server.Server (socket ownership,
// update/session-cleanup tickers) and source/protocol/raknet.go's Session
// (per-peer send queue + reassembly state), generalized from RakNet's
// single send queue into the five priority classes and grouping buffer of
// spec §4.3.
package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gigamon-dev/zoneserver/internal/bandwidth"
	"github.com/gigamon-dev/zoneserver/internal/crypto"
	"github.com/gigamon-dev/zoneserver/internal/player"
	"github.com/gigamon-dev/zoneserver/internal/reliable"
	"github.com/gigamon-dev/zoneserver/internal/wire"
)

// Outbound is one pending outbound packet (spec §3): raw wire bytes, send
// state, and the flag set the scheduler consults.
type Outbound struct {
	Bytes       []byte
	Reliable    bool
	Droppable   bool
	Urgent      bool
	Priority    bandwidth.Priority
	Attempts    int
	LastAttempt time.Time
	ReliableSeq uint32
}

// Counters are the per-connection packet/byte counters of spec §3.
type Counters struct {
	Sent, Received, Dropped, Retries uint64
	SentBytes, ReceivedBytes         uint64
}

func (c *Counters) addSent(n int)     { atomic.AddUint64(&c.Sent, 1); atomic.AddUint64(&c.SentBytes, uint64(n)) }
func (c *Counters) addReceived(n int) {
	atomic.AddUint64(&c.Received, 1)
	atomic.AddUint64(&c.ReceivedBytes, uint64(n))
}
func (c *Counters) addDropped()  { atomic.AddUint64(&c.Dropped, 1) }
func (c *Counters) addRetries()  { atomic.AddUint64(&c.Retries, 1) }

// Connection is the per-player connection record of spec §3: owns every
// per-peer mutable state plus the three lock domains spec §5 names
// (out-list, reliable-window, reassembly).
type Connection struct {
	Player *player.Player
	Addr   *net.UDPAddr
	Socket *net.UDPConn

	Encryptor crypto.Encryptor
	Limiter   bandwidth.Limiter

	CreatedAt time.Time
	Counters  Counters

	lastPacketMu sync.RWMutex
	lastPacketAt time.Time

	// out-list domain: the five priority queues plus the reliable
	// outgoing stream (next sequence, RTT estimator, retransmit bookkeeping).
	outListMu  sync.Mutex
	queues     [5][]*Outbound
	queuedSize int
	outgoing   reliable.OutList
	sizedQueue []sizedChunk

	// reliable-window domain: the incoming reliable ring.
	windowMu sync.Mutex
	window   *reliable.Window

	// reassembly domain: big-packet and presized-transfer slots.
	reassemblyMu     sync.Mutex
	big              wire.BigAssembler
	presized         wire.PresizedAssembler
	incomingSizedType int
	hasIncomingSized  bool

	hitMaxRetries bool
	hitMaxOutlist bool
	kicked        bool
}

type sizedChunk struct {
	bytes []byte
	first bool
}

// NewConnection constructs a connection record for a newly accepted peer
// (spec §3's lifecycle: "created when the transport accepts a
// connection-init from an unknown endpoint").
func NewConnection(p *player.Player, addr *net.UDPAddr, socket *net.UDPConn, enc crypto.Encryptor, limiter bandwidth.Limiter, windowSize uint32) *Connection {
	now := time.Now()
	return &Connection{
		Player:       p,
		Addr:         addr,
		Socket:       socket,
		Encryptor:    enc,
		Limiter:      limiter,
		CreatedAt:    now,
		lastPacketAt: now,
		window:       reliable.NewWindow(windowSize),
	}
}

// TouchReceived records the arrival of a datagram (spec §4.1 step 2).
func (c *Connection) TouchReceived(n int) {
	c.lastPacketMu.Lock()
	c.lastPacketAt = time.Now()
	c.lastPacketMu.Unlock()
	c.Counters.addReceived(n)
}

// LastPacketAt returns the last-received timestamp, used by lagout
// detection (spec §4.5).
func (c *Connection) LastPacketAt() time.Time {
	c.lastPacketMu.RLock()
	defer c.lastPacketMu.RUnlock()
	return c.lastPacketAt
}

// Enqueue appends an outbound packet to its priority class's queue,
// validating spec §4.3's wire-prefix invariant in the caller (Submit).
func (c *Connection) Enqueue(o *Outbound) {
	c.outListMu.Lock()
	c.queues[o.Priority] = append(c.queues[o.Priority], o)
	c.queuedSize += len(o.Bytes)
	c.outListMu.Unlock()
}

// TotalQueuedBytes reports the sum of queued bytes across all classes —
// the five priority queues, the reliable out-list, and the sized-transfer
// queue — used for the hit-max-outlist check (spec §4.3). The reliable
// out-list is the one that grows unbounded once a peer stops acking, so it
// must count toward the ceiling alongside the unreliable queues.
func (c *Connection) TotalQueuedBytes() int {
	c.outListMu.Lock()
	defer c.outListMu.Unlock()
	total := 0
	for _, q := range c.queues {
		for _, o := range q {
			total += len(o.Bytes)
		}
	}
	for _, p := range c.outgoing.Items() {
		total += len(p.Bytes)
	}
	for _, chunk := range c.sizedQueue {
		total += len(chunk.bytes)
	}
	return total
}

// TryLockOutList attempts the non-blocking out-list lock the send thread
// uses when sweeping players, to avoid head-of-line blocking behind a slow
// connection (spec §5).
func (c *Connection) TryLockOutList() bool { return c.outListMu.TryLock() }

// UnlockOutList releases a lock acquired via TryLockOutList.
func (c *Connection) UnlockOutList() { c.outListMu.Unlock() }

// HitMaxRetries reports whether a pending reliable packet exceeded
// max-retries (spec §4.2, §7); once set the connection should be kicked.
func (c *Connection) HitMaxRetries() bool {
	c.outListMu.Lock()
	defer c.outListMu.Unlock()
	return c.hitMaxRetries
}

// HitMaxOutlist reports whether the out-list ceiling was exceeded (spec §4.3, §7).
func (c *Connection) HitMaxOutlist() bool {
	c.outListMu.Lock()
	defer c.outListMu.Unlock()
	return c.hitMaxOutlist
}

// Window returns the incoming reliable window, guarded by the
// reliable-window lock domain.
func (c *Connection) Window() *reliable.Window { return c.window }
