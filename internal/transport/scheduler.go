package transport

import (
	"context"
	"time"

	"github.com/gigamon-dev/zoneserver/internal/bandwidth"
	"github.com/gigamon-dev/zoneserver/internal/crypto"
	"github.com/gigamon-dev/zoneserver/internal/metrics"
	"github.com/gigamon-dev/zoneserver/internal/wire"
	"github.com/gigamon-dev/zoneserver/internal/zlog"
)

const (
	sendTick  = 10 * time.Millisecond
	sweepTick = 200 * time.Millisecond
)

// sendLoop is the per-tick send scheduler of spec §4.3: for every live
// connection, refill its sized-transfer queue, then admit packets through
// the bandwidth limiter in this order: the reliable out-list first, then the
// Ack queue, then UnreliableHigh down to UnreliableLow. Reliable packets are
// written one per datagram; small unreliable packets are coalesced into a
// Grouped envelope, which is flushed at the end of the pass.
func (t *Transport) sendLoop(ctx context.Context) error {
	ticker := time.NewTicker(sendTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			t.sendTickAll(now)
		}
	}
}

func (t *Transport) sendTickAll(now time.Time) {
	t.mu.RLock()
	conns := make([]*Connection, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.RUnlock()

	for _, conn := range conns {
		t.sendTickOne(conn, now)
	}
}

// sendTickOne runs one connection's scheduling pass. It uses a
// non-blocking out-list lock (spec §5) so one slow or contended connection
// cannot hold up the sweep across the rest of the population.
func (t *Transport) sendTickOne(conn *Connection, now time.Time) {
	if !conn.TryLockOutList() {
		return
	}
	defer conn.UnlockOutList()

	conn.Limiter.Iter(now)
	t.refillSizedLocked(conn)

	var group []wire.GroupedItem
	groupBytes := 0

	flushGroup := func() {
		if len(group) == 0 {
			return
		}
		if len(group) == 1 {
			t.flushOne(conn, group[0], "grouped")
		} else if env, err := wire.EncodeGrouped(group); err == nil {
			t.flushOne(conn, env, "grouped")
		}
		group = group[:0]
		groupBytes = 0
	}

	// offer is called only for packets the limiter has already admitted.
	offer := func(bytes []byte, pri bandwidth.Priority, urgent bool) {
		if urgent || len(bytes) > wire.GroupedItemCap {
			flushGroup()
			t.flushOne(conn, bytes, pri.String())
			return
		}
		if groupBytes+len(bytes)+1 > wire.MaxPacketSize {
			flushGroup()
		}
		group = append(group, wire.GroupedItem(bytes))
		groupBytes += len(bytes) + 1
	}

	// Reliable class: every pending item due for (re)transmission,
	// oldest sequence first. A packet whose sequence has run too far ahead
	// of the smallest un-acked one is held back rather than shipped, the
	// congestion-proxy bound of spec §4.2/§4.3 step 2.
	timeout := conn.outgoing.RTT.Timeout()
	minSeq, haveMinSeq := conn.outgoing.MinSeq()
	bufferBound := uint32(conn.Limiter.CanBufferPackets())
	for _, p := range conn.outgoing.Items() {
		if haveMinSeq && p.Seq-minSeq > bufferBound {
			break
		}
		if !p.Eligible(now, timeout) {
			continue
		}
		if !conn.Limiter.Check(len(p.Bytes), bandwidth.Reliable) {
			break
		}
		if p.Attempts > 0 {
			conn.Counters.addRetries()
			conn.Limiter.AdjustForRetry()
			metrics.RetriesTotal.Inc()
		}
		p.Attempts++
		p.LastAttempt = now
		if p.Attempts > t.cfg.MaxRetries {
			conn.hitMaxRetries = true
			continue
		}
		t.flushOne(conn, p.Bytes, "reliable")
	}

	// Non-reliable classes, highest priority first; Ack packets are
	// always urgent (never delayed behind grouping). Acks are never
	// dropped for bandwidth, only deferred to the next tick.
	ackPending := conn.queues[bandwidth.Ack]
	ackKept := ackPending[:0]
	for _, c := range ackPending {
		if !conn.Limiter.Check(len(c.Bytes), bandwidth.Ack) {
			ackKept = append(ackKept, c)
			continue
		}
		offer(c.Bytes, bandwidth.Ack, true)
	}
	conn.queues[bandwidth.Ack] = ackKept

	for pri := bandwidth.UnreliableHigh; pri <= bandwidth.UnreliableLow; pri++ {
		pending := conn.queues[pri]
		kept := pending[:0]
		for _, c := range pending {
			if !conn.Limiter.Check(len(c.Bytes), pri) {
				if c.Droppable {
					metrics.PacketsDropped.WithLabelValues("bandwidth").Inc()
					conn.Counters.addDropped()
					continue
				}
				kept = append(kept, c)
				continue
			}
			offer(c.Bytes, pri, c.Urgent)
		}
		conn.queues[pri] = kept
	}

	flushGroup()

	// outListMu is already held here, so sum the queues directly rather
	// than through TotalQueuedBytes, which takes the lock itself.
	queued := 0
	for _, q := range conn.queues {
		for _, o := range q {
			queued += len(o.Bytes)
		}
	}
	for _, p := range conn.outgoing.Items() {
		queued += len(p.Bytes)
	}
	for _, chunk := range conn.sizedQueue {
		queued += len(chunk.bytes)
	}
	if queued > t.cfg.MaxOutlistSize {
		conn.hitMaxOutlist = true
	}
}

// refillSizedLocked pulls queued sized-transfer chunks into the reliable
// out-list while it is below PresizedQueueThreshold, up to
// PresizedQueuePackets at a time (spec §4.1, §6). Caller holds outListMu.
func (t *Transport) refillSizedLocked(conn *Connection) {
	if conn.outgoing.Len() >= t.cfg.PresizedQueueThreshold {
		return
	}
	admitted := 0
	for len(conn.sizedQueue) > 0 && admitted < t.cfg.PresizedQueuePackets {
		chunk := conn.sizedQueue[0]
		conn.sizedQueue = conn.sizedQueue[1:]

		seq := conn.outgoing.NextSeq()
		wrapped := wire.EncodeReliable(seq, chunk.bytes)
		conn.outgoing.Enqueue(seq, wrapped)
		admitted++
	}
}

// flushOne encrypts and writes one already-framed datagram to conn's
// socket, updating counters and metrics.
func (t *Transport) flushOne(conn *Connection, bytes []byte, label string) {
	buf := append([]byte(nil), bytes...)
	n, err := conn.Encryptor.Encrypt(crypto.ConnID(conn.Player.ID), buf, len(buf))
	if err != nil {
		zlog.Warnf("transport: encrypt failed for player %d: %v", conn.Player.ID, err)
		return
	}
	buf = buf[:n]

	if _, err := conn.Socket.WriteToUDP(buf, conn.Addr); err != nil {
		zlog.Warnf("transport: write to %s failed: %v", conn.Addr, err)
		return
	}
	conn.Counters.addSent(len(buf))
	metrics.PacketsSent.WithLabelValues(label).Inc()
}

// sweepLoop periodically enforces lagout detection (spec §4.5) and the
// hit-max-retries/hit-max-outlist overload conditions (spec §4.3, §7),
// kicking any connection that trips them.
func (t *Transport) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(sweepTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			t.sweepAll(now)
		}
	}
}

func (t *Transport) sweepAll(now time.Time) {
	t.mu.RLock()
	conns := make([]*Connection, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.RUnlock()

	dropTimeout := time.Duration(t.cfg.DropTimeoutMS) * time.Millisecond
	for _, conn := range conns {
		if dropTimeout > 0 && now.Sub(conn.LastPacketAt()) > dropTimeout {
			zlog.For(conn.Player.ID, conn.Addr.String()).Warnf("transport: lagout after %s idle", now.Sub(conn.LastPacketAt()))
			t.Drop(conn, "lagout")
			continue
		}
		if conn.HitMaxRetries() {
			zlog.For(conn.Player.ID, conn.Addr.String()).WithField("kind", zlog.KindOverload).Warnf("transport: exceeded max retries")
			t.Drop(conn, "max retries exceeded")
			continue
		}
		if conn.HitMaxOutlist() {
			zlog.For(conn.Player.ID, conn.Addr.String()).WithField("kind", zlog.KindOverload).Warnf("transport: out-list ceiling exceeded")
			t.Drop(conn, "out-list ceiling exceeded")
		}
	}
}
