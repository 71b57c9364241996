// Package reliable implements the per-connection reliable sub-stream of
// spec §4.2: outgoing sequencing with RTT/DEV-driven retransmission timing,
// and an incoming fixed-size window with duplicate/out-of-window detection.
// This has no teacher analogue (the RakNet teacher retransmits only on
// NACK, with no RTT smoothing) and is built fresh against spec §4.2's exact
// constants, verified by the boundary behaviors in spec §8.
package reliable

import "time"

const (
	minTimeout = 250 * time.Millisecond
	maxTimeout = 2000 * time.Millisecond

	// DefaultWindowSize is the incoming reliable window's ring size (spec §4.2).
	DefaultWindowSize = 32
	// DefaultMaxRetries is the configured default attempt ceiling (spec §4.2).
	DefaultMaxRetries = 15
	// DefaultBufferBound is the limiter's can-buffer-packets() default (spec §4.2).
	DefaultBufferBound = 30
)

// RTTEstimator implements spec §4.2's exponential smoothing:
//
//	new-RTT = (7*old-RTT + sample)/8
//	new-DEV = (3*old-DEV + |sample - old-RTT|)/4
type RTTEstimator struct {
	RTT         time.Duration
	Dev         time.Duration
	initialized bool
}

// Sample folds one RTT measurement (the time between sending a reliable
// packet and receiving its ack) into the estimate.
func (r *RTTEstimator) Sample(sample time.Duration) {
	if !r.initialized {
		r.RTT = sample
		r.Dev = sample / 2
		r.initialized = true
		return
	}
	oldRTT := r.RTT
	r.RTT = time.Duration((7*int64(oldRTT) + int64(sample)) / 8)
	diff := sample - oldRTT
	if diff < 0 {
		diff = -diff
	}
	r.Dev = time.Duration((3*int64(r.Dev) + int64(diff)) / 4)
}

// Timeout computes the retransmission timeout, clipped to [250ms, 2000ms]
// (spec §4.2).
func (r *RTTEstimator) Timeout() time.Duration {
	t := r.RTT + 4*r.Dev
	if t < minTimeout {
		return minTimeout
	}
	if t > maxTimeout {
		return maxTimeout
	}
	return t
}

// Pending is one outstanding reliable send (spec §3's "pending outbound
// packet", restricted to the fields the reliable stream itself needs;
// the send scheduler's flag set lives in the transport package).
type Pending struct {
	Seq         uint32
	Bytes       []byte
	Attempts    int
	LastAttempt time.Time
}

// Eligible reports whether p is due for another send attempt: never
// attempted, or now - last-attempt >= timeout * attempts (linear backoff,
// spec §4.2).
func (p *Pending) Eligible(now time.Time, timeout time.Duration) bool {
	if p.Attempts == 0 {
		return true
	}
	return now.Sub(p.LastAttempt) >= timeout*time.Duration(p.Attempts)
}

// OutList is the outgoing reliable queue: a sequence-ordered list of
// pending sends plus the next-sequence counter (spec §4.2, §3).
type OutList struct {
	nextSeq uint32
	items   []*Pending // kept in ascending sequence order
	RTT     RTTEstimator
}

// NextSeq returns the sequence to attach to a newly submitted reliable
// packet and advances the counter.
func (o *OutList) NextSeq() uint32 {
	s := o.nextSeq
	o.nextSeq++
	return s
}

// Enqueue appends a new pending entry at the tail (submissions happen in
// increasing sequence order).
func (o *OutList) Enqueue(seq uint32, bytes []byte) *Pending {
	p := &Pending{Seq: seq, Bytes: bytes}
	o.items = append(o.items, p)
	return p
}

// Ack removes the entry for seq, if present, returning it and the elapsed
// round trip so the caller can fold it into RTT via RTT.Sample.
func (o *OutList) Ack(seq uint32, now time.Time) (*Pending, time.Duration, bool) {
	for i, p := range o.items {
		if p.Seq == seq {
			o.items = append(o.items[:i], o.items[i+1:]...)
			return p, now.Sub(p.LastAttempt), true
		}
	}
	return nil, 0, false
}

// Items returns the outlist in sequence order for the send scheduler to
// walk (spec §4.3).
func (o *OutList) Items() []*Pending { return o.items }

// Remove drops the entry for seq without treating it as acknowledged
// (used when max-retries is exceeded, or the connection is torn down).
func (o *OutList) Remove(seq uint32) {
	for i, p := range o.items {
		if p.Seq == seq {
			o.items = append(o.items[:i], o.items[i+1:]...)
			return
		}
	}
}

// MinSeq returns the smallest sequence currently pending, the basis for
// the send scheduler's buffer-bound check (spec §4.3).
func (o *OutList) MinSeq() (uint32, bool) {
	if len(o.items) == 0 {
		return 0, false
	}
	return o.items[0].Seq, true
}

// Len reports how many reliable packets are currently outstanding.
func (o *OutList) Len() int { return len(o.items) }
