// Package crypto implements the core's pluggable encryption capability
// (spec §6: encrypt/decrypt/void, in place, result length <= input length
// plus small headroom). VIE/Continuum key math is explicitly out of scope
// (spec §1, §9); this package supplies a null transform for connections that
// never negotiate encryption and a real boxed transform so the capability
// has at least one concrete, exercised implementation, grounded on the
// nacl/box handshake pattern used by Tailscale's DERP client.
package crypto

import (
	"crypto/rand"
	"fmt"
	"sync"

	"golang.org/x/crypto/nacl/box"
)

// ConnID identifies the connection an encryptor instance is keyed on; it is
// the player's stable integer identifier (spec §3).
type ConnID int

// Encryptor is the capability the broker publishes under the "Encryption"
// type-key (spec §6).
type Encryptor interface {
	// Encrypt transforms buf[:n] in place and returns the new length.
	Encrypt(id ConnID, buf []byte, n int) (int, error)
	// Decrypt transforms buf[:n] in place and returns the new length, or an
	// error if the datagram fails to decrypt (caller logs "malicious" and drops).
	Decrypt(id ConnID, buf []byte, n int) (int, error)
	// Void releases any per-connection state, called when a connection is disposed.
	Void(id ConnID)
}

// NullEncryptor performs no transform and reports a length of 0 from both
// Encrypt and Decrypt. The transport does not use it: every accepted
// connection is given Nop(), which echoes the length back.
type NullEncryptor struct{}

func (NullEncryptor) Encrypt(ConnID, []byte, int) (int, error) { return 0, nil }
func (NullEncryptor) Decrypt(ConnID, []byte, int) (int, error) { return 0, nil }
func (NullEncryptor) Void(ConnID)                              {}

// plain pass-through variants used where the buffer must round-trip unchanged
// but the call still needs to report the length back to the caller.
func passthroughLen(n int) (int, error) { return n, nil }

// nopEncryptor is what transport code actually wires up for unencrypted
// standard clients: identical bytes, just the length echoed back.
type nopEncryptor struct{}

func (nopEncryptor) Encrypt(_ ConnID, _ []byte, n int) (int, error) { return passthroughLen(n) }
func (nopEncryptor) Decrypt(_ ConnID, _ []byte, n int) (int, error) { return passthroughLen(n) }
func (nopEncryptor) Void(ConnID)                                    {}

// Nop returns the shared no-op encryptor singleton.
func Nop() Encryptor { return nopEncryptor{} }

const boxOverhead = box.Overhead + 24 // sealed box overhead + nonce prefix

// SealedBoxEncryptor keys each connection with an independent nacl/box
// shared secret, precomputed once at BindKey and reused for every
// encrypt/decrypt call. Nothing in the core registers it with the broker or
// attaches it to a connection (the exact VIE/Continuum key agreement is out
// of scope; this is a stand-in transform that is not wire-compatible with
// either client).
type SealedBoxEncryptor struct {
	mu     sync.RWMutex
	shared map[ConnID]*[32]byte
}

// NewSealedBoxEncryptor constructs an encryptor with no bound connections.
func NewSealedBoxEncryptor() *SealedBoxEncryptor {
	return &SealedBoxEncryptor{shared: make(map[ConnID]*[32]byte)}
}

// BindKey precomputes and stores the shared secret for a connection from a
// peer public key and this server's private key.
func (s *SealedBoxEncryptor) BindKey(id ConnID, peerPublic, ourPrivate *[32]byte) {
	var shared [32]byte
	box.Precompute(&shared, peerPublic, ourPrivate)
	s.mu.Lock()
	s.shared[id] = &shared
	s.mu.Unlock()
}

func (s *SealedBoxEncryptor) keyFor(id ConnID) (*[32]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.shared[id]
	if !ok {
		return nil, fmt.Errorf("crypto: no bound key for connection %d", id)
	}
	return k, nil
}

// Encrypt seals buf[:n] with a fresh random nonce prefixed to the output.
// Result length is n + boxOverhead, which callers must budget for within
// "maximum packet size + small prefix" (spec §3's pending-packet definition).
func (s *SealedBoxEncryptor) Encrypt(id ConnID, buf []byte, n int) (int, error) {
	key, err := s.keyFor(id)
	if err != nil {
		return 0, err
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return 0, err
	}
	sealed := box.SealAfterPrecomputation(nonce[:], buf[:n], &nonce, key)
	if len(sealed) > len(buf) {
		return 0, fmt.Errorf("crypto: sealed payload %d exceeds buffer capacity %d", len(sealed), len(buf))
	}
	copy(buf, sealed)
	return len(sealed), nil
}

// Decrypt opens a payload written by Encrypt. A failure here is the
// "decrypt failure" condition of spec §4.1 step 2: callers treat a
// zero-length result (paired with a non-nil error) as cause to log at
// malicious level and drop the datagram.
func (s *SealedBoxEncryptor) Decrypt(id ConnID, buf []byte, n int) (int, error) {
	key, err := s.keyFor(id)
	if err != nil {
		return 0, err
	}
	if n < 24 {
		return 0, fmt.Errorf("crypto: sealed payload too short")
	}
	var nonce [24]byte
	copy(nonce[:], buf[:24])
	opened, ok := box.OpenAfterPrecomputation(nil, buf[24:n], &nonce, key)
	if !ok {
		return 0, fmt.Errorf("crypto: open failed")
	}
	copy(buf, opened)
	return len(opened), nil
}

// Void drops the bound key for id, called when the connection is disposed.
func (s *SealedBoxEncryptor) Void(id ConnID) {
	s.mu.Lock()
	delete(s.shared, id)
	s.mu.Unlock()
}
